// Package creds resolves per-user venue API credentials. Key material only
// ever lives in Vault and in process memory; the database stores a reference,
// never the keys themselves.
package creds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/whalecopy/internal/venue"
)

// ErrNotFound means no credentials are stored for the (user, venue) pair
var ErrNotFound = errors.New("credentials not found")

// Provider resolves the decrypted API credentials a user registered for a venue
type Provider interface {
	Get(ctx context.Context, userID uuid.UUID, v venue.Venue) (*venue.Credentials, error)
}

// Scope builds the circuit-breaker scope label for a user's credentials.
// It carries no key material.
func Scope(userID uuid.UUID, v venue.Venue) string {
	return fmt.Sprintf("%s/%s", strings.ToLower(string(v)), userID)
}

// VaultProvider reads credentials from a KV v2 mount at
// <mount>/data/users/<user_id>/venues/<venue>. Reads are cached in memory
// with a short TTL so the engine does not hammer Vault on every signal.
type VaultProvider struct {
	client    *vault.Client
	mountPath string
	cacheTTL  time.Duration
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cachedCreds
}

type cachedCreds struct {
	creds   *venue.Credentials
	expires time.Time
}

// VaultProviderConfig configures the Vault credential provider
type VaultProviderConfig struct {
	Address   string
	Token     string
	MountPath string
	CacheTTL  time.Duration
}

// NewVaultProvider creates a Vault-backed credential provider
func NewVaultProvider(cfg VaultProviderConfig, logger zerolog.Logger) (*VaultProvider, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token not configured")
	}
	client.SetToken(cfg.Token)

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("mount_path", mount).
		Msg("Vault credential provider initialized")

	return &VaultProvider{
		client:    client,
		mountPath: mount,
		cacheTTL:  ttl,
		logger:    logger,
		cache:     make(map[string]cachedCreds),
	}, nil
}

// Get reads the user's credentials for a venue
func (p *VaultProvider) Get(ctx context.Context, userID uuid.UUID, v venue.Venue) (*venue.Credentials, error) {
	key := Scope(userID, v)

	p.mu.RLock()
	if entry, ok := p.cache[key]; ok && time.Now().Before(entry.expires) {
		p.mu.RUnlock()
		return entry.creds, nil
	}
	p.mu.RUnlock()

	path := fmt.Sprintf("%s/data/users/%s/venues/%s", p.mountPath, userID, strings.ToLower(string(v)))
	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("%w: user=%s venue=%s", ErrNotFound, userID, v)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		// KV v1 mounts return the fields directly
		data = secret.Data
	}

	apiKey, _ := data["api_key"].(string)
	apiSecret, _ := data["api_secret"].(string)
	passphrase, _ := data["passphrase"].(string)
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("%w: incomplete secret for user=%s venue=%s", ErrNotFound, userID, v)
	}

	creds := &venue.Credentials{
		Scope:      key,
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
	}

	p.mu.Lock()
	p.cache[key] = cachedCreds{creds: creds, expires: time.Now().Add(p.cacheTTL)}
	p.mu.Unlock()

	return creds, nil
}

// Invalidate drops a cached entry, forcing the next Get to hit Vault.
// Called after a user rotates their keys.
func (p *VaultProvider) Invalidate(userID uuid.UUID, v venue.Venue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, Scope(userID, v))
}

// Static is an in-memory Provider for tests
type Static struct {
	mu    sync.RWMutex
	creds map[string]*venue.Credentials
}

// NewStatic creates an empty in-memory provider
func NewStatic() *Static {
	return &Static{creds: make(map[string]*venue.Credentials)}
}

// Set registers credentials for a (user, venue) pair
func (s *Static) Set(userID uuid.UUID, v venue.Venue, apiKey, apiSecret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := Scope(userID, v)
	s.creds[scope] = &venue.Credentials{
		Scope:     scope,
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
}

// Get returns the registered credentials or ErrNotFound
func (s *Static) Get(ctx context.Context, userID uuid.UUID, v venue.Venue) (*venue.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.creds[Scope(userID, v)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: user=%s venue=%s", ErrNotFound, userID, v)
}

var (
	_ Provider = (*VaultProvider)(nil)
	_ Provider = (*Static)(nil)
)
