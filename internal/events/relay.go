package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Relay forwards domain events to NATS for external consumers
// (notifications, analytics). Delivery is best-effort; the core never
// depends on a consumer having seen an event.
type Relay struct {
	nc     *nats.Conn
	prefix string
}

// RelayConfig configures the NATS relay
type RelayConfig struct {
	URL    string
	Prefix string // subject prefix (default: "whalecopy.events.")
}

// NewRelay connects to NATS and returns a relay ready to subscribe on a Bus
func NewRelay(cfg RelayConfig) (*Relay, error) {
	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("whalecopy-events"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "whalecopy.events."
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", prefix).
		Msg("Event relay connected")

	return &Relay{nc: nc, prefix: prefix}, nil
}

// Attach subscribes the relay to every event on the bus
func (r *Relay) Attach(bus *Bus) {
	bus.Subscribe("nats-relay", r.handle)
}

func (r *Relay) handle(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("Failed to marshal event")
		return
	}
	subject := r.prefix + string(e.Type)
	if err := r.nc.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to relay event")
	}
}

// Close drains and closes the NATS connection
func (r *Relay) Close() {
	if r.nc != nil {
		_ = r.nc.Drain()
	}
}
