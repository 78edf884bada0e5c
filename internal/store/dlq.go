package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/whalecopy/internal/metrics"
)

// maxDeadLetters bounds the sink; the oldest rows are pruned past it
const maxDeadLetters = 1000

// InsertDeadLetter records a background job that exhausted its retry budget
// and prunes the sink to its bound
func (s *Store) InsertDeadLetter(ctx context.Context, dl *DeadLetter) error {
	query := `
		INSERT INTO dead_letters (id, task, args, error, stack, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := s.pool.Exec(ctx, query, dl.ID, dl.Task, dl.Args, dl.Error, dl.Stack); err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	prune := `
		DELETE FROM dead_letters
		WHERE id IN (
			SELECT id FROM dead_letters ORDER BY created_at DESC OFFSET $1
		)
	`
	if _, err := s.pool.Exec(ctx, prune, maxDeadLetters); err != nil {
		log.Warn().Err(err).Msg("Failed to prune dead letter sink")
	}

	metrics.DeadLetters.WithLabelValues(dl.Task).Inc()
	log.Error().
		Str("task", dl.Task).
		Str("error", dl.Error).
		Msg("Background job dead-lettered")
	return nil
}

// ListDeadLetters returns recent dead letters for operator inspection
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, task, args, error, stack, created_at
		FROM dead_letters ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.Task, &dl.Args, &dl.Error, &dl.Stack, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}
