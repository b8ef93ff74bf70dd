// Package usage owns the per-principal plan tag and free-usage counter,
// the local mirror of the identity provider's metadata.
package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quillbox/quillbox/pkg/models"
)

// Service handles principal plan/usage reads and counter updates
type Service struct {
	pool *pgxpool.Pool
}

// NewService creates a new usage service
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Get returns the principal's plan and free-usage counter. A subject seen
// for the first time is materialized with free-plan defaults, mirroring
// how the identity provider defaults metadata.
func (s *Service) Get(ctx context.Context, userID string) (*models.Principal, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	p := &models.Principal{}
	var plan string
	err = s.pool.QueryRow(ctx, `
		SELECT id, email, plan, free_usage FROM users WHERE id = $1
	`, userID).Scan(&p.ID, &p.Email, &plan, &p.FreeUsage)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	p.Plan = models.Plan(plan)

	return p, nil
}

// TryAcquire atomically claims one free-tier generation slot: the counter
// is incremented only while it is still under the limit, in a single
// conditional update. Returns false when the cap is already reached.
// Callers must Release the slot if the generation later fails.
func (s *Service) TryAcquire(ctx context.Context, userID string, limit int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET free_usage = free_usage + 1
		WHERE id = $1 AND free_usage < $2
	`, userID, limit)
	if err != nil {
		return false, fmt.Errorf("failed to update usage counter: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Release returns a slot claimed by TryAcquire after a failed generation,
// so the counter only reflects successful generations.
func (s *Service) Release(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET free_usage = GREATEST(free_usage - 1, 0)
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to release usage slot: %w", err)
	}
	return nil
}
