// Package creations is the append-only store of generation results.
package creations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quillbox/quillbox/pkg/cache"
	"github.com/quillbox/quillbox/pkg/models"
)

const (
	galleryCacheKey = "creations:published"
	galleryCacheTTL = 30 * time.Second
)

// ErrNotFound is returned when the referenced creation does not exist.
var ErrNotFound = errors.New("creation not found")

// Service handles creation persistence and gallery reads
type Service struct {
	pool  *pgxpool.Pool
	cache *cache.Client
}

// NewService creates a new creations service
func NewService(pool *pgxpool.Pool, cacheClient *cache.Client) *Service {
	return &Service{
		pool:  pool,
		cache: cacheClient,
	}
}

// Create inserts one creation record. Records are immutable once written:
// there is no update or delete path for prompt, content or type.
func (s *Service) Create(ctx context.Context, c *models.Creation) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO creations (user_id, prompt, content, type, publish)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, likes, created_at
	`, c.UserID, c.Prompt, c.Content, c.Type, c.Publish).Scan(&c.ID, &c.Likes, &c.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create creation: %w", err)
	}

	if c.Publish {
		s.invalidateGallery(ctx)
	}

	return nil
}

// ListByUser returns all creations of one principal, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.Creation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, prompt, content, type, publish, likes, created_at
		FROM creations
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list creations: %w", err)
	}
	defer rows.Close()

	return scanCreations(rows)
}

// ListPublished returns the public image gallery, newest first. Results
// are cached briefly; likes may lag by the cache TTL.
func (s *Service) ListPublished(ctx context.Context) ([]models.Creation, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, galleryCacheKey); err == nil {
			var creations []models.Creation
			if err := json.Unmarshal([]byte(cached), &creations); err == nil {
				return creations, nil
			}
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, prompt, content, type, publish, likes, created_at
		FROM creations
		WHERE publish
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list published creations: %w", err)
	}
	defer rows.Close()

	creations, err := scanCreations(rows)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(creations); err == nil {
			if err := s.cache.Set(ctx, galleryCacheKey, data, galleryCacheTTL); err != nil {
				log.Printf("⚠️  Failed to cache gallery: %v", err)
			}
		}
	}

	return creations, nil
}

// ToggleLike adds or removes one user's like on a creation. Likes is the
// only mutable column of the table; the toggle is a single atomic update.
func (s *Service) ToggleLike(ctx context.Context, id int64, userID string) (liked bool, likes []string, err error) {
	err = s.pool.QueryRow(ctx, `
		UPDATE creations
		SET likes = CASE
			WHEN $2 = ANY(likes) THEN array_remove(likes, $2)
			ELSE array_append(likes, $2)
		END
		WHERE id = $1
		RETURNING likes
	`, id, userID).Scan(&likes)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, ErrNotFound
		}
		return false, nil, fmt.Errorf("failed to toggle like: %w", err)
	}

	s.invalidateGallery(ctx)

	for _, u := range likes {
		if u == userID {
			return true, likes, nil
		}
	}
	return false, likes, nil
}

func (s *Service) invalidateGallery(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, galleryCacheKey); err != nil {
		log.Printf("⚠️  Failed to invalidate gallery cache: %v", err)
	}
}

func scanCreations(rows pgx.Rows) ([]models.Creation, error) {
	creations := []models.Creation{}
	for rows.Next() {
		var c models.Creation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Prompt, &c.Content, &c.Type, &c.Publish, &c.Likes, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan creation: %w", err)
		}
		creations = append(creations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read creations: %w", err)
	}
	return creations, nil
}
