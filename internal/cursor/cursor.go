// Package cursor persists per-connection polling state in Redis so a
// restarted service resumes pulling where the previous run stopped.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bankfeeds/backend/internal/models"
)

// ErrNotFound is returned when no cursor has been saved for a
// connection yet.
var ErrNotFound = errors.New("provider cursor not found")

const keyPrefix = "bankfeeds:cursor:"

// Store reads and writes provider cursors. A nil Redis client degrades
// to an in-memory map, which is enough for single-process deployments
// and for tests that do not care about persistence.
type Store struct {
	rdb *redis.Client
	mem map[string]models.ProviderCursor
}

// NewStore creates a cursor store backed by rdb, or by process memory
// when rdb is nil.
func NewStore(rdb *redis.Client) *Store {
	s := &Store{rdb: rdb}
	if rdb == nil {
		s.mem = make(map[string]models.ProviderCursor)
	}
	return s
}

func key(connectionID string) string {
	return keyPrefix + connectionID
}

// Get loads the cursor for a connection. ErrNotFound means the
// connection has never been pulled.
func (s *Store) Get(ctx context.Context, connectionID string) (models.ProviderCursor, error) {
	if s.rdb == nil {
		c, ok := s.mem[connectionID]
		if !ok {
			return models.ProviderCursor{}, ErrNotFound
		}
		return c, nil
	}

	raw, err := s.rdb.Get(ctx, key(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.ProviderCursor{}, ErrNotFound
	}
	if err != nil {
		return models.ProviderCursor{}, fmt.Errorf("loading cursor %s: %w", connectionID, err)
	}

	var c models.ProviderCursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return models.ProviderCursor{}, fmt.Errorf("decoding cursor %s: %w", connectionID, err)
	}
	return c, nil
}

// Save writes the cursor. Cursors never expire; a stale cursor is still
// the right place to resume from.
func (s *Store) Save(ctx context.Context, c models.ProviderCursor) error {
	if c.ConnectionID == "" {
		return errors.New("cursor is missing a connection id")
	}
	if s.rdb == nil {
		s.mem[c.ConnectionID] = c
		return nil
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding cursor %s: %w", c.ConnectionID, err)
	}
	if err := s.rdb.Set(ctx, key(c.ConnectionID), raw, 0).Err(); err != nil {
		return fmt.Errorf("saving cursor %s: %w", c.ConnectionID, err)
	}
	return nil
}

// GetOrInit loads the cursor for a connection, building a fresh one
// when none exists. A fresh cursor starts its window lookback days in
// the past and is due immediately.
func (s *Store) GetOrInit(ctx context.Context, conn string, service string, interval time.Duration, lookback int, now time.Time) (models.ProviderCursor, error) {
	c, err := s.Get(ctx, conn)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.ProviderCursor{}, err
	}
	if lookback <= 0 {
		lookback = 15
	}
	return models.ProviderCursor{
		Service:           service,
		ConnectionID:      conn,
		LastSuccessfulRun: now.AddDate(0, 0, -lookback),
		NextRun:           now,
		Interval:          interval,
	}, nil
}
