// Package session is a Redis-backed record of session and run metadata,
// kept alongside the in-memory conversation.Store so operators have a
// queryable ledger of conversations and turns without making Redis
// load-bearing for the hot path: the in-memory conversation map remains
// authoritative for Respond's own correctness, and this store can be
// unavailable without failing a turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is one conversation's ledger entry.
type Session struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Run is one turn's ledger entry within a session.
type Run struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	ToolCallCount   int       `json:"tool_call_count"`
	BudgetExhausted bool      `json:"budget_exhausted"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ErrNotFound is returned by LoadSession when the id has no ledger entry.
var ErrNotFound = errors.New("session: not found")

// Store is a Redis-backed session/run ledger, mirroring the shape of
// conversation.Store's own method set so it can be wired in alongside it
// without the Orchestrator depending on Redis directly.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// defaultTTL bounds how long a session or run ledger entry survives in
// Redis after its last write, so an abandoned conversation does not pin
// memory in the ledger forever.
const defaultTTL = 30 * 24 * time.Hour

// NewStore constructs a Store backed by redisClient.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, ttl: defaultTTL}
}

func sessionKey(id string) string { return "conversation:session:" + id }
func runKey(id string) string     { return "conversation:run:" + id }

// CreateSession records a new session, overwriting any existing ledger
// entry under the same id.
func (s *Store) CreateSession(ctx context.Context, sessionID, ownerID string) (*Session, error) {
	sess := &Session{ID: sessionID, OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	if err := s.putJSON(ctx, sessionKey(sessionID), sess); err != nil {
		return nil, fmt.Errorf("session: create %q: %w", sessionID, err)
	}
	return sess, nil
}

// LoadSession returns the ledger entry for sessionID, or ErrNotFound if
// none exists.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	ok, err := s.getJSON(ctx, sessionKey(sessionID), &sess)
	if err != nil {
		return nil, fmt.Errorf("session: load %q: %w", sessionID, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// EndSession stamps the session's end time. Ending an unknown session is a
// no-op rather than an error, since the ledger is a best-effort sidecar
// and a missed CreateSession (e.g. Redis was briefly unavailable) should
// never surface as a turn-ending failure.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.LoadSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
	if err := s.putJSON(ctx, sessionKey(sessionID), sess); err != nil {
		return fmt.Errorf("session: end %q: %w", sessionID, err)
	}
	return nil
}

// UpsertRun records or updates a run's ledger entry.
func (s *Store) UpsertRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()
	if err := s.putJSON(ctx, runKey(run.ID), run); err != nil {
		return fmt.Errorf("session: upsert run %q: %w", run.ID, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return s.redis.Set(ctx, key, raw, s.ttl).Err()
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode: %w", err)
	}
	return true, nil
}
