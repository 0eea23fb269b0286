// Package conversation is the per-session ledger the Orchestrator appends
// to on every turn: the running message history, the workflow currently
// under discussion, and enough bookkeeping to resume a session after a
// process restart when backed by a durable Store.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/lemonflow/flowforge/internal/model"
)

// Conversation is one session's accumulated state.
type Conversation struct {
	SessionID  string
	OwnerID    string
	WorkflowID string
	Messages   []model.Message
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a copy safe for a caller to mutate without affecting the
// stored version.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = append([]model.Message(nil), c.Messages...)
	return &out
}

// Store is the persistence boundary for conversations. GetOrCreate is the
// Orchestrator's single entry point at the top of a turn; Append is called
// once per turn with the messages produced during that turn.
type Store interface {
	GetOrCreate(ctx context.Context, sessionID, ownerID string) (*Conversation, error)
	Get(ctx context.Context, sessionID string) (*Conversation, bool, error)
	Append(ctx context.Context, sessionID string, messages []model.Message) (*Conversation, error)
	SetWorkflowID(ctx context.Context, sessionID, workflowID string) (*Conversation, error)
}

// InMemoryStore is a process-local Store backed by a mutex-guarded map, the
// default for single-process deployments and for tests.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*Conversation)}
}

func (s *InMemoryStore) GetOrCreate(_ context.Context, sessionID, ownerID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[sessionID]; ok {
		return c.Clone(), nil
	}
	now := time.Now().UTC()
	c := &Conversation{SessionID: sessionID, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	s.conversations[sessionID] = c
	return c.Clone(), nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[sessionID]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, messages []model.Message) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[sessionID]
	if !ok {
		now := time.Now().UTC()
		c = &Conversation{SessionID: sessionID, CreatedAt: now}
		s.conversations[sessionID] = c
	}
	c.Messages = append(c.Messages, messages...)
	c.UpdatedAt = time.Now().UTC()
	return c.Clone(), nil
}

func (s *InMemoryStore) SetWorkflowID(_ context.Context, sessionID, workflowID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[sessionID]
	if !ok {
		now := time.Now().UTC()
		c = &Conversation{SessionID: sessionID, CreatedAt: now}
		s.conversations[sessionID] = c
	}
	c.WorkflowID = workflowID
	c.UpdatedAt = time.Now().UTC()
	return c.Clone(), nil
}
