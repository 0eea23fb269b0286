package workflow

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Store.Get when no workflow with the given id
// exists.
var ErrNotFound = errors.New("workflow: not found")

// ErrForbidden is returned when a workflow exists but is not owned by the
// caller.
var ErrForbidden = errors.New("workflow: not owned by caller")

// Store is the transactional read-modify-write authority for workflow
// state. Editing tools re-read the workflow before staging a mutation so
// concurrent turns editing the same workflow id serialize through it.
type Store interface {
	// Get returns the current state of workflowID, or ErrNotFound.
	Get(ctx context.Context, workflowID string) (*Workflow, error)
	// Create inserts a brand-new workflow and returns its committed state.
	Create(ctx context.Context, w *Workflow) (*Workflow, error)
	// CommitIfOwner atomically replaces the stored state for w.ID, after
	// verifying w.OwnerID matches the stored owner, and returns the
	// committed copy.
	CommitIfOwner(ctx context.Context, w *Workflow) (*Workflow, error)
	// List returns every workflow owned by ownerID, in no particular order,
	// for library search.
	List(ctx context.Context, ownerID string) ([]*Workflow, error)
}

// InMemoryStore is a process-local Store backed by a mutex-guarded map. It
// is the default store for single-process / direct-transport deployments
// and the one used by component tests.
type InMemoryStore struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
}

// NewInMemoryStore constructs an empty in-memory workflow store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{workflows: make(map[string]*Workflow)}
}

func (s *InMemoryStore) Get(_ context.Context, workflowID string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return w.Clone(), nil
}

func (s *InMemoryStore) Create(_ context.Context, w *Workflow) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[w.ID]; exists {
		return nil, errors.New("workflow: id already exists")
	}
	stored := w.Clone()
	s.workflows[w.ID] = stored
	return stored.Clone(), nil
}

func (s *InMemoryStore) CommitIfOwner(_ context.Context, w *Workflow) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workflows[w.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.OwnerID != w.OwnerID {
		return nil, ErrForbidden
	}
	stored := w.Clone()
	s.workflows[w.ID] = stored
	return stored.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context, ownerID string) ([]*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Workflow
	for _, w := range s.workflows {
		if w.OwnerID == ownerID {
			out = append(out, w.Clone())
		}
	}
	return out, nil
}

// OwnedByAdapter adapts a Store into the OwnerLookup the Validator needs to
// check subprocess references.
type OwnedByAdapter struct{ Store Store }

func (a OwnedByAdapter) OwnedBy(workflowID, ownerID string) (bool, error) {
	w, err := a.Store.Get(context.Background(), workflowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return w.OwnerID == ownerID, nil
}
