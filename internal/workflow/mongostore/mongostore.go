// Package mongostore provides a MongoDB-backed implementation of
// workflow.Store for durability across restarts.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lemonflow/flowforge/internal/workflow"
)

// Store is a MongoDB implementation of workflow.Store.
type Store struct {
	collection *mongo.Collection
}

var _ workflow.Store = (*Store)(nil)

// New creates a Store backed by the given collection, typically
// "workflows" in the configured database.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

type document struct {
	ID        string              `bson:"_id"`
	OwnerID   string              `bson:"owner_id"`
	Metadata  workflow.Metadata   `bson:"metadata"`
	Nodes     []workflow.Node     `bson:"nodes"`
	Edges     []workflow.Edge     `bson:"edges"`
	Variables []workflow.Variable `bson:"variables"`
	Outputs   []workflow.Output   `bson:"outputs"`
}

func toDocument(w *workflow.Workflow) *document {
	return &document{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Metadata:  w.Metadata,
		Nodes:     w.Nodes,
		Edges:     w.Edges,
		Variables: w.Variables,
		Outputs:   w.Outputs,
	}
}

func fromDocument(d *document) *workflow.Workflow {
	return &workflow.Workflow{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Metadata:  d.Metadata,
		Nodes:     d.Nodes,
		Edges:     d.Edges,
		Variables: d.Variables,
		Outputs:   d.Outputs,
	}
}

// Get retrieves a workflow by id.
func (s *Store) Get(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": workflowID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("mongostore get %q: %w", workflowID, err)
	}
	return fromDocument(&doc), nil
}

// Create inserts a brand-new workflow document.
func (s *Store) Create(ctx context.Context, w *workflow.Workflow) (*workflow.Workflow, error) {
	doc := toDocument(w)
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("mongostore create %q: %w", w.ID, err)
	}
	return w.Clone(), nil
}

// CommitIfOwner atomically replaces the stored workflow after confirming
// ownership, using a filter on both _id and owner_id so a concurrent
// ownership change cannot race the check.
func (s *Store) CommitIfOwner(ctx context.Context, w *workflow.Workflow) (*workflow.Workflow, error) {
	doc := toDocument(w)
	filter := bson.M{"_id": w.ID, "owner_id": w.OwnerID}
	opts := options.Replace()
	result, err := s.collection.ReplaceOne(ctx, filter, doc, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore commit %q: %w", w.ID, err)
	}
	if result.MatchedCount == 0 {
		existing, getErr := s.Get(ctx, w.ID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.OwnerID != w.OwnerID {
			return nil, workflow.ErrForbidden
		}
		return nil, workflow.ErrNotFound
	}
	return w.Clone(), nil
}

// List returns every workflow owned by ownerID.
func (s *Store) List(ctx context.Context, ownerID string) ([]*workflow.Workflow, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("mongostore list: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore list decode: %w", err)
	}
	out := make([]*workflow.Workflow, len(docs))
	for i := range docs {
		out[i] = fromDocument(&docs[i])
	}
	return out, nil
}

// Search filters owned workflows by an exact domain match (when domain is
// non-empty) and a case-insensitive substring match of query against name,
// description, or tags, mirroring the library's search_query/domain filters.
func (s *Store) Search(ctx context.Context, ownerID, query, domain string) ([]*workflow.Workflow, error) {
	filter := bson.M{"owner_id": ownerID}
	if domain != "" {
		filter["metadata.domain"] = domain
	}
	if query != "" {
		regex := bson.M{"$regex": escapeRegex(query), "$options": "i"}
		filter["$or"] = []bson.M{
			{"metadata.name": regex},
			{"metadata.description": regex},
			{"metadata.tags": regex},
		}
	}
	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongostore search: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore search decode: %w", err)
	}
	out := make([]*workflow.Workflow, len(docs))
	for i := range docs {
		out[i] = fromDocument(&docs[i])
	}
	return out, nil
}

func escapeRegex(s string) string {
	special := []string{"\\", ".", "+", "*", "?", "^", "$", "(", ")", "[", "]", "{", "}", "|"}
	result := s
	for _, ch := range special {
		result = strings.ReplaceAll(result, ch, "\\"+ch)
	}
	return result
}
