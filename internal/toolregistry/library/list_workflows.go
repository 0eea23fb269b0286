package library

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
)

// searcher is satisfied by stores (mongostore.Store) that can filter
// server-side; it is not part of workflow.Store so InMemoryStore keeps a
// uniform, minimal interface and list_workflows falls back to client-side
// filtering when the store doesn't implement it.
type searcher interface {
	Search(ctx context.Context, ownerID, query, domain string) ([]*workflow.Workflow, error)
}

// ListWorkflowsInLibrary implements workflow.list_workflows_in_library:
// lists or searches the caller's workflows with draft-inclusion filters.
type ListWorkflowsInLibrary struct{ Store workflow.Store }

func NewListWorkflowsInLibrary(store workflow.Store) *ListWorkflowsInLibrary {
	return &ListWorkflowsInLibrary{Store: store}
}

func (t *ListWorkflowsInLibrary) Spec() *tools.ToolSpec {
	return &tools.ToolSpec{
		Name:        "workflow.list_workflows_in_library",
		Toolset:     "direct",
		Description: "List or search the caller's saved and draft workflows.",
		Parameters: []tools.Parameter{
			{Name: "search_query", Type: "string"},
			{Name: "domain", Type: "string"},
			{Name: "include_drafts", Type: "boolean"},
			{Name: "drafts_only", Type: "boolean"},
			{Name: "limit", Type: "integer"},
		},
	}
}

type listWorkflowsArgs struct {
	SearchQuery   string `json:"search_query"`
	Domain        string `json:"domain"`
	IncludeDrafts *bool  `json:"include_drafts"`
	DraftsOnly    bool   `json:"drafts_only"`
	Limit         *int   `json:"limit"`
}

func (t *ListWorkflowsInLibrary) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	var args listWorkflowsArgs
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return toolregistry.NewErrorResult(toolregistry.ErrCodeInvalidArguments, err.Error()), nil
		}
	}
	if session == nil || session.OwnerID == "" {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeForbidden, "no authenticated user for this session"), nil
	}
	includeDrafts := true
	if args.IncludeDrafts != nil {
		includeDrafts = *args.IncludeDrafts
	}
	limit := 50
	if args.Limit != nil {
		limit = *args.Limit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	var workflows []*workflow.Workflow
	var err error
	if args.SearchQuery != "" || args.Domain != "" {
		if s, ok := t.Store.(searcher); ok {
			workflows, err = s.Search(ctx, session.OwnerID, args.SearchQuery, args.Domain)
		} else {
			workflows, err = t.Store.List(ctx, session.OwnerID)
			workflows = filterBySearch(workflows, args.SearchQuery, args.Domain)
		}
	} else {
		workflows, err = t.Store.List(ctx, session.OwnerID)
	}
	if err != nil {
		return toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error()), nil
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Metadata.UpdatedAt.After(workflows[j].Metadata.UpdatedAt) })

	var summaries []map[string]any
	for _, w := range workflows {
		if args.DraftsOnly && !w.Metadata.IsDraft {
			continue
		}
		if !includeDrafts && w.Metadata.IsDraft {
			continue
		}
		status := "saved"
		if w.Metadata.IsDraft {
			status = "draft (unsaved)"
		}
		var inputs, outputs []string
		for _, v := range w.Variables {
			if v.Source == workflow.SourceInput {
				inputs = append(inputs, v.Name)
			}
		}
		for _, o := range w.Outputs {
			outputs = append(outputs, o.Name)
		}
		summaries = append(summaries, map[string]any{
			"id":          w.ID,
			"name":        w.Metadata.Name,
			"status":      status,
			"is_draft":    w.Metadata.IsDraft,
			"domain":      w.Metadata.Domain,
			"inputs":      inputs,
			"outputs":     outputs,
			"node_count":  len(w.Nodes),
			"updated_at":  w.Metadata.UpdatedAt,
		})
		if len(summaries) >= limit {
			break
		}
	}

	message := fmt.Sprintf("found %d workflow(s)", len(summaries))
	if args.SearchQuery != "" {
		message = fmt.Sprintf("found %d workflow(s) matching %q", len(summaries), args.SearchQuery)
	}

	raw, err := json.Marshal(map[string]any{
		"success":   true,
		"message":   message,
		"count":     len(summaries),
		"workflows": summaries,
	})
	if err != nil {
		return nil, err
	}
	return &toolregistry.ToolResultMessage{Result: raw}, nil
}

func filterBySearch(workflows []*workflow.Workflow, query, domain string) []*workflow.Workflow {
	if query == "" && domain == "" {
		return workflows
	}
	q := strings.ToLower(query)
	var out []*workflow.Workflow
	for _, w := range workflows {
		if domain != "" && w.Metadata.Domain != domain {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(w.Metadata.Name), q) && !strings.Contains(strings.ToLower(w.Metadata.Description), q) {
			continue
		}
		out = append(out, w)
	}
	return out
}
