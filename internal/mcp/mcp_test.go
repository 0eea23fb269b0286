package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/tools"
)

type echoTool struct{}

func (echoTool) Spec() *tools.ToolSpec { return &tools.ToolSpec{Name: "workflow.ping"} }

func (echoTool) Execute(ctx context.Context, payload json.RawMessage, session *toolregistry.SessionState) (*toolregistry.ToolResultMessage, error) {
	return &toolregistry.ToolResultMessage{Result: json.RawMessage(`{"pong":true}`)}, nil
}

func TestDirectCallerPassesThroughToRegistry(t *testing.T) {
	registry := toolregistry.New()
	require.NoError(t, registry.Register(echoTool{}))
	caller := NewDirectCaller(registry)

	result, err := caller.Call(context.Background(), "workflow.ping", nil, &toolregistry.SessionState{})
	require.NoError(t, err)
	require.Nil(t, result.Error)
	assert.JSONEq(t, `{"pong":true}`, string(result.Result))

	defs, err := caller.Definitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, tools.Ident("workflow.ping"), defs[0].Name)
}

func TestSSECallerParsesResultEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: result\ndata: {\"result\":{\"pong\":true}}\n\n")
	}))
	defer srv.Close()

	caller := NewSSECaller(srv.URL, nil)
	result, err := caller.Call(context.Background(), "workflow.ping", nil, &toolregistry.SessionState{SessionID: "s1", OwnerID: "o1"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.JSONEq(t, `{"pong":true}`, string(result.Result))
}

func TestSSECallerErrorsWhenStreamClosesWithoutResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keepalive\n\n")
	}))
	defer srv.Close()

	caller := NewSSECaller(srv.URL, nil)
	_, err := caller.Call(context.Background(), "workflow.ping", nil, &toolregistry.SessionState{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stream closed"))
}

func TestSSECallerDefinitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/definitions", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]*tools.ToolSpec{{Name: "workflow.ping"}})
	}))
	defer srv.Close()

	caller := NewSSECaller(srv.URL, nil)
	defs, err := caller.Definitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, tools.Ident("workflow.ping"), defs[0].Name)
}
