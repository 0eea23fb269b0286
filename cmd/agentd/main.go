// Command agentd is the agentd service entry point: it loads configuration,
// wires storage, the model provider, the tool registry, and the
// Orchestrator, and serves the conversational HTTP API.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/lemonflow/flowforge/internal/config"
	"github.com/lemonflow/flowforge/internal/conversation"
	"github.com/lemonflow/flowforge/internal/conversation/session"
	"github.com/lemonflow/flowforge/internal/mcp"
	"github.com/lemonflow/flowforge/internal/model"
	"github.com/lemonflow/flowforge/internal/model/anthropic"
	"github.com/lemonflow/flowforge/internal/model/bedrock"
	"github.com/lemonflow/flowforge/internal/model/middleware"
	"github.com/lemonflow/flowforge/internal/model/openai"
	"github.com/lemonflow/flowforge/internal/orchestrator"
	"github.com/lemonflow/flowforge/internal/stream"
	"github.com/lemonflow/flowforge/internal/subagent"
	"github.com/lemonflow/flowforge/internal/telemetry"
	"github.com/lemonflow/flowforge/internal/toolregistry"
	"github.com/lemonflow/flowforge/internal/toolregistry/analyze"
	"github.com/lemonflow/flowforge/internal/toolregistry/annotate"
	"github.com/lemonflow/flowforge/internal/toolregistry/codegen"
	"github.com/lemonflow/flowforge/internal/toolregistry/edit"
	"github.com/lemonflow/flowforge/internal/toolregistry/library"
	"github.com/lemonflow/flowforge/internal/tools"
	"github.com/lemonflow/flowforge/internal/workflow"
	"github.com/lemonflow/flowforge/internal/workflow/mongostore"
)

const systemPrompt = `You turn hand-drawn and screenshotted flowcharts into structured, ` +
	`executable workflows. Use the attached image-analysis tool to read an image, then ` +
	`stage your understanding of it through the workflow editing tools one step at a time, ` +
	`asking the user to confirm anything ambiguous before treating the workflow as complete.`

func main() {
	configPathF := flag.String("config", "", "path to a YAML config file (overlaid with environment variables)")
	httpAddrF := flag.String("addr", ":8090", "address to serve the HTTP API on")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load(*configPathF)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load config: %w", err))
	}

	logger := telemetry.NewClueLogger()

	modelClient, err := buildModelClient(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build model client: %w", err))
	}
	limiter := middleware.NewAdaptiveRateLimiter(cfg.RateLimitInitialTPM, cfg.RateLimitMaxTPM)
	modelClient = limiter.Middleware()(modelClient)

	workflowStore, err := buildWorkflowStore(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build workflow store: %w", err))
	}

	validator := &workflow.Validator{Workflows: workflow.OwnedByAdapter{Store: workflowStore}}

	sub := subagent.New(subagent.Deps{
		Model:        modelClient,
		SystemPrompt: systemPrompt,
	})

	registry := toolregistry.New()
	if err := registerTools(registry, workflowStore, validator, cfg.DataDir, sub); err != nil {
		log.Fatal(ctx, fmt.Errorf("register tools: %w", err))
	}

	conversations := conversation.NewInMemoryStore()

	orch := orchestrator.New(orchestrator.Deps{
		Model:         modelClient,
		Registry:      registry,
		Conversations: conversations,
		SystemPrompt:  systemPrompt,
		Logger:        logger,
	})

	// This process always fronts its own registry directly over /tools/call;
	// cfg.UseMCP/cfg.MCPURL govern a peer agentd's mcp.SSECaller reaching
	// this endpoint instead of holding its own registry, not this process's
	// own Orchestrator, which is wired straight to the in-process Registry.
	localCaller := mcp.NewDirectCaller(registry)

	sink := buildStreamSink(cfg)
	defer sink.Close()

	sessions := buildSessionStore(cfg)

	srv := &server{orch: orch, caller: localCaller, sink: sink, sessions: sessions, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /tools/definitions", srv.handleDefinitions(registry))
	mux.HandleFunc("POST /tools/call", srv.handleToolsCall)
	mux.HandleFunc("POST /chat", srv.handleChat)
	mux.HandleFunc("POST /analyze", srv.handleAnalyze)
	mux.HandleFunc("POST /sessions/{session_id}/end", srv.handleEndSession)

	log.Printf(ctx, "agentd listening on %s", *httpAddrF)
	if err := http.ListenAndServe(*httpAddrF, mux); err != nil {
		log.Fatal(ctx, err)
	}
}

// registerTools populates registry with every editing, library, codegen,
// annotation, and analysis tool the Orchestrator can dispatch to.
// analyze_workflow is registered here alongside every editing tool so that
// image analysis goes through the same registry dispatch, ordering, and
// cancellation path as a workflow edit instead of a side-channel transport.
func registerTools(registry *toolregistry.Registry, store workflow.Store, validator *workflow.Validator, dataDir string, sub *subagent.Subagent) error {
	deps := edit.Deps{Store: store, Validator: validator}
	sidecar := annotate.NewStore(dataDir)

	toolList := []toolregistry.Tool{
		edit.NewAddNode(deps),
		edit.NewModifyNode(deps),
		edit.NewDeleteNode(deps),
		edit.NewAddConnection(deps),
		edit.NewDeleteConnection(deps),
		edit.NewBatchEditWorkflow(deps),
		edit.NewGetCurrentWorkflow(deps),
		edit.NewAddWorkflowVariable(deps),
		edit.NewModifyWorkflowVariable(deps),
		edit.NewRemoveWorkflowVariable(deps),
		edit.NewSetWorkflowOutput(deps),
		library.NewCreateWorkflow(store),
		library.NewSaveWorkflowToLibrary(store),
		library.NewListWorkflowsInLibrary(store),
		codegen.NewCompilePython(store, validator),
		annotate.NewAddImageQuestion(sidecar),
		analyze.NewAnalyzeWorkflow(sub),
	}
	for _, t := range toolList {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Spec().Name, err)
		}
	}
	return nil
}

// buildModelClient selects a model.Client backed by the configured
// provider, each constructed from an environment-provided credential since
// none belong in a checked-in config file.
func buildModelClient(ctx context.Context, cfg *config.Config) (model.Client, error) {
	switch cfg.ModelProvider {
	case "openai":
		return openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), cfg.OpenAIModel)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			DefaultModel: cfg.BedrockModel,
			MaxTokens:    4096,
		})
	default:
		return anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), cfg.AnthropicModel)
	}
}

// buildWorkflowStore returns a Mongo-backed Store when MongoURI is set,
// otherwise an in-memory one for local/single-process use.
func buildWorkflowStore(ctx context.Context, cfg *config.Config) (workflow.Store, error) {
	if cfg.MongoURI == "" {
		return workflow.NewInMemoryStore(), nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	collection := client.Database(cfg.MongoDB).Collection("workflows")
	return mongostore.New(collection), nil
}

// buildStreamSink returns a Pulse-backed Sink when a Pulse Redis address is
// configured, otherwise a Sink that discards every event.
func buildStreamSink(cfg *config.Config) stream.Sink {
	if cfg.PulseRedisAddr == "" {
		return stream.NoopSink{}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.PulseRedisAddr})
	return stream.NewPulseSink(rdb)
}

// buildSessionStore returns a Redis-backed session/run ledger when
// RedisAddr is configured, otherwise nil: the ledger is a queryable
// sidecar for operators, never load-bearing for a turn's correctness, so
// callers treat a nil *session.Store as "ledger disabled" rather than an
// error.
func buildSessionStore(cfg *config.Config) *session.Store {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return session.NewStore(rdb)
}

type server struct {
	orch     *orchestrator.Orchestrator
	caller   mcp.Caller
	sink     stream.Sink
	sessions *session.Store
	logger   telemetry.Logger
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleDefinitions(registry *toolregistry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.Definitions())
	}
}

type chatRequest struct {
	SessionID string       `json:"session_id"`
	OwnerID   string       `json:"owner_id"`
	Message   string       `json:"message"`
	Images    []imageInput `json:"images"`
}

type chatResponse struct {
	Reply           string `json:"reply"`
	ToolCallCount   int    `json:"tool_call_count"`
	BudgetExhausted bool   `json:"budget_exhausted"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.OwnerID == "" {
		http.Error(w, "session_id and owner_id are required", http.StatusBadRequest)
		return
	}

	images, err := decodeImages(req.Images)
	if err != nil {
		http.Error(w, "invalid base64 image data", http.StatusBadRequest)
		return
	}

	s.recordSessionStart(r.Context(), req.SessionID, req.OwnerID)

	ctx := r.Context()
	result, err := s.orch.Respond(ctx, req.SessionID, req.OwnerID, req.Message, images)
	if err != nil {
		s.logger.Error(ctx, "orchestrator turn failed", "session_id", req.SessionID, "error", err.Error())
		http.Error(w, "turn failed", http.StatusInternalServerError)
		return
	}

	s.recordRun(ctx, req.SessionID, result)

	if err := s.sink.Publish(ctx, req.SessionID, stream.Event{
		Type:      stream.EventTurnDone,
		SessionID: req.SessionID,
		Payload:   json.RawMessage(fmt.Sprintf(`{"reply":%q}`, result.Reply)),
	}); err != nil {
		s.logger.Warn(ctx, "stream publish failed", "session_id", req.SessionID, "error", err.Error())
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:           result.Reply,
		ToolCallCount:   result.ToolCallCount,
		BudgetExhausted: result.BudgetExhausted,
	})
}

// recordSessionStart upserts the session ledger entry, best-effort: a
// ledger write failure is logged and never blocks the turn, since the
// in-memory conversation store remains authoritative.
func (s *server) recordSessionStart(ctx context.Context, sessionID, ownerID string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.LoadSession(ctx, sessionID); errors.Is(err, session.ErrNotFound) {
		if _, err := s.sessions.CreateSession(ctx, sessionID, ownerID); err != nil {
			s.logger.Warn(ctx, "session ledger create failed", "session_id", sessionID, "error", err.Error())
		}
	}
}

func (s *server) recordRun(ctx context.Context, sessionID string, result *orchestrator.TurnResult) {
	if s.sessions == nil {
		return
	}
	run := &session.Run{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		ToolCallCount:   result.ToolCallCount,
		BudgetExhausted: result.BudgetExhausted,
	}
	if err := s.sessions.UpsertRun(ctx, run); err != nil {
		s.logger.Warn(ctx, "session ledger run upsert failed", "session_id", sessionID, "error", err.Error())
	}
}

// handleEndSession marks a session ended in the ledger. The in-memory
// conversation itself is left intact; this only affects the operational
// ledger's view of whether the session is still active.
func (s *server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if s.sessions == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.sessions.EndSession(r.Context(), sessionID); err != nil {
		s.logger.Error(r.Context(), "session ledger end failed", "session_id", sessionID, "error", err.Error())
		http.Error(w, "end session failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toolCallRequest struct {
	SessionID string          `json:"session_id"`
	OwnerID   string          `json:"owner_id"`
	Tool      string          `json:"tool"`
	Payload   json.RawMessage `json:"payload"`
}

// handleToolsCall is the server side of mcp.SSECaller: it executes one tool
// call through the local registry and writes the outcome as a single
// terminal "result" or "error" Server-Sent-Events frame.
func (s *server) handleToolsCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Session-Id")
	}
	if req.OwnerID == "" {
		req.OwnerID = r.Header.Get("X-Owner-Id")
	}

	session := &toolregistry.SessionState{SessionID: req.SessionID, OwnerID: req.OwnerID}
	result, err := s.caller.Call(r.Context(), tools.Ident(req.Tool), req.Payload, session)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	event := "result"
	var body any = result
	if err != nil {
		event = "error"
		body = toolregistry.NewErrorResult(toolregistry.ErrCodeInternal, err.Error())
	}
	raw, encErr := json.Marshal(body)
	if encErr != nil {
		raw = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

type imageInput struct {
	MediaType  string `json:"media_type"`
	DataBase64 string `json:"data_base64"`
}

type analyzeRequest struct {
	SessionID string       `json:"session_id"`
	Prompt    string       `json:"prompt"`
	Images    []imageInput `json:"images"`
}

// handleAnalyze dispatches workflow.analyze_workflow through the same
// Tool Registry path as every editing tool, rather than calling the
// Subagent directly: that keeps image analysis subject to the same
// ordering and cancellation guarantees the Orchestrator's tool-dispatch
// loop gives every other tool call. The turn's images travel via
// SessionState.Values rather than the tool-call JSON payload, since the
// registry's JSON Schema validation has no notion of binary image content.
func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	images, err := decodeImages(req.Images)
	if err != nil {
		http.Error(w, "invalid base64 image data", http.StatusBadRequest)
		return
	}

	session := &toolregistry.SessionState{SessionID: req.SessionID}
	analyze.SetPendingImages(session, images)

	payload, err := json.Marshal(map[string]string{"session_id": req.SessionID, "prompt": req.Prompt})
	if err != nil {
		http.Error(w, "encode tool payload failed", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	result, err := s.caller.Call(ctx, "workflow.analyze_workflow", payload, session)
	if err != nil {
		s.logger.Error(ctx, "analyze_workflow dispatch failed", "session_id", req.SessionID, "error", err.Error())
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}
	if result.Error != nil {
		http.Error(w, result.Error.Message, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Result)
}

func decodeImages(inputs []imageInput) ([]model.ImagePart, error) {
	images := make([]model.ImagePart, 0, len(inputs))
	for _, img := range inputs {
		data, err := base64.StdEncoding.DecodeString(img.DataBase64)
		if err != nil {
			return nil, err
		}
		images = append(images, model.ImagePart{MediaType: img.MediaType, Data: data})
	}
	return images, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
