// Package handler implements glmproxy's end-to-end per-request orchestration,
// per spec.md §4.L: it is the only component that touches every other one.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/config"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/confirm"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/contextcompactor"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/dedupe"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/logging"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/openai"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/planner"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/session"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/tools"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/streamparser"
)

// Handler holds the per-process singletons spec.md §5 requires be owned by
// exactly one component: the pending-confirmation table and the session
// record (which also tracks raw-dispatch repeats). Dedupe is constructed
// here, but no request path consults it.
type Handler struct {
	Cfg      config.Config
	Upstream *upstream.Client
	Confirm  *confirm.Store
	Session  *session.State
	Dedupe   *dedupe.Cache
}

// New wires a Handler from its configuration and upstream client.
func New(cfg config.Config, client *upstream.Client) *Handler {
	return &Handler{
		Cfg:      cfg,
		Upstream: client,
		Confirm:  confirm.NewStore(confirm.DefaultTTL),
		Session:  session.New(),
		Dedupe:   dedupe.New(dedupe.Options{TTL: 10 * time.Minute, MaxSize: 512}),
	}
}

// Models serves GET /v1/models and GET /models.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	resp := openai.ModelsResponse{
		Object: "list",
		Data: []openai.Model{
			{ID: h.Cfg.DefaultModel, Object: "model", OwnedBy: h.Cfg.UpstreamVendor},
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// Root serves GET /.
func Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "glmproxy is running"})
}

// ServeChatCompletions serves POST /v1/chat/completions and POST
// /chat/completions.
func (h *Handler) ServeChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set("x-proxy-request-id", reqID)

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeContentResponse(w, req.Model, "Invalid request body.", "stop", false)
		return
	}
	if req.Model == "" {
		req.Model = h.Cfg.DefaultModel
	}

	ctx := r.Context()
	rt := &requestTurn{h: h, ctx: ctx, req: req, reqID: reqID}
	rt.run(w)
}

// requestTurn carries the mutable state of one in-flight request through the
// pipeline; it is never shared across requests (tool registry and directive
// state are request-scoped per spec.md §5's "Tool registry: per-request
// scoped; never shared").
type requestTurn struct {
	h     *Handler
	ctx   context.Context
	req   openai.ChatCompletionRequest
	reqID string

	registry        *tools.Registry
	hasToolResult   bool
	lastToolCallID  string
	lastUserContent string
	enableThinking  bool
}

func (rt *requestTurn) run(w http.ResponseWriter) {
	h := rt.h

	rt.hasToolResult, rt.lastToolCallID = detectToolResult(rt.req.Messages)
	rt.buildRegistry()

	if rt.hasToolResult {
		if replayed := rt.drainConfirmation(w); replayed {
			return
		}
	}

	rt.extractDirectives()

	systemPrompt := planner.BuildSystemPrompt(planner.PromptOptions{
		Tools:          rt.registry.List(),
		IncludeSchema:  h.Cfg.ToolPromptIncludeSchema,
		SchemaMaxChars: h.Cfg.ToolPromptSchemaMaxChars,
	})

	compacted := rt.compact(systemPrompt)
	rt.applySessionDelta(compacted)

	if len(rt.registry.List()) == 0 {
		rt.runNoToolFlow(w, compacted)
		return
	}

	rt.runPlannerFlow(w, compacted)
}

// detectToolResult reports whether the last message is a tool-result message
// and, if so, the tool_call_id it answers.
func detectToolResult(messages []openai.Message) (bool, string) {
	if len(messages) == 0 {
		return false, ""
	}
	last := messages[len(messages)-1]
	if last.Role == "tool" {
		return true, last.ToolCallID
	}
	return false, ""
}

// buildRegistry filters network tools per config, converts the client's
// declared tools, and injects the default question tool.
func (rt *requestTurn) buildRegistry() {
	var declared []tools.Info
	if rt.req.ToolChoice == nil || rt.req.ToolChoice.Mode != "none" {
		for _, t := range rt.req.Tools {
			if !rt.h.Cfg.AllowNetwork && isNetworkTool(t.Function.Name) {
				continue
			}
			if !rt.h.Cfg.AllowWebSearch && t.Function.Name == "web_search" {
				continue
			}
			declared = append(declared, tools.Info{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
	}
	rt.registry = tools.New(declared)
	if len(declared) > 0 {
		rt.registry.EnsureQuestionTool()
	}
}

func isNetworkTool(name string) bool {
	switch strings.ToLower(name) {
	case "webfetch", "fetch", "http", "browse":
		return true
	default:
		return false
	}
}

// extractDirectives strips a /thinking on|off directive line from the last
// user message and applies it to this turn's thinking setting. /search and
// /web_search lines are not recognized and stay in the message unchanged.
func (rt *requestTurn) extractDirectives() {
	rt.enableThinking = rt.h.Cfg.DefaultThinking
	if rt.req.EnableThinking != nil {
		rt.enableThinking = *rt.req.EnableThinking
	}

	for i := len(rt.req.Messages) - 1; i >= 0; i-- {
		if rt.req.Messages[i].Role != "user" {
			continue
		}
		content, thinking, ok := stripThinkingDirective(rt.req.Messages[i].Content)
		if ok {
			rt.enableThinking = thinking
		}
		rt.req.Messages[i].Content = content
		rt.lastUserContent = content
		break
	}
}

func (rt *requestTurn) compact(systemPrompt string) []contextcompactor.Message {
	msgs := make([]contextcompactor.Message, 0, len(rt.req.Messages)+1)
	msgs = append(msgs, contextcompactor.Message{Role: "system", Content: systemPrompt})
	for _, m := range rt.req.Messages {
		msgs = append(msgs, contextcompactor.Message{
			Role:         m.Role,
			Content:      m.Content,
			IsToolResult: m.Role == "tool",
		})
	}
	return contextcompactor.Compact(rt.h.Cfg.Context, msgs)
}

func (rt *requestTurn) applySessionDelta(compacted []contextcompactor.Message) {
	contents := make([]string, len(compacted))
	for i, m := range compacted {
		contents[i] = m.Role + ":" + m.Content
	}
	if rt.h.Session.ShouldResetChat(contents) {
		rt.h.Session.SetActiveChat("")
		logging.Debugf("handler: resetting upstream chat for request %s", rt.reqID)
	}
	rt.h.Session.UpdateMessages(contents)
}

// writeJSON writes v as a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nowUnix() int64 { return time.Now().Unix() }

func writeContentResponse(w http.ResponseWriter, model, content, finishReason string, stream bool) {
	now := nowUnix()
	if !stream {
		resp := openai.ChatCompletionResponse{
			ID:      "chatcmpl-" + uuid.NewString(),
			Object:  "chat.completion",
			Created: now,
			Model:   model,
			Choices: []openai.Choice{{
				Index:        0,
				Message:      openai.Message{Role: "assistant", Content: content},
				FinishReason: finishReason,
			}},
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	streamSingleContent(w, model, content, finishReason)
}

func streamSingleContent(w http.ResponseWriter, model, content, finishReason string) {
	sw := newSSEWriter(w)
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	sw.writeChunk(openai.ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Role: "assistant"}}},
	})
	if content != "" {
		sw.writeChunk(openai.ChatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Content: content}}},
		})
	}
	reason := finishReason
	sw.writeChunk(openai.ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []openai.ChunkChoice{{Index: 0, FinishReason: &reason}},
	})
	sw.done()
}

func toolCallsResponse(w http.ResponseWriter, model string, calls []openai.ToolCall, stream bool) {
	if !stream {
		resp := openai.ChatCompletionResponse{
			ID:      "chatcmpl-" + uuid.NewString(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []openai.Choice{{
				Index:        0,
				Message:      openai.Message{Role: "assistant", ToolCalls: calls},
				FinishReason: "tool_calls",
			}},
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	sw := newSSEWriter(w)
	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	sw.writeChunk(openai.ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: openai.Delta{Role: "assistant", ToolCalls: calls}}},
	})
	reason := "tool_calls"
	sw.writeChunk(openai.ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []openai.ChunkChoice{{Index: 0, FinishReason: &reason}},
	})
	sw.done()
}

func newToolCall(name string, args map[string]any) openai.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return openai.ToolCall{
		ID:   "call_" + uuid.NewString(),
		Type: "function",
		Function: openai.FunctionCall{
			Name:      name,
			Arguments: string(raw),
		},
	}
}

// stableActionSignature computes the "tool|sorted-json(args)" fingerprint
// spec.md §4.L's raw-dispatch dedup state machine keys off.
func stableActionSignature(tool string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(tool)
	sb.WriteByte('|')
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, args[k])
	}
	return sb.String()
}

// accumulateUpstream sends messages upstream and collects the full response
// text (content) and thinking text, even for a planner turn that will never
// be streamed to the client — spec.md §4.L step 9's "non-stream accumulation
// even when the client requested streaming".
func accumulateUpstream(ctx context.Context, client *upstream.Client, in upstream.SendMessageInput) (content, thinking string, errReason string) {
	var c, th strings.Builder
	err := client.SendMessage(ctx, in, func(chunk streamparser.Chunk) {
		switch chunk.Kind {
		case streamparser.KindContent:
			c.WriteString(chunk.Text)
		case streamparser.KindThinking:
			th.WriteString(chunk.Text)
		case streamparser.KindError:
			errReason = chunk.Reason
		}
	})
	if err != nil && errReason == "" {
		errReason = "request_failed"
	}
	return c.String(), th.String(), errReason
}
