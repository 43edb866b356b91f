package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/config"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/openai"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
)

// sseUpstream serves a scripted sequence of SSE bodies, one per call to
// SendMessage, mirroring internal/upstream/client_test.go's mock-server
// style.
func sseUpstream(t *testing.T, bodies []string) *httptest.Server {
	t.Helper()
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Less(t, i, len(bodies), "unexpected extra upstream call")
		body := bodies[i]
		i++
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func sseContent(text string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\ndata: [DONE]\n", text)
}

func baseConfig() config.Config {
	return config.Config{
		DefaultModel:            "glm-4.7",
		AllowNetwork:            true,
		AllowWebSearch:          false,
		ConfirmDangerousCmds:    true,
		AllowExplicitMutations:  true,
		AllowRawMutations:       true,
		MaxActionsPerTurn:       8,
		ToolLoopLimit:           25,
		PlannerMaxRetries:       2,
		PlannerCoerce:           true,
		ToolPromptIncludeSchema: false,
	}
}

func newHandler(t *testing.T, bodies []string, cfg config.Config) (*Handler, *httptest.Server) {
	t.Helper()
	srv := sseUpstream(t, bodies)
	client := upstream.New(upstream.Config{BaseURL: srv.URL, Token: "test-token"})
	return New(cfg, client), srv
}

func jsonBody(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) openai.ChatCompletionResponse {
	t.Helper()
	var resp openai.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServeChatCompletionsNoToolsReturnsContent(t *testing.T) {
	h, srv := newHandler(t, []string{sseContent("Hello there")}, baseConfig())
	defer srv.Close()

	reqBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model:    "glm-4.7",
		Messages: []openai.Message{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(reqBody))
	rec := httptest.NewRecorder()

	h.ServeChatCompletions(rec, req)

	resp := decodeResponse(t, rec)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
}

func TestDangerousCommandRequiresConfirmationThenReplays(t *testing.T) {
	cfg := baseConfig()
	plannerOutput := `{"actions":[{"tool":"run","args":{"command":"rm /tmp/myfile.txt"}}]}`
	h, srv := newHandler(t, []string{sseContent(plannerOutput)}, cfg)
	defer srv.Close()

	tools := []openai.Tool{{Type: "function", Function: openai.ToolFunction{Name: "run", Description: "run a shell command"}}}

	reqBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model:    "glm-4.7",
		Messages: []openai.Message{{Role: "user", Content: "delete /tmp/myfile.txt"}},
		Tools:    tools,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(reqBody))
	rec := httptest.NewRecorder()
	h.ServeChatCompletions(rec, req)

	resp := decodeResponse(t, rec)
	require.Len(t, resp.Choices, 1)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	call := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "question", call.Function.Name)
	assert.Equal(t, 1, h.Confirm.Len())

	// Client answers affirmatively with a tool-result message against the
	// synthesized question call id.
	replayBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model: "glm-4.7",
		Tools: tools,
		Messages: []openai.Message{
			{Role: "user", Content: "delete /tmp/myfile.txt"},
			{Role: "assistant", ToolCalls: []openai.ToolCall{call}},
			{Role: "tool", ToolCallID: call.ID, Content: "yes"},
		},
	})
	replayReq := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(replayBody))
	replayRec := httptest.NewRecorder()
	h.ServeChatCompletions(replayRec, replayReq)

	replayResp := decodeResponse(t, replayRec)
	require.Len(t, replayResp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "run", replayResp.Choices[0].Message.ToolCalls[0].Function.Name)
	assert.Equal(t, 0, h.Confirm.Len())
}

func TestMutationBoundaryTruncatesToFirstWrite(t *testing.T) {
	cfg := baseConfig()
	plannerOutput := `{"actions":[{"tool":"write","args":{"path":"/tmp/a.txt","content":"one"}},{"tool":"write","args":{"path":"/tmp/b.txt","content":"two"}}]}`
	h, srv := newHandler(t, []string{sseContent(plannerOutput)}, cfg)
	defer srv.Close()

	tools := []openai.Tool{{Type: "function", Function: openai.ToolFunction{Name: "write"}}}
	reqBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model:    "glm-4.7",
		Messages: []openai.Message{{Role: "user", Content: "write both files"}},
		Tools:    tools,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(reqBody))
	rec := httptest.NewRecorder()
	h.ServeChatCompletions(rec, req)

	resp := decodeResponse(t, rec)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Choices[0].Message.ToolCalls[0].Function.Arguments), &args))
	assert.Equal(t, "/tmp/a.txt", args["path"])
}

func TestModelsEndpointListsDefaultModel(t *testing.T) {
	h, srv := newHandler(t, nil, baseConfig())
	defer srv.Close()

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.Models(rec, req)

	var resp openai.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "glm-4.7", resp.Data[0].ID)
}

func TestNoToolsStreamingPassesThroughSSEChunks(t *testing.T) {
	h, srv := newHandler(t, []string{sseContent("Hello streamed")}, baseConfig())
	defer srv.Close()

	reqBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model:    "glm-4.7",
		Messages: []openai.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(reqBody))
	rec := httptest.NewRecorder()
	h.ServeChatCompletions(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `"delta":{"role":"assistant"}`)
	assert.Contains(t, body, `"content":"Hello streamed"`)
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

// TestRawToolCallRetrySuppressed covers spec.md §4.L's raw-dispatch dedup
// state machine: a second request whose tool-result reply reproduces the
// exact same raw (non-planner-schema) tool-call batch against the same user
// turn is recognized as a client retry rather than a fresh action and falls
// through to a direct prose answer instead of re-dispatching.
func TestRawToolCallRetrySuppressed(t *testing.T) {
	cfg := baseConfig()
	rawBatch := `[{"name":"search","arguments":{"query":"weather"}}]`
	h, srv := newHandler(t, []string{
		sseContent(rawBatch),
		sseContent(rawBatch),
		sseContent("No new information."),
	}, cfg)
	defer srv.Close()

	tools := []openai.Tool{{Type: "function", Function: openai.ToolFunction{Name: "search"}}}
	userMsg := openai.Message{Role: "user", Content: "search the weather"}

	reqBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model:    "glm-4.7",
		Messages: []openai.Message{userMsg},
		Tools:    tools,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(reqBody))
	rec := httptest.NewRecorder()
	h.ServeChatCompletions(rec, req)

	resp := decodeResponse(t, rec)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	call := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "search", call.Function.Name)

	replayBody, _ := json.Marshal(openai.ChatCompletionRequest{
		Model: "glm-4.7",
		Tools: tools,
		Messages: []openai.Message{
			userMsg,
			{Role: "assistant", ToolCalls: []openai.ToolCall{call}},
			{Role: "tool", ToolCallID: call.ID, Content: "done"},
		},
	})
	replayReq := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", jsonBody(replayBody))
	replayRec := httptest.NewRecorder()
	h.ServeChatCompletions(replayRec, replayReq)

	replayResp := decodeResponse(t, replayRec)
	assert.Empty(t, replayResp.Choices[0].Message.ToolCalls)
	assert.Equal(t, "No new information.", replayResp.Choices[0].Message.Content)
	assert.Equal(t, "stop", replayResp.Choices[0].FinishReason)
}
