package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/streamparser"
)

func TestSendMessageStreamsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/completions", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body requestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "chat-1", body.ChatID)
		assert.Equal(t, "glm-4.7", body.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n"))
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "test-token", FEVersion: "1.0.0"})

	var chunks []streamparser.Chunk
	err := c.SendMessage(context.Background(), SendMessageInput{
		ChatID:   "chat-1",
		Model:    "glm-4.7",
		Messages: []Message{{Role: "user", Content: "hello"}},
		Stream:   true,
	}, func(c streamparser.Chunk) { chunks = append(chunks, c) })

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, streamparser.KindDone, chunks[len(chunks)-1].Kind)
}

func TestSendMessageNonOKStatusEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "bad-token"})

	var chunks []streamparser.Chunk
	err := c.SendMessage(context.Background(), SendMessageInput{
		ChatID:   "chat-1",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(c streamparser.Chunk) { chunks = append(chunks, c) })

	require.Error(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, streamparser.KindError, chunks[0].Kind)
	assert.Equal(t, "request_failed:401", chunks[0].Reason)
}

func TestSendMessageEmptyBodyEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})

	var chunks []streamparser.Chunk
	err := c.SendMessage(context.Background(), SendMessageInput{
		ChatID:   "chat-1",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(c streamparser.Chunk) { chunks = append(chunks, c) })

	require.Error(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "request_failed:empty_body", chunks[0].Reason)
}

func TestListChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "1", "title": "first", "updated_at": 100},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "first", chats[0].Title)
}

func TestGetChatLinearizableDAG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/chat-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "chat-1",
			"title":      "t",
			"current_id": "m2",
			"history": map[string]any{
				"m1": map[string]any{"id": "m1", "parent_id": "", "role": "user", "content": "hi"},
				"m2": map[string]any{"id": "m2", "parent_id": "m1", "role": "assistant", "content": "hello"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	detail, err := c.GetChat(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "m2", detail.History.CurrentID)
	assert.Len(t, detail.History.Messages, 2)
}

func TestGetUserSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"default_model": "glm-4.7"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "t"})
	settings, err := c.GetUserSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "glm-4.7", settings.DefaultModel)
}
