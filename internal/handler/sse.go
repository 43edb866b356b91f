package handler

import (
	"encoding/json"
	"net/http"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/openai"
)

// sseWriter flushes each event immediately, per spec.md §9's "backpressure"
// note: the SSE writer must flush after each chunk to avoid head-of-line
// blocking when the client is slow.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: f}
}

func (s *sseWriter) writeChunk(chunk openai.ChatCompletionChunk) {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	_, _ = s.w.Write([]byte("data: "))
	_, _ = s.w.Write(raw)
	_, _ = s.w.Write([]byte("\n\n"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *sseWriter) done() {
	_, _ = s.w.Write([]byte("data: [DONE]\n\n"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
