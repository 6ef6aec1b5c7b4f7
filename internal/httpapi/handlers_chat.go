package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"jax-advisor-core/internal/authn"
	"jax-advisor-core/internal/supervisor"
)

type chatRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// handleChat streams a Supervisor turn back as Server-Sent Events: a
// "message" event per content chunk, then a terminal "final" or "error"
// event, matching SPEC_FULL.md §6.1's event names for the chunk types C10
// produces.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is allowed")
		return
	}
	if s.supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor_unavailable", "advisor is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	userID := req.UserID
	if claims, ok := authn.ClaimsFromContext(r.Context()); ok {
		userID = claims.UserID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	chunks := s.supervisor.Process(r.Context(), supervisor.Request{
		UserMessage: req.Query,
		UserID:      userID,
		SessionID:   req.SessionID,
	})
	for chunk := range chunks {
		writeSSEChunk(w, chunk)
		flusher.Flush()
	}
}

func writeSSEChunk(w http.ResponseWriter, chunk supervisor.Chunk) {
	switch chunk.Type {
	case supervisor.ChunkContent:
		data, _ := json.Marshal(map[string]string{"content": chunk.Content})
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	case supervisor.ChunkFinal:
		data, _ := json.Marshal(chunk.Result)
		fmt.Fprintf(w, "event: final\ndata: %s\n\n", data)
	case supervisor.ChunkError:
		errText := ""
		if chunk.Err != nil {
			errText = chunk.Err.Error()
		}
		data, _ := json.Marshal(map[string]string{"error": errText, "message": chunk.Message})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	}
}
