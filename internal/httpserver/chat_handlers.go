package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/ragflow-pipeline/internal/openai"
	"github.com/tokligence/ragflow-pipeline/internal/translation"
)

func (s *Server) HandleModels(w http.ResponseWriter, r *http.Request) {
	model := openai.NewModel(s.pipeline.ID(), s.pipeline.Name(), "ragflow", s.started.Unix())
	s.respondJSON(w, http.StatusOK, openai.NewModelsResponse([]openai.Model{model}))
}

// HandleChatCompletions runs one turn through the pipeline. The conversation
// is identified by metadata.chat_id and the question is the last user
// message; earlier messages are ignored because the backend session keeps
// its own history.
func (s *Server) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid chat request: %w", err))
		return
	}
	if req.Model != "" && req.Model != s.pipeline.ID() {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("model %s not served by this pipeline", req.Model))
		return
	}
	message := req.LastUserMessage()
	if strings.TrimSpace(message) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("no user message in request"))
		return
	}
	conversationID := req.ConversationID()
	if conversationID == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("metadata.chat_id required"))
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if req.Stream && !canFlush {
		s.respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	fragments, err := s.pipeline.Pipe(ctx, message, conversationID)
	if err != nil {
		s.logf("chat.completions pipe failed chat_id=%s: %v", conversationID, err)
		s.respondError(w, http.StatusBadGateway, err)
		return
	}

	id := "chatcmpl-" + uuid.NewString()
	model := s.pipeline.ID()
	count := 0
	if req.Stream {
		count = s.streamFragments(w, flusher, r, cancel, id, model, fragments)
	} else {
		var sb strings.Builder
		for frag := range fragments {
			sb.WriteString(frag.Text)
			count++
		}
		s.respondJSON(w, http.StatusOK, openai.NewCompletionResponse(id, model, sb.String()))
	}
	s.debugf("chat.completions total_ms=%d chat_id=%s stream=%v fragments=%d",
		time.Since(reqStart).Milliseconds(), conversationID, req.Stream, count)
}

// streamFragments writes one chat.completion.chunk per fragment, then a
// closing chunk and [DONE]. It returns the number of fragments written.
func (s *Server) streamFragments(w http.ResponseWriter, flusher http.Flusher, r *http.Request, cancel context.CancelFunc, id, model string, fragments <-chan translation.Fragment) int {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	count := 0
	for frag := range fragments {
		if err := writeSSE(w, openai.NewChunk(id, model, frag.Text, nil)); err != nil {
			s.debugf("chat.completions stream write failed: %v", err)
			cancel()
			for range fragments {
			}
			return count
		}
		flusher.Flush()
		count++
	}
	if r.Context().Err() != nil {
		return count
	}
	stop := "stop"
	if err := writeSSE(w, openai.NewChunk(id, model, "", &stop)); err == nil {
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}
	flusher.Flush()
	return count
}

func writeSSE(w http.ResponseWriter, chunk openai.ChatCompletionChunk) error {
	b, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
