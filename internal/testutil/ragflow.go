package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
)

// CompletionCall records one request seen on the completions endpoint.
type CompletionCall struct {
	Question      string `json:"question"`
	Stream        bool   `json:"stream"`
	SessionID     string `json:"session_id"`
	Lang          string `json:"lang"`
	Authorization string `json:"-"`
}

// FakeRAGFlow mimics the two RAGFlow chat endpoints the pipeline calls.
// Sessions are numbered sess-1, sess-2, ... unless SetSessionBody overrides
// the response.
type FakeRAGFlow struct {
	*IPv4Server
	AgentID string

	mu               sync.Mutex
	sessionCalls     int
	sessionBody      string
	completionStatus int
	completionLines  []string
	completions      []CompletionCall
	block            chan struct{}
	disconnects      int
}

// NewFakeRAGFlow starts a fake backend serving chat agentID.
func NewFakeRAGFlow(t *testing.T, agentID string) *FakeRAGFlow {
	t.Helper()
	f := &FakeRAGFlow{AgentID: agentID, completionStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chats/"+agentID+"/sessions", f.handleSession)
	mux.HandleFunc("POST /api/v1/chats/"+agentID+"/completions", f.handleCompletion)
	f.IPv4Server = NewIPv4Server(t, mux)
	return f
}

// SetSessionBody replaces the session creation response with a raw body.
func (f *FakeRAGFlow) SetSessionBody(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionBody = body
}

// SetCompletion configures the status and the stream lines (without the
// trailing newline) served by the completions endpoint.
func (f *FakeRAGFlow) SetCompletion(status int, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completionStatus = status
	f.completionLines = append([]string(nil), lines...)
}

// BlockAfterLines makes the completions handler hold the connection open
// after writing its lines until release is closed or the client goes away.
func (f *FakeRAGFlow) BlockAfterLines(release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = release
}

// Disconnects reports how many blocked completion streams were closed by the
// client before release.
func (f *FakeRAGFlow) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// SessionCalls reports how many sessions were requested.
func (f *FakeRAGFlow) SessionCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionCalls
}

// Completions returns a copy of the recorded completion requests.
func (f *FakeRAGFlow) Completions() []CompletionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CompletionCall(nil), f.completions...)
}

func (f *FakeRAGFlow) handleSession(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.sessionCalls++
	n := f.sessionCalls
	body := f.sessionBody
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if body != "" {
		_, _ = io.WriteString(w, body)
		return
	}
	_, _ = fmt.Fprintf(w, `{"code":0,"data":{"id":"sess-%d","chat_id":%q,"name":"New session"}}`, n, f.AgentID)
}

func (f *FakeRAGFlow) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var call CompletionCall
	_ = json.NewDecoder(r.Body).Decode(&call)
	call.Authorization = r.Header.Get("Authorization")

	f.mu.Lock()
	f.completions = append(f.completions, call)
	status := f.completionStatus
	lines := append([]string(nil), f.completionLines...)
	block := f.block
	f.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, `{"code":500,"message":"upstream error"}`, status)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, line := range lines {
		if _, err := io.WriteString(w, strings.TrimRight(line, "\n")+"\n"); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			f.mu.Lock()
			f.disconnects++
			f.mu.Unlock()
		}
	}
}

// AnswerLine renders a "data:" stream line carrying a cumulative answer.
func AnswerLine(answer string) string {
	b, _ := json.Marshal(map[string]any{
		"code": 0,
		"data": map[string]any{"answer": answer, "reference": map[string]any{}},
	})
	return "data:" + string(b)
}

// RefChunk is a minimal reference chunk used to build stream lines.
type RefChunk struct {
	DocumentID   any    `json:"document_id"`
	DocumentName string `json:"document_name"`
}

// ReferenceLine renders a "data:" stream line carrying reference chunks.
func ReferenceLine(answer string, chunks ...RefChunk) string {
	b, _ := json.Marshal(map[string]any{
		"code": 0,
		"data": map[string]any{
			"answer":    answer,
			"reference": map[string]any{"total": len(chunks), "chunks": chunks},
		},
	})
	return "data:" + string(b)
}

// DoneLine is the termination sentinel line.
const DoneLine = `data:{"code":0,"data":true}`
