package ragflow

import (
	"bytes"
	"encoding/json"
)

// EventPrefix is the framing marker in front of every streamed completion line.
const EventPrefix = "data:"

// SessionResponse is the body returned by the session creation endpoint.
type SessionResponse struct {
	Code    int          `json:"code"`
	Message string       `json:"message,omitempty"`
	Data    *SessionData `json:"data"`
}

// SessionData carries the new backend session.
type SessionData struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

// CompletionRequest is the body posted to the completions endpoint.
type CompletionRequest struct {
	Question  string `json:"question"`
	Stream    bool   `json:"stream"`
	SessionID string `json:"session_id"`
	Lang      string `json:"lang"`
}

// Event is one decoded line of the completion stream. Data is either the
// literal true (end of stream) or an Answer object.
type Event struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

// IsDone reports whether the event is the termination sentinel.
func (e Event) IsDone() bool {
	return bytes.Equal(bytes.TrimSpace(e.Data), []byte("true"))
}

// Answer is the payload of a non-terminal event. Answer holds the cumulative
// text streamed so far. Only answer and reference are decoded; the backend
// adds other fields whose types vary between releases.
type Answer struct {
	Answer    *string         `json:"answer"`
	Reference json.RawMessage `json:"reference,omitempty"`
}

// Chunks returns the retrieval chunks carried by the answer. A reference that
// is absent, null, an array or otherwise not a chunk list yields nil.
func (a Answer) Chunks() []Chunk {
	ref := bytes.TrimSpace(a.Reference)
	if len(ref) == 0 || ref[0] != '{' {
		return nil
	}
	var r Reference
	if err := json.Unmarshal(ref, &r); err != nil {
		return nil
	}
	return r.Chunks
}

// Reference lists the retrieval chunks backing an answer.
type Reference struct {
	Chunks []Chunk `json:"chunks"`
}

// Chunk identifies a source document contributing to the answer.
type Chunk struct {
	DocumentID   DocumentID `json:"document_id"`
	DocumentName string     `json:"document_name"`
}

// DocumentID accepts both string and numeric identifiers on the wire.
type DocumentID string

func (d *DocumentID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = DocumentID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = DocumentID(n.String())
	return nil
}
