package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names the pipeline transitions exported to hook listeners.
type EventType string

const (
	// EventSessionCreated is emitted after a new backend session is opened
	// for a conversation.
	EventSessionCreated EventType = "pipeline.session.created"
	// EventTurnCompleted is emitted when a completion stream ends normally.
	EventTurnCompleted EventType = "pipeline.turn.completed"
	// EventTurnFailed is emitted when the backend rejects a completion or
	// the stream breaks.
	EventTurnFailed EventType = "pipeline.turn.failed"
)

// Event envelopes the payload broadcast to hook listeners.
type Event struct {
	ID             string
	Type           EventType
	OccurredAt     time.Time
	ConversationID string
	SessionID      string
	Metadata       map[string]any
}

// NewEvent stamps a fresh id and time on an event.
func NewEvent(typ EventType, conversationID, sessionID string, metadata map[string]any) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           typ,
		OccurredAt:     time.Now().UTC(),
		ConversationID: conversationID,
		SessionID:      sessionID,
		Metadata:       metadata,
	}
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// Dispatcher coordinates handler registration and event fan-out.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// Register adds a new handler. Handlers fire sequentially in registration order.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers an event to all registered handlers. Errors are aggregated.
// A nil Dispatcher drops the event.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScriptConfig describes how to invoke an external command when events fire.
type ScriptConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// MarshalEvent converts an Event into the wire format presented to scripts.
var MarshalEvent = JSONMarshaler

// NewScriptHandler returns a Handler that pipes the marshalled event to a
// configured executable via STDIN.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parentCtx context.Context, evt Event) error {
		if cfg.Command == "" {
			return fmt.Errorf("hooks: command not configured")
		}

		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parentCtx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, val))
			}
			cmd.Env = env
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("hooks: stdin pipe: %w", err)
		}
		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hooks: command failed: %w", err)
		}
		return nil
	}
}

// JSONMarshaler serialises the event into a stable JSON envelope.
func JSONMarshaler(evt Event) ([]byte, error) {
	envelope := struct {
		ID             string         `json:"id"`
		Type           EventType      `json:"type"`
		OccurredAt     time.Time      `json:"occurred_at"`
		ConversationID string         `json:"conversation_id"`
		SessionID      string         `json:"session_id"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		ID:             evt.ID,
		Type:           evt.Type,
		OccurredAt:     evt.OccurredAt,
		ConversationID: evt.ConversationID,
		SessionID:      evt.SessionID,
		Metadata:       evt.Metadata,
	}
	return json.Marshal(envelope)
}
