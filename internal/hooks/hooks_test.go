package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDispatcherEmit(t *testing.T) {
	d := &Dispatcher{}
	var sequence []string
	d.Register(func(ctx context.Context, evt Event) error {
		sequence = append(sequence, "first:"+string(evt.Type))
		return nil
	})
	d.Register(func(ctx context.Context, evt Event) error {
		sequence = append(sequence, "second:"+evt.ConversationID)
		return errors.New("second handler failed")
	})

	err := d.Emit(context.Background(), NewEvent(EventSessionCreated, "chat-1", "sess-1", nil))
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "second handler failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sequence) != 2 {
		t.Fatalf("expected two handlers to run, got %d", len(sequence))
	}
	if sequence[0] != "first:"+string(EventSessionCreated) {
		t.Fatalf("unexpected first handler record %q", sequence[0])
	}
	if sequence[1] != "second:chat-1" {
		t.Fatalf("unexpected second handler record %q", sequence[1])
	}
}

func TestNilDispatcherEmit(t *testing.T) {
	var d *Dispatcher
	if err := d.Emit(context.Background(), Event{Type: EventTurnCompleted}); err != nil {
		t.Fatalf("nil dispatcher should drop events, got %v", err)
	}
}

func TestNewEventStampsIDAndTime(t *testing.T) {
	a := NewEvent(EventTurnCompleted, "chat", "sess", map[string]any{"fragments": 3})
	b := NewEvent(EventTurnCompleted, "chat", "sess", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestJSONMarshaler(t *testing.T) {
	evt := NewEvent(EventTurnFailed, "chat-9", "sess-9", map[string]any{"status": 500})
	payload, err := JSONMarshaler(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != string(EventTurnFailed) || decoded["conversation_id"] != "chat-9" || decoded["session_id"] != "sess-9" {
		t.Fatalf("unexpected envelope %v", decoded)
	}
}

func TestNewScriptHandlerRunsCommand(t *testing.T) {
	MarshalEvent = JSONMarshaler

	expectID := "evt-script"
	expectType := EventSessionCreated
	handler := NewScriptHandler(ScriptConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcessScriptHandler", "--", expectID, string(expectType)},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"HOOK_EXPECT_ID":         expectID,
			"HOOK_EXPECT_TYPE":       string(expectType),
		},
		Timeout: 5 * time.Second,
	})

	evt := Event{
		ID:             expectID,
		Type:           expectType,
		OccurredAt:     time.Now(),
		ConversationID: "chat-1",
		SessionID:      "sess-1",
	}
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func TestHelperProcessScriptHandler(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		io.WriteString(os.Stderr, "decode error: "+err.Error())
		os.Exit(2)
	}
	if payload.ID != os.Getenv("HOOK_EXPECT_ID") {
		io.WriteString(os.Stderr, "unexpected id")
		os.Exit(3)
	}
	if payload.Type != os.Getenv("HOOK_EXPECT_TYPE") {
		io.WriteString(os.Stderr, "unexpected type")
		os.Exit(4)
	}
	os.Exit(0)
}

func TestScriptHandlerWithoutCommand(t *testing.T) {
	handler := NewScriptHandler(ScriptConfig{})
	if err := handler(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when enabled without script path")
	}

	cfg.ScriptPath = "/tmp/hook.sh"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if h := cfg.BuildScriptHandler(); h == nil {
		t.Fatalf("expected handler when config enabled")
	}

	disabled := Config{}
	if handler := disabled.BuildScriptHandler(); handler != nil {
		t.Fatalf("expected nil handler when config disabled")
	}
}

func TestConfigEventSubscription(t *testing.T) {
	cfg := Config{Enabled: true, ScriptPath: "/tmp/hook.sh", Events: []EventType{"pipeline.turn.exploded"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown event")
	}
	if err := (Config{Enabled: true, ScriptPath: "/tmp/hook.sh", Timeout: -time.Second}).Validate(); err == nil {
		t.Fatalf("expected error for negative timeout")
	}

	// the script path does not exist, so any call that reaches it fails
	cfg = Config{Enabled: true, ScriptPath: "/nonexistent/hook", Events: []EventType{EventTurnFailed}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if !cfg.Subscribed(EventTurnFailed) || cfg.Subscribed(EventTurnCompleted) {
		t.Fatalf("unexpected subscription for %v", cfg.Events)
	}
	handler := cfg.BuildScriptHandler()
	if err := handler(context.Background(), NewEvent(EventTurnCompleted, "c", "s", nil)); err != nil {
		t.Fatalf("unsubscribed event should be skipped, got %v", err)
	}
	if err := handler(context.Background(), NewEvent(EventTurnFailed, "c", "s", nil)); err == nil {
		t.Fatalf("subscribed event should run the script")
	}
	if !(Config{}).Subscribed(EventSessionCreated) {
		t.Fatalf("empty event list should subscribe to everything")
	}
}
