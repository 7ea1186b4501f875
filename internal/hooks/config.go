package hooks

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// KnownEvents lists every event the pipeline emits.
var KnownEvents = []EventType{EventSessionCreated, EventTurnCompleted, EventTurnFailed}

// Config is the hooks_* block of pipeline.ini. An empty Events list
// subscribes the script to every event.
type Config struct {
	Enabled    bool              `json:"enabled"`
	ScriptPath string            `json:"script_path"`
	ScriptArgs []string          `json:"script_args"`
	Env        map[string]string `json:"env"`
	Timeout    time.Duration     `json:"timeout"`
	Events     []EventType       `json:"events"`
}

// Validate rejects an enabled hook without a script, a negative timeout or
// a subscription to an event the pipeline never emits.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ScriptPath == "" {
		return fmt.Errorf("hooks: script_path required when enabled")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("hooks: timeout must not be negative, got %s", c.Timeout)
	}
	for _, typ := range c.Events {
		if !slices.Contains(KnownEvents, typ) {
			return fmt.Errorf("hooks: unknown event %q", typ)
		}
	}
	return nil
}

// Subscribed reports whether the script should run for typ.
func (c Config) Subscribed(typ EventType) bool {
	return len(c.Events) == 0 || slices.Contains(c.Events, typ)
}

// BuildScriptHandler returns the script handler for the configured events,
// or nil when hooks are disabled.
func (c Config) BuildScriptHandler() Handler {
	if !c.Enabled {
		return nil
	}
	run := NewScriptHandler(ScriptConfig{
		Command: c.ScriptPath,
		Args:    c.ScriptArgs,
		Env:     c.Env,
		Timeout: c.Timeout,
	})
	return func(ctx context.Context, evt Event) error {
		if !c.Subscribed(evt.Type) {
			return nil
		}
		return run(ctx, evt)
	}
}
