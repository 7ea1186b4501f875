// Package pipeline wires the session resolver, the RAGFlow client and the
// stream translator into the lifecycle a pipelines host drives: startup,
// inlet, pipe, outlet, shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tokligence/ragflow-pipeline/internal/hooks"
	"github.com/tokligence/ragflow-pipeline/internal/metrics"
	"github.com/tokligence/ragflow-pipeline/internal/openai"
	"github.com/tokligence/ragflow-pipeline/internal/ragflow"
	"github.com/tokligence/ragflow-pipeline/internal/session"
	"github.com/tokligence/ragflow-pipeline/internal/translation"
)

// Backend is the subset of the RAGFlow client the pipeline needs.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	StreamCompletion(ctx context.Context, question, sessionID string) (*ragflow.CompletionStream, error)
	BaseURL() string
}

var _ Backend = (*ragflow.Client)(nil)

// Options configures a Pipeline. Only Store is required.
type Options struct {
	ID      string
	Name    string
	Store   session.Store
	Hooks   *hooks.Dispatcher
	Metrics *metrics.Collector
	Logger  *log.Logger
	// Debug enables inlet/outlet diagnostics and per-line decode logging.
	Debug bool
}

// Pipeline bridges one front-end to one RAGFlow chat assistant.
type Pipeline struct {
	id       string
	name     string
	backend  Backend
	resolver *session.Resolver
	hooks    *hooks.Dispatcher
	metrics  *metrics.Collector
	logger   *log.Logger
	debug    bool
}

// New builds a Pipeline over backend.
func New(backend Backend, opts Options) *Pipeline {
	store := opts.Store
	if store == nil {
		store = session.NewMemoryStore()
	}
	p := &Pipeline{
		id:      opts.ID,
		name:    opts.Name,
		backend: backend,
		hooks:   opts.Hooks,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		debug:   opts.Debug,
	}
	var resolverLogger *log.Logger
	if opts.Debug {
		resolverLogger = opts.Logger
	}
	p.resolver = session.NewResolver(store, backend, resolverLogger)
	p.resolver.SetObserver(session.Observer{
		Hit: func(context.Context, string, string) {
			p.metrics.RecordSessionHit()
		},
		Created: func(ctx context.Context, conversationID, sessionID string) {
			p.metrics.RecordSessionCreated()
			p.emit(ctx, hooks.NewEvent(hooks.EventSessionCreated, conversationID, sessionID, nil))
		},
	})
	return p
}

// ID returns the pipeline identifier advertised to the host.
func (p *Pipeline) ID() string { return p.id }

// Name returns the human readable pipeline name.
func (p *Pipeline) Name() string { return p.name }

// OnStartup is called once before the host starts routing requests.
func (p *Pipeline) OnStartup(context.Context) error {
	p.logf("on_startup: %s backend=%s", p.id, p.backend.BaseURL())
	return nil
}

// OnShutdown is called once when the host stops.
func (p *Pipeline) OnShutdown(context.Context) error {
	p.logf("on_shutdown: %s", p.id)
	return nil
}

// Inlet runs before Pipe. It reads metadata.chat_id (or a top level chat_id)
// from the inbound body and makes sure a backend session exists for it. The
// body is returned unchanged.
func (p *Pipeline) Inlet(ctx context.Context, body map[string]any, user map[string]any) (map[string]any, error) {
	p.debugf("inlet: %s", p.id)
	conversationID := openai.BodyConversationID(body)
	if conversationID == "" {
		return nil, errors.New("inlet: metadata.chat_id missing from request body")
	}
	p.debugf("inlet: %s - chat_id:%s", p.id, conversationID)
	if _, err := p.resolver.Resolve(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("inlet: %w", err)
	}
	p.debugf("inlet: %s - user:%v", p.id, user)
	return body, nil
}

// Outlet runs after the response has been delivered. It only logs.
func (p *Pipeline) Outlet(_ context.Context, body map[string]any, user map[string]any) (map[string]any, error) {
	p.debugf("outlet: %s", p.id)
	p.debugf("outlet chat_id: %v", body["chat_id"])
	p.debugf("outlet session_id: %v", body["session_id"])
	p.debugf("outlet: %s - user:%v", p.id, user)
	return body, nil
}

// Pipe sends userMessage to the backend session of conversationID and
// returns the translated fragments. The channel is unbuffered: the next
// stream line is read only once the previous fragment has been received.
// Cancelling ctx ends the stream and closes the backend connection. A caller
// that stops receiving before the channel is closed must cancel ctx; until
// then the turn stays blocked on the next send and holds the connection open.
//
// A rejected completion call yields exactly one failure fragment. Session
// resolution and transport errors are returned directly.
func (p *Pipeline) Pipe(ctx context.Context, userMessage, conversationID string) (<-chan translation.Fragment, error) {
	sessionID, err := p.resolver.Resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	p.metrics.TurnStarted()
	stream, err := p.backend.StreamCompletion(ctx, userMessage, sessionID)
	if err != nil {
		var statusErr *ragflow.StatusError
		if errors.As(err, &statusErr) {
			p.logf("completion rejected chat_id=%s session_id=%s status=%d", conversationID, sessionID, statusErr.Code)
			p.metrics.RecordUpstreamFailure(statusErr.Code)
			p.finishTurn(ctx, "rejected", start, conversationID, sessionID, map[string]any{"status": statusErr.Code})
			return single(ctx, translation.FailureFragment(statusErr.Code)), nil
		}
		p.finishTurn(ctx, "error", start, conversationID, sessionID, map[string]any{"error": err.Error()})
		return nil, err
	}

	out := make(chan translation.Fragment)
	go func() {
		var decodeLogger *log.Logger
		if p.debug {
			decodeLogger = p.logger
		}
		tr := translation.NewTranslator(p.backend.BaseURL(), decodeLogger)
		fragments := 0
		runErr := tr.Run(ctx, stream.Lines(), func(frag translation.Fragment) bool {
			select {
			case out <- frag:
				fragments++
				p.metrics.RecordFragment(string(frag.Kind))
				return true
			case <-ctx.Done():
				return false
			}
		})

		_ = stream.Close()
		close(out)

		stats := tr.Stats()
		p.metrics.RecordDecodeErrors(stats.DecodeErrors)
		meta := map[string]any{
			"fragments":     fragments,
			"lines":         stats.Lines,
			"decode_errors": stats.DecodeErrors,
		}
		outcome := "completed"
		switch {
		case ctx.Err() != nil:
			outcome = "cancelled"
		case runErr != nil:
			outcome = "error"
			meta["error"] = runErr.Error()
			p.logf("completion stream failed chat_id=%s session_id=%s: %v", conversationID, sessionID, runErr)
		}
		p.finishTurn(context.WithoutCancel(ctx), outcome, start, conversationID, sessionID, meta)
	}()
	return out, nil
}

func (p *Pipeline) finishTurn(ctx context.Context, outcome string, start time.Time, conversationID, sessionID string, meta map[string]any) {
	elapsed := time.Since(start)
	p.metrics.TurnFinished(outcome, elapsed)
	meta["outcome"] = outcome
	meta["duration_ms"] = elapsed.Milliseconds()
	typ := hooks.EventTurnCompleted
	if outcome != "completed" && outcome != "cancelled" {
		typ = hooks.EventTurnFailed
	}
	p.emit(ctx, hooks.NewEvent(typ, conversationID, sessionID, meta))
}

func (p *Pipeline) emit(ctx context.Context, evt hooks.Event) {
	if p.hooks == nil {
		return
	}
	if err := p.hooks.Emit(ctx, evt); err != nil {
		p.logf("hook %s failed: %v", evt.Type, err)
	}
}

// single returns a closed-after-one channel carrying frag.
func single(ctx context.Context, frag translation.Fragment) <-chan translation.Fragment {
	out := make(chan translation.Fragment)
	go func() {
		defer close(out)
		select {
		case out <- frag:
		case <-ctx.Done():
		}
	}()
	return out
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func (p *Pipeline) debugf(format string, args ...any) {
	if p.debug {
		p.logf(format, args...)
	}
}
