package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/ragflow-pipeline/internal/hooks"
	"github.com/tokligence/ragflow-pipeline/internal/metrics"
	"github.com/tokligence/ragflow-pipeline/internal/ragflow"
	"github.com/tokligence/ragflow-pipeline/internal/session"
	"github.com/tokligence/ragflow-pipeline/internal/testutil"
	"github.com/tokligence/ragflow-pipeline/internal/translation"
)

type recorder struct {
	mu     sync.Mutex
	events []hooks.Event
}

func (r *recorder) handle(_ context.Context, evt hooks.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) types() []hooks.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hooks.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) snapshot() []hooks.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]hooks.Event(nil), r.events...)
}

type fixture struct {
	fake     *testutil.FakeRAGFlow
	pipe     *Pipeline
	store    *session.MemoryStore
	metrics  *metrics.Collector
	recorder *recorder
	logs     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := testutil.NewFakeRAGFlow(t, "agent-1")
	client, err := ragflow.New(ragflow.Config{
		APIKey:     "key",
		AgentID:    fake.AgentID,
		Host:       fake.Host,
		Port:       fake.Port,
		HTTPClient: fake.Client(),
	})
	require.NoError(t, err)

	rec := &recorder{}
	dispatcher := &hooks.Dispatcher{}
	dispatcher.Register(rec.handle)
	logs := &bytes.Buffer{}
	store := session.NewMemoryStore()
	collector := metrics.NewCollector()
	p := New(client, Options{
		ID:      "ragflow_pipeline",
		Name:    "RagFlow Pipeline",
		Store:   store,
		Hooks:   dispatcher,
		Metrics: collector,
		Logger:  log.New(logs, "", 0),
		Debug:   true,
	})
	return &fixture{fake: fake, pipe: p, store: store, metrics: collector, recorder: rec, logs: logs}
}

func drain(t *testing.T, ch <-chan translation.Fragment) []translation.Fragment {
	t.Helper()
	var out []translation.Fragment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frag, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, frag)
		case <-timeout:
			t.Fatal("timed out waiting for fragments")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func TestPipeStreamsDeltasAndReferences(t *testing.T) {
	f := newFixture(t)
	f.fake.SetCompletion(http.StatusOK,
		testutil.AnswerLine("H"),
		testutil.AnswerLine("He"),
		"data:garbage",
		testutil.ReferenceLine("Hello", testutil.RefChunk{DocumentID: "d1", DocumentName: "guide.PDF"}),
		testutil.AnswerLine("Hello"),
		testutil.DoneLine,
	)

	ch, err := f.pipe.Pipe(context.Background(), "hi", "chat-1")
	require.NoError(t, err)
	frags := drain(t, ch)

	require.Len(t, frags, 4)
	assert.Equal(t, "H", frags[0].Text)
	assert.Equal(t, "e", frags[1].Text)
	assert.Equal(t, translation.KindReferences, frags[2].Kind)
	assert.Contains(t, frags[2].Text, "/document/d1?ext=pdf&prefix=document")
	assert.Equal(t, "llo", frags[3].Text)

	calls := f.fake.Completions()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi", calls[0].Question)
	assert.Equal(t, "sess-1", calls[0].SessionID)

	waitFor(t, func() bool { return len(f.recorder.types()) == 2 })
	assert.Equal(t, []hooks.EventType{hooks.EventSessionCreated, hooks.EventTurnCompleted}, f.recorder.types())
	const want = `
# HELP ragflow_pipeline_stream_decode_errors_total Stream lines skipped because they were not valid JSON.
# TYPE ragflow_pipeline_stream_decode_errors_total counter
ragflow_pipeline_stream_decode_errors_total 1
`
	assert.NoError(t, promtest.GatherAndCompare(f.metrics.Registry(), strings.NewReader(want), "ragflow_pipeline_stream_decode_errors_total"))
}

func TestPipeReusesSession(t *testing.T) {
	f := newFixture(t)
	f.fake.SetCompletion(http.StatusOK, testutil.AnswerLine("ok"), testutil.DoneLine)

	for i := 0; i < 2; i++ {
		ch, err := f.pipe.Pipe(context.Background(), "q", "chat-1")
		require.NoError(t, err)
		drain(t, ch)
	}
	assert.Equal(t, 1, f.fake.SessionCalls())
	calls := f.fake.Completions()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].SessionID, calls[1].SessionID)
}

func TestPipeNon200YieldsSingleFailureFragment(t *testing.T) {
	f := newFixture(t)
	f.fake.SetCompletion(http.StatusInternalServerError)

	ch, err := f.pipe.Pipe(context.Background(), "q", "chat-1")
	require.NoError(t, err)
	frags := drain(t, ch)

	require.Len(t, frags, 1)
	assert.Equal(t, translation.KindError, frags[0].Kind)
	assert.Equal(t, "Workflow request failed with status code: 500", frags[0].Text)
	assert.Contains(t, f.recorder.types(), hooks.EventTurnFailed)
}

func TestPipeSessionProtocolErrorAbortsTurn(t *testing.T) {
	f := newFixture(t)
	f.fake.SetSessionBody(`{"code":0,"data":{}}`)

	_, err := f.pipe.Pipe(context.Background(), "q", "chat-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragflow.ErrBackendProtocol))
	assert.Empty(t, f.fake.Completions())
	assert.Zero(t, f.store.Len())
}

func TestPipeCancellationClosesStream(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	f.fake.SetCompletion(http.StatusOK, testutil.AnswerLine("a"))
	f.fake.BlockAfterLines(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.pipe.Pipe(ctx, "q", "chat-1")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "a", first.Text)
	cancel()

	drain(t, ch)
	waitFor(t, func() bool {
		types := f.recorder.types()
		return len(types) == 2 && types[1] == hooks.EventTurnCompleted
	})
	assert.Equal(t, "cancelled", f.recorder.snapshot()[1].Metadata["outcome"])
}

func TestAbandonedTurnReleasesBackend(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	f.fake.SetCompletion(http.StatusOK, testutil.AnswerLine("a"), testutil.AnswerLine("ab"))
	f.fake.BlockAfterLines(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.pipe.Pipe(ctx, "q", "chat-1")
	require.NoError(t, err)

	assert.Equal(t, "a", (<-ch).Text)
	// stop receiving without draining
	cancel()

	waitFor(t, func() bool { return f.fake.Disconnects() == 1 })
	waitFor(t, func() bool { return len(f.recorder.types()) == 2 })
	assert.Equal(t, "cancelled", f.recorder.snapshot()[1].Metadata["outcome"])
}

func TestInletResolvesSession(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"model":    "ragflow_pipeline",
		"metadata": map[string]any{"chat_id": "chat-7"},
	}
	out, err := f.pipe.Inlet(context.Background(), body, map[string]any{"name": "ann"})
	require.NoError(t, err)
	assert.Equal(t, body, out)
	assert.Equal(t, 1, f.fake.SessionCalls())

	got, err := f.store.Get(context.Background(), "chat-7")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got)
	assert.Contains(t, f.logs.String(), "inlet: ragflow_pipeline - chat_id:chat-7")
}

func TestInletRequiresChatID(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipe.Inlet(context.Background(), map[string]any{"messages": []any{}}, nil)
	assert.Error(t, err)
	assert.Zero(t, f.fake.SessionCalls())
}

func TestOutletReturnsBody(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"chat_id": "c", "session_id": "s"}
	out, err := f.pipe.Outlet(context.Background(), body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)
	assert.Contains(t, f.logs.String(), "outlet chat_id: c")
}

func TestLifecycleHooks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipe.OnStartup(context.Background()))
	require.NoError(t, f.pipe.OnShutdown(context.Background()))
	assert.Contains(t, f.logs.String(), "on_startup: ragflow_pipeline")
	assert.Contains(t, f.logs.String(), "on_shutdown: ragflow_pipeline")
	assert.Equal(t, "RagFlow Pipeline", f.pipe.Name())
}

func TestInletFallsBackToTopLevelChatID(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"chat_id": "chat-top", "metadata": map[string]any{"chat_id": ""}}
	_, err := f.pipe.Inlet(context.Background(), body, nil)
	require.NoError(t, err)

	got, err := f.store.Get(context.Background(), "chat-top")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got)
}
