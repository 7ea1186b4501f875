// Package translation turns the RAGFlow completion stream into fragments a
// chat front-end can render: incremental answer text and a references block.
package translation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/tokligence/ragflow-pipeline/internal/ragflow"
)

// Kind distinguishes fragment payloads.
type Kind string

const (
	KindText       Kind = "text"
	KindReferences Kind = "references"
	KindError      Kind = "error"
)

// Fragment is one unit of output handed to the front-end.
type Fragment struct {
	Kind Kind
	Text string
	// Links is set for KindReferences and mirrors the entries rendered in Text.
	Links []Link
}

// FailureFragment is the single fragment produced when the completion call
// is rejected by the backend.
func FailureFragment(status int) Fragment {
	return Fragment{
		Kind: KindError,
		Text: fmt.Sprintf("Workflow request failed with status code: %d", status),
	}
}

// Stats counts what a Translator has seen on its stream.
type Stats struct {
	Lines         int
	DecodeErrors  int
	TextFragments int
	ReferenceSets int
}

// Translator converts one completion stream. The backend resends the whole
// answer on every event, so the translator keeps a cursor (in runes) of how
// much answer text has already been emitted. A Translator is not safe for
// concurrent use and must not be reused across streams without Reset.
type Translator struct {
	baseURL string
	logger  *log.Logger
	cursor  int
	stats   Stats
}

// NewTranslator returns a Translator that links references against baseURL
// (the backend's "HOST:PORT").
func NewTranslator(baseURL string, logger *log.Logger) *Translator {
	return &Translator{baseURL: baseURL, logger: logger}
}

// Reset clears the cursor and counters so the Translator can take a new stream.
func (t *Translator) Reset() {
	t.cursor = 0
	t.stats = Stats{}
}

// Stats returns the counters for the current stream.
func (t *Translator) Stats() Stats {
	return t.stats
}

// Translate handles a single raw line. It returns the fragment to emit (ok
// reports whether there is one) and whether the termination sentinel was seen.
// Lines that do not decode are logged and skipped.
func (t *Translator) Translate(line []byte) (frag Fragment, ok bool, done bool) {
	if len(line) == 0 {
		return Fragment{}, false, false
	}
	t.stats.Lines++

	payload := line
	if len(payload) >= len(ragflow.EventPrefix) {
		payload = payload[len(ragflow.EventPrefix):]
	} else {
		payload = nil
	}

	var evt ragflow.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		t.stats.DecodeErrors++
		t.logf("failed to parse stream line %q: %v", line, err)
		return Fragment{}, false, false
	}
	if evt.IsDone() {
		return Fragment{}, false, true
	}
	if len(evt.Data) == 0 {
		return Fragment{}, false, false
	}

	var ans ragflow.Answer
	if err := json.Unmarshal(evt.Data, &ans); err != nil {
		// data is present but not an answer object (e.g. false or a string)
		return Fragment{}, false, false
	}
	if ans.Answer == nil {
		return Fragment{}, false, false
	}

	if chunks := ans.Chunks(); len(chunks) > 0 {
		t.stats.ReferenceSets++
		return ReferencesBlock(t.baseURL, chunks), true, false
	}

	answer := []rune(*ans.Answer)
	delta := ""
	if t.cursor < len(answer) {
		delta = string(answer[t.cursor:])
	}
	t.cursor = len(answer)
	if delta == "" {
		return Fragment{}, false, false
	}
	t.stats.TextFragments++
	return Fragment{Kind: KindText, Text: delta}, true, false
}

// Run feeds lines into the Translator and passes each fragment to emit, in
// order. It returns when the stream ends, the sentinel arrives, emit returns
// false, or ctx is cancelled. A read error on the stream is returned.
func (t *Translator) Run(ctx context.Context, lines <-chan ragflow.StreamLine, emit func(Fragment) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, open := <-lines:
			if !open {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			frag, ok, done := t.Translate(line.Data)
			if done {
				return nil
			}
			if ok && !emit(frag) {
				return nil
			}
		}
	}
}

func (t *Translator) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}
