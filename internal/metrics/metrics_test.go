package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RecordSessionHit()
	c.RecordSessionCreated()
	c.RecordSessionCreated()
	c.RecordFragment("text")
	c.RecordFragment("text")
	c.RecordFragment("references")
	c.RecordUpstreamFailure(502)
	c.RecordDecodeErrors(3)
	c.RecordDecodeErrors(0)
	c.TurnStarted()
	c.TurnFinished("completed", 150*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionLookups.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.fragments.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fragments.WithLabelValues("references")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstreamFailures.WithLabelValues("502")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.decodeErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.turnsInProgress))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turns.WithLabelValues("completed")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordRequest("/health", 200)
	c.RecordSessionHit()
	c.RecordFragment("text")
	c.TurnStarted()
	c.TurnFinished("failed", time.Second)
	assert.Nil(t, c.Registry())
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/v1/chat/completions", 200)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `ragflow_pipeline_http_requests_total{code="200",endpoint="/v1/chat/completions"} 1`), string(body))
}
