package health

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/tokligence/ragflow-pipeline/internal/testutil"
)

type pingStore struct{ err error }

func (p pingStore) Ping(context.Context) error { return p.err }

func TestCheckHealthy(t *testing.T) {
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	c := New(Config{BackendURL: srv.URL, Store: pingStore{}, HTTPClient: srv.Client()})
	status := c.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", status)
	}
	if len(status.Components) != 2 {
		t.Fatalf("expected two components, got %d", len(status.Components))
	}
	if c.LastStatus().Status != StatusHealthy {
		t.Fatalf("last status not recorded")
	}
}

func TestCheckStoreFailureIsUnhealthy(t *testing.T) {
	c := New(Config{Store: pingStore{err: errors.New("closed")}})
	status := c.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", status.Status)
	}
	if status.Components[0].Error != "closed" {
		t.Fatalf("missing error detail: %+v", status.Components[0])
	}
}

func TestCheckBackendDownIsDegraded(t *testing.T) {
	c := New(Config{BackendURL: "http://127.0.0.1:1"})
	status := c.Check(context.Background())
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestStoreWithoutPingIsSkipped(t *testing.T) {
	c := New(Config{Store: struct{}{}})
	status := c.Check(context.Background())
	if status.Status != StatusHealthy || len(status.Components) != 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}
