package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Pinger is implemented by session stores that can verify their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a dependency that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // store or http
	CheckResult
}

// HealthStatus represents the overall health of the pipeline.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config holds health checker configuration.
type Config struct {
	// BackendURL is the RAGFlow base address. Any HTTP answer counts as reachable.
	BackendURL string
	// Store is checked when it implements Pinger.
	Store any

	HTTPClient      *http.Client
	StoreTimeout    time.Duration
	HTTPTimeout     time.Duration
	MaxStoreLatency time.Duration
}

// Checker probes the session store and the RAGFlow backend.
type Checker struct {
	mu         sync.RWMutex
	components []Component

	backendURL      string
	store           Pinger
	httpClient      *http.Client
	storeTimeout    time.Duration
	httpTimeout     time.Duration
	maxStoreLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxStoreLatency == 0 {
		cfg.MaxStoreLatency = 100 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	c := &Checker{
		backendURL:      cfg.BackendURL,
		httpClient:      cfg.HTTPClient,
		storeTimeout:    cfg.StoreTimeout,
		httpTimeout:     cfg.HTTPTimeout,
		maxStoreLatency: cfg.MaxStoreLatency,
	}
	if p, ok := cfg.Store.(Pinger); ok {
		c.store = p
	}
	return c
}

// Check runs all probes concurrently and returns the overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, 2)

	if c.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkStore(ctx)
		}()
	}
	if c.backendURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, "ragflow_api", c.backendURL)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, 2)
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return calculateOverallStatus(components)
}

// LastStatus returns the result of the most recent Check.
func (c *Checker) LastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.components) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return calculateOverallStatus(c.components)
}

func (c *Checker) checkStore(ctx context.Context) Component {
	comp := Component{Name: "session_store", Type: "store", CheckResult: CheckResult{Timestamp: time.Now()}}

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	err := c.store.Ping(pingCtx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Session store unreachable"
	case comp.Latency > c.maxStoreLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, baseURL string) Component {
	comp := Component{Name: name, Type: "http", CheckResult: CheckResult{Timestamp: time.Now()}}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Latency = time.Since(start)
		return comp
	}
	resp, err := c.httpClient.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// calculateOverallStatus degrades on any failing component; a failing
// session store makes the pipeline unhealthy since no turn can proceed.
func calculateOverallStatus(components []Component) HealthStatus {
	overall := StatusHealthy
	critical := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == "store" {
				critical = true
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	if critical {
		overall = StatusUnhealthy
	}
	return HealthStatus{Status: overall, Timestamp: time.Now(), Components: components}
}
