package ragflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// DefaultLang is the answer language requested from the backend.
const DefaultLang = "Chinese"

// Client talks to the RAGFlow chat API on behalf of one chat assistant.
type Client struct {
	apiKey     string
	agentID    string
	baseURL    string
	lang       string
	httpClient *http.Client
	logger     *log.Logger
}

// Config holds configuration for the RAGFlow client.
type Config struct {
	APIKey  string
	AgentID string // chat assistant id
	Host    string // scheme and host, e.g. http://ragflow.local
	Port    string
	Lang    string // optional, defaults to DefaultLang
	// RequestTimeout of zero leaves the http.Client without a timeout.
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *log.Logger
}

// New creates a Client instance.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, errors.New("ragflow: agent id required")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("ragflow: host required")
	}
	lang := strings.TrimSpace(cfg.Lang)
	if lang == "" {
		lang = DefaultLang
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		apiKey:     cfg.APIKey,
		agentID:    cfg.AgentID,
		baseURL:    JoinHostPort(cfg.Host, cfg.Port),
		lang:       lang,
		httpClient: hc,
		logger:     cfg.Logger,
	}, nil
}

// JoinHostPort builds the "HOST:PORT" base address the backend is reached on.
// An empty port leaves the host untouched.
func JoinHostPort(host, port string) string {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	port = strings.TrimSpace(port)
	if port == "" {
		return host
	}
	return host + ":" + port
}

// BaseURL returns the backend base address used for API calls and document links.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Lang returns the answer language sent with every completion.
func (c *Client) Lang() string {
	return c.lang
}

func (c *Client) chatURL(suffix string) string {
	return fmt.Sprintf("%s/api/v1/chats/%s/%s", c.baseURL, c.agentID, suffix)
}

func (c *Client) newRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ragflow: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ragflow: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// CreateSession opens a new backend session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, c.chatURL("sessions"), struct{}{})
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ragflow: send session request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ragflow: read session response: %w", err)
	}

	var parsed SessionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &ProtocolError{Op: "create session", Status: resp.StatusCode, Body: previewBytes(respBody, 256), Err: err}
	}
	if parsed.Data == nil || strings.TrimSpace(parsed.Data.ID) == "" {
		return "", &ProtocolError{Op: "create session", Status: resp.StatusCode, Body: previewBytes(respBody, 256), Err: errors.New("missing data.id")}
	}
	c.logf("session created chat=%s session=%s", c.agentID, parsed.Data.ID)
	return parsed.Data.ID, nil
}

// StreamCompletion posts the question to the completions endpoint. A non-200
// status is returned as *StatusError with the body already closed.
func (c *Client) StreamCompletion(ctx context.Context, question, sessionID string) (*CompletionStream, error) {
	req, err := c.newRequest(ctx, c.chatURL("completions"), CompletionRequest{
		Question:  question,
		Stream:    true,
		SessionID: sessionID,
		Lang:      c.lang,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ragflow: send completion request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return newCompletionStream(ctx, resp.Body), nil
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// StreamLine is one raw line read from the completion stream.
type StreamLine struct {
	Data []byte
	Err  error
}

// CompletionStream yields the raw lines of a streamed completion. Lines are
// handed over one at a time; the next line is not read until the previous
// one has been received.
type CompletionStream struct {
	lines  chan StreamLine
	body   io.ReadCloser
	cancel context.CancelFunc
}

func newCompletionStream(parent context.Context, body io.ReadCloser) *CompletionStream {
	ctx, cancel := context.WithCancel(parent)
	s := &CompletionStream{
		lines:  make(chan StreamLine),
		body:   body,
		cancel: cancel,
	}
	go s.read(ctx)
	return s
}

func (s *CompletionStream) read(ctx context.Context) {
	defer close(s.lines)
	defer s.body.Close()

	reader := bufio.NewReaderSize(s.body, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimRight(line, "\r\n"); len(trimmed) > 0 {
			select {
			case s.lines <- StreamLine{Data: trimmed}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case s.lines <- StreamLine{Err: fmt.Errorf("ragflow: read stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// Lines returns the channel of raw lines. It is closed at end of stream,
// on read error, or after Close.
func (s *CompletionStream) Lines() <-chan StreamLine {
	return s.lines
}

// Close stops reading and releases the underlying response body.
func (s *CompletionStream) Close() error {
	s.cancel()
	return s.body.Close()
}

func previewBytes(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
