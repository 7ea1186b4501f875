// Package session maps front-end conversation ids onto RAGFlow sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ErrNotFound is returned by stores when no session is cached for an id.
var ErrNotFound = errors.New("session: not found")

// Store persists the conversation id -> backend session mapping. Entries are
// never expired or invalidated.
type Store interface {
	Get(ctx context.Context, conversationID string) (string, error)
	Put(ctx context.Context, conversationID, sessionID string) error
	Close() error
}

// Creator opens a new backend session.
type Creator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Observer is notified about resolver outcomes. Any field may be nil.
type Observer struct {
	Hit     func(ctx context.Context, conversationID, sessionID string)
	Created func(ctx context.Context, conversationID, sessionID string)
}

// Resolver returns the backend session for a conversation, creating it on
// first use.
//
// The lookup and the store write are separate steps: two turns racing on the
// same new conversation id may both create a backend session, and the last
// Put wins. Callers that need exactly-once creation must serialise turns per
// conversation themselves.
type Resolver struct {
	store    Store
	creator  Creator
	logger   *log.Logger
	observer Observer
}

// NewResolver builds a Resolver over store, creating sessions via creator.
func NewResolver(store Store, creator Creator, logger *log.Logger) *Resolver {
	return &Resolver{store: store, creator: creator, logger: logger}
}

// SetObserver installs callbacks fired on cache hits and new sessions.
func (r *Resolver) SetObserver(o Observer) {
	r.observer = o
}

// Resolve returns the cached session for conversationID or creates one.
func (r *Resolver) Resolve(ctx context.Context, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("session: conversation id required")
	}
	sessionID, err := r.store.Get(ctx, conversationID)
	switch {
	case err == nil:
		r.logf("session cache hit chat_id=%s session_id=%s", conversationID, sessionID)
		if r.observer.Hit != nil {
			r.observer.Hit(ctx, conversationID, sessionID)
		}
		return sessionID, nil
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("session: lookup %s: %w", conversationID, err)
	}

	sessionID, err = r.creator.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	if err := r.store.Put(ctx, conversationID, sessionID); err != nil {
		return "", fmt.Errorf("session: store %s: %w", conversationID, err)
	}
	r.logf("session created chat_id=%s session_id=%s", conversationID, sessionID)
	if r.observer.Created != nil {
		r.observer.Created(ctx, conversationID, sessionID)
	}
	return sessionID, nil
}

func (r *Resolver) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// MemoryStore keeps sessions in process memory for the adapter's lifetime.
// The mutex only guards the map itself; it does not make Resolve atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewMemoryStore returns an empty, unbounded in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.sessions[conversationID]; ok && id != "" {
		return id, nil
	}
	return "", ErrNotFound
}

func (m *MemoryStore) Put(_ context.Context, conversationID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[conversationID] = sessionID
	return nil
}

// Len reports how many conversations are cached.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }
