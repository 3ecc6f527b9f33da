// Package memory is an in-process cache.Store used for local development and
// tests. Entries expire lazily against an injectable clock.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/link-preview/internal/clock/system"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store closed")

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type item struct {
	value    []byte
	deadline time.Time
}

// Store is a mutex-guarded map with per-key deadlines.
type Store struct {
	mu     sync.Mutex
	items  map[string]item
	clock  Clock
	closed bool
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[string]item),
		clock: system.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements cache.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	it, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, true, nil
}

// Set implements cache.Store.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.items[key] = item{value: stored, deadline: s.deadline(ttl)}
	return nil
}

// Expire implements cache.Store.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	it, ok := s.live(key)
	if !ok {
		return false, nil
	}
	it.deadline = s.deadline(ttl)
	s.items[key] = it
	return true, nil
}

// Delete implements cache.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.items, key)
	return nil
}

// Keys implements cache.Store.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var keys []string
	for key := range s.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.live(key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Info reports a small keyspace summary in the same line format as Redis.
func (s *Store) Info(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	var live, expiring int
	for key := range s.items {
		it, ok := s.live(key)
		if !ok {
			continue
		}
		live++
		if !it.deadline.IsZero() {
			expiring++
		}
	}
	return fmt.Sprintf("# Server\r\nstore:memory\r\n\r\n# Keyspace\r\ndb0:keys=%d,expires=%d\r\n", live, expiring), nil
}

// Ping implements cache.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all entries.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}

// live returns the item at key, evicting it if expired. Caller holds mu.
func (s *Store) live(key string) (item, bool) {
	it, ok := s.items[key]
	if !ok {
		return item{}, false
	}
	if !it.deadline.IsZero() && !s.clock.Now().Before(it.deadline) {
		delete(s.items, key)
		return item{}, false
	}
	return it, true
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}
