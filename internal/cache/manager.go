package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-preview/internal/metrics"
	"github.com/JakeFAU/link-preview/internal/preview"
)

var (
	// ErrUnavailable wraps every store failure surfaced by a Manager.
	ErrUnavailable = errors.New("cache unavailable")
	// ErrCorruptEntry is returned when a stored value is not a valid record.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// DefaultTTL applies when Options.TTL is unset.
const DefaultTTL = 24 * time.Hour

// Entry is a decoded key/value pair returned by ListByPrefix.
type Entry struct {
	Key   string         `json:"key"`
	Value preview.Record `json:"value"`
}

// DecodeFailure names a key whose value could not be decoded.
type DecodeFailure struct {
	Key string
	Err error
}

// Options tunes a Manager.
type Options struct {
	TTL               time.Duration
	ReadyPollInterval time.Duration
}

// Manager serializes preview records into a Store and tracks whether the
// store is reachable.
type Manager struct {
	store  Store
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
	state  atomic.Int32
}

// NewManager wraps store. The manager starts Disconnected until WaitReady or
// a successful operation.
func NewManager(store Store, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = 500 * time.Millisecond
	}
	return &Manager{
		store:  store,
		ttl:    opts.TTL,
		poll:   opts.ReadyPollInterval,
		logger: logger.Named("cache"),
	}
}

// TTL returns the default entry lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// WaitReady pings the store until it answers or ctx ends.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.transition(StateConnecting)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		err := m.store.Ping(ctx)
		if err == nil {
			m.transition(StateReady)
			return nil
		}
		m.logger.Debug("cache ping failed", zap.Error(err))

		select {
		case <-ctx.Done():
			m.transition(StateDisconnected)
			return fmt.Errorf("%w: wait ready: %w", ErrUnavailable, errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}

// Get returns the record stored at key. A missing key is not an error.
func (m *Manager) Get(ctx context.Context, key string) (preview.Record, bool, error) {
	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		return preview.Record{}, false, m.fail("get", err)
	}
	m.ok()
	if !found {
		metrics.ObserveCacheOperation("get", "miss")
		return preview.Record{}, false, nil
	}

	var rec preview.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		metrics.ObserveCacheOperation("get", "corrupt")
		return preview.Record{}, false, fmt.Errorf("%w %s: %w", ErrCorruptEntry, key, err)
	}
	metrics.ObserveCacheOperation("get", "hit")
	return rec, true, nil
}

// Put stores rec at key, replacing any previous value. A non-positive ttl
// uses the manager default.
func (m *Manager) Put(ctx context.Context, key string, rec preview.Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := m.store.Set(ctx, key, raw, ttl); err != nil {
		return m.fail("put", err)
	}
	m.ok()
	metrics.ObserveCacheOperation("put", "ok")
	return nil
}

// RefreshTTL restarts the lifetime of key. A key that expired in the
// meantime is logged and ignored.
func (m *Manager) RefreshTTL(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	existed, err := m.store.Expire(ctx, key, ttl)
	if err != nil {
		return m.fail("refresh", err)
	}
	m.ok()
	if !existed {
		m.logger.Warn("cache key not found for ttl refresh", zap.String("key", key))
		metrics.ObserveCacheOperation("refresh", "missing")
		return nil
	}
	metrics.ObserveCacheOperation("refresh", "ok")
	return nil
}

// Delete removes key. Deleting an absent key succeeds.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return m.fail("delete", err)
	}
	m.ok()
	metrics.ObserveCacheOperation("delete", "ok")
	return nil
}

// ListByPrefix returns every decodable entry under prefix, sorted by key.
// Keys whose values fail to decode are reported separately.
func (m *Manager) ListByPrefix(ctx context.Context, prefix string) ([]Entry, []DecodeFailure, error) {
	keys, err := m.store.Keys(ctx, prefix)
	if err != nil {
		return nil, nil, m.fail("list", err)
	}
	sort.Strings(keys)

	var (
		entries  []Entry
		failures []DecodeFailure
	)
	for _, key := range keys {
		raw, found, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, nil, m.fail("list", err)
		}
		if !found {
			continue
		}
		var rec preview.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.logger.Warn("skipping undecodable cache entry", zap.String("key", key), zap.Error(err))
			failures = append(failures, DecodeFailure{Key: key, Err: err})
			continue
		}
		entries = append(entries, Entry{Key: key, Value: rec})
	}
	m.ok()
	metrics.ObserveCacheOperation("list", "ok")
	return entries, failures, nil
}

// Stats returns the store's raw diagnostic text.
func (m *Manager) Stats(ctx context.Context) (string, error) {
	info, err := m.store.Info(ctx)
	if err != nil {
		return "", m.fail("stats", err)
	}
	m.ok()
	return info, nil
}

// Close releases the store.
func (m *Manager) Close() error {
	defer m.transition(StateDisconnected)
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close cache store: %w", err)
	}
	return nil
}

func (m *Manager) fail(op string, err error) error {
	m.transition(StateDisconnected)
	metrics.ObserveCacheOperation(op, "error")
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func (m *Manager) ok() {
	m.transition(StateReady)
}

func (m *Manager) transition(next State) {
	prev := State(m.state.Swap(int32(next)))
	if prev != next {
		m.logger.Info("cache connection state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
		)
	}
}
