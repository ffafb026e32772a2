// Package memory is a process-local storage backend. It keeps the same
// per-event critical sections as the Postgres backend, using a keyed lock
// in place of row locks.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/domain/users"
	"github.com/Togather-Foundation/attend/internal/storage"
)

type Store struct {
	mu      sync.RWMutex
	events  map[string]events.Event
	records map[string]registrations.Record
	users   map[string]users.User

	locks *keyedLock
	now   func() time.Time
}

var _ storage.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		events:  make(map[string]events.Event),
		records: make(map[string]registrations.Record),
		users:   make(map[string]users.User),
		locks:   newKeyedLock(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Events() events.Repository          { return eventRepo{s} }
func (s *Store) Registrations() registrations.Store { return registrationStore{s} }
func (s *Store) Users() users.Repository            { return userRepo{s} }
func (s *Store) Analytics() analytics.Source        { return analyticsSource{s} }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// keyedLock hands out one lock per key. Waiting honours context
// cancellation; entries are dropped once nobody holds or waits on them.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

func (l *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			l.release(key, entry)
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *keyedLock) release(key string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
