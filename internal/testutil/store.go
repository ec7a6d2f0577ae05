package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/event"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/storage"
	"github.com/xtxerr/digirec/internal/storage/schema"
)

// MemStore is an in-memory storage.Store that records every call.
type MemStore struct {
	mu sync.Mutex

	path    string
	config  map[string][]loader.KV
	layout  schema.Layout
	records []event.Record
	flushes []int
	pending int
	closes  int
	closed  bool

	appendFailures int
	appendErr      error
	hang           chan struct{}
	onAppend       func()
}

var _ storage.Store = (*MemStore)(nil)

// NewMemStore returns an empty store at path.
func NewMemStore(path string) *MemStore {
	return &MemStore{path: path, config: make(map[string][]loader.KV)}
}

// FailAppends makes the next n AppendRecords calls fail with err.
// n < 0 fails every call. A partial write error stores its leading records.
func (s *MemStore) FailAppends(n int, err error) {
	s.mu.Lock()
	s.appendFailures = n
	s.appendErr = err
	s.mu.Unlock()
}

// Hang makes AppendRecords block until the returned function is called.
func (s *MemStore) Hang() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hang = ch
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// OnAppend registers a hook run at the start of every AppendRecords.
func (s *MemStore) OnAppend(fn func()) {
	s.mu.Lock()
	s.onAppend = fn
	s.mu.Unlock()
}

// Path implements storage.Store.
func (s *MemStore) Path() string { return s.path }

// WriteConfigTable implements storage.Store.
func (s *MemStore) WriteConfigTable(name string, rows []loader.KV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}
	if len(s.records) > 0 {
		return fmt.Errorf("config table %s written after data", name)
	}
	s.config[name] = append([]loader.KV(nil), rows...)
	return nil
}

// AppendRecords implements storage.Store.
func (s *MemStore) AppendRecords(table string, layout schema.Layout, recs []event.Record) error {
	s.mu.Lock()
	hang, hook := s.hang, s.onAppend
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if hang != nil {
		<-hang
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrWriterClosed
	}
	if s.appendFailures != 0 {
		if s.appendFailures > 0 {
			s.appendFailures--
		}
		if n := errors.PartialWritten(s.appendErr); n > 0 {
			n = min(n, len(recs))
			s.records = append(s.records, recs[:n]...)
			s.pending += n
			return s.appendErr
		}
		return errors.Classify(errors.ErrStorageWrite, s.appendErr)
	}

	if s.layout.IsZero() {
		s.layout = layout
	} else if s.layout != layout {
		return errors.NewSchemaMismatch(s.layout.String(), layout.String())
	}
	for i := range recs {
		if err := layout.Check(&recs[i]); err != nil {
			return err
		}
	}

	s.records = append(s.records, recs...)
	s.pending += len(recs)
	return nil
}

// Flush implements storage.Store.
func (s *MemStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrWriterClosed
	}
	if s.pending > 0 {
		s.flushes = append(s.flushes, s.pending)
		s.pending = 0
	}
	return nil
}

// Close implements storage.Store.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

// Records returns a copy of every appended record.
func (s *MemStore) Records() []event.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Record(nil), s.records...)
}

// Flushes returns the number of records made durable by each flush.
func (s *MemStore) Flushes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.flushes...)
}

// Config returns a config table.
func (s *MemStore) Config(name string) []loader.KV {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config[name]
}

// Layout returns the layout fixed by the first append.
func (s *MemStore) Layout() schema.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// Closes returns the number of Close calls.
func (s *MemStore) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// =============================================================================
// Backend
// =============================================================================

// MemBackend hands out MemStores by path.
type MemBackend struct {
	mu      sync.Mutex
	stores  map[string]*MemStore
	openErr map[string]error
	prepare func(*MemStore)
}

// NewMemBackend returns an empty backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		stores:  make(map[string]*MemStore),
		openErr: make(map[string]error),
	}
}

// FailOpen makes opening path fail with err.
func (b *MemBackend) FailOpen(path string, err error) {
	b.mu.Lock()
	b.openErr[path] = err
	b.mu.Unlock()
}

// Prepare registers a hook applied to every newly opened store.
func (b *MemBackend) Prepare(fn func(*MemStore)) {
	b.mu.Lock()
	b.prepare = fn
	b.mu.Unlock()
}

// Open is a storage.Opener.
func (b *MemBackend) Open(path string) (storage.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.openErr[path]; err != nil {
		return nil, errors.Classify(errors.ErrStorageOpen, err)
	}
	s := NewMemStore(path)
	if b.prepare != nil {
		b.prepare(s)
	}
	b.stores[path] = s
	return s, nil
}

// Store returns the store opened at path, or nil.
func (b *MemBackend) Store(path string) *MemStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stores[path]
}

// Paths returns every opened path, sorted.
func (b *MemBackend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := make([]string, 0, len(b.stores))
	for p := range b.stores {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
