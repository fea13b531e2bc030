package testsupport

import (
	"errors"
	"sync"

	"borescope/internal/metadata"
)

var _ metadata.Store = (*MemoryStore)(nil)

// ErrInjected is returned by MemoryStore operations armed with FailWrites or
// FailReads.
var ErrInjected = errors.New("injected failure")

// MemoryStore is an in-memory metadata.Store with fault injection. Paths
// must be added with Put before they exist.
type MemoryStore struct {
	mu         sync.Mutex
	objects    map[string]metadata.Object
	reads      map[string]int
	writes     map[string]int
	failWrites map[string]int
	failReads  map[string]int
	onWrite    func(path string)
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:    make(map[string]metadata.Object),
		reads:      make(map[string]int),
		writes:     make(map[string]int),
		failWrites: make(map[string]int),
		failReads:  make(map[string]int),
	}
}

// Put creates path with obj (nil means no metadata).
func (s *MemoryStore) Put(path string, obj metadata.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = obj.Clone()
}

// Remove deletes path as if the file vanished.
func (s *MemoryStore) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
}

// Get returns a copy of the stored object.
func (s *MemoryStore) Get(path string) (metadata.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// FailWrites makes the next n writes of path fail with ErrInjected.
func (s *MemoryStore) FailWrites(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites[path] = n
}

// FailReads makes the next n reads of path fail with ErrInjected.
func (s *MemoryStore) FailReads(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads[path] = n
}

// OnWrite registers a hook invoked before each successful write, outside
// the store lock.
func (s *MemoryStore) OnWrite(fn func(path string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// Reads returns how many reads of path were attempted.
func (s *MemoryStore) Reads(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[path]
}

// Writes returns how many writes of path succeeded.
func (s *MemoryStore) Writes(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[path]
}

// Exists implements metadata.Store.
func (s *MemoryStore) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[path]
	return ok
}

// Read implements metadata.Store.
func (s *MemoryStore) Read(path string) (metadata.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[path]++
	if s.failReads[path] > 0 {
		s.failReads[path]--
		return nil, ErrInjected
	}
	obj, ok := s.objects[path]
	if !ok {
		return nil, metadata.ErrFileMissing
	}
	return obj.Clone(), nil
}

// Write implements metadata.Store.
func (s *MemoryStore) Write(path string, obj metadata.Object) error {
	if err := s.beforeWrite(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; !ok {
		return metadata.ErrFileMissing
	}
	s.objects[path] = obj.Clone()
	s.writes[path]++
	return nil
}

// MergeUpdate implements metadata.Store.
func (s *MemoryStore) MergeUpdate(path string, patch metadata.Object) error {
	if err := s.beforeWrite(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	if !ok {
		return metadata.ErrFileMissing
	}
	merged := obj.Clone()
	metadata.Merge(merged, patch)
	s.objects[path] = merged
	s.writes[path]++
	return nil
}

func (s *MemoryStore) beforeWrite(path string) error {
	s.mu.Lock()
	if s.failWrites[path] > 0 {
		s.failWrites[path]--
		s.mu.Unlock()
		return ErrInjected
	}
	hook := s.onWrite
	s.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	return nil
}
