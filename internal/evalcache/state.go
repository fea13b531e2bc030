package evalcache

import (
	"container/list"
	"slices"
	"sync"
	"time"

	"borescope/internal/evaluation"
)

type pendingChange struct {
	record    *evaluation.Record
	used      *bool
	updatedAt time.Time
	created   uint64
	seq       uint64
}

func (p *pendingChange) clone() *pendingChange {
	out := *p
	if p.record != nil {
		rec := p.record.Clone()
		out.record = &rec
	}
	if p.used != nil {
		used := *p.used
		out.used = &used
	}
	return &out
}

// persisted is the last known stored value of one image.
type persisted struct {
	record evaluation.Record
	used   bool
}

func defaultPersisted() persisted {
	return persisted{used: true}
}

type cachedEntry struct {
	path  string
	value persisted
}

// state is the guarded part of Cache. None of its methods touch the store.
type state struct {
	mu sync.Mutex

	pending map[string]*pendingChange
	cached  map[string]*list.Element
	order   *list.List // FIFO of *cachedEntry, oldest at the front
	limit   int

	// gen changes on every invalidation; loads started under an older
	// generation are not remembered.
	gen uint64
	seq uint64

	hits      uint64
	misses    uint64
	evictions uint64
}

func newState(limit int) *state {
	return &state{
		pending: make(map[string]*pendingChange),
		cached:  make(map[string]*list.Element),
		order:   list.New(),
		limit:   limit,
	}
}

type lookupResult struct {
	pending *pendingChange
	cached  *persisted
	gen     uint64
}

func (s *state) lookup(path string) lookupResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := lookupResult{gen: s.gen}
	if pc, ok := s.pending[path]; ok {
		res.pending = pc.clone()
	}
	if elem, ok := s.cached[path]; ok {
		value := elem.Value.(*cachedEntry).value
		value.record = value.record.Clone()
		res.cached = &value
	}
	return res
}

func (s *state) hit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits++
}

// remember stores a loaded value unless something invalidated state since
// gen was observed.
func (s *state) remember(path string, value persisted, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.misses++
	if gen != s.gen || s.limit <= 0 {
		return
	}
	if elem, ok := s.cached[path]; ok {
		elem.Value.(*cachedEntry).value = value
		return
	}
	s.cached[path] = s.order.PushBack(&cachedEntry{path: path, value: value})
	for s.order.Len() > s.limit {
		front := s.order.Front()
		s.order.Remove(front)
		delete(s.cached, front.Value.(*cachedEntry).path)
		s.evictions++
	}
}

func (s *state) dropCachedLocked(path string) {
	if elem, ok := s.cached[path]; ok {
		s.order.Remove(elem)
		delete(s.cached, path)
	}
	s.gen++
}

func (s *state) pendingLocked(path string, now time.Time) *pendingChange {
	s.seq++
	pc, ok := s.pending[path]
	if !ok {
		pc = &pendingChange{created: s.seq}
		s.pending[path] = pc
	}
	pc.seq = s.seq
	pc.updatedAt = now
	return pc
}

// setRecord merges patch over the current pending record, or over base when
// no record is pending.
func (s *state) setRecord(path string, patch evaluation.Patch, base evaluation.Record, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pc, ok := s.pending[path]; ok && pc.record != nil {
		base = *pc.record
	}
	merged := patch.Apply(base)
	pc := s.pendingLocked(path, now)
	pc.record = &merged
	s.dropCachedLocked(path)
}

func (s *state) setUsed(path string, used bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc := s.pendingLocked(path, now)
	pc.used = &used
	s.dropCachedLocked(path)
}

func (s *state) pendingCopy(path string) (*pendingChange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.pending[path]
	if !ok {
		return nil, false
	}
	return pc.clone(), true
}

// completeFlush clears the pending change written under seq. A newer change
// made during the write stays pending.
func (s *state) completeFlush(path string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := false
	if pc, ok := s.pending[path]; ok && pc.seq == seq {
		delete(s.pending, path)
		cleared = true
	}
	s.dropCachedLocked(path)
	return cleared
}

// requeue moves a pending path behind every other pending path so a path
// that keeps failing does not hold up the rest.
func (s *state) requeue(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pc, ok := s.pending[path]; ok {
		s.seq++
		pc.created = s.seq
	}
}

func (s *state) purge(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, path)
	s.dropCachedLocked(path)
}

func (s *state) clearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pending)
	clear(s.cached)
	s.order.Init()
	s.gen++
}

func (s *state) hasPending(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[path]
	return ok
}

func (s *state) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// pendingPaths returns up to limit pending paths in creation order, skipping
// those in exclude. A limit <= 0 means no limit.
func (s *state) pendingPaths(limit int, exclude map[string]bool) []string {
	s.mu.Lock()
	type item struct {
		path    string
		created uint64
	}
	items := make([]item, 0, len(s.pending))
	for path, pc := range s.pending {
		if exclude[path] {
			continue
		}
		items = append(items, item{path: path, created: pc.created})
	}
	s.mu.Unlock()

	slices.SortFunc(items, func(a, b item) int {
		switch {
		case a.created < b.created:
			return -1
		case a.created > b.created:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	paths := make([]string, len(items))
	for i, it := range items {
		paths[i] = it.path
	}
	return paths
}

func (s *state) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:        len(s.pending),
		Cached:         s.order.Len(),
		ReadThroughMax: s.limit,
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
	}
}
