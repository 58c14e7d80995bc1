// Package exact provides the in-process vector index: exact cosine
// search over per-namespace in-memory tables, with optional bbolt
// snapshot persistence. It is the development default and the fallback
// engine when the external backend is unreachable.
package exact

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/agenttown/recall/pkg/errors"
	"github.com/agenttown/recall/pkg/index"
	"github.com/agenttown/recall/pkg/log"
)

// Options configures the exact index.
type Options struct {
	// Dimensions is the enforced vector size. Zero adopts the size of the
	// first inserted vector.
	Dimensions int

	// SnapshotPath enables bbolt persistence when non-empty
	SnapshotPath string
}

// Index is an exact-search in-memory vector index.
//
// Locking: mu guards the namespace table; each namespace carries its own
// RWMutex so clear/delete serialize with insert per namespace while
// distinct namespaces proceed in parallel. idsMu guards the global id
// set; it is never held together with a namespace lock.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace

	idsMu sync.Mutex
	ids   map[string]string // id -> owning namespace

	dimsMu sync.Mutex
	dims   int

	snap *snapshot // nil when persistence is disabled
}

type namespace struct {
	mu      sync.RWMutex
	entries map[string]*storedEntry
}

type storedEntry struct {
	entry index.Entry
	norm  float64
}

// New creates an exact index. When Options.SnapshotPath is set, previously
// persisted entries are loaded before the index is returned.
func New(opts Options) (*Index, error) {
	idx := &Index{
		namespaces: make(map[string]*namespace),
		ids:        make(map[string]string),
		dims:       opts.Dimensions,
	}

	if opts.SnapshotPath != "" {
		snap, err := openSnapshot(opts.SnapshotPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open snapshot")
		}
		idx.snap = snap
		if err := idx.restore(); err != nil {
			snap.close()
			return nil, errors.Wrap(err, "failed to restore snapshot")
		}
	}

	log.Debug("Initialized exact vector index",
		"dimensions", idx.dims,
		"persistent", idx.snap != nil)

	return idx, nil
}

// restore loads all persisted entries into memory. Entries whose vector
// size no longer matches the configured dimensionality are skipped so a
// model change cannot smuggle mismatched vectors into the index.
func (x *Index) restore() error {
	entries, err := x.snap.loadAll()
	if err != nil {
		return err
	}

	skipped := 0
	for ns, list := range entries {
		for _, e := range list {
			if err := x.checkDims(e.Vector); err != nil {
				skipped++
				continue
			}
			n := x.getOrCreate(ns)
			n.entries[e.ID] = &storedEntry{entry: e, norm: vectorNorm(e.Vector)}
			x.ids[e.ID] = ns
		}
	}

	if skipped > 0 {
		log.Warn("Skipped persisted entries with stale dimensionality", "count", skipped)
	}
	return nil
}

// checkDims validates the vector size, adopting it when unconfigured.
func (x *Index) checkDims(vector []float32) error {
	if len(vector) == 0 {
		return errors.ErrDimensionMismatch
	}
	x.dimsMu.Lock()
	defer x.dimsMu.Unlock()
	if x.dims == 0 {
		x.dims = len(vector)
		return nil
	}
	if len(vector) != x.dims {
		return errors.Wrap(errors.ErrDimensionMismatch, "got %d, expected %d", len(vector), x.dims)
	}
	return nil
}

func (x *Index) getNamespace(name string) *namespace {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.namespaces[name]
}

func (x *Index) getOrCreate(name string) *namespace {
	x.mu.RLock()
	n := x.namespaces[name]
	x.mu.RUnlock()
	if n != nil {
		return n
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if n := x.namespaces[name]; n != nil {
		return n
	}
	n = &namespace{entries: make(map[string]*storedEntry)}
	x.namespaces[name] = n
	return n
}

// Insert implements index.VectorIndex.
func (x *Index) Insert(ctx context.Context, ns string, entry index.Entry) error {
	if ns == "" || entry.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "namespace and id are required")
	}
	if err := x.checkDims(entry.Vector); err != nil {
		return err
	}

	// Ids are unique across the whole store, not just the namespace
	x.idsMu.Lock()
	if _, taken := x.ids[entry.ID]; taken {
		x.idsMu.Unlock()
		return errors.Wrap(errors.ErrDuplicateID, "id %s", entry.ID)
	}
	x.ids[entry.ID] = ns
	x.idsMu.Unlock()

	n := x.getOrCreate(ns)
	n.mu.Lock()
	defer n.mu.Unlock()

	if x.snap != nil {
		if err := x.snap.put(ns, entry); err != nil {
			x.idsMu.Lock()
			delete(x.ids, entry.ID)
			x.idsMu.Unlock()
			return errors.Wrap(errors.ErrIndexUnavailable, "snapshot write failed")
		}
	}

	// The map write is the commit point visible to concurrent searches
	n.entries[entry.ID] = &storedEntry{entry: entry, norm: vectorNorm(entry.Vector)}
	return nil
}

// Search implements index.VectorIndex. It performs a full linear scan
// over the namespace and keeps the top k candidates in a bounded heap.
func (x *Index) Search(ctx context.Context, ns string, vector []float32, k int, opts index.SearchOptions) ([]index.Match, error) {
	if ns == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "namespace is required")
	}
	if k <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "k must be positive")
	}
	if err := x.checkDims(vector); err != nil {
		return nil, err
	}

	n := x.getNamespace(ns)
	if n == nil {
		return []index.Match{}, nil
	}

	queryNorm := vectorNorm(vector)

	n.mu.RLock()
	top := &topK{limit: k}
	for _, se := range n.entries {
		if !matchesFilters(se.entry.Payload.Metadata, opts.Filters) {
			continue
		}
		score := cosine(vector, queryNorm, se.entry.Vector, se.norm)
		if score < opts.MinScore {
			continue
		}
		top.offer(index.Match{Entry: se.entry, Score: score})
	}
	n.mu.RUnlock()

	matches := top.drain()
	sort.Slice(matches, func(i, j int) bool { return better(matches[i], matches[j]) })
	return matches, nil
}

// Get implements index.VectorIndex.
func (x *Index) Get(ctx context.Context, ns, id string) (index.Entry, error) {
	n := x.getNamespace(ns)
	if n == nil {
		return index.Entry{}, errors.Wrap(errors.ErrNotFound, "id %s", id)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	se, ok := n.entries[id]
	if !ok {
		return index.Entry{}, errors.Wrap(errors.ErrNotFound, "id %s", id)
	}
	return se.entry, nil
}

// Delete implements index.VectorIndex.
func (x *Index) Delete(ctx context.Context, ns, id string) error {
	n := x.getNamespace(ns)
	if n == nil {
		return errors.Wrap(errors.ErrNotFound, "id %s", id)
	}

	n.mu.Lock()
	if _, ok := n.entries[id]; !ok {
		n.mu.Unlock()
		return errors.Wrap(errors.ErrNotFound, "id %s", id)
	}
	if x.snap != nil {
		if err := x.snap.delete(ns, id); err != nil {
			n.mu.Unlock()
			return errors.Wrap(errors.ErrIndexUnavailable, "snapshot delete failed")
		}
	}
	delete(n.entries, id)
	n.mu.Unlock()

	x.idsMu.Lock()
	delete(x.ids, id)
	x.idsMu.Unlock()
	return nil
}

// List implements index.VectorIndex.
func (x *Index) List(ctx context.Context, ns string) ([]string, error) {
	n := x.getNamespace(ns)
	if n == nil {
		return []string{}, nil
	}

	n.mu.RLock()
	ids := make([]string, 0, len(n.entries))
	for id := range n.entries {
		ids = append(ids, id)
	}
	n.mu.RUnlock()

	sort.Strings(ids)
	return ids, nil
}

// Clear implements index.VectorIndex.
func (x *Index) Clear(ctx context.Context, ns string) (int, error) {
	n := x.getNamespace(ns)
	if n == nil {
		return 0, nil
	}

	n.mu.Lock()
	if x.snap != nil {
		if err := x.snap.clear(ns); err != nil {
			n.mu.Unlock()
			return 0, errors.Wrap(errors.ErrIndexUnavailable, "snapshot clear failed")
		}
	}
	removed := make([]string, 0, len(n.entries))
	for id := range n.entries {
		removed = append(removed, id)
	}
	n.entries = make(map[string]*storedEntry)
	n.mu.Unlock()

	x.idsMu.Lock()
	for _, id := range removed {
		delete(x.ids, id)
	}
	x.idsMu.Unlock()

	return len(removed), nil
}

// Namespaces implements index.VectorIndex. Only namespaces holding at
// least one entry are reported.
func (x *Index) Namespaces(ctx context.Context) ([]string, error) {
	x.mu.RLock()
	candidates := make(map[string]*namespace, len(x.namespaces))
	for name, n := range x.namespaces {
		candidates[name] = n
	}
	x.mu.RUnlock()

	names := make([]string, 0, len(candidates))
	for name, n := range candidates {
		n.mu.RLock()
		populated := len(n.entries) > 0
		n.mu.RUnlock()
		if populated {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// UpdateMetadata implements index.MetadataUpdater.
func (x *Index) UpdateMetadata(ctx context.Context, ns, id string, metadata map[string]interface{}) error {
	n := x.getNamespace(ns)
	if n == nil {
		return errors.Wrap(errors.ErrNotFound, "id %s", id)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	se, ok := n.entries[id]
	if !ok {
		return errors.Wrap(errors.ErrNotFound, "id %s", id)
	}

	updated := se.entry
	updated.Payload.Metadata = metadata
	if x.snap != nil {
		if err := x.snap.put(ns, updated); err != nil {
			return errors.Wrap(errors.ErrIndexUnavailable, "snapshot write failed")
		}
	}
	se.entry = updated
	return nil
}

// Ping implements index.VectorIndex. The in-process engine is always
// reachable.
func (x *Index) Ping(ctx context.Context) error { return nil }

// Close implements index.VectorIndex.
func (x *Index) Close() error {
	if x.snap != nil {
		return x.snap.close()
	}
	return nil
}

// matchesFilters reports whether metadata satisfies every equality filter.
func matchesFilters(metadata, filters map[string]interface{}) bool {
	if len(filters) == 0 {
		return true
	}
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// better is the single ordering used everywhere: similarity first, then
// most recent creation, then id for a stable total order.
func better(a, b index.Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Payload.CreatedAt.Equal(b.Payload.CreatedAt) {
		return a.Payload.CreatedAt.After(b.Payload.CreatedAt)
	}
	return a.ID < b.ID
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity given precomputed norms. Zero-norm
// vectors score zero rather than dividing by zero.
func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

// topK keeps the k best matches seen during a scan. It is a min-heap on
// the match ordering, so the worst retained match sits at the root and is
// evicted first.
type topK struct {
	limit   int
	matches []index.Match
}

func (t *topK) Len() int           { return len(t.matches) }
func (t *topK) Less(i, j int) bool { return better(t.matches[j], t.matches[i]) }
func (t *topK) Swap(i, j int)      { t.matches[i], t.matches[j] = t.matches[j], t.matches[i] }
func (t *topK) Push(v interface{}) { t.matches = append(t.matches, v.(index.Match)) }
func (t *topK) Pop() interface{} {
	last := t.matches[len(t.matches)-1]
	t.matches = t.matches[:len(t.matches)-1]
	return last
}

func (t *topK) offer(m index.Match) {
	if len(t.matches) < t.limit {
		heap.Push(t, m)
		return
	}
	if better(m, t.matches[0]) {
		t.matches[0] = m
		heap.Fix(t, 0)
	}
}

func (t *topK) drain() []index.Match {
	out := t.matches
	t.matches = nil
	if out == nil {
		out = []index.Match{}
	}
	return out
}
