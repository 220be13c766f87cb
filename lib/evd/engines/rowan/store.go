package rowan

import (
	"math"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan/internal"
)

const (
	btreeDegree = 16

	// maxKeyGen is the highest key the generator can hand out, 2^53, the
	// largest integer a number key represents exactly.
	maxKeyGen = uint64(1) << 53
)

// --------------------------------------------------------------------------
// Store Data
// --------------------------------------------------------------------------

// storeData is the shared state of one object store. The lock is held by
// transactions for their whole lifetime: shared for read-only transactions,
// exclusive otherwise. All tree and keyGen access happens under it, on the
// event loop of the owning transaction.
//
// The indexes map is additionally guarded by idxMu because connections read
// index names outside of any transaction.
type storeData struct {
	name    string
	autoInc bool

	lock sync.RWMutex

	keyGen  uint64
	records *btree.BTreeG[internal.Record]

	idxMu   sync.RWMutex
	indexes map[string]*indexData
}

// indexData is the shared state of one secondary index.
type indexData struct {
	name    string
	keyPath string
	unique  bool
	entries *btree.BTreeG[internal.IndexEntry]
}

func newRecordTree() *btree.BTreeG[internal.Record] {
	return btree.NewG(btreeDegree, internal.RecordLess)
}

func newEntryTree() *btree.BTreeG[internal.IndexEntry] {
	return btree.NewG(btreeDegree, internal.IndexEntryLess)
}

func newStoreData(name string, autoInc bool) *storeData {
	return &storeData{
		name:    name,
		autoInc: autoInc,
		records: newRecordTree(),
		indexes: make(map[string]*indexData),
	}
}

func (s *storeData) indexNames() []string {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *storeData) index(name string) (*indexData, bool) {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	idx, ok := s.indexes[name]
	return idx, ok
}

func (s *storeData) setIndex(idx *indexData) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	s.indexes[idx.name] = idx
}

func (s *storeData) dropIndex(name string) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	delete(s.indexes, name)
}

func (s *storeData) allIndexes() []*indexData {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	out := make([]*indexData, 0, len(s.indexes))
	for _, idx := range s.indexes {
		out = append(out, idx)
	}
	return out
}

// --------------------------------------------------------------------------
// Rollback Mementos
// --------------------------------------------------------------------------

// storeMemento captures the content of a store before a write transaction
// touches it. The btree clones are lazy copy-on-write, so the capture is
// cheap regardless of store size.
type storeMemento struct {
	keyGen  uint64
	records *btree.BTreeG[internal.Record]
	indexes map[string]*indexData
}

func (s *storeData) capture() *storeMemento {
	m := &storeMemento{
		keyGen:  s.keyGen,
		records: s.records.Clone(),
		indexes: make(map[string]*indexData),
	}
	for name, idx := range s.indexes {
		m.indexes[name] = &indexData{
			name:    idx.name,
			keyPath: idx.keyPath,
			unique:  idx.unique,
			entries: idx.entries.Clone(),
		}
	}
	return m
}

func (s *storeData) restore(m *storeMemento) {
	s.keyGen = m.keyGen
	s.records = m.records
	s.idxMu.Lock()
	s.indexes = m.indexes
	s.idxMu.Unlock()
}

// schemaMemento captures the whole database schema before a version change.
type schemaMemento struct {
	version  uint64
	stores   map[string]*storeData
	mementos map[string]*storeMemento
}

// --------------------------------------------------------------------------
// Key Generator
// --------------------------------------------------------------------------

func (s *storeData) generateKey() (evd.Key, error) {
	if s.keyGen >= maxKeyGen {
		return nil, evd.NewError(evd.ErrCConstraint, "key generator exhausted")
	}
	s.keyGen++
	return evd.Uint64Key(s.keyGen), nil
}

// bumpKeyGen advances the generator past an explicitly provided number key,
// so generated keys never collide with keys the caller chose.
func (s *storeData) bumpKeyGen(key evd.Key) {
	f, ok := key.Float64()
	if !ok || f < 1 {
		return
	}
	g := maxKeyGen
	if f < float64(maxKeyGen) {
		g = uint64(math.Floor(f))
	}
	if g > s.keyGen {
		s.keyGen = g
	}
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

// applyPut inserts or replaces a record and maintains all index entries.
// A nil key draws from the key generator. With addOnly set an existing key
// is a constraint violation. The effective key is returned.
func (s *storeData) applyPut(key evd.Key, value []byte, addOnly bool) (evd.Key, error) {
	if key == nil {
		if !s.autoInc {
			return nil, evd.NewError(evd.ErrCData, "store has no key generator, an explicit key is required")
		}
		generated, err := s.generateKey()
		if err != nil {
			return nil, err
		}
		key = generated
	} else if s.autoInc {
		s.bumpKeyGen(key)
	}

	old, hadOld := s.records.Get(internal.Record{Key: key})
	if hadOld && addOnly {
		return nil, evd.Errorf(evd.ErrCConstraint, "key %s already exists", key)
	}

	// Unique violations must surface before the first mutation so a failed
	// request leaves the store untouched.
	for _, idx := range s.allIndexes() {
		if !idx.unique {
			continue
		}
		ik, ok := internal.ExtractKeyPath(value, idx.keyPath)
		if !ok {
			continue
		}
		if p, found := idx.firstPrimary(ik); found && !p.Equal(key) {
			return nil, evd.Errorf(evd.ErrCConstraint, "unique index %q already contains key %s", idx.name, ik)
		}
	}

	if hadOld {
		s.removeIndexEntries(old)
	}
	stored := internal.Record{Key: key.Clone(), Value: cloneBytes(value)}
	s.records.ReplaceOrInsert(stored)
	s.addIndexEntries(stored)
	return stored.Key, nil
}

// applyDelete removes all records within the range and their index entries.
func (s *storeData) applyDelete(rng *evd.KeyRange) {
	var victims []internal.Record
	ascendRecords(s.records, rng, nil, func(r internal.Record) bool {
		victims = append(victims, r)
		return true
	})
	for _, r := range victims {
		s.removeIndexEntries(r)
		s.records.Delete(r)
	}
}

// applyClear drops all records and index entries.
func (s *storeData) applyClear() {
	s.records = newRecordTree()
	for _, idx := range s.allIndexes() {
		idx.entries = newEntryTree()
	}
}

func (s *storeData) addIndexEntries(r internal.Record) {
	for _, idx := range s.allIndexes() {
		if ik, ok := internal.ExtractKeyPath(r.Value, idx.keyPath); ok {
			idx.entries.ReplaceOrInsert(internal.IndexEntry{Key: ik, Primary: r.Key})
		}
	}
}

func (s *storeData) removeIndexEntries(r internal.Record) {
	for _, idx := range s.allIndexes() {
		if ik, ok := internal.ExtractKeyPath(r.Value, idx.keyPath); ok {
			idx.entries.Delete(internal.IndexEntry{Key: ik, Primary: r.Key})
		}
	}
}

// buildIndex populates a fresh index from the existing records. A unique
// violation leaves the index partially built; the caller aborts the version
// change in that case, which rolls the schema back.
func (s *storeData) buildIndex(idx *indexData) error {
	var failure error
	s.records.Ascend(func(r internal.Record) bool {
		ik, ok := internal.ExtractKeyPath(r.Value, idx.keyPath)
		if !ok {
			return true
		}
		if idx.unique {
			if _, found := idx.firstPrimary(ik); found {
				failure = evd.Errorf(evd.ErrCConstraint, "unique index %q already contains key %s", idx.name, ik)
				return false
			}
		}
		idx.entries.ReplaceOrInsert(internal.IndexEntry{Key: ik, Primary: r.Key})
		return true
	})
	return failure
}

// firstPrimary returns the primary key of the first entry with the given
// index key.
func (idx *indexData) firstPrimary(key evd.Key) (evd.Key, bool) {
	var out evd.Key
	found := false
	idx.entries.AscendGreaterOrEqual(internal.IndexEntry{Key: key}, func(e internal.IndexEntry) bool {
		if e.Key.Equal(key) {
			out = e.Primary
			found = true
		}
		return false
	})
	return out, found
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (s *storeData) valueOf(key evd.Key, clone bool) ([]byte, bool) {
	r, ok := s.records.Get(internal.Record{Key: key})
	if !ok {
		return nil, false
	}
	return maybeClone(r.Value, clone), true
}

func (s *storeData) getRecord(rng *evd.KeyRange) (internal.Record, bool) {
	var out internal.Record
	found := false
	ascendRecords(s.records, rng, nil, func(r internal.Record) bool {
		out = r
		found = true
		return false
	})
	return out, found
}

func (s *storeData) getAllValues(rng *evd.KeyRange, limit int, clone bool) [][]byte {
	out := make([][]byte, 0)
	ascendRecords(s.records, rng, nil, func(r internal.Record) bool {
		out = append(out, maybeClone(r.Value, clone))
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (s *storeData) getAllKeys(rng *evd.KeyRange, limit int) []evd.Key {
	out := make([]evd.Key, 0)
	ascendRecords(s.records, rng, nil, func(r internal.Record) bool {
		out = append(out, r.Key.Clone())
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (s *storeData) countRecords(rng *evd.KeyRange) uint64 {
	if rng == nil {
		return uint64(s.records.Len())
	}
	var n uint64
	ascendRecords(s.records, rng, nil, func(internal.Record) bool {
		n++
		return true
	})
	return n
}

func (s *storeData) indexGetRecord(idx *indexData, rng *evd.KeyRange) (internal.IndexEntry, internal.Record, bool) {
	var entry internal.IndexEntry
	found := false
	ascendEntries(idx.entries, rng, nil, func(e internal.IndexEntry) bool {
		entry = e
		found = true
		return false
	})
	if !found {
		return internal.IndexEntry{}, internal.Record{}, false
	}
	r, ok := s.records.Get(internal.Record{Key: entry.Primary})
	if !ok {
		return internal.IndexEntry{}, internal.Record{}, false
	}
	return entry, r, true
}

func (s *storeData) indexGetAllValues(idx *indexData, rng *evd.KeyRange, limit int, clone bool) [][]byte {
	out := make([][]byte, 0)
	ascendEntries(idx.entries, rng, nil, func(e internal.IndexEntry) bool {
		if r, ok := s.records.Get(internal.Record{Key: e.Primary}); ok {
			out = append(out, maybeClone(r.Value, clone))
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (s *storeData) indexGetAllKeys(idx *indexData, rng *evd.KeyRange, limit int) []evd.Key {
	out := make([]evd.Key, 0)
	ascendEntries(idx.entries, rng, nil, func(e internal.IndexEntry) bool {
		out = append(out, e.Primary.Clone())
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (s *storeData) indexCount(idx *indexData, rng *evd.KeyRange) uint64 {
	if rng == nil {
		return uint64(idx.entries.Len())
	}
	var n uint64
	ascendEntries(idx.entries, rng, nil, func(internal.IndexEntry) bool {
		n++
		return true
	})
	return n
}

// --------------------------------------------------------------------------
// Range Traversal
// --------------------------------------------------------------------------

func aboveLower(k evd.Key, rng *evd.KeyRange) bool {
	if rng == nil || rng.Lower == nil {
		return true
	}
	c := k.Compare(rng.Lower)
	return c > 0 || (c == 0 && !rng.LowerOpen)
}

func belowUpper(k evd.Key, rng *evd.KeyRange) bool {
	if rng == nil || rng.Upper == nil {
		return true
	}
	c := k.Compare(rng.Upper)
	return c < 0 || (c == 0 && !rng.UpperOpen)
}

// keyAfter returns the immediate successor of k in byte order.
func keyAfter(k evd.Key) evd.Key {
	return append(k.Clone(), 0x00)
}

// ascendRecords visits the records within rng in ascending key order,
// starting strictly after the key `after` when it is non-nil.
func ascendRecords(tree *btree.BTreeG[internal.Record], rng *evd.KeyRange, after evd.Key, fn func(internal.Record) bool) {
	visit := func(r internal.Record) bool {
		if after != nil && r.Key.Compare(after) <= 0 {
			return true
		}
		if !aboveLower(r.Key, rng) {
			return true
		}
		if !belowUpper(r.Key, rng) {
			return false
		}
		return fn(r)
	}
	switch {
	case after != nil:
		tree.AscendGreaterOrEqual(internal.Record{Key: after}, visit)
	case rng != nil && rng.Lower != nil:
		tree.AscendGreaterOrEqual(internal.Record{Key: rng.Lower}, visit)
	default:
		tree.Ascend(visit)
	}
}

// ascendEntries visits the index entries whose index key lies within rng in
// ascending (key, primary) order, starting strictly after `after` when it is
// non-nil.
func ascendEntries(tree *btree.BTreeG[internal.IndexEntry], rng *evd.KeyRange, after *internal.IndexEntry, fn func(internal.IndexEntry) bool) {
	visit := func(e internal.IndexEntry) bool {
		if after != nil && !internal.IndexEntryLess(*after, e) {
			return true
		}
		if !aboveLower(e.Key, rng) {
			return true
		}
		if !belowUpper(e.Key, rng) {
			return false
		}
		return fn(e)
	}
	switch {
	case after != nil:
		tree.AscendGreaterOrEqual(*after, visit)
	case rng != nil && rng.Lower != nil:
		tree.AscendGreaterOrEqual(internal.IndexEntry{Key: rng.Lower}, visit)
	default:
		tree.Ascend(visit)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func maybeClone(b []byte, clone bool) []byte {
	if !clone {
		return b
	}
	return cloneBytes(b)
}
