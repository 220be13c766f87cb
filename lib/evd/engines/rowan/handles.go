package rowan

import (
	"sync"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Store Handles
// --------------------------------------------------------------------------

// storeHandle is the transaction-scoped evd.ObjectStore. One handle exists
// per (transaction, store) pair so callers can compare them by identity.
type storeHandle struct {
	txn  *transaction
	data *storeData

	mu      sync.Mutex
	indexes map[string]*indexHandle
}

func (h *storeHandle) Name() string {
	return h.data.name
}

func (h *storeHandle) AutoIncrement() bool {
	return h.data.autoInc
}

func (h *storeHandle) IndexNames() []string {
	return h.data.indexNames()
}

func (h *storeHandle) Index(name string) (evd.Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ih, ok := h.indexes[name]; ok {
		return ih, nil
	}
	idx, ok := h.data.index(name)
	if !ok {
		return nil, evd.Errorf(evd.ErrCNotFound, "no index named %q on store %q", name, h.data.name)
	}
	ih := &indexHandle{store: h, data: idx}
	if h.indexes == nil {
		h.indexes = make(map[string]*indexHandle)
	}
	h.indexes[name] = ih
	return ih, nil
}

func (h *storeHandle) Get(q evd.Query) evd.Request {
	return h.txn.placeOp(&txOp{kind: opGet, store: h.data, rng: evd.RangeOf(q)}, false)
}

func (h *storeHandle) GetKey(q evd.Query) evd.Request {
	return h.txn.placeOp(&txOp{kind: opGetKey, store: h.data, rng: evd.RangeOf(q)}, false)
}

func (h *storeHandle) GetAll(q evd.Query, limit int) evd.Request {
	return h.txn.placeOp(&txOp{kind: opGetAll, store: h.data, rng: evd.RangeOf(q), limit: limit}, false)
}

func (h *storeHandle) GetAllKeys(q evd.Query, limit int) evd.Request {
	return h.txn.placeOp(&txOp{kind: opGetAllKeys, store: h.data, rng: evd.RangeOf(q), limit: limit}, false)
}

func (h *storeHandle) Count(q evd.Query) evd.Request {
	return h.txn.placeOp(&txOp{kind: opCount, store: h.data, rng: evd.RangeOf(q)}, false)
}

func (h *storeHandle) Put(value []byte, key evd.Key) evd.Request {
	if value == nil {
		return newFailedRequest(h.txn, evd.NewError(evd.ErrCData, "nil value"))
	}
	return h.txn.placeOp(&txOp{kind: opPut, store: h.data, key: normalizeKey(key), value: value}, true)
}

func (h *storeHandle) Add(value []byte, key evd.Key) evd.Request {
	if value == nil {
		return newFailedRequest(h.txn, evd.NewError(evd.ErrCData, "nil value"))
	}
	return h.txn.placeOp(&txOp{kind: opAdd, store: h.data, key: normalizeKey(key), value: value}, true)
}

func (h *storeHandle) Delete(q evd.Query) evd.Request {
	return h.txn.placeOp(&txOp{kind: opDelete, store: h.data, rng: evd.RangeOf(q)}, true)
}

func (h *storeHandle) Clear() evd.Request {
	return h.txn.placeOp(&txOp{kind: opClear, store: h.data}, true)
}

func (h *storeHandle) OpenCursor(q evd.Query, dir evd.Direction) evd.Request {
	return h.openCursor(q, dir, false)
}

func (h *storeHandle) OpenKeyCursor(q evd.Query, dir evd.Direction) evd.Request {
	return h.openCursor(q, dir, true)
}

func (h *storeHandle) openCursor(q evd.Query, dir evd.Direction, keysOnly bool) evd.Request {
	c := &cursorImpl{
		txn:      h.txn,
		req:      newRequest(h.txn),
		store:    h.data,
		rng:      evd.RangeOf(q),
		dir:      dir,
		keysOnly: keysOnly,
	}
	return h.txn.placeCursorOpen(c, &txOp{kind: opOpenCursor, store: h.data})
}

func (h *storeHandle) CreateIndex(name, keyPath string, opts evd.IndexOptions) (evd.Index, error) {
	if name == "" || keyPath == "" {
		return nil, evd.NewError(evd.ErrCData, "index name and key path are required")
	}
	res, err := h.txn.placeSchema(&txOp{
		kind:       opCreateIndex,
		store:      h.data,
		schemaName: name,
		idxKeyPath: keyPath,
		idxOpts:    opts,
	})
	if err != nil {
		return nil, err
	}
	idx := res.(*indexData)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.indexes == nil {
		h.indexes = make(map[string]*indexHandle)
	}
	ih := &indexHandle{store: h, data: idx}
	h.indexes[name] = ih
	return ih, nil
}

func (h *storeHandle) DeleteIndex(name string) error {
	_, err := h.txn.placeSchema(&txOp{kind: opDeleteIndex, store: h.data, schemaName: name})
	if err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.indexes, name)
	h.mu.Unlock()
	return nil
}

func (h *storeHandle) Transaction() evd.Transaction {
	return h.txn
}

// --------------------------------------------------------------------------
// Index Handles
// --------------------------------------------------------------------------

// indexHandle is the transaction-scoped evd.Index.
type indexHandle struct {
	store *storeHandle
	data  *indexData
}

func (h *indexHandle) Name() string {
	return h.data.name
}

func (h *indexHandle) KeyPath() string {
	return h.data.keyPath
}

func (h *indexHandle) Unique() bool {
	return h.data.unique
}

func (h *indexHandle) ObjectStore() evd.ObjectStore {
	return h.store
}

// live checks that the index still exists; handles outlive a DeleteIndex
// during a version change.
func (h *indexHandle) live() error {
	idx, ok := h.store.data.index(h.data.name)
	if !ok || idx != h.data {
		return evd.Errorf(evd.ErrCInvalidState, "index %q has been deleted", h.data.name)
	}
	return nil
}

func (h *indexHandle) Get(q evd.Query) evd.Request {
	if err := h.live(); err != nil {
		return newFailedRequest(h.store.txn, err)
	}
	return h.store.txn.placeOp(&txOp{kind: opGet, store: h.store.data, index: h.data, rng: evd.RangeOf(q)}, false)
}

func (h *indexHandle) GetKey(q evd.Query) evd.Request {
	if err := h.live(); err != nil {
		return newFailedRequest(h.store.txn, err)
	}
	return h.store.txn.placeOp(&txOp{kind: opGetKey, store: h.store.data, index: h.data, rng: evd.RangeOf(q)}, false)
}

func (h *indexHandle) GetAll(q evd.Query, limit int) evd.Request {
	if err := h.live(); err != nil {
		return newFailedRequest(h.store.txn, err)
	}
	return h.store.txn.placeOp(&txOp{kind: opGetAll, store: h.store.data, index: h.data, rng: evd.RangeOf(q), limit: limit}, false)
}

func (h *indexHandle) GetAllKeys(q evd.Query, limit int) evd.Request {
	if err := h.live(); err != nil {
		return newFailedRequest(h.store.txn, err)
	}
	return h.store.txn.placeOp(&txOp{kind: opGetAllKeys, store: h.store.data, index: h.data, rng: evd.RangeOf(q), limit: limit}, false)
}

func (h *indexHandle) Count(q evd.Query) evd.Request {
	if err := h.live(); err != nil {
		return newFailedRequest(h.store.txn, err)
	}
	return h.store.txn.placeOp(&txOp{kind: opCount, store: h.store.data, index: h.data, rng: evd.RangeOf(q)}, false)
}

func (h *indexHandle) OpenCursor(q evd.Query, dir evd.Direction) evd.Request {
	return h.openCursor(q, dir, false)
}

func (h *indexHandle) OpenKeyCursor(q evd.Query, dir evd.Direction) evd.Request {
	return h.openCursor(q, dir, true)
}

func (h *indexHandle) openCursor(q evd.Query, dir evd.Direction, keysOnly bool) evd.Request {
	if err := h.live(); err != nil {
		return newFailedRequest(h.store.txn, err)
	}
	c := &cursorImpl{
		txn:      h.store.txn,
		req:      newRequest(h.store.txn),
		store:    h.store.data,
		index:    h.data,
		rng:      evd.RangeOf(q),
		dir:      dir,
		keysOnly: keysOnly,
	}
	return h.store.txn.placeCursorOpen(c, &txOp{kind: opOpenCursor, store: h.store.data, index: h.data})
}

func normalizeKey(key evd.Key) evd.Key {
	if len(key) == 0 {
		return nil
	}
	return key
}
