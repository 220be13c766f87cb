package wrap

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Identity Registry
// --------------------------------------------------------------------------

// Registry caches the facade built around each raw engine object, so that
// wrapping the same raw object always yields the identical facade. The
// forward direction maps raw objects to facades; the reverse direction maps
// facades and futures back to the raw object or request they came from.
//
// Entries are dropped once the raw object can produce no further signals:
// the facades of a transaction go when it reaches a terminal state, the
// facade of a connection goes when the connection closes. Identity is only
// guaranteed while the raw object is live.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	forward *xsync.MapOf[any, any]
	reverse *xsync.MapOf[any, any]
}

// NewRegistry creates an empty registry. Most callers use the package-level
// functions, which share a single default registry; a separate registry
// isolates facade identity.
func NewRegistry() *Registry {
	return &Registry{
		forward: xsync.NewMapOf[any, any](),
		reverse: xsync.NewMapOf[any, any](),
	}
}

var defaultRegistry = NewRegistry()

// Wrap returns the shared facade for a raw engine object, using the default
// registry. See Registry.Wrap.
func Wrap(raw any) any { return defaultRegistry.Wrap(raw) }

// Unwrap returns the raw object behind a facade or future produced by the
// default registry. See Registry.Unwrap.
func Unwrap(wrapped any) (any, bool) { return defaultRegistry.Unwrap(wrapped) }

// Wrap returns the facade for a raw engine object, creating and caching it
// on first use. Wrapping the same raw object twice returns the identical
// facade. Values the registry does not manage (facades included) pass
// through unchanged, so Wrap is idempotent.
func (r *Registry) Wrap(raw any) any { return r.wrapValue(raw) }

// Unwrap returns the raw engine object behind a facade, or the originating
// request behind a future, and whether the value was one this registry
// produced.
func (r *Registry) Unwrap(wrapped any) (any, bool) {
	return r.reverse.Load(wrapped)
}

// wrapValue dispatches a raw value to its facade constructor. The facade
// types implement none of the engine interfaces, so repeated wrapping falls
// through to the default arm.
func (r *Registry) wrapValue(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case evd.Database:
		return r.DB(v)
	case evd.Transaction:
		return r.Tx(v)
	case evd.ObjectStore:
		return r.Store(v)
	case evd.Index:
		return r.Index(v)
	case evd.Cursor:
		return r.Cursor(v)
	default:
		return raw
	}
}

// DB returns the facade for a raw connection.
func (r *Registry) DB(raw evd.Database) *DB {
	v, loaded := r.forward.LoadOrCompute(raw, func() any {
		return &DB{reg: r, raw: raw}
	})
	db := v.(*DB)
	if !loaded {
		// Hooks attach outside the compute callback: a closed connection
		// fires OnClose immediately, and evicting from inside the callback
		// would re-enter the map on the key being computed.
		r.reverse.Store(db, raw)
		raw.OnClose(func() { r.evict(raw, db) })
	}
	return db
}

// Tx returns the facade for a raw transaction, constructing its shared
// completion future on first use.
func (r *Registry) Tx(raw evd.Transaction) *Tx {
	v, loaded := r.forward.LoadOrCompute(raw, func() any {
		return &Tx{reg: r, raw: raw, done: newFuture[struct{}]()}
	})
	tx := v.(*Tx)
	if !loaded {
		r.reverse.Store(tx, raw)
		tx.watch()
	}
	return tx
}

// Store returns the facade for a raw store handle. Its registry entries live
// as long as the owning transaction.
func (r *Registry) Store(raw evd.ObjectStore) *Store {
	v, loaded := r.forward.LoadOrCompute(raw, func() any {
		return &Store{reg: r, raw: raw}
	})
	st := v.(*Store)
	if !loaded {
		r.reverse.Store(st, raw)
		if txn := raw.Transaction(); txn != nil {
			r.Tx(txn).addChild(raw, st)
		}
	}
	return st
}

// Index returns the facade for a raw index handle. Its registry entries live
// as long as the owning transaction.
func (r *Registry) Index(raw evd.Index) *Index {
	v, loaded := r.forward.LoadOrCompute(raw, func() any {
		return &Index{reg: r, raw: raw}
	})
	idx := v.(*Index)
	if !loaded {
		r.reverse.Store(idx, raw)
		if store := raw.ObjectStore(); store != nil {
			if txn := store.Transaction(); txn != nil {
				r.Tx(txn).addChild(raw, idx)
			}
		}
	}
	return idx
}

// Cursor returns the facade for a raw cursor. Its registry entries live as
// long as the owning transaction.
func (r *Registry) Cursor(raw evd.Cursor) *Cursor {
	v, loaded := r.forward.LoadOrCompute(raw, func() any {
		return &Cursor{reg: r, raw: raw}
	})
	cur := v.(*Cursor)
	if !loaded {
		r.reverse.Store(cur, raw)
		if req := raw.Request(); req != nil {
			if txn := req.Transaction(); txn != nil {
				r.Tx(txn).addChild(raw, cur)
			}
		}
	}
	return cur
}

// remember records a future in the reverse mapping and ties its entry to the
// lifetime of the request's transaction, if it has one.
func (r *Registry) remember(future any, req evd.Request) {
	r.reverse.Store(future, req)
	if txn := req.Transaction(); txn != nil {
		r.Tx(txn).addChild(nil, future)
	}
}

// evict removes one facade from both directions. A nil raw skips the forward
// direction (futures have no forward entry).
func (r *Registry) evict(raw, facade any) {
	if raw != nil {
		r.forward.Delete(raw)
	}
	if facade != nil {
		r.reverse.Delete(facade)
	}
}
