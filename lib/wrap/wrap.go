package wrap

import (
	"sync"
	"sync/atomic"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Database Facade
// --------------------------------------------------------------------------

// DB wraps one connection to a database. Schema methods are legal only
// during the version change transaction of the connection's open request.
//
// Beyond the connection surface, DB carries the shorthand layer: typed
// single-operation helpers (Get, Put, Count, ...) that open, run and settle
// a one-store transaction in a single call, plus the dynamic Shorthand
// resolver behind them.
type DB struct {
	reg           *Registry
	raw           evd.Database
	explicitClose atomic.Bool
}

// Name returns the database name.
func (db *DB) Name() string { return db.raw.Name() }

// Version returns the database version.
func (db *DB) Version() uint64 { return db.raw.Version() }

// ObjectStoreNames returns the sorted names of all object stores.
func (db *DB) ObjectStoreNames() []string { return db.raw.ObjectStoreNames() }

// Transaction starts a transaction over the given stores. The transaction is
// held open across blocking waits: it will not complete on its own until
// Done, Commit or Abort is called on it, so results may be awaited between
// requests.
func (db *DB) Transaction(stores []string, mode evd.Mode) (*Tx, error) {
	raw, err := db.raw.Transaction(stores, mode)
	if err != nil {
		return nil, err
	}
	tx := db.reg.Tx(raw)
	if release, err := raw.Hold(); err == nil {
		tx.setRelease(release)
	}
	return tx, nil
}

// CreateObjectStore creates a store during a version change.
func (db *DB) CreateObjectStore(name string, opts evd.StoreOptions) (*Store, error) {
	raw, err := db.raw.CreateObjectStore(name, opts)
	if err != nil {
		return nil, err
	}
	return db.reg.Store(raw), nil
}

// DeleteObjectStore removes a store during a version change.
func (db *DB) DeleteObjectStore(name string) error {
	return db.raw.DeleteObjectStore(name)
}

// Close releases the connection. Live transactions finish first.
func (db *DB) Close() {
	db.explicitClose.Store(true)
	db.raw.Close()
}

// Raw returns the underlying connection.
func (db *DB) Raw() evd.Database { return db.raw }

// --------------------------------------------------------------------------
// Transaction Facade
// --------------------------------------------------------------------------

// Tx wraps one transaction. All wrappers of the same raw transaction share a
// single completion future, available through Done.
//
// A Tx created by DB.Transaction stays open until Done, Commit or Abort is
// called; one obtained by wrapping a raw transaction follows the raw
// transaction's own lifecycle.
type Tx struct {
	reg  *Registry
	raw  evd.Transaction
	done *Future[struct{}]

	mu       sync.Mutex
	release  func()
	finished bool
	children []childRef
}

// childRef ties a dependent registry entry to the transaction. Futures have
// no forward entry, so their raw is nil.
type childRef struct {
	raw    any
	facade any
}

// Mode returns the transaction's access mode.
func (x *Tx) Mode() evd.Mode { return x.raw.Mode() }

// StoreNames returns the sorted names of the participating stores.
func (x *Tx) StoreNames() []string { return x.raw.StoreNames() }

// Database returns the connection that created the transaction.
func (x *Tx) Database() *DB { return x.reg.DB(x.raw.Database()) }

// ObjectStore returns the facade for a participating store.
func (x *Tx) ObjectStore(name string) (*Store, error) {
	raw, err := x.raw.ObjectStore(name)
	if err != nil {
		return nil, err
	}
	return x.reg.Store(raw), nil
}

// Store returns the transaction's sole participating store, or nil if the
// transaction spans zero or several stores.
func (x *Tx) Store() *Store {
	names := x.raw.StoreNames()
	if len(names) != 1 {
		return nil
	}
	st, err := x.ObjectStore(names[0])
	if err != nil {
		return nil
	}
	return st
}

// Done returns the transaction's completion future: it resolves once the
// transaction completes and rejects with the transaction's failure once it
// aborts. Every caller observes the same future.
//
// For a Tx created by DB.Transaction, Done also marks the end of request
// placement: the transaction may complete as soon as its queued work drains.
func (x *Tx) Done() *Future[struct{}] {
	x.releaseHold()
	return x.done
}

// Commit refuses further requests and completes once queued work drains.
func (x *Tx) Commit() error {
	x.releaseHold()
	return x.raw.Commit()
}

// Abort rolls the transaction back and fails its completion future.
func (x *Tx) Abort() error {
	x.releaseHold()
	return x.raw.Abort()
}

// Err returns the error that caused the transaction to fail, if any.
func (x *Tx) Err() error { return x.raw.Err() }

// Raw returns the underlying transaction.
func (x *Tx) Raw() evd.Transaction { return x.raw }

func (x *Tx) setRelease(release func()) {
	x.mu.Lock()
	if x.finished {
		x.mu.Unlock()
		release()
		return
	}
	x.release = release
	x.mu.Unlock()
}

func (x *Tx) releaseHold() {
	x.mu.Lock()
	release := x.release
	x.release = nil
	x.mu.Unlock()
	if release != nil {
		release()
	}
}

// addChild ties a dependent registry entry to this transaction's lifetime.
// After the transaction has finished the entry is dropped right away.
func (x *Tx) addChild(raw, facade any) {
	x.mu.Lock()
	if x.finished {
		x.mu.Unlock()
		x.reg.evict(raw, facade)
		return
	}
	x.children = append(x.children, childRef{raw: raw, facade: facade})
	x.mu.Unlock()
}

// watch settles the shared completion future from the transaction's terminal
// signals and clears the registry entries that depend on it. The error
// signal fires before the abort signal, so a failed transaction rejects with
// its actual failure; a bare abort falls back to a generic abort error.
func (x *Tx) watch() {
	var once sync.Once
	terminal := func(apply func()) {
		once.Do(func() {
			apply()
			x.releaseHold()
			x.evictAll()
		})
	}
	x.raw.OnError(func(err error) {
		terminal(func() { x.done.reject(err) })
	})
	x.raw.OnAbort(func() {
		terminal(func() {
			err := x.raw.Err()
			if err == nil {
				err = evd.NewError(evd.ErrCAbort, "transaction aborted")
			}
			x.done.reject(err)
		})
	})
	x.raw.OnComplete(func() {
		terminal(func() { x.done.resolve(struct{}{}) })
	})
}

func (x *Tx) evictAll() {
	x.mu.Lock()
	x.finished = true
	children := x.children
	x.children = nil
	x.mu.Unlock()
	for _, c := range children {
		x.reg.evict(c.raw, c.facade)
	}
	x.reg.evict(x.raw, x)
}
