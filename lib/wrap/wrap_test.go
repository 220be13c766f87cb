package wrap

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan"
)

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// newTestEngine returns a fresh in-memory engine wired to close with the
// test.
func newTestEngine(t testing.TB) evd.Factory {
	t.Helper()
	fac, err := rowan.New(nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = fac.Close() })
	return fac
}

// openItemsDB opens "testdb" at version 1 with an "items" store carrying a
// non-unique "by_tag" index, plus an auto-increment "events" store.
func openItemsDB(t testing.TB, reg *Registry, fac evd.Factory) *DB {
	t.Helper()
	db, err := reg.Open(context.Background(), fac, "testdb", 1, &OpenOptions{
		Upgrade: func(db *DB, oldVersion, newVersion uint64, tx *Tx) {
			items, err := db.CreateObjectStore("items", evd.StoreOptions{})
			if err != nil {
				t.Errorf("Failed to create items store: %v", err)
				return
			}
			if _, err := items.CreateIndex("by_tag", "tag", evd.IndexOptions{}); err != nil {
				t.Errorf("Failed to create index: %v", err)
			}
			if _, err := db.CreateObjectStore("events", evd.StoreOptions{AutoIncrement: true}); err != nil {
				t.Errorf("Failed to create events store: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	return db
}

// tagged builds a JSON value the by_tag index can extract a key from.
func tagged(tag string) []byte {
	return []byte(fmt.Sprintf(`{"tag":%q}`, tag))
}

// seedItems writes key/value pairs through the put shorthand.
func seedItems(t testing.TB, db *DB, pairs [][2]string) {
	t.Helper()
	for _, p := range pairs {
		if _, err := db.Put(context.Background(), "items", []byte(p[1]), evd.StringKey(p[0])); err != nil {
			t.Fatalf("Failed to seed %q: %v", p[0], err)
		}
	}
}

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// TestWrapIdentity tests that wrapping the same raw object repeatedly yields
// the identical facade, for every type in the object graph.
func TestWrapIdentity(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	if got, ok := reg.Wrap(db.Raw()).(*DB); !ok || got != db {
		t.Error("Expected the identical facade for the raw connection")
	}

	tx, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if got, ok := reg.Wrap(tx.Raw()).(*Tx); !ok || got != tx {
		t.Error("Expected the identical facade for the raw transaction")
	}

	st, err := tx.ObjectStore("items")
	if err != nil {
		t.Fatalf("Failed to get store handle: %v", err)
	}
	again, err := tx.ObjectStore("items")
	if err != nil {
		t.Fatalf("Failed to get store handle twice: %v", err)
	}
	if st != again {
		t.Error("Expected repeated store lookups to return the identical facade")
	}
	if got, ok := reg.Wrap(st.Raw()).(*Store); !ok || got != st {
		t.Error("Expected the identical facade for the raw store handle")
	}
	if sole := tx.Store(); sole != st {
		t.Error("Expected the sole-store accessor to return the identical facade")
	}

	idx, err := st.Index("by_tag")
	if err != nil {
		t.Fatalf("Failed to get index handle: %v", err)
	}
	idxAgain, err := st.Index("by_tag")
	if err != nil {
		t.Fatalf("Failed to get index handle twice: %v", err)
	}
	if idx != idxAgain {
		t.Error("Expected repeated index lookups to return the identical facade")
	}
	if idx.ObjectStore() != st {
		t.Error("Expected the index to report the identical store facade")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	if _, err := tx.Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}

// TestWrapIdempotent tests that wrapping a facade, or a value the registry
// does not manage, returns it unchanged.
func TestWrapIdempotent(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()

	if got := reg.Wrap(db); got != any(db) {
		t.Errorf("Expected wrapping a facade to return it unchanged, got %T", got)
	}
	if got := reg.Wrap("hello"); got != any("hello") {
		t.Errorf("Expected plain values to pass through, got %v", got)
	}
	if got := reg.Wrap(nil); got != nil {
		t.Errorf("Expected nil to pass through, got %v", got)
	}
}

// TestUnwrap tests the reverse direction: facades and futures map back to
// the raw objects and requests they came from.
func TestUnwrap(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	raw, ok := reg.Unwrap(db)
	if !ok {
		t.Fatal("Expected the connection facade to unwrap")
	}
	if raw != any(db.Raw()) {
		t.Error("Expected unwrap to return the raw connection")
	}

	tx, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	st := tx.Store()

	fut := st.Put([]byte("v"), evd.StringKey("k"))
	if req, ok := reg.Unwrap(fut); !ok {
		t.Error("Expected the operation future to unwrap")
	} else if _, isReq := req.(evd.Request); !isReq {
		t.Errorf("Expected a raw request behind the future, got %T", req)
	}
	if _, err := fut.Await(ctx); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	if _, ok := reg.Unwrap("unrelated"); ok {
		t.Error("Expected unrelated values not to unwrap")
	}

	if _, err := tx.Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}

// TestRegistryIsolation tests that separate registries build separate
// facades for the same raw object.
func TestRegistryIsolation(t *testing.T) {
	fac := newTestEngine(t)
	regA := NewRegistry()
	regB := NewRegistry()
	db := openItemsDB(t, regA, fac)
	defer db.Close()

	other, ok := regB.Wrap(db.Raw()).(*DB)
	if !ok {
		t.Fatal("Expected the second registry to build a facade")
	}
	if other == db {
		t.Error("Expected separate registries to build separate facades")
	}
	if _, ok := regB.Unwrap(db); ok {
		t.Error("Expected the second registry not to know the first registry's facade")
	}
}

// TestRegistryEviction tests that facades are dropped once their raw object
// is done: transaction facades on the terminal signal, connection facades on
// close.
func TestRegistryEviction(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	ctx := context.Background()

	tx, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	st := tx.Store()
	if _, err := st.Put([]byte("v"), evd.StringKey("k")).Await(ctx); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if _, err := tx.Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}

	if _, ok := reg.Unwrap(tx); ok {
		t.Error("Expected the transaction facade to be evicted after completion")
	}
	if _, ok := reg.Unwrap(st); ok {
		t.Error("Expected the store facade to be evicted after completion")
	}

	rawDB := db.Raw()
	db.Close()
	if _, ok := reg.Unwrap(db); ok {
		t.Error("Expected the connection facade to be evicted after close")
	}
	if got, _ := reg.Wrap(rawDB).(*DB); got == db {
		t.Error("Expected a fresh facade after eviction")
	}
}

// --------------------------------------------------------------------------
// Transaction Completion
// --------------------------------------------------------------------------

// TestTxDoneShared tests that every wrapper of a transaction observes one
// shared completion future.
func TestTxDoneShared(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	tx, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	st := tx.Store()
	if _, err := st.Put([]byte("v"), evd.StringKey("k")).Await(ctx); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	rewrapped := reg.Tx(tx.Raw())
	first := tx.Done()
	if second := rewrapped.Done(); second != first {
		t.Error("Expected all wrappers to share one completion future")
	}
	if third := tx.Done(); third != first {
		t.Error("Expected repeated Done calls to return the same future")
	}

	if _, err := first.Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}

// TestTxDoneResolvesOnComplete tests the resolve path, including the
// catch-up when a transaction is wrapped only after it finished.
func TestTxDoneResolvesOnComplete(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	tx, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if _, err := tx.Store().Put([]byte("v"), evd.StringKey("k")).Await(ctx); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if _, err := tx.Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}

	late := reg.Tx(tx.Raw())
	if _, err := late.Done().Await(ctx); err != nil {
		t.Fatalf("Expected a late wrapper to observe completion, got %v", err)
	}
}

// TestTxDoneRejectsOnAbort tests the reject paths: an explicit abort and a
// failed request.
func TestTxDoneRejectsOnAbort(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	tx, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if _, err := tx.Store().Put([]byte("v"), evd.StringKey("k")).Await(ctx); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := tx.Abort(); err != nil {
		t.Fatalf("Failed to abort: %v", err)
	}
	if _, err := tx.Done().Await(ctx); !evd.IsCode(err, evd.ErrCAbort) {
		t.Errorf("Expected ErrCAbort from an aborted transaction, got %v", err)
	}
	if got, err := db.Get(ctx, "items", "k"); err != nil || got != nil {
		t.Errorf("Expected the aborted write to be rolled back, got %q (%v)", got, err)
	}

	failing, err := db.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	st := failing.Store()
	if _, err := st.Add([]byte("one"), evd.StringKey("dup")).Await(ctx); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}
	if _, err := st.Add([]byte("two"), evd.StringKey("dup")).Await(ctx); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Fatalf("Expected ErrCConstraint from a duplicate add, got %v", err)
	}
	if _, err := failing.Done().Await(ctx); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Errorf("Expected the completion future to reject with the request failure, got %v", err)
	}
}

// TestTxDoneCompletesEmptyTransaction tests that releasing a transaction
// that never placed a request still completes it.
func TestTxDoneCompletesEmptyTransaction(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()

	tx, err := db.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if _, err := tx.Done().Await(context.Background()); err != nil {
		t.Fatalf("Expected an empty transaction to complete, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Sole-Store Accessor
// --------------------------------------------------------------------------

// TestTxStoreArity tests the sole-store accessor over one, several and zero
// participating stores.
func TestTxStoreArity(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()

	var upgradeStore *Store
	db, err := reg.Open(context.Background(), fac, "arity", 1, &OpenOptions{
		Upgrade: func(db *DB, oldVersion, newVersion uint64, tx *Tx) {
			// No stores exist yet, so the accessor has nothing to return.
			upgradeStore = tx.Store()
			if _, err := db.CreateObjectStore("a", evd.StoreOptions{}); err != nil {
				t.Errorf("Failed to create store a: %v", err)
			}
			if _, err := db.CreateObjectStore("b", evd.StoreOptions{}); err != nil {
				t.Errorf("Failed to create store b: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if upgradeStore != nil {
		t.Errorf("Expected no sole store before any store exists, got %q", upgradeStore.Name())
	}

	single, err := db.Transaction([]string{"a"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if st := single.Store(); st == nil || st.Name() != "a" {
		t.Errorf("Expected the sole store a, got %v", st)
	}
	if _, err := single.Done().Await(context.Background()); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}

	multi, err := db.Transaction([]string{"a", "b"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if st := multi.Store(); st != nil {
		t.Errorf("Expected no sole store over two stores, got %q", st.Name())
	}
	if _, err := multi.Done().Await(context.Background()); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}

// TestTxMetadata tests the passthrough accessors of the transaction facade.
func TestTxMetadata(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()

	tx, err := db.Transaction([]string{"items", "events"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	if tx.Mode() != evd.ReadWrite {
		t.Errorf("Expected readwrite mode, got %v", tx.Mode())
	}
	names := tx.StoreNames()
	if len(names) != 2 || names[0] != "events" || names[1] != "items" {
		t.Errorf("Expected sorted store names [events items], got %v", names)
	}
	if tx.Database() != db {
		t.Error("Expected the transaction to report the identical connection facade")
	}
	if _, err := tx.Done().Await(context.Background()); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}
