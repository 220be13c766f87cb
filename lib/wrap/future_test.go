package wrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
)

// rawItems starts a raw read-write transaction over the items store,
// bypassing the facades.
func rawItems(t *testing.T, db *DB) (evd.Transaction, evd.ObjectStore) {
	t.Helper()
	txn, err := db.Raw().Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Failed to start raw transaction: %v", err)
	}
	store, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("Failed to get raw store handle: %v", err)
	}
	return txn, store
}

// TestFutureSettlesOnce tests that only the first settlement of a future
// counts.
func TestFutureSettlesOnce(t *testing.T) {
	fut := newFuture[int]()
	if fut.Settled() {
		t.Error("Expected a fresh future to be unsettled")
	}
	if v, err := fut.Result(); v != 0 || err != nil {
		t.Errorf("Expected zero results before settling, got %d (%v)", v, err)
	}

	fut.resolve(42)
	fut.resolve(7)
	fut.reject(errors.New("late"))

	if !fut.Settled() {
		t.Error("Expected the future to be settled")
	}
	select {
	case <-fut.Done():
	default:
		t.Error("Expected the done channel to be closed")
	}
	if v, err := fut.Await(context.Background()); v != 42 || err != nil {
		t.Errorf("Expected 42, got %d (%v)", v, err)
	}
	if v, err := fut.Result(); v != 42 || err != nil {
		t.Errorf("Expected 42 from Result, got %d (%v)", v, err)
	}
}

// TestFutureAwaitHonorsContext tests that Await returns on context
// cancellation without settling the future.
func TestFutureAwaitHonorsContext(t *testing.T) {
	fut := newFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if fut.Settled() {
		t.Error("Expected cancellation not to settle the future")
	}

	fut.resolve(1)
	if v, err := fut.Await(context.Background()); v != 1 || err != nil {
		t.Errorf("Expected the settled value after cancellation, got %d (%v)", v, err)
	}
}

// TestResolvedAndRejected tests the pre-settled constructors.
func TestResolvedAndRejected(t *testing.T) {
	r := Resolved("ok")
	if v, err := r.Await(context.Background()); v != "ok" || err != nil {
		t.Errorf("Expected ok, got %q (%v)", v, err)
	}

	boom := errors.New("boom")
	j := Rejected[string](boom)
	if _, err := j.Await(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected the constructor error, got %v", err)
	}
}

// TestPromisifyResolvesWithResult tests that a request's success signal
// settles the future with the typed result.
func TestPromisifyResolvesWithResult(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	txn, store := rawItems(t, db)
	fut := promisify[evd.Key](reg, store.Put([]byte("v"), evd.StringKey("k")))
	key, err := fut.Await(ctx)
	if err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if !key.Equal(evd.StringKey("k")) {
		t.Errorf("Expected key k, got %s", key)
	}
	if _, err := reg.Tx(txn).Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}

// TestPromisifyRejectsWithFailure tests that a request's error signal
// rejects the future with the operation failure.
func TestPromisifyRejectsWithFailure(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	seedItems(t, db, [][2]string{{"dup", "old"}})

	txn, store := rawItems(t, db)
	fut := promisify[evd.Key](reg, store.Add([]byte("new"), evd.StringKey("dup")))
	if _, err := fut.Await(ctx); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Errorf("Expected ErrCConstraint, got %v", err)
	}
	if _, err := reg.Tx(txn).Done().Await(ctx); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Errorf("Expected the transaction to abort with the failure, got %v", err)
	}
}

// TestPromisifyLateAttach tests the catch-up: a future created after the
// request settled observes the settled state immediately.
func TestPromisifyLateAttach(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	txn, store := rawItems(t, db)
	req := store.Put([]byte("v"), evd.StringKey("late"))
	if _, err := reg.Tx(txn).Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}

	fut := promisify[evd.Key](reg, req)
	if !fut.Settled() {
		t.Fatal("Expected an already settled request to settle the future immediately")
	}
	key, err := fut.Result()
	if err != nil {
		t.Fatalf("Expected the settled result, got %v", err)
	}
	if !key.Equal(evd.StringKey("late")) {
		t.Errorf("Expected key late, got %s", key)
	}
}

// TestPromisifyIgnoresLaterFirings tests that a future over a multi-fire
// cursor request keeps its first settlement when the cursor fires again.
func TestPromisifyIgnoresLaterFirings(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	seedItems(t, db, [][2]string{{"a", "1"}})

	tx, err := db.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Failed to start transaction: %v", err)
	}
	first := tx.Store().OpenCursor(nil, evd.Next)
	cur, err := first.Await(ctx)
	if err != nil {
		t.Fatalf("Failed to open cursor: %v", err)
	}
	if cur == nil {
		t.Fatal("Expected a cursor over one record")
	}

	next, err := cur.Continue(nil).Await(ctx)
	if err != nil {
		t.Fatalf("Failed to advance: %v", err)
	}
	if next != nil {
		t.Errorf("Expected exhaustion after one record, got key %s", next.Key())
	}

	if got, err := first.Result(); err != nil || got != cur {
		t.Errorf("Expected the first future to keep its cursor, got %v (%v)", got, err)
	}
	if _, err := tx.Done().Await(ctx); err != nil {
		t.Fatalf("Expected clean completion, got %v", err)
	}
}
