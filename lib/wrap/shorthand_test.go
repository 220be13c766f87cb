package wrap

import (
	"context"
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Name Resolution
// --------------------------------------------------------------------------

// TestShorthandResolution tests the shorthand name grammar: read and write
// stems, the FromIndex suffix, and the absence of everything else.
func TestShorthandResolution(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()

	present := []string{
		"get", "getKey", "getAll", "getAllKeys", "count",
		"put", "add", "delete", "clear",
		"getFromIndex", "getKeyFromIndex", "getAllFromIndex",
		"getAllKeysFromIndex", "countFromIndex",
	}
	for _, name := range present {
		if _, ok := db.Shorthand(name); !ok {
			t.Errorf("Expected %q to resolve", name)
		}
	}

	absent := []string{
		"putFromIndex", "addFromIndex", "deleteFromIndex", "clearFromIndex",
		"Get", "GETALL", "getall", "fetch", "remove", "FromIndex", "",
		"getFromIndexFromIndex",
	}
	for _, name := range absent {
		if _, ok := db.Shorthand(name); ok {
			t.Errorf("Expected %q not to resolve", name)
		}
	}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// TestShorthandReads tests the read shorthands against the store, including
// plain-value key coercion and range queries.
func TestShorthandReads(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	seedItems(t, db, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}})

	if v, err := db.Get(ctx, "items", "b"); err != nil || string(v) != "2" {
		t.Errorf("Expected value 2 for key b, got %q (%v)", v, err)
	}
	if v, err := db.Get(ctx, "items", evd.StringKey("c")); err != nil || string(v) != "3" {
		t.Errorf("Expected value 3 for an explicit key, got %q (%v)", v, err)
	}
	if v, err := db.Get(ctx, "items", "missing"); err != nil || v != nil {
		t.Errorf("Expected nil for a missing key, got %q (%v)", v, err)
	}

	if k, err := db.GetKey(ctx, "items", evd.LowerBound(evd.StringKey("b"), true)); err != nil || !k.Equal(evd.StringKey("c")) {
		t.Errorf("Expected key c as the first match, got %s (%v)", k, err)
	}

	vals, err := db.GetAll(ctx, "items", nil, 0)
	if err != nil || len(vals) != 4 {
		t.Fatalf("Expected 4 values, got %d (%v)", len(vals), err)
	}
	if string(vals[0]) != "1" || string(vals[3]) != "4" {
		t.Errorf("Expected values in key order, got %q ... %q", vals[0], vals[3])
	}

	capped, err := db.GetAll(ctx, "items", nil, 2)
	if err != nil || len(capped) != 2 {
		t.Errorf("Expected the limit to cap the result at 2, got %d (%v)", len(capped), err)
	}

	keys, err := db.GetAllKeys(ctx, "items", evd.UpperBound(evd.StringKey("b"), false), 0)
	if err != nil || len(keys) != 2 {
		t.Fatalf("Expected 2 keys up to b, got %d (%v)", len(keys), err)
	}
	if !keys[0].Equal(evd.StringKey("a")) || !keys[1].Equal(evd.StringKey("b")) {
		t.Errorf("Expected keys [a b], got %v", keys)
	}

	if n, err := db.Count(ctx, "items", nil); err != nil || n != 4 {
		t.Errorf("Expected count 4, got %d (%v)", n, err)
	}
	if n, err := db.Count(ctx, "items", evd.Bound(evd.StringKey("b"), evd.StringKey("d"), false, true)); err != nil || n != 2 {
		t.Errorf("Expected count 2 in [b, d), got %d (%v)", n, err)
	}
}

// TestShorthandFromIndex tests the read shorthands addressed through a
// secondary index.
func TestShorthandFromIndex(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	seedItems(t, db, [][2]string{
		{"k1", string(tagged("blue"))},
		{"k2", string(tagged("red"))},
		{"k3", string(tagged("red"))},
		{"k4", string(tagged("green"))},
	})

	if v, err := db.GetFromIndex(ctx, "items", "by_tag", "green"); err != nil || string(v) != string(tagged("green")) {
		t.Errorf("Expected the green record, got %q (%v)", v, err)
	}

	// Duplicate index keys resolve to the entry with the lowest primary key.
	if k, err := db.GetKeyFromIndex(ctx, "items", "by_tag", "red"); err != nil || !k.Equal(evd.StringKey("k2")) {
		t.Errorf("Expected primary key k2 for tag red, got %s (%v)", k, err)
	}

	vals, err := db.GetAllFromIndex(ctx, "items", "by_tag", "red", 0)
	if err != nil || len(vals) != 2 {
		t.Errorf("Expected 2 red records, got %d (%v)", len(vals), err)
	}

	keys, err := db.GetAllKeysFromIndex(ctx, "items", "by_tag", nil, 0)
	if err != nil || len(keys) != 4 {
		t.Fatalf("Expected 4 primary keys, got %d (%v)", len(keys), err)
	}
	// Index order: blue, green, red, red.
	want := []string{"k1", "k4", "k2", "k3"}
	for i, w := range want {
		if s, _ := keys[i].Str(); s != w {
			t.Errorf("Position %d: expected primary %q, got %q", i, w, s)
		}
	}

	if n, err := db.CountFromIndex(ctx, "items", "by_tag", "red"); err != nil || n != 2 {
		t.Errorf("Expected 2 red entries, got %d (%v)", n, err)
	}
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// TestShorthandWrites tests put and add, including generated keys and the
// constraint rejection surfacing through the shorthand.
func TestShorthandWrites(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	k, err := db.Put(ctx, "items", []byte("v1"), "k")
	if err != nil || !k.Equal(evd.StringKey("k")) {
		t.Fatalf("Expected put to return the explicit key, got %s (%v)", k, err)
	}
	if v, err := db.Get(ctx, "items", "k"); err != nil || string(v) != "v1" {
		t.Errorf("Expected the write to be visible after the shorthand returned, got %q (%v)", v, err)
	}

	// Generated keys persist across shorthand transactions.
	for i := 1; i <= 3; i++ {
		k, err := db.Put(ctx, "events", []byte("e"), nil)
		if err != nil {
			t.Fatalf("Failed to put event %d: %v", i, err)
		}
		if !k.Equal(evd.Float64Key(float64(i))) {
			t.Errorf("Expected generated key %d, got %s", i, k)
		}
	}

	if _, err := db.Add(ctx, "items", []byte("first"), "dup"); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}
	if _, err := db.Add(ctx, "items", []byte("second"), "dup"); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Errorf("Expected ErrCConstraint from the duplicate add, got %v", err)
	}
	if v, err := db.Get(ctx, "items", "dup"); err != nil || string(v) != "first" {
		t.Errorf("Expected the failed add to leave the record untouched, got %q (%v)", v, err)
	}
}

// TestShorthandDeleteClear tests the removing shorthands and the guard
// against an unbounded delete.
func TestShorthandDeleteClear(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	seedItems(t, db, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}})

	if err := db.Delete(ctx, "items", "b"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if n, _ := db.Count(ctx, "items", nil); n != 3 {
		t.Errorf("Expected 3 records after the single delete, got %d", n)
	}

	if err := db.Delete(ctx, "items", evd.LowerBound(evd.StringKey("c"), false)); err != nil {
		t.Fatalf("Failed to delete the range: %v", err)
	}
	if n, _ := db.Count(ctx, "items", nil); n != 1 {
		t.Errorf("Expected 1 record after the range delete, got %d", n)
	}

	if err := db.Delete(ctx, "items", nil); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for an unbounded delete, got %v", err)
	}

	if err := db.Clear(ctx, "items"); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	if n, _ := db.Count(ctx, "items", nil); n != 0 {
		t.Errorf("Expected an empty store after clear, got %d", n)
	}
}

// --------------------------------------------------------------------------
// Argument and Target Errors
// --------------------------------------------------------------------------

// TestShorthandArgumentErrors tests the rejections of the generic shorthand
// surface: bad values, bad limits, bad index arguments, missing targets.
func TestShorthandArgumentErrors(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	call := func(name string, args ...any) error {
		t.Helper()
		sh, ok := db.Shorthand(name)
		if !ok {
			t.Fatalf("Expected %q to resolve", name)
		}
		_, err := sh(ctx, db, "items", args...)
		return err
	}

	if err := call("put", 42, "k"); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a non-byte value, got %v", err)
	}
	if err := call("put"); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a missing value, got %v", err)
	}
	if err := call("getAll", nil, "ten"); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a non-integer limit, got %v", err)
	}
	if err := call("get", struct{}{}); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for an unencodable query, got %v", err)
	}
	if err := call("getFromIndex"); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a missing index name, got %v", err)
	}
	if err := call("getFromIndex", 7, "k"); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a non-string index name, got %v", err)
	}
	if err := call("getFromIndex", "no_such_index", "k"); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected a not found error for an unknown index, got %v", err)
	}

	if _, err := db.Get(ctx, "no_such_store", "k"); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected a not found error for an unknown store, got %v", err)
	}

	// The failed calls must not leave transactions holding the connection.
	if _, err := db.Put(ctx, "items", []byte("v"), "k"); err != nil {
		t.Errorf("Expected the connection to stay usable, got %v", err)
	}
}

// TestShorthandGenericRoundTrip tests that the generic surface and the typed
// methods share one behavior.
func TestShorthandGenericRoundTrip(t *testing.T) {
	fac := newTestEngine(t)
	reg := NewRegistry()
	db := openItemsDB(t, reg, fac)
	defer db.Close()
	ctx := context.Background()

	put, ok := db.Shorthand("put")
	if !ok {
		t.Fatal("Expected put to resolve")
	}
	res, err := put(ctx, db, "items", "generic-value", "gk")
	if err != nil {
		t.Fatalf("Failed to put through the generic surface: %v", err)
	}
	if k, isKey := res.(evd.Key); !isKey || !k.Equal(evd.StringKey("gk")) {
		t.Errorf("Expected the generic put to return the key, got %v", res)
	}

	if v, err := db.Get(ctx, "items", "gk"); err != nil || string(v) != "generic-value" {
		t.Errorf("Expected the typed read to see the generic write, got %q (%v)", v, err)
	}

	count, ok := db.Shorthand("countFromIndex")
	if !ok {
		t.Fatal("Expected countFromIndex to resolve")
	}
	if _, err := db.Put(ctx, "items", tagged("x"), "tagged1"); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	res, err = count(ctx, db, "items", "by_tag", "x")
	if err != nil {
		t.Fatalf("Failed to count through the index: %v", err)
	}
	if n, isCount := res.(uint64); !isCount || n != 1 {
		t.Errorf("Expected index count 1, got %v", res)
	}
}
