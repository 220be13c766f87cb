package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
)

// FactoryFunc creates a fresh engine instance for one test
type FactoryFunc func() (evd.Factory, error)

// RunFactoryTests runs a comprehensive test suite for an evd.Factory
// implementation.
func RunFactoryTests(t *testing.T, name string, factory FactoryFunc) {
	t.Run(name, func(t *testing.T) {
		t.Run("Open&Upgrade", func(t *testing.T) {
			testOpenUpgrade(t, newEngine(t, factory))
		})

		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, newEngine(t, factory))
		})

		t.Run("Ranges", func(t *testing.T) {
			testRanges(t, newEngine(t, factory))
		})

		t.Run("KeyGenerator", func(t *testing.T) {
			testKeyGenerator(t, newEngine(t, factory))
		})

		t.Run("AddConflict", func(t *testing.T) {
			testAddConflict(t, newEngine(t, factory))
		})

		t.Run("Delete&Clear", func(t *testing.T) {
			testDeleteClear(t, newEngine(t, factory))
		})

		t.Run("Indexes", func(t *testing.T) {
			testIndexes(t, newEngine(t, factory))
		})

		t.Run("UniqueIndex", func(t *testing.T) {
			testUniqueIndex(t, newEngine(t, factory))
		})

		t.Run("Cursors", func(t *testing.T) {
			testCursors(t, newEngine(t, factory))
		})

		t.Run("CursorMutation", func(t *testing.T) {
			testCursorMutation(t, newEngine(t, factory))
		})

		t.Run("Abort&Rollback", func(t *testing.T) {
			testAbortRollback(t, newEngine(t, factory))
		})

		t.Run("TransactionLifecycle", func(t *testing.T) {
			testTransactionLifecycle(t, newEngine(t, factory))
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, newEngine(t, factory))
		})

		t.Run("VersionGate", func(t *testing.T) {
			testVersionGate(t, newEngine(t, factory))
		})

		t.Run("Upgrade&Blocked", func(t *testing.T) {
			testUpgradeBlocked(t, newEngine(t, factory))
		})

		t.Run("DeleteDatabase", func(t *testing.T) {
			testDeleteDatabase(t, newEngine(t, factory))
		})

		t.Run("Enumerate", func(t *testing.T) {
			testEnumerate(t, newEngine(t, factory))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, newEngine(t, factory))
		})

		t.Run("Stats", func(t *testing.T) {
			testStats(t, newEngine(t, factory))
		})

		t.Run("EngineClose", func(t *testing.T) {
			testEngineClose(t, newEngine(t, factory))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, newEngine(t, factory))
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, newEngine(t, factory))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, newEngine(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newEngine(t testing.TB, factory FactoryFunc) evd.Factory {
	t.Helper()
	fac, err := factory()
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	return fac
}

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, fac evd.Factory, feature evd.Feature) {
	if !fac.SupportsFeature(feature) {
		t.Skip()
	}
}

// awaitSettle blocks until the request fires success or error and returns
// the request's error.
func awaitSettle(req evd.Request) error {
	done := make(chan struct{})
	var once sync.Once
	settle := func(evd.Request) {
		once.Do(func() { close(done) })
	}
	removeSuccess := req.OnSuccess(settle)
	defer removeSuccess()
	removeError := req.OnError(settle)
	defer removeError()
	<-done
	return req.Err()
}

// await blocks until the request settles, failing the test on error.
func await(t testing.TB, req evd.Request) interface{} {
	t.Helper()
	if err := awaitSettle(req); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return req.Result()
}

// awaitTx blocks until the transaction completes or aborts and returns its
// error.
func awaitTx(txn evd.Transaction) error {
	done := make(chan struct{})
	var once sync.Once
	fin := func() {
		once.Do(func() { close(done) })
	}
	removeComplete := txn.OnComplete(fin)
	defer removeComplete()
	removeAbort := txn.OnAbort(fin)
	defer removeAbort()
	<-done
	return txn.Err()
}

// openDatabase opens a connection, failing the test on error. The upgrade
// listener may be nil.
func openDatabase(t testing.TB, fac evd.Factory, name string, version uint64, upgrade func(ev evd.UpgradeEvent)) evd.Database {
	t.Helper()
	req := fac.Open(name, version)
	if upgrade != nil {
		req.OnUpgradeNeeded(upgrade)
	}
	result := await(t, req)
	conn, ok := result.(evd.Database)
	if !ok {
		t.Fatalf("Expected open to yield a connection, got %T", result)
	}
	return conn
}

// setupStore opens the database at version 1, creating a single store.
func setupStore(t testing.TB, fac evd.Factory, dbName, storeName string, autoInc bool) evd.Database {
	t.Helper()
	return openDatabase(t, fac, dbName, 1, func(ev evd.UpgradeEvent) {
		if _, err := ev.Database.CreateObjectStore(storeName, evd.StoreOptions{AutoIncrement: autoInc}); err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
		}
	})
}

// seedRecords writes the given key/value pairs in one transaction.
func seedRecords(t testing.TB, conn evd.Database, store string, pairs [][2]string) {
	t.Helper()
	txn, err := conn.Transaction([]string{store}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore(store)
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	for _, p := range pairs {
		st.Put([]byte(p[1]), evd.StringKey(p[0]))
	}
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Seed transaction failed: %v", err)
	}
}

// readValue fetches one value in its own read-only transaction, nil if the
// key is absent.
func readValue(t testing.TB, conn evd.Database, store string, key evd.Key) []byte {
	t.Helper()
	txn, err := conn.Transaction([]string{store}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore(store)
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	result := await(t, st.Get(key))
	if result == nil {
		return nil
	}
	return result.([]byte)
}

// countStore counts all records in its own read-only transaction.
func countStore(t testing.TB, conn evd.Database, store string) uint64 {
	t.Helper()
	txn, err := conn.Transaction([]string{store}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore(store)
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	return await(t, st.Count(nil)).(uint64)
}

// drainCursor walks a cursor request to exhaustion, invoking visit for
// every position.
func drainCursor(t testing.TB, req evd.Request, visit func(cur evd.Cursor)) {
	t.Helper()
	for {
		if err := awaitSettle(req); err != nil {
			t.Fatalf("Cursor request failed: %v", err)
		}
		result := req.Result()
		if result == nil {
			return
		}
		cur := result.(evd.Cursor)
		visit(cur)
		if err := cur.Continue(nil); err != nil {
			t.Fatalf("Cursor continue failed: %v", err)
		}
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testOpenUpgrade(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	var oldV, newV uint64
	upgraded := false
	conn := openDatabase(t, fac, "app", 0, func(ev evd.UpgradeEvent) {
		upgraded = true
		oldV, newV = ev.OldVersion, ev.NewVersion
		if ev.Transaction.Mode() != evd.VersionChange {
			t.Errorf("Expected a version change transaction, got %v", ev.Transaction.Mode())
		}
		if _, err := ev.Database.CreateObjectStore("items", evd.StoreOptions{}); err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
		}
	})

	if !upgraded {
		t.Errorf("Expected the upgrade listener to fire on first open")
	}
	if oldV != 0 || newV != 1 {
		t.Errorf("Expected upgrade 0 -> 1, got %d -> %d", oldV, newV)
	}
	if conn.Name() != "app" {
		t.Errorf("Expected database name app, got %s", conn.Name())
	}
	if conn.Version() != 1 {
		t.Errorf("Expected version 1, got %d", conn.Version())
	}
	names := conn.ObjectStoreNames()
	if len(names) != 1 || names[0] != "items" {
		t.Errorf("Expected store names [items], got %v", names)
	}

	// A second open at the current version must not upgrade and may share
	// the database with the first connection.
	conn2 := openDatabase(t, fac, "app", 0, func(ev evd.UpgradeEvent) {
		t.Errorf("Unexpected upgrade to version %d", ev.NewVersion)
	})
	if conn2.Version() != 1 {
		t.Errorf("Expected version 1 on reopen, got %d", conn2.Version())
	}

	conn.Close()
	conn2.Close()
}

func testPutGet(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	// Requests within one transaction run in placement order, so a get
	// placed after a put observes its effect.
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	putReq := st.Put([]byte("value-1"), evd.StringKey("key-1"))
	getReq := st.Get(evd.StringKey("key-1"))
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	key := await(t, putReq).(evd.Key)
	if !key.Equal(evd.StringKey("key-1")) {
		t.Errorf("Expected put to resolve with the record key, got %s", key)
	}
	if got := await(t, getReq).([]byte); !bytes.Equal(got, []byte("value-1")) {
		t.Errorf("Expected value-1, got %s", got)
	}

	// Overwrite through a later transaction.
	seedRecords(t, conn, "items", [][2]string{{"key-1", "value-2"}})
	if got := readValue(t, conn, "items", evd.StringKey("key-1")); !bytes.Equal(got, []byte("value-2")) {
		t.Errorf("Expected value-2 after overwrite, got %s", got)
	}

	if got := readValue(t, conn, "items", evd.StringKey("missing")); got != nil {
		t.Errorf("Expected nil for a missing key, got %s", got)
	}
}

func testRanges(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{
		{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}, {"k4", "v4"}, {"k5", "v5"},
	})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}

	allReq := st.GetAll(nil, 0)
	boundReq := st.GetAll(evd.Bound(evd.StringKey("k2"), evd.StringKey("k4"), false, false), 0)
	openReq := st.GetAll(evd.Bound(evd.StringKey("k2"), evd.StringKey("k4"), true, true), 0)
	limitReq := st.GetAll(nil, 2)
	keysReq := st.GetAllKeys(evd.LowerBound(evd.StringKey("k4"), false), 0)
	countReq := st.Count(evd.UpperBound(evd.StringKey("k3"), true))
	getKeyReq := st.GetKey(evd.LowerBound(evd.StringKey("k2"), true))
	onlyReq := st.Count(evd.Only(evd.StringKey("k3")))

	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if got := await(t, allReq).([][]byte); len(got) != 5 {
		t.Errorf("Expected 5 values, got %d", len(got))
	}
	if got := await(t, boundReq).([][]byte); len(got) != 3 || !bytes.Equal(got[0], []byte("v2")) {
		t.Errorf("Expected [v2 v3 v4], got %q", got)
	}
	if got := await(t, openReq).([][]byte); len(got) != 1 || !bytes.Equal(got[0], []byte("v3")) {
		t.Errorf("Expected [v3] for the open bounds, got %q", got)
	}
	if got := await(t, limitReq).([][]byte); len(got) != 2 {
		t.Errorf("Expected the limit to cap results at 2, got %d", len(got))
	}
	keys := await(t, keysReq).([]evd.Key)
	if len(keys) != 2 || !keys[0].Equal(evd.StringKey("k4")) || !keys[1].Equal(evd.StringKey("k5")) {
		t.Errorf("Expected keys [k4 k5], got %v", keys)
	}
	if got := await(t, countReq).(uint64); got != 2 {
		t.Errorf("Expected count 2 below k3, got %d", got)
	}
	if got := await(t, getKeyReq).(evd.Key); !got.Equal(evd.StringKey("k3")) {
		t.Errorf("Expected first key above k2 to be k3, got %s", got)
	}
	if got := await(t, onlyReq).(uint64); got != 1 {
		t.Errorf("Expected count 1 for the single key range, got %d", got)
	}
}

func testKeyGenerator(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", true)
	defer conn.Close()

	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	if !st.AutoIncrement() {
		t.Errorf("Expected the store to report a key generator")
	}

	first := st.Put([]byte("a"), nil)
	second := st.Put([]byte("b"), nil)
	explicit := st.Put([]byte("c"), evd.Float64Key(10))
	after := st.Put([]byte("d"), nil)
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if k := await(t, first).(evd.Key); !k.Equal(evd.Float64Key(1)) {
		t.Errorf("Expected generated key 1, got %s", k)
	}
	if k := await(t, second).(evd.Key); !k.Equal(evd.Float64Key(2)) {
		t.Errorf("Expected generated key 2, got %s", k)
	}
	if k := await(t, explicit).(evd.Key); !k.Equal(evd.Float64Key(10)) {
		t.Errorf("Expected explicit key 10, got %s", k)
	}
	// An explicit number key lifts the generator above it.
	if k := await(t, after).(evd.Key); !k.Equal(evd.Float64Key(11)) {
		t.Errorf("Expected generated key 11 after the explicit 10, got %s", k)
	}
}

func testAddConflict(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{{"taken", "old"}})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	okReq := st.Add([]byte("fresh"), evd.StringKey("fresh"))
	conflictReq := st.Add([]byte("new"), evd.StringKey("taken"))

	txErr := awaitTx(txn)
	if txErr == nil {
		t.Fatalf("Expected the conflicting add to abort the transaction")
	}
	if !evd.IsCode(txErr, evd.ErrCConstraint) {
		t.Errorf("Expected a constraint error, got %v", txErr)
	}
	if err := awaitSettle(conflictReq); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Errorf("Expected the add request to fail with a constraint error, got %v", err)
	}
	_ = okReq

	// The abort must roll the earlier add back.
	if got := readValue(t, conn, "items", evd.StringKey("fresh")); got != nil {
		t.Errorf("Expected the aborted add to be rolled back, found %s", got)
	}
	if got := readValue(t, conn, "items", evd.StringKey("taken")); !bytes.Equal(got, []byte("old")) {
		t.Errorf("Expected the seeded value to survive, got %s", got)
	}
}

func testDeleteClear(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{
		{"k1", "v1"}, {"k2", "v2"}, {"k3", "v3"}, {"k4", "v4"},
	})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	st.Delete(evd.Only(evd.StringKey("k1")))
	st.Delete(evd.Bound(evd.StringKey("k3"), evd.StringKey("k4"), false, false))
	countReq := st.Count(nil)
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, countReq).(uint64); got != 1 {
		t.Errorf("Expected 1 record after the deletes, got %d", got)
	}
	if got := readValue(t, conn, "items", evd.StringKey("k2")); !bytes.Equal(got, []byte("v2")) {
		t.Errorf("Expected k2 to survive, got %s", got)
	}

	txn2, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, err := txn2.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	st2.Clear()
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := countStore(t, conn, "items"); got != 0 {
		t.Errorf("Expected an empty store after clear, got %d records", got)
	}
}

func userJSON(email, city string, age int) []byte {
	return []byte(fmt.Sprintf(`{"email":%q,"address":{"city":%q},"age":%d}`, email, city, age))
}

func testIndexes(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureIndexes)

	conn := openDatabase(t, fac, "app", 1, func(ev evd.UpgradeEvent) {
		st, err := ev.Database.CreateObjectStore("users", evd.StoreOptions{})
		if err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if _, err := st.CreateIndex("by_email", "email", evd.IndexOptions{Unique: true}); err != nil {
			t.Errorf("CreateIndex failed: %v", err)
		}
		if _, err := st.CreateIndex("by_city", "address.city", evd.IndexOptions{}); err != nil {
			t.Errorf("CreateIndex failed: %v", err)
		}
	})
	defer conn.Close()

	seedRecords(t, conn, "users", [][2]string{
		{"u1", string(userJSON("ada@example.com", "london", 36))},
		{"u2", string(userJSON("bob@example.com", "berlin", 29))},
		{"u3", string(userJSON("cleo@example.com", "berlin", 41))},
		{"u4", `{"name":"no email or city"}`},
	})

	txn, err := conn.Transaction([]string{"users"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("users")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	names := st.IndexNames()
	if len(names) != 2 || names[0] != "by_city" || names[1] != "by_email" {
		t.Errorf("Expected sorted index names [by_city by_email], got %v", names)
	}
	email, err := st.Index("by_email")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if email.KeyPath() != "email" || !email.Unique() {
		t.Errorf("Expected a unique index on email, got path %s unique %v", email.KeyPath(), email.Unique())
	}
	city, err := st.Index("by_city")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if _, err := st.Index("by_nothing"); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected a not-found error for an unknown index, got %v", err)
	}

	getReq := email.Get(evd.StringKey("bob@example.com"))
	keyReq := email.GetKey(evd.StringKey("bob@example.com"))
	missReq := email.Get(evd.StringKey("nobody@example.com"))
	cityValsReq := city.GetAll(evd.Only(evd.StringKey("berlin")), 0)
	cityKeysReq := city.GetAllKeys(evd.Only(evd.StringKey("berlin")), 0)
	cityCountReq := city.Count(nil)

	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if got := await(t, getReq).([]byte); !bytes.Equal(got, userJSON("bob@example.com", "berlin", 29)) {
		t.Errorf("Expected the bob record via the email index, got %s", got)
	}
	if got := await(t, keyReq).(evd.Key); !got.Equal(evd.StringKey("u2")) {
		t.Errorf("Expected primary key u2, got %s", got)
	}
	if got := await(t, missReq); got != nil {
		t.Errorf("Expected nil for an unknown email, got %v", got)
	}
	if got := await(t, cityValsReq).([][]byte); len(got) != 2 {
		t.Errorf("Expected 2 records for berlin, got %d", len(got))
	}
	keys := await(t, cityKeysReq).([]evd.Key)
	if len(keys) != 2 || !keys[0].Equal(evd.StringKey("u2")) || !keys[1].Equal(evd.StringKey("u3")) {
		t.Errorf("Expected primary keys [u2 u3] for berlin, got %v", keys)
	}
	// u4 has no city and must not be indexed.
	if got := await(t, cityCountReq).(uint64); got != 3 {
		t.Errorf("Expected 3 index entries, got %d", got)
	}
}

func testUniqueIndex(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureIndexes)

	conn := openDatabase(t, fac, "app", 1, func(ev evd.UpgradeEvent) {
		st, err := ev.Database.CreateObjectStore("users", evd.StoreOptions{})
		if err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if _, err := st.CreateIndex("by_email", "email", evd.IndexOptions{Unique: true}); err != nil {
			t.Errorf("CreateIndex failed: %v", err)
		}
	})
	defer conn.Close()

	seedRecords(t, conn, "users", [][2]string{
		{"u1", string(userJSON("ada@example.com", "london", 36))},
	})

	txn, err := conn.Transaction([]string{"users"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("users")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	dupReq := st.Put(userJSON("ada@example.com", "paris", 50), evd.StringKey("u2"))

	txErr := awaitTx(txn)
	if !evd.IsCode(txErr, evd.ErrCConstraint) {
		t.Errorf("Expected the duplicate index key to abort with a constraint error, got %v", txErr)
	}
	if err := awaitSettle(dupReq); !evd.IsCode(err, evd.ErrCConstraint) {
		t.Errorf("Expected the put to fail with a constraint error, got %v", err)
	}
	if got := readValue(t, conn, "users", evd.StringKey("u2")); got != nil {
		t.Errorf("Expected the conflicting record to be absent, found %s", got)
	}

	// Updating the holder of the index key in place is not a conflict.
	seedRecords(t, conn, "users", [][2]string{
		{"u1", string(userJSON("ada@example.com", "paris", 37))},
	})
	if got := readValue(t, conn, "users", evd.StringKey("u1")); !bytes.Equal(got, userJSON("ada@example.com", "paris", 37)) {
		t.Errorf("Expected the in-place update to succeed, got %s", got)
	}
}

func testCursors(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}, {"e", "5"}, {"f", "6"},
	})

	// Forward over everything.
	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	var visited []string
	drainCursor(t, st.OpenCursor(nil, evd.Next), func(cur evd.Cursor) {
		k, _ := cur.Key().Str()
		visited = append(visited, k+"="+string(cur.Value()))
	})
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	want := []string{"a=1", "b=2", "c=3", "d=4", "e=5", "f=6"}
	if fmt.Sprint(visited) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, visited)
	}

	// Backward over a bounded range.
	txn2, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, _ := txn2.ObjectStore("items")
	visited = nil
	rng := evd.Bound(evd.StringKey("b"), evd.StringKey("e"), false, false)
	drainCursor(t, st2.OpenCursor(rng, evd.Prev), func(cur evd.Cursor) {
		k, _ := cur.Key().Str()
		visited = append(visited, k)
	})
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	want = []string{"e", "d", "c", "b"}
	if fmt.Sprint(visited) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, visited)
	}

	// Continue with a target key and Advance skip positions.
	txn3, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st3, _ := txn3.ObjectStore("items")
	req := st3.OpenCursor(nil, evd.Next)
	if err := awaitSettle(req); err != nil {
		t.Fatalf("Cursor open failed: %v", err)
	}
	cur := req.Result().(evd.Cursor)
	if k, _ := cur.Key().Str(); k != "a" {
		t.Errorf("Expected the cursor to open on a, got %s", k)
	}
	if err := cur.Continue(evd.StringKey("d")); err != nil {
		t.Fatalf("Cursor continue failed: %v", err)
	}
	if err := awaitSettle(req); err != nil {
		t.Fatalf("Cursor step failed: %v", err)
	}
	if k, _ := cur.Key().Str(); req.Result() == nil || k != "d" {
		t.Errorf("Expected the cursor to land on d, got %s", k)
	}
	if err := cur.Advance(2); err != nil {
		t.Fatalf("Cursor advance failed: %v", err)
	}
	if err := awaitSettle(req); err != nil {
		t.Fatalf("Cursor step failed: %v", err)
	}
	if k, _ := cur.Key().Str(); req.Result() == nil || k != "f" {
		t.Errorf("Expected the cursor to advance to f, got %s", k)
	}
	// Closing early releases the transaction.
	if err := cur.Close(); err != nil {
		t.Fatalf("Cursor close failed: %v", err)
	}
	if err := awaitTx(txn3); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	// A cursor over an empty range opens with a nil result.
	txn4, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st4, _ := txn4.ObjectStore("items")
	emptyReq := st4.OpenCursor(evd.LowerBound(evd.StringKey("zzz"), false), evd.Next)
	if err := awaitSettle(emptyReq); err != nil {
		t.Fatalf("Cursor open failed: %v", err)
	}
	if emptyReq.Result() != nil {
		t.Errorf("Expected a nil cursor for an empty range")
	}
	if err := awaitTx(txn4); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
}

func testCursorMutation(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{
		{"a", "1"}, {"b", "2"}, {"c", "3"},
	})

	// Update and delete through a cursor.
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	drainCursor(t, st.OpenCursor(nil, evd.Next), func(cur evd.Cursor) {
		k, _ := cur.Key().Str()
		switch k {
		case "b":
			cur.Update([]byte("2!"))
		case "c":
			cur.Delete()
		}
	})
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := readValue(t, conn, "items", evd.StringKey("b")); !bytes.Equal(got, []byte("2!")) {
		t.Errorf("Expected the cursor update to stick, got %s", got)
	}
	if got := readValue(t, conn, "items", evd.StringKey("c")); got != nil {
		t.Errorf("Expected the cursor delete to stick, found %s", got)
	}

	// Key cursors carry no values and refuse updates.
	if !fac.SupportsFeature(evd.FeatureKeyCursors) {
		return
	}
	txn2, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, _ := txn2.ObjectStore("items")
	req := st2.OpenKeyCursor(nil, evd.Next)
	if err := awaitSettle(req); err != nil {
		t.Fatalf("Cursor open failed: %v", err)
	}
	cur := req.Result().(evd.Cursor)
	if cur.Value() != nil {
		t.Errorf("Expected a key cursor to carry no value")
	}
	if err := awaitSettle(cur.Update([]byte("x"))); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected updating a key cursor to fail, got %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Cursor close failed: %v", err)
	}
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
}

func testAbortRollback(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{{"stable", "before"}})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	aborted := false
	txn.OnAbort(func() { aborted = true })

	st.Put([]byte("after"), evd.StringKey("stable"))
	st.Put([]byte("x"), evd.StringKey("extra"))
	if err := txn.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	txErr := awaitTx(txn)
	if !evd.IsCode(txErr, evd.ErrCAbort) {
		t.Errorf("Expected an abort error, got %v", txErr)
	}
	if !aborted {
		t.Errorf("Expected the abort listener to fire")
	}
	if err := txn.Abort(); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected aborting a finished transaction to fail, got %v", err)
	}

	if got := readValue(t, conn, "items", evd.StringKey("stable")); !bytes.Equal(got, []byte("before")) {
		t.Errorf("Expected the abort to restore the record, got %s", got)
	}
	if got := readValue(t, conn, "items", evd.StringKey("extra")); got != nil {
		t.Errorf("Expected the aborted insert to vanish, found %s", got)
	}
}

func testTransactionLifecycle(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{{"k", "v"}})

	// A hold allows blocking waits between requests.
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	release, err := txn.Hold()
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	got := await(t, st.Get(evd.StringKey("k"))).([]byte)
	st.Put(append(got, '!'), evd.StringKey("k"))
	release()
	release() // releasing twice is a no-op
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := readValue(t, conn, "items", evd.StringKey("k")); !bytes.Equal(got, []byte("v!")) {
		t.Errorf("Expected v!, got %s", got)
	}

	// Commit refuses later requests.
	txn2, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, _ := txn2.ObjectStore("items")
	if err := txn2.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := awaitSettle(st2.Get(evd.StringKey("k"))); !evd.IsCode(err, evd.ErrCTransactionInactive) {
		t.Errorf("Expected a request after commit to fail, got %v", err)
	}
	if _, err := txn2.Hold(); !evd.IsCode(err, evd.ErrCTransactionInactive) {
		t.Errorf("Expected a hold after commit to fail, got %v", err)
	}
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	// An idle transaction stays open until told otherwise.
	txn3, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := txn3.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := awaitTx(txn3); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if txn.Mode() != evd.ReadWrite {
		t.Errorf("Expected mode readwrite, got %v", txn.Mode())
	}
	names := txn.StoreNames()
	if len(names) != 1 || names[0] != "items" {
		t.Errorf("Expected store names [items], got %v", names)
	}
	if txn.Database() != conn {
		t.Errorf("Expected the transaction to report its connection")
	}
}

func testReadOnly(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	seedRecords(t, conn, "items", [][2]string{{"k", "v"}})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	if err := awaitSettle(st.Put([]byte("w"), evd.StringKey("k"))); !evd.IsCode(err, evd.ErrCReadOnly) {
		t.Errorf("Expected a read-only error, got %v", err)
	}
	getReq := st.Get(evd.StringKey("k"))
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, getReq).([]byte); !bytes.Equal(got, []byte("v")) {
		t.Errorf("Expected v, got %s", got)
	}

	// Two read-only transactions may run side by side.
	txnA, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	txnB, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	stA, _ := txnA.ObjectStore("items")
	stB, _ := txnB.ObjectStore("items")
	reqA := stA.Get(evd.StringKey("k"))
	reqB := stB.Get(evd.StringKey("k"))
	if err := awaitTx(txnA); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := awaitTx(txnB); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, reqA).([]byte); !bytes.Equal(got, []byte("v")) {
		t.Errorf("Expected v from the first reader, got %s", got)
	}
	if got := await(t, reqB).([]byte); !bytes.Equal(got, []byte("v")) {
		t.Errorf("Expected v from the second reader, got %s", got)
	}
}

func testVersionGate(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)

	// Schema changes need a version change transaction.
	if _, err := conn.CreateObjectStore("more", evd.StoreOptions{}); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected creating a store outside an upgrade to fail, got %v", err)
	}
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("items")
	if _, err := st.CreateIndex("by_x", "x", evd.IndexOptions{}); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected creating an index outside an upgrade to fail, got %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	conn.Close()

	// Upgrade to 3, then ask for less.
	conn3 := openDatabase(t, fac, "app", 3, nil)
	conn3.Close()
	err = awaitSettle(fac.Open("app", 2))
	if !evd.IsCode(err, evd.ErrCVersion) {
		t.Errorf("Expected a version error when opening below the current version, got %v", err)
	}
}

func testUpgradeBlocked(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn1 := setupStore(t, fac, "app", "items", false)

	vcFired := make(chan struct{})
	conn1.OnVersionChange(func(oldV, newV uint64) {
		if oldV != 1 || newV != 2 {
			t.Errorf("Expected version change 1 -> 2, got %d -> %d", oldV, newV)
		}
		close(vcFired)
	})

	req := fac.Open("app", 2)
	blockedFired := false
	req.OnBlocked(func(oldV, newV uint64) {
		blockedFired = true
		if oldV != 1 || newV != 2 {
			t.Errorf("Expected blocked 1 -> 2, got %d -> %d", oldV, newV)
		}
		select {
		case <-vcFired:
		default:
			t.Errorf("Expected the version change signal before blocked")
		}
		// Unblock the upgrade.
		conn1.Close()
	})
	var upOld, upNew uint64
	req.OnUpgradeNeeded(func(ev evd.UpgradeEvent) {
		upOld, upNew = ev.OldVersion, ev.NewVersion
	})

	result := await(t, req)
	conn2, ok := result.(evd.Database)
	if !ok {
		t.Fatalf("Expected open to yield a connection, got %T", result)
	}
	defer conn2.Close()

	if !blockedFired {
		t.Errorf("Expected the blocked signal while the old connection was open")
	}
	if upOld != 1 || upNew != 2 {
		t.Errorf("Expected upgrade 1 -> 2, got %d -> %d", upOld, upNew)
	}
	if conn2.Version() != 2 {
		t.Errorf("Expected version 2 after the upgrade, got %d", conn2.Version())
	}
	// Data must survive a plain version bump.
	seedRecords(t, conn2, "items", [][2]string{{"k", "v"}})
	if got := readValue(t, conn2, "items", evd.StringKey("k")); !bytes.Equal(got, []byte("v")) {
		t.Errorf("Expected v, got %s", got)
	}
}

func testDeleteDatabase(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureDeleteDatabase)

	conn := openDatabase(t, fac, "gone", 3, func(ev evd.UpgradeEvent) {
		if _, err := ev.Database.CreateObjectStore("items", evd.StoreOptions{}); err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
		}
	})
	seedRecords(t, conn, "items", [][2]string{{"k", "v"}})
	conn.Close()

	if got := await(t, fac.DeleteDatabase("gone")).(uint64); got != 3 {
		t.Errorf("Expected the delete to report version 3, got %d", got)
	}
	if got := await(t, fac.DeleteDatabase("never-existed")).(uint64); got != 0 {
		t.Errorf("Expected version 0 for an unknown database, got %d", got)
	}

	if fac.SupportsFeature(evd.FeatureEnumerate) {
		infos, err := fac.Databases()
		if err != nil {
			t.Fatalf("Databases failed: %v", err)
		}
		for _, info := range infos {
			if info.Name == "gone" {
				t.Errorf("Expected the deleted database to vanish from the listing")
			}
		}
	}

	// Reopening starts from scratch.
	upgraded := false
	conn2 := openDatabase(t, fac, "gone", 0, func(ev evd.UpgradeEvent) {
		upgraded = true
		if ev.OldVersion != 0 || ev.NewVersion != 1 {
			t.Errorf("Expected upgrade 0 -> 1 after deletion, got %d -> %d", ev.OldVersion, ev.NewVersion)
		}
	})
	defer conn2.Close()
	if !upgraded {
		t.Errorf("Expected a fresh upgrade after deletion")
	}
	if len(conn2.ObjectStoreNames()) != 0 {
		t.Errorf("Expected no stores after deletion, got %v", conn2.ObjectStoreNames())
	}
}

func testEnumerate(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureEnumerate)

	connB := setupStore(t, fac, "beta", "items", false)
	defer connB.Close()
	connA := openDatabase(t, fac, "alpha", 2, nil)
	defer connA.Close()

	infos, err := fac.Databases()
	if err != nil {
		t.Fatalf("Databases failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 databases, got %d", len(infos))
	}
	if infos[0].Name != "alpha" || infos[0].Version != 2 {
		t.Errorf("Expected alpha at version 2 first, got %+v", infos[0])
	}
	if infos[1].Name != "beta" || infos[1].Version != 1 {
		t.Errorf("Expected beta at version 1 second, got %+v", infos[1])
	}
}

func testSaveLoad(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureSnapshots)

	conn := openDatabase(t, fac, "snap", 2, func(ev evd.UpgradeEvent) {
		st, err := ev.Database.CreateObjectStore("users", evd.StoreOptions{AutoIncrement: true})
		if err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if _, err := st.CreateIndex("by_email", "email", evd.IndexOptions{Unique: true}); err != nil {
			t.Errorf("CreateIndex failed: %v", err)
		}
	})

	txn, err := conn.Transaction([]string{"users"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("users")
	st.Put(userJSON("ada@example.com", "london", 36), nil)
	st.Put(userJSON("bob@example.com", "berlin", 29), nil)
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	var buf bytes.Buffer
	if err := fac.Save("snap", &buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("Expected the snapshot to carry data")
	}

	// Loading over a database with open connections must be refused.
	if _, err := fac.Load(bytes.NewReader(buf.Bytes())); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected loading over an open database to fail, got %v", err)
	}

	// Mutate after the save, then restore.
	txn2, err := conn.Transaction([]string{"users"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, _ := txn2.ObjectStore("users")
	st2.Clear()
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	conn.Close()

	name, err := fac.Load(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if name != "snap" {
		t.Errorf("Expected the load to report snap, got %s", name)
	}

	conn2 := openDatabase(t, fac, "snap", 0, func(ev evd.UpgradeEvent) {
		t.Errorf("Unexpected upgrade to version %d after load", ev.NewVersion)
	})
	defer conn2.Close()
	if conn2.Version() != 2 {
		t.Errorf("Expected version 2 after load, got %d", conn2.Version())
	}
	if got := countStore(t, conn2, "users"); got != 2 {
		t.Errorf("Expected 2 restored records, got %d", got)
	}

	// Index and key generator state survive the round trip.
	txn3, err := conn2.Transaction([]string{"users"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st3, _ := txn3.ObjectStore("users")
	idx, err := st3.Index("by_email")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	keyReq := idx.GetKey(evd.StringKey("bob@example.com"))
	genReq := st3.Put(userJSON("cleo@example.com", "oslo", 41), nil)
	if err := awaitTx(txn3); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, keyReq).(evd.Key); !got.Equal(evd.Float64Key(2)) {
		t.Errorf("Expected the restored index to find primary key 2, got %s", got)
	}
	if got := await(t, genReq).(evd.Key); !got.Equal(evd.Float64Key(3)) {
		t.Errorf("Expected the restored generator to continue at 3, got %s", got)
	}
}

func testStats(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureStats)

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()
	seedRecords(t, conn, "items", [][2]string{
		{"k1", "small"}, {"k2", "a somewhat longer value"}, {"k3", "v"},
	})

	stats, err := fac.Stats("app")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Name != "app" || stats.Version != 1 {
		t.Errorf("Expected app at version 1, got %s at %d", stats.Name, stats.Version)
	}
	if stats.DbType == "" {
		t.Errorf("Expected a database type")
	}
	if len(stats.Stores) != 1 {
		t.Fatalf("Expected 1 store, got %d", len(stats.Stores))
	}
	s := stats.Stores[0]
	if s.Name != "items" || s.Records != 3 {
		t.Errorf("Expected items with 3 records, got %s with %d", s.Name, s.Records)
	}
	if s.BytesValues == 0 || s.ValueSizes.Count != 3 {
		t.Errorf("Expected value size accounting, got %+v", s)
	}

	if _, err := fac.Stats("absent"); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected a not-found error for an unknown database, got %v", err)
	}
}

func testEngineClose(t *testing.T, fac evd.Factory) {
	conn := setupStore(t, fac, "app", "items", false)

	closed := make(chan struct{})
	conn.OnClose(func() { close(closed) })

	// An idle transaction is aborted by the engine shutdown.
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	if err := fac.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	<-closed

	if err := awaitTx(txn); err == nil {
		t.Errorf("Expected the shutdown to abort the idle transaction")
	}
	if _, err := conn.Transaction([]string{"items"}, evd.ReadWrite); !evd.IsCode(err, evd.ErrCClosed) {
		t.Errorf("Expected transactions on a closed connection to fail, got %v", err)
	}
	if err := awaitSettle(fac.Open("app", 0)); !evd.IsCode(err, evd.ErrCClosed) {
		t.Errorf("Expected opening on a closed engine to fail, got %v", err)
	}
	if err := fac.Close(); err != nil {
		t.Errorf("Expected closing twice to be a no-op, got %v", err)
	}
}

func testConcurrentWriters(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
			if err != nil {
				errs <- err
				return
			}
			st, err := txn.ObjectStore("items")
			if err != nil {
				errs <- err
				return
			}
			for i := 0; i < perWorker; i++ {
				st.Put([]byte("v"), evd.StringKey(fmt.Sprintf("w%d-%03d", w, i)))
			}
			errs <- awaitTx(txn)
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Writer failed: %v", err)
		}
	}

	if got := countStore(t, conn, "items"); got != workers*perWorker {
		t.Errorf("Expected %d records, got %d", workers*perWorker, got)
	}
}

func testEdgeCases(t *testing.T, fac evd.Factory) {
	defer fac.Close()

	conn := setupStore(t, fac, "app", "items", false)
	defer conn.Close()

	// Scope validation.
	if _, err := conn.Transaction(nil, evd.ReadOnly); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected an empty scope to fail, got %v", err)
	}
	if _, err := conn.Transaction([]string{"nope"}, evd.ReadOnly); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected an unknown store to fail, got %v", err)
	}
	if _, err := conn.Transaction([]string{"items"}, evd.VersionChange); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a caller-made version change to fail, got %v", err)
	}

	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}

	// A nil value is refused before it reaches the store.
	if err := awaitSettle(st.Put(nil, evd.StringKey("k"))); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a nil value to fail, got %v", err)
	}
	// An empty value is data.
	emptyReq := st.Put([]byte{}, evd.StringKey("empty"))

	// Keys of different types order by type first: numbers, strings, binary.
	st.Put([]byte("n10"), evd.Float64Key(10))
	st.Put([]byte("s"), evd.StringKey("a"))
	st.Put([]byte("n2"), evd.Float64Key(2))
	st.Put([]byte("bin"), evd.BinaryKey([]byte{0x01}))
	orderReq := st.GetAllKeys(nil, 0)

	if err := awaitTx(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if err := awaitSettle(emptyReq); err != nil {
		t.Errorf("Expected an empty value to be stored, got %v", err)
	}
	keys := await(t, orderReq).([]evd.Key)
	want := []evd.Key{
		evd.Float64Key(2),
		evd.Float64Key(10),
		evd.StringKey("a"),
		evd.StringKey("empty"),
		evd.BinaryKey([]byte{0x01}),
	}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d keys, got %d (%v)", len(want), len(keys), keys)
	}
	for i := range keys {
		if !keys[i].Equal(want[i]) {
			t.Errorf("Expected key %d to be %s, got %s", i, want[i], keys[i])
		}
	}

	// Reads on an empty range.
	txn2, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, _ := txn2.ObjectStore("items")
	nilReq := st2.Get(evd.StringKey("missing"))
	emptyAllReq := st2.GetAll(evd.Only(evd.StringKey("missing")), 0)
	zeroCountReq := st2.Count(evd.Only(evd.StringKey("missing")))
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, nilReq); got != nil {
		t.Errorf("Expected nil for a missing key, got %v", got)
	}
	if got := await(t, emptyAllReq).([][]byte); len(got) != 0 {
		t.Errorf("Expected an empty result set, got %d", len(got))
	}
	if got := await(t, zeroCountReq).(uint64); got != 0 {
		t.Errorf("Expected count 0, got %d", got)
	}
}

func testRealisticUsage(t *testing.T, fac evd.Factory) {
	defer fac.Close()
	requireFeature(t, fac, evd.FeatureIndexes)

	conn := openDatabase(t, fac, "crm", 1, func(ev evd.UpgradeEvent) {
		users, err := ev.Database.CreateObjectStore("users", evd.StoreOptions{AutoIncrement: true})
		if err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if _, err := users.CreateIndex("by_email", "email", evd.IndexOptions{Unique: true}); err != nil {
			t.Errorf("CreateIndex failed: %v", err)
		}
		if _, err := users.CreateIndex("by_city", "address.city", evd.IndexOptions{}); err != nil {
			t.Errorf("CreateIndex failed: %v", err)
		}
		if _, err := ev.Database.CreateObjectStore("audit", evd.StoreOptions{AutoIncrement: true}); err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
		}
	})
	defer conn.Close()

	// Insert users and an audit entry in one transaction across stores.
	txn, err := conn.Transaction([]string{"users", "audit"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	users, _ := txn.ObjectStore("users")
	audit, _ := txn.ObjectStore("audit")
	users.Put(userJSON("ada@example.com", "london", 36), nil)
	users.Put(userJSON("bob@example.com", "berlin", 29), nil)
	users.Put(userJSON("cleo@example.com", "berlin", 41), nil)
	users.Put(userJSON("dan@example.com", "oslo", 23), nil)
	audit.Put([]byte(`{"op":"import","count":4}`), nil)
	if err := awaitTx(txn); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	// Look one user up by email, scan a city backwards through a cursor.
	txn2, err := conn.Transaction([]string{"users"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st2, _ := txn2.ObjectStore("users")
	emailIdx, err := st2.Index("by_email")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	cityIdx, err := st2.Index("by_city")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	keyReq := emailIdx.GetKey(evd.StringKey("cleo@example.com"))
	var berliners []string
	drainCursor(t, cityIdx.OpenCursor(evd.Only(evd.StringKey("berlin")), evd.Prev), func(cur evd.Cursor) {
		berliners = append(berliners, cur.PrimaryKey().String())
	})
	if err := awaitTx(txn2); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, keyReq).(evd.Key); !got.Equal(evd.Float64Key(3)) {
		t.Errorf("Expected cleo under primary key 3, got %s", got)
	}
	if len(berliners) != 2 {
		t.Errorf("Expected 2 users in berlin, got %v", berliners)
	}

	// Move bob, delete dan, verify the index follows.
	txn3, err := conn.Transaction([]string{"users"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st3, _ := txn3.ObjectStore("users")
	st3.Put(userJSON("bob@example.com", "oslo", 29), evd.Float64Key(2))
	st3.Delete(evd.Only(evd.Float64Key(4)))
	if err := awaitTx(txn3); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	txn4, err := conn.Transaction([]string{"users"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st4, _ := txn4.ObjectStore("users")
	cityIdx4, _ := st4.Index("by_city")
	berlinReq := cityIdx4.Count(evd.Only(evd.StringKey("berlin")))
	osloReq := cityIdx4.Count(evd.Only(evd.StringKey("oslo")))
	totalReq := st4.Count(nil)
	if err := awaitTx(txn4); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	if got := await(t, berlinReq).(uint64); got != 1 {
		t.Errorf("Expected 1 user left in berlin, got %d", got)
	}
	if got := await(t, osloReq).(uint64); got != 1 {
		t.Errorf("Expected 1 user in oslo after the move and delete, got %d", got)
	}
	if got := await(t, totalReq).(uint64); got != 3 {
		t.Errorf("Expected 3 users, got %d", got)
	}
}
