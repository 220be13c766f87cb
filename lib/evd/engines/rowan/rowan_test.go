package rowan

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newTestFactory(t *testing.T, opts *Options) evd.Factory {
	t.Helper()
	fac, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = fac.Close() })
	return fac
}

func openTestDB(t *testing.T, fac evd.Factory, name string, version uint64, upgrade func(ev evd.UpgradeEvent)) evd.Database {
	t.Helper()
	req := fac.Open(name, version)
	if upgrade != nil {
		defer req.OnUpgradeNeeded(upgrade)()
	}
	res, err := awaitRequest(req)
	if err != nil {
		t.Fatalf("Open of %q failed: %v", name, err)
	}
	return res.(evd.Database)
}

func txDone(txn evd.Transaction) error {
	done := make(chan struct{})
	var once sync.Once
	settle := func() { once.Do(func() { close(done) }) }
	defer txn.OnComplete(settle)()
	defer txn.OnAbort(settle)()
	<-done
	return txn.Err()
}

func waitTx(t *testing.T, txn evd.Transaction) {
	t.Helper()
	if err := txDone(txn); err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
}

// setupItems opens a version 1 database with one store named items and an
// optional non-unique index on the tag field.
func setupItems(t *testing.T, fac evd.Factory, withIndex bool) evd.Database {
	t.Helper()
	return openTestDB(t, fac, "testdb", 1, func(ev evd.UpgradeEvent) {
		st, err := ev.Database.CreateObjectStore("items", evd.StoreOptions{})
		if err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if withIndex {
			if _, err := st.CreateIndex("by_tag", "tag", evd.IndexOptions{}); err != nil {
				t.Errorf("CreateIndex failed: %v", err)
			}
		}
	})
}

func putItems(t *testing.T, conn evd.Database, pairs [][2]string) {
	t.Helper()
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	for _, p := range pairs {
		st.Put([]byte(p[1]), evd.StringKey(p[0]))
	}
	waitTx(t, txn)
}

func getItem(t *testing.T, conn evd.Database, key evd.Key) []byte {
	t.Helper()
	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		t.Fatalf("ObjectStore failed: %v", err)
	}
	res, err := awaitRequest(st.Get(key))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	waitTx(t, txn)
	if res == nil {
		return nil
	}
	return res.([]byte)
}

// stepCursor waits for the next cursor settle. A nil return means the
// cursor is exhausted.
func stepCursor(t *testing.T, req evd.Request) evd.Cursor {
	t.Helper()
	res, err := awaitRequest(req)
	if err != nil {
		t.Fatalf("Cursor request failed: %v", err)
	}
	if res == nil {
		return nil
	}
	return res.(evd.Cursor)
}

func tagJSON(tag string) string {
	return fmt.Sprintf(`{"tag":%q}`, tag)
}

// --------------------------------------------------------------------------
// Codecs
// --------------------------------------------------------------------------

// TestCodecParse tests the codec name round trip and rejection of unknown
// names and values.
func TestCodecParse(t *testing.T) {
	for _, c := range []Codec{CodecNone, CodecSnappy, CodecZstd, CodecLZ4} {
		parsed, err := ParseCodec(c.String())
		if err != nil {
			t.Errorf("ParseCodec(%q) failed: %v", c.String(), err)
		}
		if parsed != c {
			t.Errorf("Expected codec %v, got %v", c, parsed)
		}
		if !c.IsSupported() {
			t.Errorf("Codec %v should be supported", c)
		}
	}

	if c, err := ParseCodec(""); err != nil || c != CodecNone {
		t.Errorf("Expected empty name to parse as none, got %v, %v", c, err)
	}
	if _, err := ParseCodec("brotli"); err == nil {
		t.Errorf("Expected an error for an unknown codec name")
	}
	if Codec(200).IsSupported() {
		t.Errorf("Codec 200 should not be supported")
	}
}

// TestCodecRoundTrip tests that every codec restores the original bytes.
func TestCodecRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("rowan snapshot payload "), 512)
	for _, c := range []Codec{CodecNone, CodecSnappy, CodecZstd, CodecLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			compressed, err := compress(c, payload)
			if err != nil {
				t.Fatalf("compress failed: %v", err)
			}
			restored, err := decompress(c, compressed)
			if err != nil {
				t.Fatalf("decompress failed: %v", err)
			}
			if !bytes.Equal(restored, payload) {
				t.Errorf("Round trip changed the payload (%d bytes in, %d bytes out)", len(payload), len(restored))
			}
		})
	}
}

// TestNewRejectsUnknownCodec tests that the factory refuses options with a
// codec it cannot write.
func TestNewRejectsUnknownCodec(t *testing.T) {
	_, err := New(&Options{CloneValues: true, SnapshotCodec: Codec(200)})
	if !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error, got %v", err)
	}
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// TestSnapshotAcrossCodecs tests that a snapshot written with any codec
// loads into another engine with records, key generator and indexes intact.
func TestSnapshotAcrossCodecs(t *testing.T) {
	big := bytes.Repeat([]byte("abcdefgh"), 4096)

	for _, c := range []Codec{CodecNone, CodecSnappy, CodecZstd, CodecLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			src := newTestFactory(t, &Options{CloneValues: true, SnapshotCodec: c})
			conn := setupItems(t, src, true)
			putItems(t, conn, [][2]string{
				{"k1", tagJSON("red")},
				{"k2", tagJSON("blue")},
			})

			txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
			if err != nil {
				t.Fatalf("Transaction failed: %v", err)
			}
			st, _ := txn.ObjectStore("items")
			st.Put(big, evd.StringKey("k3"))
			waitTx(t, txn)
			conn.Close()

			var buf bytes.Buffer
			if err := src.Save("testdb", &buf); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			dst := newTestFactory(t, nil)
			name, err := dst.Load(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if name != "testdb" {
				t.Errorf("Expected database name testdb, got %q", name)
			}

			conn2 := openTestDB(t, dst, "testdb", 0, nil)
			defer conn2.Close()
			if conn2.Version() != 1 {
				t.Errorf("Expected version 1 after load, got %d", conn2.Version())
			}
			if got := getItem(t, conn2, evd.StringKey("k3")); !bytes.Equal(got, big) {
				t.Errorf("Large value did not survive the round trip (%d bytes)", len(got))
			}

			txn2, err := conn2.Transaction([]string{"items"}, evd.ReadOnly)
			if err != nil {
				t.Fatalf("Transaction failed: %v", err)
			}
			st2, _ := txn2.ObjectStore("items")
			idx, err := st2.Index("by_tag")
			if err != nil {
				t.Fatalf("Index was not rebuilt: %v", err)
			}
			res, err := awaitRequest(idx.GetKey(evd.StringKey("blue")))
			if err != nil {
				t.Fatalf("Index lookup failed: %v", err)
			}
			if res == nil || !res.(evd.Key).Equal(evd.StringKey("k2")) {
				t.Errorf("Expected index lookup to yield k2, got %v", res)
			}
			waitTx(t, txn2)
		})
	}
}

// TestSnapshotCorruption tests that Load rejects damaged snapshots.
func TestSnapshotCorruption(t *testing.T) {
	src := newTestFactory(t, nil)
	conn := setupItems(t, src, false)
	putItems(t, conn, [][2]string{{"k1", "v1"}, {"k2", "v2"}})
	conn.Close()

	var buf bytes.Buffer
	if err := src.Save("testdb", &buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap := buf.Bytes()

	dst := newTestFactory(t, nil)

	corrupt := func(offset int, b byte) []byte {
		out := append([]byte(nil), snap...)
		out[offset] = b
		return out
	}

	t.Run("Truncated", func(t *testing.T) {
		if _, err := dst.Load(bytes.NewReader(snap[:4])); err == nil {
			t.Errorf("Expected an error for a truncated snapshot")
		}
	})

	t.Run("BadMagic", func(t *testing.T) {
		_, err := dst.Load(bytes.NewReader(corrupt(0, 'X')))
		if !evd.IsCode(err, evd.ErrCData) {
			t.Errorf("Expected a data error, got %v", err)
		}
	})

	t.Run("BadFormat", func(t *testing.T) {
		// The format byte follows the 8 byte magic.
		_, err := dst.Load(bytes.NewReader(corrupt(8, 0x7F)))
		if !evd.IsCode(err, evd.ErrCData) {
			t.Errorf("Expected a data error, got %v", err)
		}
	})

	t.Run("BadCodec", func(t *testing.T) {
		_, err := dst.Load(bytes.NewReader(corrupt(9, 0x7F)))
		if !evd.IsCode(err, evd.ErrCData) {
			t.Errorf("Expected a data error, got %v", err)
		}
	})

	t.Run("BadChecksum", func(t *testing.T) {
		// The checksum covers the compressed payload, which ends 8 bytes
		// before the end of the snapshot.
		_, err := dst.Load(bytes.NewReader(corrupt(len(snap)-9, snap[len(snap)-9]^0xFF)))
		if !evd.IsCode(err, evd.ErrCData) {
			t.Errorf("Expected a data error, got %v", err)
		}
	})

	// None of the rejected loads may have created the database.
	if _, err := dst.Stats("testdb"); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected no database after rejected loads, got %v", err)
	}
}

// TestSnapshotClosedEngine tests Save and Load on unknown databases and
// closed engines.
func TestSnapshotClosedEngine(t *testing.T) {
	fac := newTestFactory(t, nil)
	var buf bytes.Buffer
	if err := fac.Save("nope", &buf); !evd.IsCode(err, evd.ErrCNotFound) {
		t.Errorf("Expected a not found error, got %v", err)
	}

	closed, err := New(nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := closed.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := closed.Save("any", &buf); !evd.IsCode(err, evd.ErrCClosed) {
		t.Errorf("Expected a closed error from Save, got %v", err)
	}
	if _, err := closed.Load(bytes.NewReader(nil)); err == nil {
		t.Errorf("Expected an error from Load on a closed engine")
	}
}

// --------------------------------------------------------------------------
// Upgrades
// --------------------------------------------------------------------------

// TestUpgradeAbortRestoresSchema tests that aborting a version change
// rolls back schema operations and data alike, including the version number.
func TestUpgradeAbortRestoresSchema(t *testing.T) {
	fac := newTestFactory(t, nil)
	conn := setupItems(t, fac, false)
	putItems(t, conn, [][2]string{{"u1", `{"name":"ada"}`}})
	conn.Close()

	req := fac.Open("testdb", 2)
	upgradeRan := false
	remove := req.OnUpgradeNeeded(func(ev evd.UpgradeEvent) {
		upgradeRan = true
		if _, err := ev.Database.CreateObjectStore("temp", evd.StoreOptions{}); err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if err := ev.Database.DeleteObjectStore("items"); err != nil {
			t.Errorf("DeleteObjectStore failed: %v", err)
			return
		}
		if err := ev.Transaction.Abort(); err != nil {
			t.Errorf("Abort failed: %v", err)
		}
	})
	defer remove()

	_, err := awaitRequest(req)
	if !evd.IsCode(err, evd.ErrCAbort) {
		t.Fatalf("Expected the open to fail with an abort error, got %v", err)
	}
	if !upgradeRan {
		t.Fatalf("Upgrade listener never ran")
	}

	conn2 := openTestDB(t, fac, "testdb", 0, nil)
	defer conn2.Close()
	if conn2.Version() != 1 {
		t.Errorf("Expected version 1 after the aborted upgrade, got %d", conn2.Version())
	}
	names := conn2.ObjectStoreNames()
	if len(names) != 1 || names[0] != "items" {
		t.Errorf("Expected store list [items], got %v", names)
	}
	if got := getItem(t, conn2, evd.StringKey("u1")); !bytes.Equal(got, []byte(`{"name":"ada"}`)) {
		t.Errorf("Expected the record to survive the rollback, got %q", got)
	}
}

// --------------------------------------------------------------------------
// Value Cloning
// --------------------------------------------------------------------------

// TestCloneValues tests the CloneValues option in both settings.
func TestCloneValues(t *testing.T) {
	t.Run("Defensive", func(t *testing.T) {
		fac := newTestFactory(t, nil)
		conn := setupItems(t, fac, false)
		defer conn.Close()
		putItems(t, conn, [][2]string{{"k", "hello"}})

		got := getItem(t, conn, evd.StringKey("k"))
		got[0] = 'X'
		if again := getItem(t, conn, evd.StringKey("k")); !bytes.Equal(again, []byte("hello")) {
			t.Errorf("Mutating a read result leaked into the store: %q", again)
		}
	})

	t.Run("Shared", func(t *testing.T) {
		fac := newTestFactory(t, &Options{CloneValues: false, SnapshotCodec: CodecSnappy})
		conn := setupItems(t, fac, false)
		defer conn.Close()
		putItems(t, conn, [][2]string{{"k", "hello"}})

		got := getItem(t, conn, evd.StringKey("k"))
		got[0] = 'X'
		if again := getItem(t, conn, evd.StringKey("k")); !bytes.Equal(again, []byte("Xello")) {
			t.Errorf("Expected reads to share the stored slice, got %q", again)
		}
	})
}

// --------------------------------------------------------------------------
// Cursor Semantics
// --------------------------------------------------------------------------

// TestUniqueCursorDirections tests that unique cursors visit each index key
// once and land on the entry with the lowest primary key.
func TestUniqueCursorDirections(t *testing.T) {
	fac := newTestFactory(t, nil)
	conn := setupItems(t, fac, true)
	defer conn.Close()
	putItems(t, conn, [][2]string{
		{"k1", tagJSON("a")},
		{"k2", tagJSON("a")},
		{"k3", tagJSON("b")},
		{"k4", tagJSON("b")},
		{"k5", tagJSON("c")},
	})

	collect := func(dir evd.Direction) [][2]string {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
		if err != nil {
			t.Fatalf("Transaction failed: %v", err)
		}
		st, _ := txn.ObjectStore("items")
		idx, err := st.Index("by_tag")
		if err != nil {
			t.Fatalf("Index failed: %v", err)
		}
		req := idx.OpenCursor(nil, dir)
		var out [][2]string
		for {
			cur := stepCursor(t, req)
			if cur == nil {
				break
			}
			tag, _ := cur.Key().Str()
			primary, _ := cur.PrimaryKey().Str()
			out = append(out, [2]string{tag, primary})
			if err := cur.Continue(nil); err != nil {
				t.Fatalf("Continue failed: %v", err)
			}
		}
		waitTx(t, txn)
		return out
	}

	next := collect(evd.NextUnique)
	wantNext := [][2]string{{"a", "k1"}, {"b", "k3"}, {"c", "k5"}}
	if len(next) != len(wantNext) {
		t.Fatalf("Expected %d positions, got %d: %v", len(wantNext), len(next), next)
	}
	for i, w := range wantNext {
		if next[i] != w {
			t.Errorf("Position %d: expected %v, got %v", i, w, next[i])
		}
	}

	prev := collect(evd.PrevUnique)
	wantPrev := [][2]string{{"c", "k5"}, {"b", "k3"}, {"a", "k1"}}
	if len(prev) != len(wantPrev) {
		t.Fatalf("Expected %d positions, got %d: %v", len(wantPrev), len(prev), prev)
	}
	for i, w := range wantPrev {
		if prev[i] != w {
			t.Errorf("Position %d: expected %v, got %v", i, w, prev[i])
		}
	}
}

// TestContinuePrimaryKey tests jumping within a run of duplicate index keys.
func TestContinuePrimaryKey(t *testing.T) {
	fac := newTestFactory(t, nil)
	conn := setupItems(t, fac, true)
	defer conn.Close()
	putItems(t, conn, [][2]string{
		{"k1", tagJSON("a")},
		{"k2", tagJSON("a")},
		{"k3", tagJSON("a")},
		{"k4", tagJSON("b")},
	})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("items")
	idx, err := st.Index("by_tag")
	if err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	req := idx.OpenCursor(nil, evd.Next)
	cur := stepCursor(t, req)
	if cur == nil {
		t.Fatalf("Expected an initial position")
	}
	if p, _ := cur.PrimaryKey().Str(); p != "k1" {
		t.Fatalf("Expected initial primary k1, got %q", p)
	}

	if err := cur.ContinuePrimaryKey(evd.StringKey("a"), evd.StringKey("k3")); err != nil {
		t.Fatalf("ContinuePrimaryKey failed: %v", err)
	}
	cur = stepCursor(t, req)
	if cur == nil {
		t.Fatalf("Expected a position at (a, k3)")
	}
	if p, _ := cur.PrimaryKey().Str(); p != "k3" {
		t.Errorf("Expected primary k3, got %q", p)
	}

	if err := cur.Continue(nil); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	cur = stepCursor(t, req)
	if cur == nil {
		t.Fatalf("Expected a position at (b, k4)")
	}
	if p, _ := cur.PrimaryKey().Str(); p != "k4" {
		t.Errorf("Expected primary k4, got %q", p)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	waitTx(t, txn)
}

// TestContinuePrimaryKeyGuards tests the synchronous rejections of
// ContinuePrimaryKey.
func TestContinuePrimaryKeyGuards(t *testing.T) {
	fac := newTestFactory(t, nil)
	conn := setupItems(t, fac, true)
	defer conn.Close()
	putItems(t, conn, [][2]string{{"k1", tagJSON("a")}, {"k2", tagJSON("b")}})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("items")
	idx, _ := st.Index("by_tag")

	storeCur := stepCursor(t, st.OpenCursor(nil, evd.Next))
	if err := storeCur.ContinuePrimaryKey(evd.StringKey("a"), evd.StringKey("k2")); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error on a store cursor, got %v", err)
	}

	uniqueCur := stepCursor(t, idx.OpenCursor(nil, evd.NextUnique))
	if err := uniqueCur.ContinuePrimaryKey(evd.StringKey("b"), evd.StringKey("k2")); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error on a unique cursor, got %v", err)
	}

	plainCur := stepCursor(t, idx.OpenCursor(nil, evd.Next))
	if err := plainCur.ContinuePrimaryKey(nil, evd.StringKey("k2")); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a nil index key, got %v", err)
	}

	_ = storeCur.Close()
	_ = uniqueCur.Close()
	_ = plainCur.Close()
	waitTx(t, txn)
}

// TestCursorStepGuards tests the rejection of invalid advances.
func TestCursorStepGuards(t *testing.T) {
	fac := newTestFactory(t, nil)
	conn := setupItems(t, fac, false)
	defer conn.Close()
	putItems(t, conn, [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}})

	txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("items")

	req := st.OpenCursor(nil, evd.Next)
	cur := stepCursor(t, req)
	if cur == nil {
		t.Fatalf("Expected an initial position")
	}

	if err := cur.Advance(0); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a zero advance, got %v", err)
	}
	if err := cur.Continue(evd.StringKey("a")); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a target at the cursor position, got %v", err)
	}

	// A reverse cursor must reject targets above its position.
	revReq := st.OpenCursor(nil, evd.Prev)
	revCur := stepCursor(t, revReq)
	if revCur == nil {
		t.Fatalf("Expected an initial reverse position")
	}
	if err := revCur.Continue(evd.StringKey("z")); !evd.IsCode(err, evd.ErrCData) {
		t.Errorf("Expected a data error for a target behind a reverse cursor, got %v", err)
	}
	if err := revCur.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := revCur.Continue(nil); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected an invalid state error after Close, got %v", err)
	}
	if err := revCur.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	// Drain the forward cursor and check the exhausted rejection.
	if err := cur.Advance(3); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if got := stepCursor(t, req); got != nil {
		t.Fatalf("Expected the cursor to be exhausted")
	}
	if err := cur.Continue(nil); !evd.IsCode(err, evd.ErrCInvalidState) {
		t.Errorf("Expected an invalid state error after exhaustion, got %v", err)
	}
	waitTx(t, txn)
}

// --------------------------------------------------------------------------
// Key Generator
// --------------------------------------------------------------------------

// TestKeyGeneratorBump tests how explicit keys advance the generator.
func TestKeyGeneratorBump(t *testing.T) {
	fac := newTestFactory(t, nil)
	conn := openTestDB(t, fac, "testdb", 1, func(ev evd.UpgradeEvent) {
		if _, err := ev.Database.CreateObjectStore("items", evd.StoreOptions{AutoIncrement: true}); err != nil {
			t.Errorf("CreateObjectStore failed: %v", err)
		}
	})
	defer conn.Close()

	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("items")

	first := st.Add([]byte("v"), nil)
	st.Put([]byte("v"), evd.Float64Key(7.9))
	second := st.Add([]byte("v"), nil)
	st.Put([]byte("v"), evd.Float64Key(-5))
	third := st.Add([]byte("v"), nil)
	st.Put([]byte("v"), evd.StringKey("zz"))
	fourth := st.Add([]byte("v"), nil)
	waitTx(t, txn)

	checks := []struct {
		req  evd.Request
		want float64
	}{
		{first, 1},
		{second, 8}, // 7.9 floors to 7, the generator continues above it
		{third, 9},  // negative keys do not move the generator
		{fourth, 10},
	}
	for i, c := range checks {
		res, err := awaitRequest(c.req)
		if err != nil {
			t.Fatalf("Add %d failed: %v", i, err)
		}
		if !res.(evd.Key).Equal(evd.Float64Key(c.want)) {
			t.Errorf("Add %d: expected generated key %g, got %s", i, c.want, res.(evd.Key))
		}
	}
}
