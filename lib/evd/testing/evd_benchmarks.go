package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/jmelchner/aDB/lib/evd"
)

// RunFactoryBenchmarks runs all benchmarks for an evd.Factory implementation
func RunFactoryBenchmarks(b *testing.B, name string, factory FactoryFunc) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, newEngine(b, factory), 1)
		})

		b.Run("PutBatch100", func(b *testing.B) {
			benchmarkPut(b, newEngine(b, factory), 100)
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, newEngine(b, factory))
		})

		b.Run("GetAll100", func(b *testing.B) {
			benchmarkGetAll(b, newEngine(b, factory))
		})

		b.Run("CursorScan", func(b *testing.B) {
			benchmarkCursorScan(b, newEngine(b, factory))
		})

		b.Run("IndexGet", func(b *testing.B) {
			benchmarkIndexGet(b, newEngine(b, factory))
		})

		b.Run("Save", func(b *testing.B) {
			benchmarkSave(b, newEngine(b, factory))
		})

		b.Run("Load", func(b *testing.B) {
			benchmarkLoad(b, newEngine(b, factory))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, newEngine(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func benchKey(i int) evd.Key {
	return evd.StringKey(fmt.Sprintf("bench-key-%08d", i))
}

// benchSeed fills the items store with count small records.
func benchSeed(b *testing.B, conn evd.Database, count int) {
	b.Helper()
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		b.Fatalf("Transaction failed: %v", err)
	}
	st, err := txn.ObjectStore("items")
	if err != nil {
		b.Fatalf("ObjectStore failed: %v", err)
	}
	for i := 0; i < count; i++ {
		st.Put([]byte(fmt.Sprintf("value-%08d", i)), benchKey(i))
	}
	if err := awaitTx(txn); err != nil {
		b.Fatalf("Seed transaction failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkPut(b *testing.B, fac evd.Factory, batch int) {
	defer fac.Close()
	conn := setupStore(b, fac, "bench", "items", false)
	defer conn.Close()

	value := []byte("benchmark-value-benchmark-value")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
		if err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
		st, err := txn.ObjectStore("items")
		if err != nil {
			b.Fatalf("ObjectStore failed: %v", err)
		}
		for j := 0; j < batch; j++ {
			st.Put(value, benchKey(i*batch+j))
		}
		if err := awaitTx(txn); err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
	}
}

func benchmarkGet(b *testing.B, fac evd.Factory) {
	defer fac.Close()
	conn := setupStore(b, fac, "bench", "items", false)
	defer conn.Close()

	const numKeys = 10000
	benchSeed(b, conn, numKeys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
		if err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
		st, err := txn.ObjectStore("items")
		if err != nil {
			b.Fatalf("ObjectStore failed: %v", err)
		}
		req := st.Get(benchKey(i % numKeys))
		if err := awaitSettle(req); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
		if req.Result() == nil {
			b.Fatalf("Expected a value for key %d", i%numKeys)
		}
		if err := awaitTx(txn); err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
	}
}

func benchmarkGetAll(b *testing.B, fac evd.Factory) {
	defer fac.Close()
	conn := setupStore(b, fac, "bench", "items", false)
	defer conn.Close()

	benchSeed(b, conn, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
		if err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
		st, err := txn.ObjectStore("items")
		if err != nil {
			b.Fatalf("ObjectStore failed: %v", err)
		}
		req := st.GetAll(nil, 100)
		if err := awaitSettle(req); err != nil {
			b.Fatalf("GetAll failed: %v", err)
		}
		if got := len(req.Result().([][]byte)); got != 100 {
			b.Fatalf("Expected 100 values, got %d", got)
		}
		if err := awaitTx(txn); err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
	}
}

func benchmarkCursorScan(b *testing.B, fac evd.Factory) {
	defer fac.Close()
	conn := setupStore(b, fac, "bench", "items", false)
	defer conn.Close()

	const numKeys = 1000
	benchSeed(b, conn, numKeys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
		if err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
		st, err := txn.ObjectStore("items")
		if err != nil {
			b.Fatalf("ObjectStore failed: %v", err)
		}
		visited := 0
		drainCursor(b, st.OpenCursor(nil, evd.Next), func(cur evd.Cursor) {
			visited++
		})
		if visited != numKeys {
			b.Fatalf("Expected %d positions, got %d", numKeys, visited)
		}
		if err := awaitTx(txn); err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
	}
}

func benchmarkIndexGet(b *testing.B, fac evd.Factory) {
	if !fac.SupportsFeature(evd.FeatureIndexes) {
		fac.Close()
		b.Skip()
	}
	defer fac.Close()

	conn := openDatabase(b, fac, "bench", 1, func(ev evd.UpgradeEvent) {
		st, err := ev.Database.CreateObjectStore("items", evd.StoreOptions{})
		if err != nil {
			b.Errorf("CreateObjectStore failed: %v", err)
			return
		}
		if _, err := st.CreateIndex("by_email", "email", evd.IndexOptions{}); err != nil {
			b.Errorf("CreateIndex failed: %v", err)
		}
	})
	defer conn.Close()

	const numKeys = 10000
	txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
	if err != nil {
		b.Fatalf("Transaction failed: %v", err)
	}
	st, _ := txn.ObjectStore("items")
	for i := 0; i < numKeys; i++ {
		st.Put(userJSON(fmt.Sprintf("user%d@example.com", i), "berlin", i%80), benchKey(i))
	}
	if err := awaitTx(txn); err != nil {
		b.Fatalf("Seed transaction failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadOnly)
		if err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
		st, _ := txn.ObjectStore("items")
		idx, err := st.Index("by_email")
		if err != nil {
			b.Fatalf("Index failed: %v", err)
		}
		req := idx.Get(evd.StringKey(fmt.Sprintf("user%d@example.com", i%numKeys)))
		if err := awaitSettle(req); err != nil {
			b.Fatalf("Index get failed: %v", err)
		}
		if err := awaitTx(txn); err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
	}
}

func benchmarkSave(b *testing.B, fac evd.Factory) {
	if !fac.SupportsFeature(evd.FeatureSnapshots) {
		fac.Close()
		b.Skip()
	}
	defer fac.Close()

	conn := setupStore(b, fac, "bench", "items", false)
	benchSeed(b, conn, 10000)
	conn.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := fac.Save("bench", &buf); err != nil {
			b.Fatalf("Save failed: %v", err)
		}
	}
}

func benchmarkLoad(b *testing.B, fac evd.Factory) {
	if !fac.SupportsFeature(evd.FeatureSnapshots) {
		fac.Close()
		b.Skip()
	}
	defer fac.Close()

	conn := setupStore(b, fac, "bench", "items", false)
	benchSeed(b, conn, 10000)
	conn.Close()

	var buf bytes.Buffer
	if err := fac.Save("bench", &buf); err != nil {
		b.Fatalf("Save failed: %v", err)
	}
	snapshot := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := fac.Load(bytes.NewReader(snapshot)); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
	}
}

func benchmarkMixedUsage(b *testing.B, fac evd.Factory) {
	defer fac.Close()
	conn := setupStore(b, fac, "bench", "items", false)
	defer conn.Close()

	benchSeed(b, conn, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, err := conn.Transaction([]string{"items"}, evd.ReadWrite)
		if err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
		st, err := txn.ObjectStore("items")
		if err != nil {
			b.Fatalf("ObjectStore failed: %v", err)
		}
		st.Put([]byte("mixed-value"), benchKey(1000+i%1000))
		st.Get(benchKey(i % 1000))
		if i%10 == 0 {
			st.Delete(evd.Only(benchKey(1000 + (i+500)%1000)))
		}
		st.Count(nil)
		if err := awaitTx(txn); err != nil {
			b.Fatalf("Transaction failed: %v", err)
		}
	}
}
