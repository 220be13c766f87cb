package wrap

import (
	"context"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Shorthand Synthesis
// --------------------------------------------------------------------------

// Shorthand is a synthesized single-operation helper. It opens a transaction
// over one store, runs one operation and returns the operation's result; for
// write operations it returns only after the transaction has completed, so a
// successful return means the write is final.
type Shorthand func(ctx context.Context, db *DB, store string, args ...any) (any, error)

// shorthands caches one synthesized closure per recognized name, shared
// process-wide. Closures are pure functions of the name.
var shorthands = xsync.NewMapOf[string, Shorthand]()

// Shorthand resolves a shorthand by name. Recognized names are a read stem
// (get, getKey, getAll, getAllKeys, count) or a write stem (put, add,
// delete, clear), optionally suffixed with FromIndex to address a secondary
// index. Indexes have no write operations, so write stems with the suffix
// resolve to nothing, as do unknown stems.
func (db *DB) Shorthand(name string) (Shorthand, bool) {
	return lookupShorthand(name)
}

func lookupShorthand(name string) (Shorthand, bool) {
	if sh, ok := shorthands.Load(name); ok {
		return sh, true
	}
	base, fromIndex := strings.CutSuffix(name, "FromIndex")
	var write bool
	switch base {
	case "get", "getKey", "getAll", "getAllKeys", "count":
	case "put", "add", "delete", "clear":
		write = true
	default:
		return nil, false
	}
	if write && fromIndex {
		return nil, false
	}
	sh, _ := shorthands.LoadOrCompute(name, func() Shorthand {
		return synthesize(base, fromIndex, write)
	})
	return sh, true
}

// reader is the query surface shared by stores and indexes.
type reader interface {
	Get(q evd.Query) *Future[[]byte]
	GetKey(q evd.Query) *Future[evd.Key]
	GetAll(q evd.Query, limit int) *Future[[][]byte]
	GetAllKeys(q evd.Query, limit int) *Future[[]evd.Key]
	Count(q evd.Query) *Future[uint64]
}

func synthesize(base string, fromIndex, write bool) Shorthand {
	mode := evd.ReadOnly
	if write {
		mode = evd.ReadWrite
	}
	return func(ctx context.Context, db *DB, store string, args ...any) (any, error) {
		tx, err := db.Transaction([]string{store}, mode)
		if err != nil {
			return nil, err
		}
		st, err := tx.ObjectStore(store)
		if err != nil {
			_ = tx.Abort()
			return nil, err
		}

		var src reader = st
		if fromIndex {
			if len(args) == 0 {
				_ = tx.Abort()
				return nil, evd.NewError(evd.ErrCData, "shorthand needs an index name")
			}
			idxName, ok := args[0].(string)
			if !ok {
				_ = tx.Abort()
				return nil, evd.Errorf(evd.ErrCData, "index name must be a string, got %T", args[0])
			}
			args = args[1:]
			idx, err := st.Index(idxName)
			if err != nil {
				_ = tx.Abort()
				return nil, err
			}
			src = idx
		}

		fail := func(err error) (any, error) {
			_ = tx.Abort()
			return nil, err
		}

		switch base {
		case "get":
			q, err := queryArg(args, 0)
			if err != nil {
				return fail(err)
			}
			return finishRead(ctx, tx, src.Get(q))
		case "getKey":
			q, err := queryArg(args, 0)
			if err != nil {
				return fail(err)
			}
			return finishRead(ctx, tx, src.GetKey(q))
		case "getAll":
			q, err := queryArg(args, 0)
			if err != nil {
				return fail(err)
			}
			limit, err := limitArg(args, 1)
			if err != nil {
				return fail(err)
			}
			return finishRead(ctx, tx, src.GetAll(q, limit))
		case "getAllKeys":
			q, err := queryArg(args, 0)
			if err != nil {
				return fail(err)
			}
			limit, err := limitArg(args, 1)
			if err != nil {
				return fail(err)
			}
			return finishRead(ctx, tx, src.GetAllKeys(q, limit))
		case "count":
			q, err := queryArg(args, 0)
			if err != nil {
				return fail(err)
			}
			return finishRead(ctx, tx, src.Count(q))
		case "put":
			value, err := valueArg(args, 0)
			if err != nil {
				return fail(err)
			}
			key, err := keyArg(args, 1)
			if err != nil {
				return fail(err)
			}
			return finishWrite(ctx, tx, st.Put(value, key))
		case "add":
			value, err := valueArg(args, 0)
			if err != nil {
				return fail(err)
			}
			key, err := keyArg(args, 1)
			if err != nil {
				return fail(err)
			}
			return finishWrite(ctx, tx, st.Add(value, key))
		case "delete":
			q, err := queryArg(args, 0)
			if err != nil {
				return fail(err)
			}
			if q == nil {
				return fail(evd.NewError(evd.ErrCData, "delete needs a key or range, use clear to remove everything"))
			}
			return finishWrite(ctx, tx, st.Delete(q))
		case "clear":
			return finishWrite(ctx, tx, st.Clear())
		}
		return fail(evd.Errorf(evd.ErrCInternal, "unhandled shorthand stem %q", base))
	}
}

// finishRead awaits the operation and releases the transaction to complete
// on its own.
func finishRead[T any](ctx context.Context, tx *Tx, op *Future[T]) (any, error) {
	tx.Done()
	res, err := op.Await(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// finishWrite awaits the operation and then the transaction, so the first
// failure of either surfaces and a result is returned only once the write is
// durable in the engine.
func finishWrite[T any](ctx context.Context, tx *Tx, op *Future[T]) (any, error) {
	done := tx.Done()
	res, err := op.Await(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := done.Await(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Shorthand Arguments
// --------------------------------------------------------------------------

// queryArg reads an optional query argument: a Key or *KeyRange passes
// through, nil stays nil, anything else is encoded as a key.
func queryArg(args []any, i int) (evd.Query, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	if q, ok := args[i].(evd.Query); ok {
		return q, nil
	}
	return evd.EncodeKey(args[i])
}

func keyArg(args []any, i int) (evd.Key, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	if k, ok := args[i].(evd.Key); ok {
		return k, nil
	}
	return evd.EncodeKey(args[i])
}

func valueArg(args []any, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, evd.NewError(evd.ErrCData, "shorthand needs a value")
	}
	switch v := args[i].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, evd.Errorf(evd.ErrCData, "value must be bytes or string, got %T", args[i])
	}
}

func limitArg(args []any, i int) (int, error) {
	if i >= len(args) || args[i] == nil {
		return 0, nil
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, evd.Errorf(evd.ErrCData, "limit must be an integer, got %T", args[i])
	}
}

// --------------------------------------------------------------------------
// Typed Shorthands
// --------------------------------------------------------------------------

func (db *DB) shorthand(ctx context.Context, name, store string, args ...any) (any, error) {
	sh, ok := lookupShorthand(name)
	if !ok {
		return nil, evd.Errorf(evd.ErrCData, "unknown shorthand %q", name)
	}
	return sh(ctx, db, store, args...)
}

// Get reads the value at the query in a single-operation transaction; nil
// means no record matched. The query may be a Key, a *KeyRange, or any value
// encodable as a key.
func (db *DB) Get(ctx context.Context, store string, q any) ([]byte, error) {
	res, err := db.shorthand(ctx, "get", store, q)
	if err != nil {
		return nil, err
	}
	v, _ := res.([]byte)
	return v, nil
}

// GetFromIndex is Get addressed through a secondary index.
func (db *DB) GetFromIndex(ctx context.Context, store, index string, q any) ([]byte, error) {
	res, err := db.shorthand(ctx, "getFromIndex", store, index, q)
	if err != nil {
		return nil, err
	}
	v, _ := res.([]byte)
	return v, nil
}

// GetKey reads the key of the first record in the query range; nil means no
// record matched.
func (db *DB) GetKey(ctx context.Context, store string, q any) (evd.Key, error) {
	res, err := db.shorthand(ctx, "getKey", store, q)
	if err != nil {
		return nil, err
	}
	v, _ := res.(evd.Key)
	return v, nil
}

// GetKeyFromIndex reads the primary key of the first record in the query
// range of index keys.
func (db *DB) GetKeyFromIndex(ctx context.Context, store, index string, q any) (evd.Key, error) {
	res, err := db.shorthand(ctx, "getKeyFromIndex", store, index, q)
	if err != nil {
		return nil, err
	}
	v, _ := res.(evd.Key)
	return v, nil
}

// GetAll reads the values of all records in the query range, capped at limit
// if limit > 0. A nil query reads the whole store.
func (db *DB) GetAll(ctx context.Context, store string, q any, limit int) ([][]byte, error) {
	res, err := db.shorthand(ctx, "getAll", store, q, limit)
	if err != nil {
		return nil, err
	}
	v, _ := res.([][]byte)
	return v, nil
}

// GetAllFromIndex is GetAll addressed through a secondary index.
func (db *DB) GetAllFromIndex(ctx context.Context, store, index string, q any, limit int) ([][]byte, error) {
	res, err := db.shorthand(ctx, "getAllFromIndex", store, index, q, limit)
	if err != nil {
		return nil, err
	}
	v, _ := res.([][]byte)
	return v, nil
}

// GetAllKeys reads the keys of all records in the query range, capped at
// limit if limit > 0.
func (db *DB) GetAllKeys(ctx context.Context, store string, q any, limit int) ([]evd.Key, error) {
	res, err := db.shorthand(ctx, "getAllKeys", store, q, limit)
	if err != nil {
		return nil, err
	}
	v, _ := res.([]evd.Key)
	return v, nil
}

// GetAllKeysFromIndex reads the primary keys of all records in the query
// range of index keys, capped at limit if limit > 0.
func (db *DB) GetAllKeysFromIndex(ctx context.Context, store, index string, q any, limit int) ([]evd.Key, error) {
	res, err := db.shorthand(ctx, "getAllKeysFromIndex", store, index, q, limit)
	if err != nil {
		return nil, err
	}
	v, _ := res.([]evd.Key)
	return v, nil
}

// Count counts the records in the query range. A nil query counts the whole
// store.
func (db *DB) Count(ctx context.Context, store string, q any) (uint64, error) {
	res, err := db.shorthand(ctx, "count", store, q)
	if err != nil {
		return 0, err
	}
	v, _ := res.(uint64)
	return v, nil
}

// CountFromIndex counts the index entries in the query range.
func (db *DB) CountFromIndex(ctx context.Context, store, index string, q any) (uint64, error) {
	res, err := db.shorthand(ctx, "countFromIndex", store, index, q)
	if err != nil {
		return 0, err
	}
	v, _ := res.(uint64)
	return v, nil
}

// Put writes a record in a single-operation transaction and returns its key.
// It returns once the transaction has completed. A nil key draws from the
// store's key generator.
func (db *DB) Put(ctx context.Context, store string, value []byte, key any) (evd.Key, error) {
	res, err := db.shorthand(ctx, "put", store, value, key)
	if err != nil {
		return nil, err
	}
	v, _ := res.(evd.Key)
	return v, nil
}

// Add inserts a record in a single-operation transaction and returns its
// key; it fails with ErrCConstraint if the key already exists.
func (db *DB) Add(ctx context.Context, store string, value []byte, key any) (evd.Key, error) {
	res, err := db.shorthand(ctx, "add", store, value, key)
	if err != nil {
		return nil, err
	}
	v, _ := res.(evd.Key)
	return v, nil
}

// Delete removes the records in the query range in a single-operation
// transaction. The query must not be nil; use Clear to remove everything.
func (db *DB) Delete(ctx context.Context, store string, q any) error {
	_, err := db.shorthand(ctx, "delete", store, q)
	return err
}

// Clear removes all records of the store in a single-operation transaction.
func (db *DB) Clear(ctx context.Context, store string) error {
	_, err := db.shorthand(ctx, "clear", store)
	return err
}
