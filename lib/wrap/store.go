package wrap

import (
	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Store Facade
// --------------------------------------------------------------------------

// Store wraps a transaction-scoped store handle. Every asynchronous
// operation returns a typed future in place of the raw request; the futures
// of result-bearing operations resolve to the wrapped form of the result.
type Store struct {
	reg *Registry
	raw evd.ObjectStore
}

// Name returns the store name.
func (s *Store) Name() string { return s.raw.Name() }

// AutoIncrement reports whether the store has a key generator.
func (s *Store) AutoIncrement() bool { return s.raw.AutoIncrement() }

// IndexNames returns the sorted names of the store's indexes.
func (s *Store) IndexNames() []string { return s.raw.IndexNames() }

// Transaction returns the owning transaction.
func (s *Store) Transaction() *Tx { return s.reg.Tx(s.raw.Transaction()) }

// Index returns the facade for a named index.
func (s *Store) Index(name string) (*Index, error) {
	raw, err := s.raw.Index(name)
	if err != nil {
		return nil, err
	}
	return s.reg.Index(raw), nil
}

// Get resolves to the value of the first record in the query range, or nil
// if the range is empty.
func (s *Store) Get(q evd.Query) *Future[[]byte] {
	return promisify[[]byte](s.reg, s.raw.Get(q))
}

// GetKey resolves to the key of the first record in the query range, or nil
// if the range is empty.
func (s *Store) GetKey(q evd.Query) *Future[evd.Key] {
	return promisify[evd.Key](s.reg, s.raw.GetKey(q))
}

// GetAll resolves to the values of all records in the query range, in key
// order, capped at limit if limit > 0.
func (s *Store) GetAll(q evd.Query, limit int) *Future[[][]byte] {
	return promisify[[][]byte](s.reg, s.raw.GetAll(q, limit))
}

// GetAllKeys resolves to the keys of all records in the query range, in key
// order, capped at limit if limit > 0.
func (s *Store) GetAllKeys(q evd.Query, limit int) *Future[[]evd.Key] {
	return promisify[[]evd.Key](s.reg, s.raw.GetAllKeys(q, limit))
}

// Count resolves to the number of records in the query range.
func (s *Store) Count(q evd.Query) *Future[uint64] {
	return promisify[uint64](s.reg, s.raw.Count(q))
}

// Put inserts or updates a record and resolves to its key. A nil key draws
// from the key generator if the store has one.
func (s *Store) Put(value []byte, key evd.Key) *Future[evd.Key] {
	return promisify[evd.Key](s.reg, s.raw.Put(value, key))
}

// Add inserts a record and resolves to its key; it rejects with
// ErrCConstraint if the key already exists.
func (s *Store) Add(value []byte, key evd.Key) *Future[evd.Key] {
	return promisify[evd.Key](s.reg, s.raw.Add(value, key))
}

// Delete removes all records in the query range.
func (s *Store) Delete(q evd.Query) *Future[struct{}] {
	return promisify[struct{}](s.reg, s.raw.Delete(q))
}

// Clear removes all records.
func (s *Store) Clear() *Future[struct{}] {
	return promisify[struct{}](s.reg, s.raw.Clear())
}

// OpenCursor resolves to a cursor positioned on the first record of the
// query range in the given direction, or nil if the range is empty.
func (s *Store) OpenCursor(q evd.Query, dir evd.Direction) *Future[*Cursor] {
	return promisify[*Cursor](s.reg, s.raw.OpenCursor(q, dir))
}

// OpenKeyCursor is OpenCursor without record values.
func (s *Store) OpenKeyCursor(q evd.Query, dir evd.Direction) *Future[*Cursor] {
	return promisify[*Cursor](s.reg, s.raw.OpenKeyCursor(q, dir))
}

// CreateIndex creates an index during a version change.
func (s *Store) CreateIndex(name, keyPath string, opts evd.IndexOptions) (*Index, error) {
	raw, err := s.raw.CreateIndex(name, keyPath, opts)
	if err != nil {
		return nil, err
	}
	return s.reg.Index(raw), nil
}

// DeleteIndex removes an index during a version change.
func (s *Store) DeleteIndex(name string) error {
	return s.raw.DeleteIndex(name)
}

// Raw returns the underlying store handle.
func (s *Store) Raw() evd.ObjectStore { return s.raw }

// --------------------------------------------------------------------------
// Index Facade
// --------------------------------------------------------------------------

// Index wraps a transaction-scoped index handle. Queries address index keys;
// GetKey and GetAllKeys resolve to primary keys.
type Index struct {
	reg *Registry
	raw evd.Index
}

// Name returns the index name.
func (ix *Index) Name() string { return ix.raw.Name() }

// KeyPath returns the dotted field path the index extracts.
func (ix *Index) KeyPath() string { return ix.raw.KeyPath() }

// Unique reports whether the index rejects duplicate index keys.
func (ix *Index) Unique() bool { return ix.raw.Unique() }

// ObjectStore returns the store the index belongs to.
func (ix *Index) ObjectStore() *Store { return ix.reg.Store(ix.raw.ObjectStore()) }

// Get resolves to the value of the first record in the query range of index
// keys, or nil if the range is empty.
func (ix *Index) Get(q evd.Query) *Future[[]byte] {
	return promisify[[]byte](ix.reg, ix.raw.Get(q))
}

// GetKey resolves to the primary key of the first record in the query range
// of index keys, or nil if the range is empty.
func (ix *Index) GetKey(q evd.Query) *Future[evd.Key] {
	return promisify[evd.Key](ix.reg, ix.raw.GetKey(q))
}

// GetAll resolves to the values of all records in the query range of index
// keys, capped at limit if limit > 0.
func (ix *Index) GetAll(q evd.Query, limit int) *Future[[][]byte] {
	return promisify[[][]byte](ix.reg, ix.raw.GetAll(q, limit))
}

// GetAllKeys resolves to the primary keys of all records in the query range
// of index keys, capped at limit if limit > 0.
func (ix *Index) GetAllKeys(q evd.Query, limit int) *Future[[]evd.Key] {
	return promisify[[]evd.Key](ix.reg, ix.raw.GetAllKeys(q, limit))
}

// Count resolves to the number of index entries in the query range.
func (ix *Index) Count(q evd.Query) *Future[uint64] {
	return promisify[uint64](ix.reg, ix.raw.Count(q))
}

// OpenCursor resolves to a cursor over index entries in the given direction,
// or nil if the range is empty.
func (ix *Index) OpenCursor(q evd.Query, dir evd.Direction) *Future[*Cursor] {
	return promisify[*Cursor](ix.reg, ix.raw.OpenCursor(q, dir))
}

// OpenKeyCursor is OpenCursor without record values.
func (ix *Index) OpenKeyCursor(q evd.Query, dir evd.Direction) *Future[*Cursor] {
	return promisify[*Cursor](ix.reg, ix.raw.OpenKeyCursor(q, dir))
}

// Raw returns the underlying index handle.
func (ix *Index) Raw() evd.Index { return ix.raw }

// --------------------------------------------------------------------------
// Cursor Facade
// --------------------------------------------------------------------------

// Cursor wraps a movable position within a sequence of records. The position
// accessors are synchronous; each advancing method returns a future that
// resolves to this same cursor on its new position, or to nil once the
// sequence is exhausted.
//
// Advancing methods promisify the next firing of the cursor's backing
// request: the request re-arms synchronously inside the raw advance call, so
// a future created right after it observes exactly one step.
type Cursor struct {
	reg *Registry
	raw evd.Cursor
}

// Key returns the key at the current position (the index key for index
// cursors).
func (c *Cursor) Key() evd.Key { return c.raw.Key() }

// PrimaryKey returns the record key at the current position.
func (c *Cursor) PrimaryKey() evd.Key { return c.raw.PrimaryKey() }

// Value returns the record value at the current position, or nil for key
// cursors.
func (c *Cursor) Value() []byte { return c.raw.Value() }

// Direction returns the cursor's traversal order.
func (c *Cursor) Direction() evd.Direction { return c.raw.Direction() }

// Continue advances to the next position, or to the first position at or
// beyond the given key if key is non-nil.
func (c *Cursor) Continue(key evd.Key) *Future[*Cursor] {
	if err := c.raw.Continue(key); err != nil {
		return Rejected[*Cursor](err)
	}
	return promisify[*Cursor](c.reg, c.raw.Request())
}

// Advance moves the cursor count positions forward, count >= 1.
func (c *Cursor) Advance(count int) *Future[*Cursor] {
	if err := c.raw.Advance(count); err != nil {
		return Rejected[*Cursor](err)
	}
	return promisify[*Cursor](c.reg, c.raw.Request())
}

// ContinuePrimaryKey advances an index cursor to the first entry at or
// beyond the given index key / primary key pair.
func (c *Cursor) ContinuePrimaryKey(key, primaryKey evd.Key) *Future[*Cursor] {
	if err := c.raw.ContinuePrimaryKey(key, primaryKey); err != nil {
		return Rejected[*Cursor](err)
	}
	return promisify[*Cursor](c.reg, c.raw.Request())
}

// Update replaces the record value at the current position and resolves to
// the record key.
func (c *Cursor) Update(value []byte) *Future[evd.Key] {
	return promisify[evd.Key](c.reg, c.raw.Update(value))
}

// Delete removes the record at the current position.
func (c *Cursor) Delete() *Future[struct{}] {
	return promisify[struct{}](c.reg, c.raw.Delete())
}

// Close releases the cursor without consuming the remaining positions.
// Callers that stop advancing early must close the cursor to let the
// transaction complete.
func (c *Cursor) Close() error { return c.raw.Close() }

// Raw returns the underlying cursor.
func (c *Cursor) Raw() evd.Cursor { return c.raw }
