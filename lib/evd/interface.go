package evd

import (
	"io"

	"github.com/jmelchner/aDB/lib/evd/util"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplRowan Implementation = "rowan"
)

// Mode is the access mode of a transaction.
type Mode uint8

const (
	// ReadOnly transactions may share stores with other readers.
	ReadOnly Mode = iota
	// ReadWrite transactions hold their stores exclusively.
	ReadWrite
	// VersionChange transactions additionally permit schema operations.
	// They are created only by the engine during an upgrade.
	VersionChange
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	case VersionChange:
		return "versionchange"
	default:
		return "unknown"
	}
}

// Direction is the traversal order of a cursor.
type Direction uint8

const (
	// Next visits keys in ascending order.
	Next Direction = iota
	// Prev visits keys in descending order.
	Prev
	// NextUnique visits keys in ascending order, skipping duplicate index keys.
	NextUnique
	// PrevUnique visits keys in descending order, skipping duplicate index keys.
	PrevUnique
)

func (d Direction) String() string {
	switch d {
	case Next:
		return "next"
	case Prev:
		return "prev"
	case NextUnique:
		return "nextunique"
	case PrevUnique:
		return "prevunique"
	default:
		return "unknown"
	}
}

// Reverse reports whether the direction walks keys in descending order.
func (d Direction) Reverse() bool {
	return d == Prev || d == PrevUnique
}

// Unique reports whether the direction skips duplicate index keys.
func (d Direction) Unique() bool {
	return d == NextUnique || d == PrevUnique
}

// RequestState is the lifecycle state of a Request.
type RequestState uint8

const (
	// RequestPending means no terminal signal has fired yet.
	RequestPending RequestState = iota
	// RequestDone means a success or error signal has fired.
	RequestDone
)

func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestDone:
		return "done"
	default:
		return "unknown"
	}
}

// StoreOptions configures a new object store.
type StoreOptions struct {
	// AutoIncrement enables the store's key generator: Put/Add with a nil
	// key receive a generated ascending number key.
	AutoIncrement bool
}

// IndexOptions configures a new index.
type IndexOptions struct {
	// Unique rejects two records mapping to the same index key.
	Unique bool
}

// Feature represents engine capabilities as bit flags.
type Feature uint64

const (
	FeatureDeleteDatabase Feature = 1 << iota // Support for DeleteDatabase
	FeatureEnumerate                          // Support for Databases enumeration
	FeatureIndexes                            // Support for secondary indexes
	FeatureKeyCursors                         // Support for OpenKeyCursor
	FeatureSnapshots                          // Support for Save/Load
	FeatureStats                              // Support for Stats
)

func (f Feature) String() string {
	switch f {
	case FeatureDeleteDatabase:
		return "DeleteDatabase"
	case FeatureEnumerate:
		return "Enumerate"
	case FeatureIndexes:
		return "Indexes"
	case FeatureKeyCursors:
		return "KeyCursors"
	case FeatureSnapshots:
		return "Snapshots"
	case FeatureStats:
		return "Stats"
	default:
		return "Unknown"
	}
}

// DatabaseInfo identifies one database held by a Factory.
type DatabaseInfo struct {
	Name    string `json:"name"`
	Version uint64 `json:"version"`
}

// StoreStats describes one object store for monitoring purposes.
type StoreStats struct {
	Name        string                `json:"name"`
	Records     uint64                `json:"records"`
	Indexes     int                   `json:"indexes"`
	BytesKeys   uint64                `json:"bytes_keys"`
	BytesValues uint64                `json:"bytes_values"`
	ValueSizes  util.SizeDistribution `json:"value_sizes"`
}

// DatabaseStats describes one database for monitoring purposes.
type DatabaseStats struct {
	Name    string         `json:"name"`
	Version uint64         `json:"version"`
	DbType  Implementation `json:"db_type"`
	Stores  []StoreStats   `json:"stores"`
}

// UpgradeEvent carries the context of a version change to the upgrade
// listener of an open request. Schema operations are legal only while its
// Transaction is live.
type UpgradeEvent struct {
	Database    Database
	Transaction Transaction
	OldVersion  uint64
	NewVersion  uint64
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// Request represents one in-flight operation. It signals completion through
// listeners rather than return values: a success listener fires with the
// request once the result is available, an error listener fires once the
// operation has failed. Listener registration returns a removal function.
//
// A listener attached after the request has already settled is invoked
// immediately, exactly once. Cursor-producing requests re-enter the pending
// state on every advance and fire their success listeners once per cursor
// position; the terminal firing carries a nil result.
//
// Thread-safety: all methods are safe for concurrent use. Listeners for one
// request are never invoked concurrently with each other.
type Request interface {
	// Result returns the operation result. It is meaningful once a success
	// signal has fired. For cursor requests the result is the Cursor (the
	// same object on every firing) or nil when iteration is exhausted.
	Result() (result interface{})

	// Err returns the failure. It is meaningful once an error signal has fired.
	Err() (err error)

	// ReadyState returns RequestPending until a terminal signal has fired.
	ReadyState() (state RequestState)

	// OnSuccess registers a success listener.
	OnSuccess(fn func(req Request)) (remove func())

	// OnError registers an error listener.
	OnError(fn func(req Request)) (remove func())

	// Transaction returns the transaction the request runs in, or nil for
	// open/delete requests.
	Transaction() (txn Transaction)
}

// OpenRequest is the request returned by Factory.Open and
// Factory.DeleteDatabase. In addition to the terminal signals it can fire
// an upgrade-needed signal (Open only) and a blocked signal.
type OpenRequest interface {
	Request

	// OnUpgradeNeeded registers a listener invoked inside the version change
	// transaction when the requested version exceeds the current one.
	OnUpgradeNeeded(fn func(ev UpgradeEvent)) (remove func())

	// OnBlocked registers a listener invoked when the operation must wait
	// for other open connections to close.
	OnBlocked(fn func(oldVersion, newVersion uint64)) (remove func())
}

// --------------------------------------------------------------------------
// Factory Interface
// --------------------------------------------------------------------------

// Factory is the entry point of an evented database engine. It owns named,
// versioned databases and hands out connections through open requests.
// Implementations can vary in their feature support, which can be queried
// with SupportsFeature.
type Factory interface {

	// Open requests a connection to the named database. Version 0 means
	// "current version, or 1 if the database does not exist yet". A version
	// above the current one triggers the upgrade protocol: existing
	// connections receive a version change signal, the request fires
	// blocked while any remain open, and the upgrade listener runs inside
	// the version change transaction before the request succeeds with the
	// new connection. A version below the current one fails with ErrCVersion.
	Open(name string, version uint64) (req OpenRequest)

	// DeleteDatabase requests removal of the named database, following the
	// same blocked protocol as Open. The request succeeds with the deleted
	// version (uint64), or 0 if no such database existed.
	DeleteDatabase(name string) (req OpenRequest)

	// Databases enumerates the databases currently held by the factory.
	Databases() (infos []DatabaseInfo, err error)

	// Save persists the named database to the provided io.Writer.
	Save(name string, w io.Writer) (err error)

	// Load restores a database previously written by Save and returns its
	// name. An existing database with the same name is replaced.
	Load(r io.Reader) (name string, err error)

	// Stats returns information about the named database.
	Stats(name string) (stats *DatabaseStats, err error)

	// SupportsFeature checks if the engine supports the specified feature.
	// Multiple features can be checked at once using the bitwise OR operator.
	SupportsFeature(feature Feature) (ok bool)

	// Features returns the full feature set of the engine.
	Features() (features Feature)

	// Close closes every connection and releases the engine.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Object Graph Interfaces
// --------------------------------------------------------------------------

// Database is one connection to a database. Multiple connections to the
// same database may exist; schema methods are legal only during the version
// change transaction of this connection's open request.
type Database interface {
	// Name returns the database name.
	Name() (name string)

	// Version returns the database version.
	Version() (version uint64)

	// ObjectStoreNames returns the sorted names of all object stores.
	ObjectStoreNames() (names []string)

	// Transaction starts a transaction over the given stores. Read-write
	// transactions wait for conflicting transactions to finish; requests
	// may be placed immediately either way.
	Transaction(stores []string, mode Mode) (txn Transaction, err error)

	// CreateObjectStore creates a store during a version change.
	CreateObjectStore(name string, opts StoreOptions) (store ObjectStore, err error)

	// DeleteObjectStore removes a store during a version change.
	DeleteObjectStore(name string) (err error)

	// Close releases the connection. Live transactions finish first; the
	// close listeners fire once the connection is fully closed.
	Close()

	// OnClose registers a listener for the connection's close signal.
	OnClose(fn func()) (remove func())

	// OnVersionChange registers a listener fired when another connection
	// requests a higher version (or deletion). Callers are expected to
	// close this connection to unblock the other request.
	OnVersionChange(fn func(oldVersion, newVersion uint64)) (remove func())
}

// Transaction is a unit of isolated work over a fixed set of stores. It
// completes automatically once at least one request has run, the request
// queue has drained and no cursors remain open; Commit and Abort end it
// earlier. A failed request aborts the transaction; aborting rolls back
// every mutation it performed.
//
// A transaction that never receives a request stays open until Commit or
// Abort is called. Callers interleaving blocking waits between requests
// should place all requests up front, keep a cursor open, or take a Hold;
// once the queue drains the transaction completes and refuses further work.
type Transaction interface {
	// Mode returns the transaction's access mode.
	Mode() (mode Mode)

	// StoreNames returns the sorted names of the participating stores.
	StoreNames() (names []string)

	// ObjectStore returns the transaction's handle for a participating
	// store. Repeated calls with the same name return the same handle.
	ObjectStore(name string) (store ObjectStore, err error)

	// Database returns the connection that created the transaction.
	Database() (database Database)

	// Abort rolls the transaction back and fires the abort signal.
	Abort() (err error)

	// Commit refuses further requests and completes once queued work drains.
	Commit() (err error)

	// Hold keeps the transaction from completing on its own until release
	// is called, the way an open cursor does. Calling release more than
	// once is a no-op.
	Hold() (release func(), err error)

	// Err returns the error that caused the transaction to fail, if any.
	Err() (err error)

	// OnComplete registers a listener for the terminal complete signal.
	OnComplete(fn func()) (remove func())

	// OnAbort registers a listener for the terminal abort signal.
	OnAbort(fn func()) (remove func())

	// OnError registers a listener fired with the transaction's error
	// before the abort signal.
	OnError(fn func(err error)) (remove func())
}

// ObjectStore is a transaction-scoped handle on one object store. All read,
// write and cursor operations are asynchronous: they enqueue work on the
// transaction and report through the returned request.
type ObjectStore interface {
	// Name returns the store name.
	Name() (name string)

	// AutoIncrement reports whether the store has a key generator.
	AutoIncrement() (ok bool)

	// IndexNames returns the sorted names of the store's indexes.
	IndexNames() (names []string)

	// Index returns the transaction-scoped handle for a named index.
	// Repeated calls with the same name return the same handle.
	Index(name string) (index Index, err error)

	// Get resolves to the value of the first record in the query range, or
	// nil if the range is empty.
	Get(q Query) (req Request)

	// GetKey resolves to the key of the first record in the query range, or
	// nil if the range is empty.
	GetKey(q Query) (req Request)

	// GetAll resolves to the values of all records in the query range, in
	// key order, capped at limit if limit > 0.
	GetAll(q Query, limit int) (req Request)

	// GetAllKeys resolves to the keys of all records in the query range, in
	// key order, capped at limit if limit > 0.
	GetAllKeys(q Query, limit int) (req Request)

	// Count resolves to the number of records in the query range.
	Count(q Query) (req Request)

	// Put inserts or updates a record and resolves to its key. A nil key
	// draws from the key generator if the store has one.
	Put(value []byte, key Key) (req Request)

	// Add inserts a record and resolves to its key; it fails with
	// ErrCConstraint if the key already exists.
	Add(value []byte, key Key) (req Request)

	// Delete removes all records in the query range.
	Delete(q Query) (req Request)

	// Clear removes all records.
	Clear() (req Request)

	// OpenCursor resolves to a Cursor positioned on the first record of the
	// query range in the given direction, or nil if the range is empty.
	OpenCursor(q Query, dir Direction) (req Request)

	// OpenKeyCursor is OpenCursor without record values.
	OpenKeyCursor(q Query, dir Direction) (req Request)

	// CreateIndex creates an index during a version change. The keyPath is
	// a dotted field path evaluated against JSON record values; existing
	// records are indexed immediately.
	CreateIndex(name, keyPath string, opts IndexOptions) (index Index, err error)

	// DeleteIndex removes an index during a version change.
	DeleteIndex(name string) (err error)

	// Transaction returns the owning transaction.
	Transaction() (txn Transaction)
}

// Index is a transaction-scoped handle on one secondary index. Indexes
// expose the read and cursor operations of their store keyed by the
// extracted index key; they have no write operations.
type Index interface {
	// Name returns the index name.
	Name() (name string)

	// KeyPath returns the dotted field path the index extracts.
	KeyPath() (keyPath string)

	// Unique reports whether the index rejects duplicate index keys.
	Unique() (ok bool)

	// ObjectStore returns the store the index belongs to.
	ObjectStore() (store ObjectStore)

	// Get resolves to the value of the first record in the query range of
	// index keys, or nil if the range is empty.
	Get(q Query) (req Request)

	// GetKey resolves to the primary key of the first record in the query
	// range of index keys, or nil if the range is empty.
	GetKey(q Query) (req Request)

	// GetAll resolves to the values of all records in the query range of
	// index keys, capped at limit if limit > 0.
	GetAll(q Query, limit int) (req Request)

	// GetAllKeys resolves to the primary keys of all records in the query
	// range of index keys, capped at limit if limit > 0.
	GetAllKeys(q Query, limit int) (req Request)

	// Count resolves to the number of index entries in the query range.
	Count(q Query) (req Request)

	// OpenCursor resolves to a Cursor over index entries in the given
	// direction, or nil if the range is empty.
	OpenCursor(q Query, dir Direction) (req Request)

	// OpenKeyCursor is OpenCursor without record values.
	OpenKeyCursor(q Query, dir Direction) (req Request)
}

// Cursor is a movable position within a sequence of records. The position
// accessors are synchronous; the advancing operations enqueue a step on the
// transaction and report through the cursor's backing request, which fires
// success again with the cursor on its new position, or with a nil result
// once the sequence is exhausted.
type Cursor interface {
	// Key returns the key at the current position (the index key for index
	// cursors).
	Key() (key Key)

	// PrimaryKey returns the record key at the current position.
	PrimaryKey() (key Key)

	// Value returns the record value at the current position, or nil for
	// key cursors.
	Value() (value []byte)

	// Direction returns the cursor's traversal order.
	Direction() (dir Direction)

	// Continue advances to the next position, or to the first position at
	// or beyond the given key if key is non-nil. It fails with
	// ErrCInvalidState while an advance is already pending.
	Continue(key Key) (err error)

	// Advance moves the cursor count positions forward, count >= 1.
	Advance(count int) (err error)

	// ContinuePrimaryKey advances an index cursor to the first entry at or
	// beyond the given index key / primary key pair.
	ContinuePrimaryKey(key, primaryKey Key) (err error)

	// Update replaces the record value at the current position and resolves
	// to the record key.
	Update(value []byte) (req Request)

	// Delete removes the record at the current position.
	Delete() (req Request)

	// Close releases the cursor without consuming the remaining positions.
	// A transaction stays alive while it has open cursors; callers that stop
	// iterating early must close the cursor to let the transaction complete.
	// Closing an exhausted or already closed cursor is a no-op.
	Close() (err error)

	// Request returns the backing multi-fire request driving this cursor.
	Request() (req Request)
}
