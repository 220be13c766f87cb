// Package rowan implements an in-memory evented database engine with
// ordered object stores, secondary indexes and versioned schema upgrades.
// It provides a complete implementation of the evd.Factory interface with a
// focus on deterministic event delivery, strict transaction isolation and
// cheap rollback.
//
// The package focuses on:
//   - Ordered key spaces backed by copy-on-write btrees, giving range
//     queries, cursors in four directions and O(log n) point access
//   - The full open/upgrade protocol: version change signals to existing
//     connections, blocked notification, and upgrade listeners running
//     inside a version change transaction
//   - Serializable transactions whose requests run on a dedicated event
//     loop goroutine, with rollback on abort via btree clones
//   - Persistent storage with compressed, checksummed snapshots
//   - Statistics for monitoring via size histograms per store
//
// Key Components:
//
//   - RowanDB: The engine root implementing evd.Factory. It owns the named
//     database holders, serializes open, delete and load flows per database
//     through an open mutex, and carries the engine options.
//
//   - database: The shared state of one named database: version, the store
//     map and the live connections. A deleted holder is tombstoned so
//     lingering references fail over to a fresh holder on the next open.
//
//   - connection: One handle to a database as returned by an open request.
//     Connections track their live transactions, deliver version change
//     signals and close notifications, and hold the upgrade transaction
//     while a version change runs.
//
//   - transaction: A single-goroutine event loop draining a queue of
//     operations. Store locks are taken for the whole transaction lifetime
//     in sorted name order, shared for read-only transactions and exclusive
//     otherwise, which makes transactions serializable and deadlock-free.
//     A transaction completes on its own once at least one request ran, the
//     queue drained and no cursors remain open.
//
//   - storeData: One object store: a btree of key/value records, the key
//     generator and the secondary indexes. Indexes map extracted index keys
//     to primary keys in a second btree keyed by (index key, primary key).
//
//   - cursor: A multi-fire iteration request over a store or index range.
//     Each advance re-arms the underlying request and enqueues a step; an
//     open cursor holds its transaction alive until it is exhausted or
//     closed.
//
// Internal Mechanisms:
//
//   - Event Delivery: Requests settle exactly once per arming. Listeners
//     that attach after the settling signal fire immediately with the
//     settled state, so attachment order cannot lose events. Open requests
//     start their work lazily on the first success or error listener, which
//     leaves room to attach upgrade and blocked listeners first.
//
//   - Upgrade Protocol: Opening with a higher version signals existing
//     connections, fires blocked while any remain, then waits. The upgrade
//     runs inside a version change transaction that is held open while the
//     upgrade listener places work. Aborting that transaction restores the
//     pre-upgrade schema from a whole-database memento and fails the open.
//
//   - Rollback: Read-write transactions capture a memento of every store
//     in scope before their first operation: the key generator plus lazy
//     clones of the record and index btrees. Aborting swaps the mementos
//     back in while the store locks are still held.
//
//   - Key Encoding: Keys are order-preserving byte strings with a type tag
//     (number, string, binary). Numbers are big endian IEEE 754 with the
//     sign bit flipped so byte order equals numeric order. bytes.Compare is
//     the one comparison everywhere.
//
//   - Persistence Format: Snapshots use a compact binary format:
//     1. Magic number "ROWANDB\x00" to identify the file format
//     2. Format version (currently 1) and compression codec
//     3. Database name and version
//     4. Compressed payload: per store the name, auto increment flag, key
//     generator, index definitions and all records
//     5. xxh3 checksum of the compressed payload
//     Index entries are not persisted; Load rebuilds them from the records.
//     Save runs concurrently with transactions and produces a fuzzy
//     snapshot: each store is consistent, the cut across stores is not.
//
//   - Metrics: Counters for opens, upgrades, deletes, transactions,
//     requests, cursor steps and snapshots are registered with the
//     VictoriaMetrics default set under the rowan_ prefix.
//
// Related Packages:
//
//   - lib/evd: The interface this engine implements.
//   - lib/evd/engines/rowan/internal: Record and index entry types, the
//     operation queue and key path extraction.
//   - lib/wrap: The await-based ergonomics layer over this engine.
package rowan
