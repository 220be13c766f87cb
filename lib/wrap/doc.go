// Package wrap is the await-based ergonomics layer over the evd interface.
// It replaces listener plumbing with typed futures, preserves a one-to-one
// identity between raw engine objects and their wrappers, and synthesizes
// single-operation shorthands so common reads and writes become one call.
//
// The package focuses on:
//   - Futures in place of requests: every asynchronous operation returns a
//     Future[T] that settles exactly once and is awaited with a context
//   - Identity preservation: wrapping the same raw object twice yields the
//     identical facade, so facades can be compared and used as map keys
//   - A shared per-transaction completion future, the await-form of the
//     complete and abort signals
//   - Cursor iteration as a range-over-func sequence with an explicit
//     advance intent, so loop bodies choose how to step
//   - Shorthands: synthesized helpers that open a one-store transaction,
//     run one operation and settle once the work is final
//
// Key Components:
//
//   - Registry: The identity cache. A forward map takes raw engine objects
//     to facades, a reverse map takes facades and futures back to what they
//     wrap. Entries are dropped when the raw object can produce no further
//     signals: transaction facades and their dependents go when the
//     transaction reaches a terminal state, connection facades when the
//     connection closes. The package-level Wrap, Unwrap and Open use one
//     shared default registry.
//
//   - Future: A single-settlement result. Await blocks on the settle or the
//     context, Done exposes the settle as a channel for select loops.
//     Futures over engine results resolve to the wrapped form, so an open
//     cursor arrives as a *Cursor facade, never as a raw object.
//
//   - DB, Tx, Store, Index, Cursor: Facades mirroring the raw object graph
//     method for method, with requests replaced by typed futures. Raw always
//     returns the underlying object for code that needs the listener
//     surface.
//
//   - Shorthand: Closures synthesized from a name grammar, a read stem
//     (get, getKey, getAll, getAllKeys, count) or write stem (put, add,
//     delete, clear) optionally suffixed FromIndex, cached process-wide.
//     The typed helpers on DB route through the same closures.
//
// Internal Mechanisms:
//
//   - Promisification: Futures attach success and error listeners after the
//     raw call; the engine's catch-up contract fires a listener attached
//     after settling immediately, so no signal is lost. Both registrations
//     are dropped once the future settles, which keeps later firings of a
//     cursor's multi-fire request from reaching a stale future.
//
//   - Held Transactions: A transaction created by DB.Transaction takes an
//     engine hold, so it survives blocking awaits between requests instead
//     of completing the moment its queue drains. Done, Commit and Abort
//     release the hold; calling one of them ends request placement.
//
//   - Advance Intent: The iteration loop yields an IterCursor whose
//     advancing methods record the step instead of performing it. After the
//     body returns, the loop executes the last recorded step, or a plain
//     Continue when none was recorded, and awaits the cursor's next firing.
//     Breaking out of the loop closes the cursor so the transaction can
//     complete.
//
//   - Write Settlement: Shorthand writes await the operation future and the
//     transaction's completion future in turn. The engine settles a failed
//     request before aborting, so the first failure surfaces either way, and
//     a result is returned only after the transaction completed.
//
// Related Packages:
//
//   - lib/evd: The evented interface this package wraps.
//   - lib/evd/engines/rowan: The in-memory engine used by the tests and the
//     command line tools.
package wrap
