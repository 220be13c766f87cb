// Package evd defines the contract of an evented embedded database: a
// transactional, ordered record store whose operations complete through
// discrete success/error events on request objects rather than through
// return values. It is the raw surface that the wrap package
// (github.com/jmelchner/aDB/lib/wrap) turns into an awaitable one, and the
// contract that engine implementations must satisfy.
//
// The package focuses on:
//   - A unified object graph (Factory, Database, Transaction, ObjectStore,
//     Index, Cursor, Request) for evented storage engines
//   - Order-preserving key encodings and range queries
//   - Feature discovery through capability flags
//   - Standardized error reporting with typed error codes
//
// Key Components:
//
//   - Factory Interface: The engine entry point. It owns named, versioned
//     databases, hands out connections through open requests (including the
//     version-upgrade and blocked protocols), and provides enumeration,
//     snapshot persistence and statistics for engines that support them.
//
//   - Request: The asynchronous primitive. Every read, write and cursor
//     operation returns a Request that fires success or error listeners
//     when the engine has executed it. Listeners attached after settlement
//     fire immediately, so consumers never miss a terminal signal.
//     Cursor-producing requests are the one multi-fire case: they signal
//     success once per cursor position and terminate with a nil result.
//
//   - Transactions: Units of isolated work over a fixed store scope with
//     complete/error/abort signals. Transactions complete automatically
//     once their request queue drains; a failed request aborts them and
//     aborting rolls back performed mutations.
//
//   - Keys and Queries: Key is an opaque byte string under bytes.Compare
//     ordering; constructors produce tagged, order-preserving encodings for
//     numbers, strings and binary blobs. A Query is either a single Key or
//     a *KeyRange with optional open bounds.
//
//   - Feature Flags: The Feature type defines capability flags that engines
//     advertise through SupportsFeature, letting clients and the shared
//     conformance suite discover supported operations at runtime.
//
// Related Packages:
//
// The engines/rowan package (github.com/jmelchner/aDB/lib/evd/engines/rowan)
// provides the reference in-memory implementation with ordered stores,
// secondary indexes, per-store transaction scheduling and compressed
// snapshot persistence.
//
// The testing package (github.com/jmelchner/aDB/lib/evd/testing) provides a
// standardized conformance suite for Factory implementations.
//
// The wrap package (github.com/jmelchner/aDB/lib/wrap) consumes this
// contract and exposes the awaitable, identity-preserving surface callers
// are expected to use.
package evd
