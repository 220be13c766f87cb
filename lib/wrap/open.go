package wrap

import (
	"context"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Opening and Deleting Databases
// --------------------------------------------------------------------------

// OpenOptions carries the optional callbacks of Open.
type OpenOptions struct {
	// Upgrade runs inside the version change transaction when the database
	// version is below the requested one. Schema changes are legal only
	// here. The open fails with ErrCAbort if the transaction is aborted.
	Upgrade func(db *DB, oldVersion, newVersion uint64, tx *Tx)

	// Blocked fires when the open has to wait for other connections to the
	// database to close.
	Blocked func(oldVersion, newVersion uint64)

	// Blocking fires on the opened connection when another open requests a
	// higher version or a delete is pending. Closing the connection lets the
	// other request proceed.
	Blocking func(oldVersion, newVersion uint64)

	// Terminated fires when the connection closes without Close having been
	// called on the returned DB, for example on engine shutdown.
	Terminated func()
}

// Open connects to a database through the default registry. See
// Registry.Open.
func Open(ctx context.Context, f evd.Factory, name string, version uint64, opts *OpenOptions) (*DB, error) {
	return defaultRegistry.Open(ctx, f, name, version, opts)
}

// DeleteDatabase removes a database through the default registry. See
// Registry.DeleteDatabase.
func DeleteDatabase(ctx context.Context, f evd.Factory, name string, opts *DeleteOptions) (uint64, error) {
	return defaultRegistry.DeleteDatabase(ctx, f, name, opts)
}

// Open connects to the named database and returns the wrapped connection.
// Version 0 means "current version, or 1 if the database does not exist
// yet"; a higher version than the current one runs the upgrade protocol with
// the callbacks of opts. A nil opts is valid.
//
// Cancelling the context abandons the wait. The engine finishes the open in
// the background and the connection is closed again once it exists.
func (r *Registry) Open(ctx context.Context, f evd.Factory, name string, version uint64, opts *OpenOptions) (*DB, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	req := f.Open(name, version)

	// Upgrade and blocked listeners must be in place before the first
	// success or error listener starts the request.
	if upgrade := opts.Upgrade; upgrade != nil {
		defer req.OnUpgradeNeeded(func(ev evd.UpgradeEvent) {
			upgrade(r.DB(ev.Database), ev.OldVersion, ev.NewVersion, r.Tx(ev.Transaction))
		})()
	}
	if opts.Blocked != nil {
		defer req.OnBlocked(opts.Blocked)()
	}

	db, err := promisify[*DB](r, req).Await(ctx)
	if err != nil {
		if ctx.Err() != nil {
			req.OnSuccess(func(q evd.Request) {
				if conn, ok := q.Result().(evd.Database); ok && conn != nil {
					conn.Close()
				}
			})
		}
		return nil, err
	}

	if opts.Blocking != nil {
		db.raw.OnVersionChange(opts.Blocking)
	}
	if terminated := opts.Terminated; terminated != nil {
		db.raw.OnClose(func() {
			if !db.explicitClose.Load() {
				terminated()
			}
		})
	}
	return db, nil
}

// DeleteOptions carries the optional callbacks of DeleteDatabase.
type DeleteOptions struct {
	// Blocked fires when the delete has to wait for open connections to the
	// database to close.
	Blocked func(oldVersion, newVersion uint64)
}

// DeleteDatabase removes the named database and returns the version it had,
// or 0 if no such database existed. Open connections receive a version
// change signal first; the delete waits until they close.
func (r *Registry) DeleteDatabase(ctx context.Context, f evd.Factory, name string, opts *DeleteOptions) (uint64, error) {
	req := f.DeleteDatabase(name)
	if opts != nil && opts.Blocked != nil {
		defer req.OnBlocked(opts.Blocked)()
	}
	return promisify[uint64](r, req).Await(ctx)
}
