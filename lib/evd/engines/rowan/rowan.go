package rowan

import (
	"sort"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan/internal"
	"github.com/jmelchner/aDB/lib/evd/util"
)

var log = logger.GetLogger("rowan")

var (
	mOpens           = metrics.GetOrCreateCounter("rowan_opens_total")
	mUpgrades        = metrics.GetOrCreateCounter("rowan_upgrades_total")
	mDeletes         = metrics.GetOrCreateCounter("rowan_database_deletes_total")
	mTxCommitted     = metrics.GetOrCreateCounter("rowan_transactions_committed_total")
	mTxAborted       = metrics.GetOrCreateCounter("rowan_transactions_aborted_total")
	mRequests        = metrics.GetOrCreateCounter("rowan_requests_total")
	mRequestsFailed  = metrics.GetOrCreateCounter("rowan_requests_failed_total")
	mCursorSteps     = metrics.GetOrCreateCounter("rowan_cursor_steps_total")
	mSnapshotsSaved  = metrics.GetOrCreateCounter("rowan_snapshots_saved_total")
	mSnapshotsLoaded = metrics.GetOrCreateCounter("rowan_snapshots_loaded_total")
)

// rowanFeatures is the full feature set of the engine.
const rowanFeatures = evd.FeatureDeleteDatabase |
	evd.FeatureEnumerate |
	evd.FeatureIndexes |
	evd.FeatureKeyCursors |
	evd.FeatureSnapshots |
	evd.FeatureStats

// Options configures a RowanDB instance.
type Options struct {
	// CloneValues makes reads hand out defensive copies of stored values.
	// Disabling it avoids the copies, but callers must then treat returned
	// slices as immutable.
	CloneValues bool

	// SnapshotCodec selects the compression applied by Save.
	SnapshotCodec Codec
}

// DefaultOptions returns the options used when New receives nil.
func DefaultOptions() *Options {
	return &Options{
		CloneValues:   true,
		SnapshotCodec: CodecSnappy,
	}
}

// RowanDB is an in-memory evented database engine: btree-ordered object
// stores with secondary indexes, grouped into named versioned databases,
// accessed through serializable transactions that run their requests on a
// per-transaction event loop.
type RowanDB struct {
	opts *Options

	mu     sync.Mutex
	dbs    map[string]*database
	closed bool
}

// New creates a RowanDB engine. Passing nil options uses DefaultOptions.
func New(opts *Options) (evd.Factory, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if !opts.SnapshotCodec.IsSupported() {
		return nil, evd.Errorf(evd.ErrCData, "unsupported snapshot codec %d", uint8(opts.SnapshotCodec))
	}
	return &RowanDB{
		opts: opts,
		dbs:  make(map[string]*database),
	}, nil
}

// --------------------------------------------------------------------------
// Open / Delete
// --------------------------------------------------------------------------

func (f *RowanDB) Open(name string, version uint64) evd.OpenRequest {
	if name == "" {
		return newFailedOpenRequest(evd.NewError(evd.ErrCData, "a database name is required"))
	}
	if f.isClosed() {
		return newFailedOpenRequest(evd.NewError(evd.ErrCClosed, "engine is closed"))
	}
	var req *openRequest
	req = newOpenRequest(func() { f.runOpen(req, name, version) })
	return req
}

func (f *RowanDB) DeleteDatabase(name string) evd.OpenRequest {
	if name == "" {
		return newFailedOpenRequest(evd.NewError(evd.ErrCData, "a database name is required"))
	}
	if f.isClosed() {
		return newFailedOpenRequest(evd.NewError(evd.ErrCClosed, "engine is closed"))
	}
	var req *openRequest
	req = newOpenRequest(func() { f.runDelete(req, name) })
	return req
}

func (f *RowanDB) runOpen(req *openRequest, name string, version uint64) {
	mOpens.Inc()
	db, err := f.lockDatabase(name)
	if err != nil {
		req.fail(err)
		return
	}
	defer db.openMu.Unlock()

	db.mu.Lock()
	cur := db.version
	target := version
	if target == 0 {
		target = cur
		if target == 0 {
			target = 1
		}
	}
	if target < cur {
		db.mu.Unlock()
		req.fail(evd.Errorf(evd.ErrCVersion, "requested version %d is below the current version %d", target, cur))
		return
	}
	if target == cur {
		conn := newConnection(db, f)
		db.conns = append(db.conns, conn)
		db.mu.Unlock()
		req.succeed(conn)
		return
	}
	others := append([]*connection(nil), db.conns...)
	db.mu.Unlock()

	for _, other := range others {
		other.fireVersionChange(cur, target)
	}
	db.mu.Lock()
	blocked := len(db.conns) > 0
	db.mu.Unlock()
	if blocked {
		log.Infof("upgrade of %q to version %d blocked by open connections", name, target)
		req.fireBlocked(cur, target)
		db.awaitNoConns()
	}
	f.performUpgrade(req, db, cur, target)
}

// performUpgrade runs the version change transaction. The database is
// quiescent here: the open flow holds openMu and every prior connection
// has closed.
func (f *RowanDB) performUpgrade(req *openRequest, db *database, oldVersion, newVersion uint64) {
	mUpgrades.Inc()
	log.Infof("upgrading database %q from version %d to %d", db.name, oldVersion, newVersion)

	conn := newConnection(db, f)
	db.addConn(conn)

	schemaMem := db.captureSchema()
	db.mu.Lock()
	db.version = newVersion
	db.mu.Unlock()

	// The initial hold keeps the transaction from auto-committing while
	// the upgrade listener is still placing work.
	t := newTransaction(conn, evd.VersionChange, nil, nil, true, 1)
	t.schemaMem = schemaMem
	conn.setUpgradeTx(t)
	if err := conn.txStarted(t); err != nil {
		req.fail(err)
		return
	}
	go t.run()

	req.fireUpgradeNeeded(evd.UpgradeEvent{
		Database:    conn,
		Transaction: t,
		OldVersion:  oldVersion,
		NewVersion:  newVersion,
	})
	t.releaseHold()
	_ = t.Commit()
	<-t.done

	if t.terminalState() == txAborted {
		err := t.Err()
		if err == nil {
			err = evd.NewError(evd.ErrCAbort, "version change aborted")
		}
		log.Warningf("upgrade of %q to version %d aborted: %v", db.name, newVersion, err)
		conn.Close()
		req.fail(err)
		return
	}
	req.succeed(conn)
}

func (f *RowanDB) runDelete(req *openRequest, name string) {
	db, err := f.lockDatabase(name)
	if err != nil {
		req.fail(err)
		return
	}
	defer db.openMu.Unlock()

	db.mu.Lock()
	cur := db.version
	if cur == 0 {
		db.mu.Unlock()
		req.succeed(uint64(0))
		return
	}
	others := append([]*connection(nil), db.conns...)
	db.mu.Unlock()

	for _, other := range others {
		other.fireVersionChange(cur, 0)
	}
	db.mu.Lock()
	blocked := len(db.conns) > 0
	db.mu.Unlock()
	if blocked {
		log.Infof("deletion of %q blocked by open connections", name)
		req.fireBlocked(cur, 0)
		db.awaitNoConns()
	}

	mDeletes.Inc()
	db.mu.Lock()
	db.dropped = true
	db.version = 0
	db.stores = make(map[string]*storeData)
	db.mu.Unlock()

	f.mu.Lock()
	if f.dbs[name] == db {
		delete(f.dbs, name)
	}
	f.mu.Unlock()

	log.Infof("deleted database %q (was version %d)", name, cur)
	req.succeed(cur)
}

// lockDatabase returns the holder for name with its openMu held, retrying
// when a concurrent delete tombstones the holder.
func (f *RowanDB) lockDatabase(name string) (*database, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, evd.NewError(evd.ErrCClosed, "engine is closed")
		}
		db, ok := f.dbs[name]
		if !ok {
			db = newDatabase(name)
			f.dbs[name] = db
		}
		f.mu.Unlock()

		db.openMu.Lock()
		db.mu.Lock()
		dropped := db.dropped
		db.mu.Unlock()
		if !dropped {
			return db, nil
		}
		db.openMu.Unlock()
	}
}

func (t *transaction) terminalState() txState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// --------------------------------------------------------------------------
// Factory Surface
// --------------------------------------------------------------------------

func (f *RowanDB) Databases() ([]evd.DatabaseInfo, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, evd.NewError(evd.ErrCClosed, "engine is closed")
	}
	dbs := make([]*database, 0, len(f.dbs))
	for _, db := range f.dbs {
		dbs = append(dbs, db)
	}
	f.mu.Unlock()

	infos := make([]evd.DatabaseInfo, 0, len(dbs))
	for _, db := range dbs {
		db.mu.Lock()
		if db.version > 0 && !db.dropped {
			infos = append(infos, evd.DatabaseInfo{Name: db.name, Version: db.version})
		}
		db.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Stats scans every store of the named database. It takes each store's
// read lock in turn, so the values across stores can be fuzzy while
// transactions run, but each store is reported consistently.
func (f *RowanDB) Stats(name string) (*evd.DatabaseStats, error) {
	db, err := f.findDatabase(name)
	if err != nil {
		return nil, err
	}

	stores := db.allStores()
	sort.Slice(stores, func(i, j int) bool { return stores[i].name < stores[j].name })

	out := &evd.DatabaseStats{
		Name:    db.name,
		Version: db.currentVersion(),
		DbType:  evd.ImplRowan,
		Stores:  make([]evd.StoreStats, 0, len(stores)),
	}
	for _, sd := range stores {
		sd.lock.RLock()
		hist := util.NewSizeHistogram()
		var bytesKeys, bytesValues uint64
		sd.records.Ascend(func(r internal.Record) bool {
			bytesKeys += uint64(len(r.Key))
			bytesValues += uint64(len(r.Value))
			hist.AddSample(len(r.Value))
			return true
		})
		st := evd.StoreStats{
			Name:        sd.name,
			Records:     uint64(sd.records.Len()),
			Indexes:     len(sd.indexNames()),
			BytesKeys:   bytesKeys,
			BytesValues: bytesValues,
			ValueSizes:  hist.Snapshot(),
		}
		sd.lock.RUnlock()
		out.Stores = append(out.Stores, st)
	}
	return out, nil
}

func (f *RowanDB) SupportsFeature(feature evd.Feature) bool {
	return rowanFeatures&feature == feature
}

func (f *RowanDB) Features() evd.Feature {
	return rowanFeatures
}

func (f *RowanDB) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	dbs := make([]*database, 0, len(f.dbs))
	for _, db := range f.dbs {
		dbs = append(dbs, db)
	}
	f.mu.Unlock()

	for _, db := range dbs {
		for _, conn := range db.connSnapshot() {
			conn.forceClose()
		}
		db.awaitNoConns()
	}
	log.Infof("engine closed")
	return nil
}

func (f *RowanDB) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *RowanDB) findDatabase(name string) (*database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, evd.NewError(evd.ErrCClosed, "engine is closed")
	}
	db, ok := f.dbs[name]
	if !ok || db.currentVersion() == 0 {
		return nil, evd.Errorf(evd.ErrCNotFound, "no database named %q", name)
	}
	return db, nil
}
