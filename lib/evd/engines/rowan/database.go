package rowan

import (
	"sort"
	"sync"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Database
// --------------------------------------------------------------------------

// database is the shared state of one named database. openMu serializes the
// open, delete and load flows, including their waits for blocking
// connections; mu guards the fields and is never held while waiting.
type database struct {
	name string

	openMu sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	version uint64
	stores  map[string]*storeData
	conns   []*connection
	dropped bool
}

func newDatabase(name string) *database {
	db := &database{
		name:   name,
		stores: make(map[string]*storeData),
	}
	db.cond = sync.NewCond(&db.mu)
	return db
}

func (db *database) getStore(name string) (*storeData, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	sd, ok := db.stores[name]
	return sd, ok
}

func (db *database) allStores() []*storeData {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*storeData, 0, len(db.stores))
	for _, sd := range db.stores {
		out = append(out, sd)
	}
	return out
}

func (db *database) storeNames() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.stores))
	for name := range db.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (db *database) currentVersion() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.version
}

// captureSchema records the whole schema before a version change. The
// caller guarantees the database is quiescent: no other connections and no
// live transactions.
func (db *database) captureSchema() *schemaMemento {
	db.mu.Lock()
	defer db.mu.Unlock()
	m := &schemaMemento{
		version:  db.version,
		stores:   make(map[string]*storeData, len(db.stores)),
		mementos: make(map[string]*storeMemento, len(db.stores)),
	}
	for name, sd := range db.stores {
		m.stores[name] = sd
		m.mementos[name] = sd.capture()
	}
	return m
}

// restoreSchema rolls an aborted version change back. Runs on the event
// loop of the version change transaction, which still holds every store
// lock.
func (db *database) restoreSchema(m *schemaMemento) {
	db.mu.Lock()
	db.version = m.version
	db.stores = m.stores
	db.mu.Unlock()
	for name, sd := range m.stores {
		sd.restore(m.mementos[name])
	}
}

func (db *database) addConn(c *connection) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.conns = append(db.conns, c)
}

func (db *database) removeConn(c *connection) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, other := range db.conns {
		if other == c {
			db.conns = append(db.conns[:i], db.conns[i+1:]...)
			break
		}
	}
	db.cond.Broadcast()
}

func (db *database) connSnapshot() []*connection {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*connection(nil), db.conns...)
}

// awaitNoConns blocks until every connection has closed.
func (db *database) awaitNoConns() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for len(db.conns) > 0 {
		db.cond.Wait()
	}
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

type connSub struct {
	id int
	fn func()
}

type connVCSub struct {
	id int
	fn func(oldVersion, newVersion uint64)
}

// connection is one evd.Database handle. A connection closes fully once
// Close has been called and its live transactions have drained; the close
// listeners fire at that point.
type connection struct {
	db  *database
	fac *RowanDB

	mu        sync.Mutex
	closing   bool
	closed    bool
	txs       map[*transaction]struct{}
	upgradeTx *transaction

	nextSubID int
	closeSubs []connSub
	vcSubs    []connVCSub
}

func newConnection(db *database, fac *RowanDB) *connection {
	return &connection{
		db:  db,
		fac: fac,
		txs: make(map[*transaction]struct{}),
	}
}

func (c *connection) Name() string {
	return c.db.name
}

func (c *connection) Version() uint64 {
	return c.db.currentVersion()
}

func (c *connection) ObjectStoreNames() []string {
	return c.db.storeNames()
}

func (c *connection) Transaction(stores []string, mode evd.Mode) (evd.Transaction, error) {
	if mode == evd.VersionChange {
		return nil, evd.NewError(evd.ErrCData, "version change transactions are created by the engine")
	}
	if len(stores) == 0 {
		return nil, evd.NewError(evd.ErrCData, "a transaction needs at least one store")
	}

	names := dedupeSorted(stores)
	scope := make(map[string]*storeData, len(names))
	for _, name := range names {
		sd, ok := c.db.getStore(name)
		if !ok {
			return nil, evd.Errorf(evd.ErrCNotFound, "no store named %q", name)
		}
		scope[name] = sd
	}

	t := newTransaction(c, mode, scope, names, false, 0)
	if err := c.txStarted(t); err != nil {
		return nil, err
	}
	go t.run()
	return t, nil
}

func (c *connection) CreateObjectStore(name string, opts evd.StoreOptions) (evd.ObjectStore, error) {
	t := c.liveUpgradeTx()
	if t == nil {
		return nil, evd.NewError(evd.ErrCInvalidState, "schema changes require a version change transaction")
	}
	if name == "" {
		return nil, evd.NewError(evd.ErrCData, "a store name is required")
	}
	res, err := t.placeSchema(&txOp{kind: opCreateStore, schemaName: name, storeOpts: opts})
	if err != nil {
		return nil, err
	}
	sd := res.(*storeData)
	return t.ObjectStore(sd.name)
}

func (c *connection) DeleteObjectStore(name string) error {
	t := c.liveUpgradeTx()
	if t == nil {
		return evd.NewError(evd.ErrCInvalidState, "schema changes require a version change transaction")
	}
	_, err := t.placeSchema(&txOp{kind: opDeleteStore, schemaName: name})
	return err
}

func (c *connection) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	finalize := len(c.txs) == 0
	c.mu.Unlock()
	if finalize {
		c.finalizeClose()
	}
}

func (c *connection) OnClose(fn func()) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return func() {}
	}
	id := c.nextSubID
	c.nextSubID++
	c.closeSubs = append(c.closeSubs, connSub{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		for i, s := range c.closeSubs {
			if s.id == id {
				c.closeSubs = append(c.closeSubs[:i], c.closeSubs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

func (c *connection) OnVersionChange(fn func(oldVersion, newVersion uint64)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.vcSubs = append(c.vcSubs, connVCSub{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		for i, s := range c.vcSubs {
			if s.id == id {
				c.vcSubs = append(c.vcSubs[:i], c.vcSubs[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
}

// --------------------------------------------------------------------------
// Connection Internals
// --------------------------------------------------------------------------

func (c *connection) txStarted(t *transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return evd.NewError(evd.ErrCClosed, "connection is closed")
	}
	if c.upgradeTx != nil && t != c.upgradeTx {
		return evd.NewError(evd.ErrCInvalidState, "a version change is in progress")
	}
	c.txs[t] = struct{}{}
	return nil
}

func (c *connection) txFinished(t *transaction) {
	c.mu.Lock()
	delete(c.txs, t)
	if c.upgradeTx == t {
		c.upgradeTx = nil
	}
	finalize := c.closing && !c.closed && len(c.txs) == 0
	c.mu.Unlock()
	if finalize {
		c.finalizeClose()
	}
}

func (c *connection) finalizeClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := append([]connSub(nil), c.closeSubs...)
	c.mu.Unlock()

	c.db.removeConn(c)
	for _, s := range subs {
		s.fn()
	}
}

// forceClose aborts every live transaction and closes the connection. Used
// when the engine shuts down underneath its callers.
func (c *connection) forceClose() {
	c.mu.Lock()
	c.closing = true
	txs := make([]*transaction, 0, len(c.txs))
	for t := range c.txs {
		txs = append(txs, t)
	}
	finalize := len(txs) == 0 && !c.closed
	c.mu.Unlock()

	for _, t := range txs {
		_ = t.Abort()
	}
	if finalize {
		c.finalizeClose()
	}
}

func (c *connection) setUpgradeTx(t *transaction) {
	c.mu.Lock()
	c.upgradeTx = t
	c.mu.Unlock()
}

func (c *connection) liveUpgradeTx() *transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upgradeTx
}

func (c *connection) fireVersionChange(oldVersion, newVersion uint64) {
	c.mu.Lock()
	subs := append([]connVCSub(nil), c.vcSubs...)
	c.mu.Unlock()
	for _, s := range subs {
		s.fn(oldVersion, newVersion)
	}
}

func dedupeSorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	n := 0
	for i, name := range out {
		if i == 0 || name != out[n-1] {
			out[n] = name
			n++
		}
	}
	return out[:n]
}
