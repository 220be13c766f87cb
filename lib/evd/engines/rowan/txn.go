package rowan

import (
	"sort"
	"sync"

	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan/internal"
)

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

type reqSub struct {
	id int
	fn func(evd.Request)
}

// request is the engine's evd.Request. Settlement and listener registration
// share one mutex, so a listener attached concurrently with a settle fires
// exactly once: either through the settle snapshot or through the immediate
// catch-up, never both.
type request struct {
	mu          sync.Mutex
	txn         *transaction
	state       evd.RequestState
	result      interface{}
	err         error
	failed      bool
	nextID      int
	successSubs []reqSub
	errorSubs   []reqSub
}

func newRequest(t *transaction) *request {
	return &request{txn: t}
}

// newFailedRequest returns a request that is already settled with err.
// Misuse that IndexedDB would report synchronously (write on a read-only
// transaction, request on a finished transaction) surfaces this way.
func newFailedRequest(t *transaction, err error) *request {
	return &request{txn: t, state: evd.RequestDone, err: err, failed: true}
}

func (r *request) Result() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *request) ReadyState() evd.RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *request) Transaction() evd.Transaction {
	if r.txn == nil {
		return nil
	}
	return r.txn
}

func (r *request) OnSuccess(fn func(evd.Request)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.successSubs = append(r.successSubs, reqSub{id: id, fn: fn})
	fireNow := r.state == evd.RequestDone && !r.failed
	r.mu.Unlock()
	if fireNow {
		fn(r)
	}
	return func() {
		r.mu.Lock()
		r.successSubs = removeReqSub(r.successSubs, id)
		r.mu.Unlock()
	}
}

func (r *request) OnError(fn func(evd.Request)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.errorSubs = append(r.errorSubs, reqSub{id: id, fn: fn})
	fireNow := r.state == evd.RequestDone && r.failed
	r.mu.Unlock()
	if fireNow {
		fn(r)
	}
	return func() {
		r.mu.Lock()
		r.errorSubs = removeReqSub(r.errorSubs, id)
		r.mu.Unlock()
	}
}

func (r *request) succeed(result interface{}) {
	r.mu.Lock()
	r.state = evd.RequestDone
	r.result = result
	r.err = nil
	r.failed = false
	subs := append([]reqSub(nil), r.successSubs...)
	r.mu.Unlock()
	for _, s := range subs {
		s.fn(r)
	}
}

func (r *request) fail(err error) {
	r.mu.Lock()
	r.state = evd.RequestDone
	r.err = err
	r.failed = true
	subs := append([]reqSub(nil), r.errorSubs...)
	r.mu.Unlock()
	for _, s := range subs {
		s.fn(r)
	}
}

// rearm returns a settled cursor request to the pending state before the
// next step is enqueued.
func (r *request) rearm() {
	r.mu.Lock()
	r.state = evd.RequestPending
	r.mu.Unlock()
}

func removeReqSub(subs []reqSub, id int) []reqSub {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// awaitRequest blocks until the request settles once.
func awaitRequest(req evd.Request) (interface{}, error) {
	done := make(chan struct{})
	var once sync.Once
	settle := func(evd.Request) {
		once.Do(func() { close(done) })
	}
	removeSuccess := req.OnSuccess(settle)
	defer removeSuccess()
	removeError := req.OnError(settle)
	defer removeError()
	<-done
	if err := req.Err(); err != nil {
		return nil, err
	}
	return req.Result(), nil
}

// --------------------------------------------------------------------------
// Open Requests
// --------------------------------------------------------------------------

type upgradeSub struct {
	id int
	fn func(evd.UpgradeEvent)
}

type blockedSub struct {
	id int
	fn func(oldVersion, newVersion uint64)
}

// openRequest is the engine's evd.OpenRequest. The underlying operation
// starts once the first success or error listener attaches; upgrade and
// blocked listeners must therefore be registered before those.
type openRequest struct {
	request
	start     func()
	startOnce sync.Once

	upgradeSubs []upgradeSub
	blockedSubs []blockedSub
}

func newOpenRequest(start func()) *openRequest {
	return &openRequest{start: start}
}

func newFailedOpenRequest(err error) *openRequest {
	return &openRequest{request: request{state: evd.RequestDone, err: err, failed: true}}
}

func (r *openRequest) begin() {
	if r.start != nil {
		r.startOnce.Do(func() { go r.start() })
	}
}

func (r *openRequest) OnSuccess(fn func(evd.Request)) func() {
	remove := r.request.OnSuccess(fn)
	r.begin()
	return remove
}

func (r *openRequest) OnError(fn func(evd.Request)) func() {
	remove := r.request.OnError(fn)
	r.begin()
	return remove
}

func (r *openRequest) OnUpgradeNeeded(fn func(ev evd.UpgradeEvent)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.upgradeSubs = append(r.upgradeSubs, upgradeSub{id: id, fn: fn})
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		for i, s := range r.upgradeSubs {
			if s.id == id {
				r.upgradeSubs = append(r.upgradeSubs[:i], r.upgradeSubs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

func (r *openRequest) OnBlocked(fn func(oldVersion, newVersion uint64)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.blockedSubs = append(r.blockedSubs, blockedSub{id: id, fn: fn})
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		for i, s := range r.blockedSubs {
			if s.id == id {
				r.blockedSubs = append(r.blockedSubs[:i], r.blockedSubs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

func (r *openRequest) fireUpgradeNeeded(ev evd.UpgradeEvent) {
	r.mu.Lock()
	subs := append([]upgradeSub(nil), r.upgradeSubs...)
	r.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

func (r *openRequest) fireBlocked(oldVersion, newVersion uint64) {
	r.mu.Lock()
	subs := append([]blockedSub(nil), r.blockedSubs...)
	r.mu.Unlock()
	for _, s := range subs {
		s.fn(oldVersion, newVersion)
	}
}

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

type opKind uint8

const (
	opGet opKind = iota
	opGetKey
	opGetAll
	opGetAllKeys
	opCount
	opPut
	opAdd
	opDelete
	opClear
	opOpenCursor
	opCursorStep
	opCursorUpdate
	opCursorDelete
	opCreateStore
	opDeleteStore
	opCreateIndex
	opDeleteIndex
)

// schema reports whether the kind is a schema operation. Schema failures
// are reported to the caller without aborting the transaction, matching
// the synchronous-throw behavior of evented database hosts.
func (k opKind) schema() bool {
	switch k {
	case opCreateStore, opDeleteStore, opCreateIndex, opDeleteIndex:
		return true
	default:
		return false
	}
}

// txOp is one queued unit of work. Only the fields relevant to its kind
// are populated.
type txOp struct {
	kind  opKind
	req   *request
	store *storeData
	index *indexData

	rng   *evd.KeyRange
	limit int
	key   evd.Key
	value []byte

	cursor      *cursorImpl
	stepTarget  evd.Key
	stepPrimary evd.Key
	stepCount   int

	schemaName string
	storeOpts  evd.StoreOptions
	idxKeyPath string
	idxOpts    evd.IndexOptions
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

type txState uint8

const (
	txActive txState = iota
	txCommitting
	txAborting
	txComplete
	txAborted
)

type txSub struct {
	id int
	fn func()
}

type txErrSub struct {
	id int
	fn func(error)
}

// transaction runs a single-goroutine event loop over its request queue.
// Store locks are acquired by the loop in global name order and held until
// the transaction finishes, which makes transactions serializable.
//
// The transaction finishes when the queue drains after at least one request
// while no cursors are held open, or when Commit or Abort force the issue.
type transaction struct {
	mode evd.Mode
	conn *connection
	db   *database
	opts *Options

	scopeAll   bool
	scope      map[string]*storeData
	scopeNames []string

	queue *internal.Queue[*txOp]
	done  chan struct{}

	mu        sync.Mutex
	state     txState
	pending   int
	holds     int
	err       error
	locked    []*storeData
	mementos  map[*storeData]*storeMemento
	schemaMem *schemaMemento
	handles   map[string]*storeHandle

	nextSubID    int
	completeSubs []txSub
	abortSubs    []txSub
	errorSubs    []txErrSub
}

func newTransaction(conn *connection, mode evd.Mode, scope map[string]*storeData, names []string, scopeAll bool, initialHolds int) *transaction {
	return &transaction{
		mode:       mode,
		conn:       conn,
		db:         conn.db,
		opts:       conn.fac.opts,
		scopeAll:   scopeAll,
		scope:      scope,
		scopeNames: names,
		queue:      internal.NewQueue[*txOp](),
		done:       make(chan struct{}),
		holds:      initialHolds,
		handles:    make(map[string]*storeHandle),
	}
}

// --------------------------------------------------------------------------
// Transaction Interface
// --------------------------------------------------------------------------

func (t *transaction) Mode() evd.Mode {
	return t.mode
}

func (t *transaction) StoreNames() []string {
	if t.scopeAll {
		return t.db.storeNames()
	}
	return append([]string(nil), t.scopeNames...)
}

func (t *transaction) ObjectStore(name string) (evd.ObjectStore, error) {
	t.mu.Lock()
	if h, ok := t.handles[name]; ok {
		t.mu.Unlock()
		return h, nil
	}
	t.mu.Unlock()

	var sd *storeData
	if t.scopeAll {
		var ok bool
		sd, ok = t.db.getStore(name)
		if !ok {
			return nil, evd.Errorf(evd.ErrCNotFound, "no store named %q", name)
		}
	} else {
		var ok bool
		sd, ok = t.scope[name]
		if !ok {
			return nil, evd.Errorf(evd.ErrCNotFound, "store %q is not in the transaction scope", name)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handles[name]; ok {
		return h, nil
	}
	h := &storeHandle{txn: t, data: sd}
	t.handles[name] = h
	return h, nil
}

func (t *transaction) Database() evd.Database {
	return t.conn
}

func (t *transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *transaction) Abort() error {
	t.mu.Lock()
	switch t.state {
	case txComplete, txAborted:
		t.mu.Unlock()
		return evd.NewError(evd.ErrCInvalidState, "transaction already finished")
	case txAborting:
		t.mu.Unlock()
		return nil
	}
	t.state = txAborting
	if t.err == nil {
		t.err = evd.NewError(evd.ErrCAbort, "transaction aborted")
	}
	t.queue.Close()
	t.mu.Unlock()
	return nil
}

func (t *transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case txActive:
		t.state = txCommitting
		if t.pending == 0 && t.holds == 0 {
			t.queue.Close()
		}
		return nil
	case txCommitting:
		return nil
	default:
		return evd.NewError(evd.ErrCInvalidState, "transaction already finished")
	}
}

func (t *transaction) Hold() (func(), error) {
	t.mu.Lock()
	if t.state != txActive {
		t.mu.Unlock()
		return nil, evd.NewError(evd.ErrCTransactionInactive, "transaction is no longer accepting requests")
	}
	t.holds++
	t.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(t.releaseHold)
	}, nil
}

func (t *transaction) OnComplete(fn func()) func() {
	t.mu.Lock()
	switch t.state {
	case txComplete:
		t.mu.Unlock()
		fn()
		return func() {}
	case txAborted:
		t.mu.Unlock()
		return func() {}
	}
	id := t.nextSubID
	t.nextSubID++
	t.completeSubs = append(t.completeSubs, txSub{id: id, fn: fn})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		for i, s := range t.completeSubs {
			if s.id == id {
				t.completeSubs = append(t.completeSubs[:i], t.completeSubs[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}
}

func (t *transaction) OnAbort(fn func()) func() {
	t.mu.Lock()
	switch t.state {
	case txAborted:
		t.mu.Unlock()
		fn()
		return func() {}
	case txComplete:
		t.mu.Unlock()
		return func() {}
	}
	id := t.nextSubID
	t.nextSubID++
	t.abortSubs = append(t.abortSubs, txSub{id: id, fn: fn})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		for i, s := range t.abortSubs {
			if s.id == id {
				t.abortSubs = append(t.abortSubs[:i], t.abortSubs[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}
}

func (t *transaction) OnError(fn func(err error)) func() {
	t.mu.Lock()
	switch t.state {
	case txAborted:
		err := t.err
		t.mu.Unlock()
		if err != nil {
			fn(err)
		}
		return func() {}
	case txComplete:
		t.mu.Unlock()
		return func() {}
	}
	id := t.nextSubID
	t.nextSubID++
	t.errorSubs = append(t.errorSubs, txErrSub{id: id, fn: fn})
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		for i, s := range t.errorSubs {
			if s.id == id {
				t.errorSubs = append(t.errorSubs[:i], t.errorSubs[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}
}

// --------------------------------------------------------------------------
// Placement
// --------------------------------------------------------------------------

// reserve admits one request under the transaction's state lock.
func (t *transaction) reserve(write bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txActive {
		return evd.NewError(evd.ErrCTransactionInactive, "transaction is no longer accepting requests")
	}
	if write && t.mode == evd.ReadOnly {
		return evd.NewError(evd.ErrCReadOnly, "write request on a read-only transaction")
	}
	t.pending++
	return nil
}

// enqueue hands a reserved op to the event loop. When the queue closed
// between reserve and push (a concurrent abort), the request is failed here.
func (t *transaction) enqueue(op *txOp) {
	if t.queue.Push(op) {
		return
	}
	t.mu.Lock()
	t.pending--
	err := t.refusalErrorLocked()
	t.mu.Unlock()
	op.req.fail(err)
}

func (t *transaction) refusalErrorLocked() error {
	if t.state == txAborting || t.state == txAborted {
		if t.err != nil {
			return t.err
		}
		return evd.NewError(evd.ErrCAbort, "transaction aborted")
	}
	return evd.NewError(evd.ErrCTransactionInactive, "transaction is no longer accepting requests")
}

// placeOp is the request path taken by store and index handles.
func (t *transaction) placeOp(op *txOp, write bool) evd.Request {
	req := newRequest(t)
	op.req = req
	if err := t.reserve(write); err != nil {
		return newFailedRequest(t, err)
	}
	t.enqueue(op)
	return req
}

// placeCursorOpen additionally takes a hold: the transaction stays alive
// until the cursor is exhausted or closed.
func (t *transaction) placeCursorOpen(c *cursorImpl, op *txOp) evd.Request {
	op.req = c.req
	op.cursor = c
	t.mu.Lock()
	if t.state != txActive {
		t.mu.Unlock()
		return newFailedRequest(t, evd.NewError(evd.ErrCTransactionInactive, "transaction is no longer accepting requests"))
	}
	t.pending++
	t.holds++
	t.mu.Unlock()
	t.enqueue(op)
	return c.req
}

// placeSchema runs a schema op through the event loop and blocks until it
// has executed. Must not be called from a request listener: those run on
// the loop itself.
func (t *transaction) placeSchema(op *txOp) (interface{}, error) {
	if t.mode != evd.VersionChange {
		return nil, evd.NewError(evd.ErrCInvalidState, "schema changes require a version change transaction")
	}
	req := newRequest(t)
	op.req = req
	if err := t.reserve(true); err != nil {
		return nil, err
	}
	t.enqueue(op)
	return awaitRequest(req)
}

func (t *transaction) addHold() {
	t.mu.Lock()
	t.holds++
	t.mu.Unlock()
}

func (t *transaction) releaseHold() {
	t.mu.Lock()
	if t.holds > 0 {
		t.holds--
		t.maybeFinishLocked()
	}
	t.mu.Unlock()
}

// maybeFinishLocked closes the queue once no work and no holds remain,
// which lets the event loop run the finish sequence.
func (t *transaction) maybeFinishLocked() {
	if t.pending != 0 || t.holds != 0 {
		return
	}
	if t.state == txActive {
		t.state = txCommitting
	}
	if t.state == txCommitting {
		t.queue.Close()
	}
}

// failTransaction aborts after a request execution error.
func (t *transaction) failTransaction(err error) {
	t.mu.Lock()
	if t.state == txActive || t.state == txCommitting {
		t.state = txAborting
		if t.err == nil {
			t.err = err
		}
		t.queue.Close()
	}
	t.mu.Unlock()
}

func (t *transaction) abortError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	return evd.NewError(evd.ErrCAbort, "transaction aborted")
}

// --------------------------------------------------------------------------
// Event Loop
// --------------------------------------------------------------------------

func (t *transaction) run() {
	t.acquireLocks()
	t.captureMementos()
	for {
		op, ok := t.queue.Pop()
		if !ok {
			break
		}
		t.execute(op)
		t.mu.Lock()
		t.pending--
		t.maybeFinishLocked()
		t.mu.Unlock()
	}
	t.finish()
}

func (t *transaction) acquireLocks() {
	var list []*storeData
	if t.scopeAll {
		list = t.db.allStores()
	} else {
		list = make([]*storeData, 0, len(t.scopeNames))
		for _, name := range t.scopeNames {
			list = append(list, t.scope[name])
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	for _, s := range list {
		if t.mode == evd.ReadOnly {
			s.lock.RLock()
		} else {
			s.lock.Lock()
		}
	}
	t.mu.Lock()
	t.locked = append(t.locked, list...)
	t.mu.Unlock()
}

// captureMementos records the pre-transaction content of every scope store.
// Version change transactions carry a schema memento instead, captured by
// the open flow while the database is quiescent.
func (t *transaction) captureMementos() {
	if t.mode != evd.ReadWrite {
		return
	}
	ms := make(map[*storeData]*storeMemento, len(t.locked))
	t.mu.Lock()
	locked := append([]*storeData(nil), t.locked...)
	t.mu.Unlock()
	for _, s := range locked {
		ms[s] = s.capture()
	}
	t.mu.Lock()
	t.mementos = ms
	t.mu.Unlock()
}

func (t *transaction) execute(op *txOp) {
	t.mu.Lock()
	aborting := t.state == txAborting
	t.mu.Unlock()
	if aborting {
		op.req.fail(t.abortError())
		return
	}
	mRequests.Inc()
	result, err := t.runOp(op)
	if err != nil {
		mRequestsFailed.Inc()
		op.req.fail(err)
		if !op.kind.schema() {
			t.failTransaction(err)
		}
		return
	}
	op.req.succeed(result)
}

func (t *transaction) runOp(op *txOp) (interface{}, error) {
	clone := t.opts.CloneValues
	switch op.kind {
	case opGet:
		if op.index != nil {
			_, r, ok := op.store.indexGetRecord(op.index, op.rng)
			if !ok {
				return nil, nil
			}
			return maybeClone(r.Value, clone), nil
		}
		r, ok := op.store.getRecord(op.rng)
		if !ok {
			return nil, nil
		}
		return maybeClone(r.Value, clone), nil

	case opGetKey:
		if op.index != nil {
			e, _, ok := op.store.indexGetRecord(op.index, op.rng)
			if !ok {
				return nil, nil
			}
			return e.Primary.Clone(), nil
		}
		r, ok := op.store.getRecord(op.rng)
		if !ok {
			return nil, nil
		}
		return r.Key.Clone(), nil

	case opGetAll:
		if op.index != nil {
			return op.store.indexGetAllValues(op.index, op.rng, op.limit, clone), nil
		}
		return op.store.getAllValues(op.rng, op.limit, clone), nil

	case opGetAllKeys:
		if op.index != nil {
			return op.store.indexGetAllKeys(op.index, op.rng, op.limit), nil
		}
		return op.store.getAllKeys(op.rng, op.limit), nil

	case opCount:
		if op.index != nil {
			return op.store.indexCount(op.index, op.rng), nil
		}
		return op.store.countRecords(op.rng), nil

	case opPut:
		key, err := op.store.applyPut(op.key, op.value, false)
		if err != nil {
			return nil, err
		}
		return key, nil

	case opAdd:
		key, err := op.store.applyPut(op.key, op.value, true)
		if err != nil {
			return nil, err
		}
		return key, nil

	case opDelete:
		op.store.applyDelete(op.rng)
		return nil, nil

	case opClear:
		op.store.applyClear()
		return nil, nil

	case opOpenCursor:
		return t.execCursorOpen(op)

	case opCursorStep:
		return t.execCursorStep(op)

	case opCursorUpdate:
		key, err := op.store.applyPut(op.key, op.value, false)
		if err != nil {
			return nil, err
		}
		return key, nil

	case opCursorDelete:
		op.store.applyDelete(evd.Only(op.key))
		return nil, nil

	case opCreateStore:
		return t.execCreateStore(op)

	case opDeleteStore:
		return nil, t.execDeleteStore(op)

	case opCreateIndex:
		return t.execCreateIndex(op)

	case opDeleteIndex:
		return nil, t.execDeleteIndex(op)
	}
	return nil, evd.Errorf(evd.ErrCInternal, "unknown operation kind %d", op.kind)
}

// --------------------------------------------------------------------------
// Schema Execution
// --------------------------------------------------------------------------

func (t *transaction) execCreateStore(op *txOp) (interface{}, error) {
	db := t.db
	db.mu.Lock()
	if _, exists := db.stores[op.schemaName]; exists {
		db.mu.Unlock()
		return nil, evd.Errorf(evd.ErrCConstraint, "store %q already exists", op.schemaName)
	}
	sd := newStoreData(op.schemaName, op.storeOpts.AutoIncrement)
	db.stores[op.schemaName] = sd
	db.mu.Unlock()

	sd.lock.Lock()
	t.mu.Lock()
	t.locked = append(t.locked, sd)
	t.mu.Unlock()
	return sd, nil
}

func (t *transaction) execDeleteStore(op *txOp) error {
	db := t.db
	db.mu.Lock()
	if _, exists := db.stores[op.schemaName]; !exists {
		db.mu.Unlock()
		return evd.Errorf(evd.ErrCNotFound, "no store named %q", op.schemaName)
	}
	delete(db.stores, op.schemaName)
	db.mu.Unlock()

	t.mu.Lock()
	delete(t.handles, op.schemaName)
	t.mu.Unlock()
	return nil
}

func (t *transaction) execCreateIndex(op *txOp) (interface{}, error) {
	s := op.store
	if _, exists := s.index(op.schemaName); exists {
		return nil, evd.Errorf(evd.ErrCConstraint, "index %q already exists on store %q", op.schemaName, s.name)
	}
	idx := &indexData{
		name:    op.schemaName,
		keyPath: op.idxKeyPath,
		unique:  op.idxOpts.Unique,
		entries: newEntryTree(),
	}
	if err := s.buildIndex(idx); err != nil {
		// Populating over existing records hit a unique violation. The
		// version change cannot proceed with a half-built index.
		t.failTransaction(err)
		return nil, err
	}
	s.setIndex(idx)
	return idx, nil
}

func (t *transaction) execDeleteIndex(op *txOp) error {
	s := op.store
	if _, exists := s.index(op.schemaName); !exists {
		return evd.Errorf(evd.ErrCNotFound, "no index named %q on store %q", op.schemaName, s.name)
	}
	s.dropIndex(op.schemaName)
	return nil
}

// --------------------------------------------------------------------------
// Finish
// --------------------------------------------------------------------------

func (t *transaction) finish() {
	t.mu.Lock()
	aborted := t.state == txAborting
	if aborted {
		t.state = txAborted
	} else {
		t.state = txComplete
	}
	err := t.err
	schemaMem := t.schemaMem
	mementos := t.mementos
	completeSubs := append([]txSub(nil), t.completeSubs...)
	abortSubs := append([]txSub(nil), t.abortSubs...)
	errorSubs := append([]txErrSub(nil), t.errorSubs...)
	close(t.done)
	t.mu.Unlock()

	if aborted {
		if schemaMem != nil {
			t.db.restoreSchema(schemaMem)
		} else {
			for sd, m := range mementos {
				sd.restore(m)
			}
		}
	}
	t.releaseLocks()

	if aborted {
		mTxAborted.Inc()
		if err != nil {
			for _, s := range errorSubs {
				s.fn(err)
			}
		}
		for _, s := range abortSubs {
			s.fn()
		}
	} else {
		mTxCommitted.Inc()
		for _, s := range completeSubs {
			s.fn()
		}
	}
	t.conn.txFinished(t)
}

func (t *transaction) releaseLocks() {
	t.mu.Lock()
	locked := t.locked
	t.locked = nil
	t.mu.Unlock()
	for _, s := range locked {
		if t.mode == evd.ReadOnly {
			s.lock.RUnlock()
		} else {
			s.lock.Unlock()
		}
	}
}
