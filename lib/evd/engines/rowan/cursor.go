package rowan

import (
	"sync"

	"github.com/google/btree"

	"github.com/jmelchner/aDB/lib/evd"
	"github.com/jmelchner/aDB/lib/evd/engines/rowan/internal"
)

// cursorImpl is the engine's evd.Cursor. Position fields are guarded by mu
// because the event loop moves the cursor while the consumer reads it. All
// tree access happens on the event loop under the transaction's store locks.
type cursorImpl struct {
	txn      *transaction
	req      *request
	store    *storeData
	index    *indexData
	rng      *evd.KeyRange
	dir      evd.Direction
	keysOnly bool

	mu             sync.Mutex
	started        bool
	exhausted      bool
	closed         bool
	holdReleased   bool
	advancePending bool
	curKey         evd.Key
	curPrimary     evd.Key
	curValue       []byte
}

// cursorPos is one resolved cursor position.
type cursorPos struct {
	key     evd.Key
	primary evd.Key
	value   []byte
}

// --------------------------------------------------------------------------
// Cursor Interface
// --------------------------------------------------------------------------

func (c *cursorImpl) Key() evd.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curKey
}

func (c *cursorImpl) PrimaryKey() evd.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curPrimary
}

func (c *cursorImpl) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curValue
}

func (c *cursorImpl) Direction() evd.Direction {
	return c.dir
}

func (c *cursorImpl) Request() evd.Request {
	return c.req
}

func (c *cursorImpl) Continue(key evd.Key) error {
	return c.placeStep(&txOp{kind: opCursorStep, stepTarget: key, stepCount: 1})
}

func (c *cursorImpl) Advance(count int) error {
	if count < 1 {
		return evd.NewError(evd.ErrCData, "advance count must be at least 1")
	}
	return c.placeStep(&txOp{kind: opCursorStep, stepCount: count})
}

func (c *cursorImpl) ContinuePrimaryKey(key, primaryKey evd.Key) error {
	if c.index == nil {
		return evd.NewError(evd.ErrCData, "primary key continuation requires an index cursor")
	}
	if c.dir.Unique() {
		return evd.NewError(evd.ErrCData, "primary key continuation is not available on unique cursors")
	}
	if key == nil || primaryKey == nil {
		return evd.NewError(evd.ErrCData, "both an index key and a primary key are required")
	}
	return c.placeStep(&txOp{kind: opCursorStep, stepTarget: key, stepPrimary: primaryKey, stepCount: 1})
}

func (c *cursorImpl) Update(value []byte) evd.Request {
	if value == nil {
		return newFailedRequest(c.txn, evd.NewError(evd.ErrCData, "nil value"))
	}
	c.mu.Lock()
	if c.keysOnly {
		c.mu.Unlock()
		return newFailedRequest(c.txn, evd.NewError(evd.ErrCInvalidState, "key cursor has no value to update"))
	}
	if !c.positionedLocked() {
		c.mu.Unlock()
		return newFailedRequest(c.txn, evd.NewError(evd.ErrCInvalidState, "cursor is not positioned on a record"))
	}
	primary := c.curPrimary.Clone()
	c.mu.Unlock()
	return c.txn.placeOp(&txOp{kind: opCursorUpdate, store: c.store, key: primary, value: value, cursor: c}, true)
}

func (c *cursorImpl) Delete() evd.Request {
	c.mu.Lock()
	if !c.positionedLocked() {
		c.mu.Unlock()
		return newFailedRequest(c.txn, evd.NewError(evd.ErrCInvalidState, "cursor is not positioned on a record"))
	}
	primary := c.curPrimary.Clone()
	c.mu.Unlock()
	return c.txn.placeOp(&txOp{kind: opCursorDelete, store: c.store, key: primary, cursor: c}, true)
}

func (c *cursorImpl) Close() error {
	c.mu.Lock()
	if c.closed || c.exhausted {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	release := !c.holdReleased
	c.holdReleased = true
	c.mu.Unlock()
	if release {
		c.txn.releaseHold()
	}
	return nil
}

// positionedLocked reports whether the cursor currently points at a record.
func (c *cursorImpl) positionedLocked() bool {
	return c.started && !c.exhausted && !c.closed && !c.advancePending
}

// --------------------------------------------------------------------------
// Step Placement
// --------------------------------------------------------------------------

// placeStep validates the advance, re-arms the backing request and hands
// the step to the event loop. The re-arm happens before the enqueue, so a
// listener attached after this call either rides the pending state or
// catches up with the new position, never with the old one.
func (c *cursorImpl) placeStep(op *txOp) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return evd.NewError(evd.ErrCInvalidState, "cursor is closed")
	case c.exhausted:
		c.mu.Unlock()
		return evd.NewError(evd.ErrCInvalidState, "cursor is exhausted")
	case c.advancePending:
		c.mu.Unlock()
		return evd.NewError(evd.ErrCInvalidState, "an advance is already pending")
	case !c.started:
		c.mu.Unlock()
		return evd.NewError(evd.ErrCInvalidState, "cursor has no position yet")
	}
	if op.stepTarget != nil {
		if err := c.checkAheadLocked(op.stepTarget, op.stepPrimary); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.advancePending = true
	c.mu.Unlock()

	op.store = c.store
	op.index = c.index
	op.cursor = c
	op.req = c.req
	if err := c.txn.reserve(false); err != nil {
		c.mu.Lock()
		c.advancePending = false
		c.mu.Unlock()
		return err
	}
	c.req.rearm()
	c.txn.enqueue(op)
	return nil
}

func (c *cursorImpl) checkAheadLocked(target, targetPrimary evd.Key) error {
	cmp := target.Compare(c.curKey)
	ahead := cmp > 0
	if c.dir.Reverse() {
		ahead = cmp < 0
	}
	if cmp == 0 && targetPrimary != nil {
		pcmp := targetPrimary.Compare(c.curPrimary)
		ahead = pcmp > 0
		if c.dir.Reverse() {
			ahead = pcmp < 0
		}
	}
	if !ahead {
		return evd.NewError(evd.ErrCData, "continue target must lie ahead of the cursor position")
	}
	return nil
}

// --------------------------------------------------------------------------
// Step Execution
// --------------------------------------------------------------------------

func (t *transaction) execCursorOpen(op *txOp) (interface{}, error) {
	c := op.cursor
	mCursorSteps.Inc()
	if c.isClosed() {
		return nil, nil
	}
	pos, ok := c.seekInitial()
	if !ok {
		c.markExhausted()
		return nil, nil
	}
	c.setPosition(pos)
	return c, nil
}

func (t *transaction) execCursorStep(op *txOp) (interface{}, error) {
	c := op.cursor
	mCursorSteps.Inc()
	if c.isClosed() {
		c.clearAdvance()
		return nil, nil
	}
	cur := c.position()
	count := op.stepCount
	if count < 1 {
		count = 1
	}
	ok := true
	for i := 0; i < count && ok; i++ {
		if i == 0 {
			cur, ok = c.nextPosition(cur, op.stepTarget, op.stepPrimary)
		} else {
			cur, ok = c.nextPosition(cur, nil, nil)
		}
	}
	if !ok {
		c.markExhausted()
		return nil, nil
	}
	c.setPosition(cur)
	return c, nil
}

func (c *cursorImpl) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *cursorImpl) clearAdvance() {
	c.mu.Lock()
	c.advancePending = false
	c.mu.Unlock()
}

func (c *cursorImpl) position() cursorPos {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cursorPos{key: c.curKey, primary: c.curPrimary, value: c.curValue}
}

func (c *cursorImpl) setPosition(pos cursorPos) {
	c.mu.Lock()
	c.started = true
	c.advancePending = false
	c.curKey = pos.key
	c.curPrimary = pos.primary
	c.curValue = pos.value
	c.mu.Unlock()
}

func (c *cursorImpl) markExhausted() {
	c.mu.Lock()
	c.exhausted = true
	c.advancePending = false
	c.curKey, c.curPrimary, c.curValue = nil, nil, nil
	release := !c.holdReleased
	c.holdReleased = true
	c.mu.Unlock()
	if release {
		c.txn.releaseHold()
	}
}

// --------------------------------------------------------------------------
// Seeking
// --------------------------------------------------------------------------

func (c *cursorImpl) seekInitial() (cursorPos, bool) {
	if c.index == nil {
		r, ok := seekRecord(c.store.records, c.rng, nil, true, c.dir.Reverse())
		if !ok {
			return cursorPos{}, false
		}
		return c.recordPos(r), true
	}
	e, ok := seekEntry(c.index.entries, c.rng, nil, nil, true, c.dir.Reverse())
	if !ok {
		return cursorPos{}, false
	}
	if c.dir == evd.PrevUnique {
		if e, ok = firstEntryOfKey(c.index.entries, e.Key); !ok {
			return cursorPos{}, false
		}
	}
	return c.entryPos(e), true
}

// nextPosition resolves the position after cur. A non-nil target seeks to
// the first position at or beyond it; otherwise this is a plain step.
func (c *cursorImpl) nextPosition(cur cursorPos, target, targetPrimary evd.Key) (cursorPos, bool) {
	if c.index == nil {
		var r internal.Record
		var ok bool
		if target != nil {
			r, ok = seekRecord(c.store.records, c.rng, target, true, c.dir.Reverse())
		} else {
			r, ok = seekRecord(c.store.records, c.rng, cur.primary, false, c.dir.Reverse())
		}
		if !ok {
			return cursorPos{}, false
		}
		return c.recordPos(r), true
	}
	e, ok := c.nextEntry(cur, target, targetPrimary)
	if !ok {
		return cursorPos{}, false
	}
	return c.entryPos(e), true
}

func (c *cursorImpl) nextEntry(cur cursorPos, target, targetPrimary evd.Key) (internal.IndexEntry, bool) {
	tree := c.index.entries
	rev := c.dir.Reverse()
	if target != nil {
		e, ok := seekEntry(tree, c.rng, target, targetPrimary, true, rev)
		if !ok {
			return e, false
		}
		if c.dir == evd.PrevUnique {
			return firstEntryOfKey(tree, e.Key)
		}
		return e, true
	}
	if c.dir.Unique() {
		e, ok := seekEntry(tree, c.rng, cur.key, nil, false, rev)
		if !ok {
			return e, false
		}
		if rev {
			return firstEntryOfKey(tree, e.Key)
		}
		return e, true
	}
	return seekEntry(tree, c.rng, cur.key, cur.primary, false, rev)
}

func (c *cursorImpl) recordPos(r internal.Record) cursorPos {
	pos := cursorPos{key: r.Key, primary: r.Key}
	if !c.keysOnly {
		pos.value = maybeClone(r.Value, c.txn.opts.CloneValues)
	}
	return pos
}

func (c *cursorImpl) entryPos(e internal.IndexEntry) cursorPos {
	pos := cursorPos{key: e.Key, primary: e.Primary}
	if !c.keysOnly {
		if r, ok := c.store.records.Get(internal.Record{Key: e.Primary}); ok {
			pos.value = maybeClone(r.Value, c.txn.opts.CloneValues)
		}
	}
	return pos
}

// --------------------------------------------------------------------------
// Seek Primitives
// --------------------------------------------------------------------------

// seekRecord finds the first record within rng in the given direction,
// starting from the pivot key when it is non-nil. With inclusive unset the
// pivot itself is skipped.
func seekRecord(tree *btree.BTreeG[internal.Record], rng *evd.KeyRange, from evd.Key, inclusive, reverse bool) (internal.Record, bool) {
	var out internal.Record
	found := false
	visit := func(r internal.Record) bool {
		if from != nil {
			cmp := r.Key.Compare(from)
			if reverse {
				if cmp > 0 || (cmp == 0 && !inclusive) {
					return true
				}
			} else {
				if cmp < 0 || (cmp == 0 && !inclusive) {
					return true
				}
			}
		}
		if reverse {
			if !belowUpper(r.Key, rng) {
				return true
			}
			if !aboveLower(r.Key, rng) {
				return false
			}
		} else {
			if !aboveLower(r.Key, rng) {
				return true
			}
			if !belowUpper(r.Key, rng) {
				return false
			}
		}
		out = r
		found = true
		return false
	}
	if reverse {
		switch {
		case from != nil:
			tree.DescendLessOrEqual(internal.Record{Key: from}, visit)
		case rng != nil && rng.Upper != nil:
			tree.DescendLessOrEqual(internal.Record{Key: rng.Upper}, visit)
		default:
			tree.Descend(visit)
		}
	} else {
		switch {
		case from != nil:
			tree.AscendGreaterOrEqual(internal.Record{Key: from}, visit)
		case rng != nil && rng.Lower != nil:
			tree.AscendGreaterOrEqual(internal.Record{Key: rng.Lower}, visit)
		default:
			tree.Ascend(visit)
		}
	}
	return out, found
}

// seekEntry finds the first index entry whose key lies within rng in the
// given direction, starting from the (from, fromPrimary) pivot when from is
// non-nil. A nil fromPrimary pivots on the key alone: inclusive admits every
// entry of that key, exclusive skips them all.
func seekEntry(tree *btree.BTreeG[internal.IndexEntry], rng *evd.KeyRange, from, fromPrimary evd.Key, inclusive, reverse bool) (internal.IndexEntry, bool) {
	var out internal.IndexEntry
	found := false
	visit := func(e internal.IndexEntry) bool {
		if from != nil {
			cmp := e.Key.Compare(from)
			if reverse {
				if cmp > 0 {
					return true
				}
				if cmp == 0 {
					if fromPrimary != nil {
						p := e.Primary.Compare(fromPrimary)
						if p > 0 || (p == 0 && !inclusive) {
							return true
						}
					} else if !inclusive {
						return true
					}
				}
			} else {
				if cmp < 0 {
					return true
				}
				if cmp == 0 {
					if fromPrimary != nil {
						p := e.Primary.Compare(fromPrimary)
						if p < 0 || (p == 0 && !inclusive) {
							return true
						}
					} else if !inclusive {
						return true
					}
				}
			}
		}
		if reverse {
			if !belowUpper(e.Key, rng) {
				return true
			}
			if !aboveLower(e.Key, rng) {
				return false
			}
		} else {
			if !aboveLower(e.Key, rng) {
				return true
			}
			if !belowUpper(e.Key, rng) {
				return false
			}
		}
		out = e
		found = true
		return false
	}
	if reverse {
		var pivot *internal.IndexEntry
		switch {
		case from != nil && fromPrimary != nil:
			pivot = &internal.IndexEntry{Key: from, Primary: fromPrimary}
		case from != nil:
			pivot = &internal.IndexEntry{Key: keyAfter(from)}
		case rng != nil && rng.Upper != nil:
			pivot = &internal.IndexEntry{Key: keyAfter(rng.Upper)}
		}
		if pivot != nil {
			tree.DescendLessOrEqual(*pivot, visit)
		} else {
			tree.Descend(visit)
		}
	} else {
		var pivot *internal.IndexEntry
		switch {
		case from != nil:
			pivot = &internal.IndexEntry{Key: from, Primary: fromPrimary}
		case rng != nil && rng.Lower != nil:
			pivot = &internal.IndexEntry{Key: rng.Lower}
		}
		if pivot != nil {
			tree.AscendGreaterOrEqual(*pivot, visit)
		} else {
			tree.Ascend(visit)
		}
	}
	return out, found
}

// firstEntryOfKey returns the entry with the lowest primary key for the
// given index key. Unique reverse traversal lands on it.
func firstEntryOfKey(tree *btree.BTreeG[internal.IndexEntry], key evd.Key) (internal.IndexEntry, bool) {
	return seekEntry(tree, nil, key, nil, true, false)
}
