package wrap

import (
	"context"
	"iter"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Cursor Iteration
// --------------------------------------------------------------------------

// IterCursor is the cursor view yielded by the range iterators. Its
// advancing methods do not return futures: they record the intended step,
// and the loop performs it after the body returns. Recording a second step
// in the same pass replaces the first; a pass that records no step continues
// to the next position.
type IterCursor struct {
	*Cursor
	slot *advanceSlot
}

// advanceSlot holds the step the loop will take after the current yield. It
// is written and read on the consuming goroutine only.
type advanceSlot struct {
	next func(c *Cursor) *Future[*Cursor]
}

// Continue records an advance to the next position, or to the first position
// at or beyond the given key if key is non-nil.
func (it *IterCursor) Continue(key evd.Key) {
	it.slot.next = func(c *Cursor) *Future[*Cursor] { return c.Continue(key) }
}

// Advance records a step of count positions forward, count >= 1.
func (it *IterCursor) Advance(count int) {
	it.slot.next = func(c *Cursor) *Future[*Cursor] { return c.Advance(count) }
}

// ContinuePrimaryKey records an advance of an index cursor to the first
// entry at or beyond the given index key / primary key pair.
func (it *IterCursor) ContinuePrimaryKey(key, primaryKey evd.Key) {
	it.slot.next = func(c *Cursor) *Future[*Cursor] { return c.ContinuePrimaryKey(key, primaryKey) }
}

// Iterate yields every record in the query range in the given direction. The
// cursor is opened when the sequence is first ranged over. See Cursor.Iterate
// for the loop semantics.
func (s *Store) Iterate(ctx context.Context, q evd.Query, dir evd.Direction) iter.Seq2[*IterCursor, error] {
	return iterate(ctx, func() *Future[*Cursor] { return s.OpenCursor(q, dir) })
}

// Iterate yields every index entry in the query range in the given
// direction. The cursor is opened when the sequence is first ranged over.
// See Cursor.Iterate for the loop semantics.
func (ix *Index) Iterate(ctx context.Context, q evd.Query, dir evd.Direction) iter.Seq2[*IterCursor, error] {
	return iterate(ctx, func() *Future[*Cursor] { return ix.OpenCursor(q, dir) })
}

// Iterate consumes the cursor's remaining positions, starting with the
// current one. Each pass of the loop yields the cursor and a nil error; when
// opening or advancing fails, a final pass yields a nil cursor and the
// failure. Breaking out of the loop closes the cursor so the transaction can
// complete.
func (c *Cursor) Iterate(ctx context.Context) iter.Seq2[*IterCursor, error] {
	return iterate(ctx, func() *Future[*Cursor] { return Resolved(c) })
}

func iterate(ctx context.Context, open func() *Future[*Cursor]) iter.Seq2[*IterCursor, error] {
	return func(yield func(*IterCursor, error) bool) {
		cur, err := open().Await(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if cur == nil {
			return
		}
		slot := &advanceSlot{}
		it := &IterCursor{Cursor: cur, slot: slot}
		for {
			slot.next = nil
			if !yield(it, nil) {
				_ = cur.Close()
				return
			}
			step := slot.next
			if step == nil {
				step = func(c *Cursor) *Future[*Cursor] { return c.Continue(nil) }
			}
			next, err := step(cur).Await(ctx)
			if err != nil {
				_ = cur.Close()
				yield(nil, err)
				return
			}
			if next == nil {
				return
			}
			cur = next
			it.Cursor = next
		}
	}
}
