// Package internal provides the data structures used by the rowan engine:
// ordered record and index entry types for the btrees, the transaction
// event queue, and JSON key path extraction for secondary indexes.
package internal

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/jmelchner/aDB/lib/evd"
)

// --------------------------------------------------------------------------
// Record Types
// --------------------------------------------------------------------------

// Record is one stored key/value pair. Records are ordered by key.
type Record struct {
	Key   evd.Key
	Value []byte
}

// RecordLess is the btree ordering for records.
func RecordLess(a, b Record) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// IndexEntry is one index posting: the extracted index key plus the primary
// key of the record it belongs to. Entries are ordered by index key first,
// primary key second, so duplicate index keys enumerate in primary order.
type IndexEntry struct {
	Key     evd.Key
	Primary evd.Key
}

// IndexEntryLess is the btree ordering for index entries.
func IndexEntryLess(a, b IndexEntry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Primary, b.Primary) < 0
}

// --------------------------------------------------------------------------
// Event Queue
// --------------------------------------------------------------------------

// Queue is the FIFO request queue of a transaction. Producers push from
// arbitrary goroutines; the transaction's event loop is the single consumer.
// Closing the queue wakes the consumer, which still receives all items
// pushed before the close.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. It reports false if the queue is already closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Pop blocks until an item is available or the queue is closed and drained.
// The boolean return value is false only in the latter case.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close marks the queue closed and wakes the consumer.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// --------------------------------------------------------------------------
// Key Path Extraction
// --------------------------------------------------------------------------

// ExtractKeyPath evaluates a dotted field path against a JSON value and
// encodes the addressed scalar as a key. The boolean return value is false
// when the value is not JSON, the path is missing, or the addressed field
// is not a string or number; such records simply stay out of the index.
func ExtractKeyPath(value []byte, keyPath string) (evd.Key, bool) {
	var doc interface{}
	if err := json.Unmarshal(value, &doc); err != nil {
		return nil, false
	}
	for _, segment := range strings.Split(keyPath, ".") {
		obj, ok := doc.(map[string]interface{})
		if !ok {
			return nil, false
		}
		doc, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	switch v := doc.(type) {
	case string:
		return evd.StringKey(v), true
	case float64:
		return evd.Float64Key(v), true
	default:
		return nil, false
	}
}
