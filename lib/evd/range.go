package evd

// --------------------------------------------------------------------------
// Key Ranges
// --------------------------------------------------------------------------

// KeyRange describes a contiguous span of keys. A nil Lower or Upper bound
// means unbounded on that side; the Open flags exclude the bound itself.
type KeyRange struct {
	Lower     Key
	Upper     Key
	LowerOpen bool
	UpperOpen bool
}

// Only returns the range containing exactly one key.
func Only(k Key) *KeyRange {
	return &KeyRange{Lower: k, Upper: k}
}

// LowerBound returns the range of all keys >= k (or > k if open).
func LowerBound(k Key, open bool) *KeyRange {
	return &KeyRange{Lower: k, LowerOpen: open}
}

// UpperBound returns the range of all keys <= k (or < k if open).
func UpperBound(k Key, open bool) *KeyRange {
	return &KeyRange{Upper: k, UpperOpen: open}
}

// Bound returns the range between lower and upper with the given openness.
func Bound(lower, upper Key, lowerOpen, upperOpen bool) *KeyRange {
	return &KeyRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

// Contains reports whether k falls inside the range. A nil range contains
// every key.
func (r *KeyRange) Contains(k Key) bool {
	if r == nil {
		return true
	}
	if r.Lower != nil {
		c := k.Compare(r.Lower)
		if c < 0 || (c == 0 && r.LowerOpen) {
			return false
		}
	}
	if r.Upper != nil {
		c := k.Compare(r.Upper)
		if c > 0 || (c == 0 && r.UpperOpen) {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Query is either a single Key or a *KeyRange. Read and cursor operations
// accept a Query; passing nil selects every record.
type Query interface {
	queryRange() *KeyRange
}

func (k Key) queryRange() *KeyRange {
	return Only(k)
}

func (r *KeyRange) queryRange() *KeyRange {
	return r
}

// RangeOf normalizes a Query into a *KeyRange. A nil Query yields a nil
// range, meaning unbounded.
func RangeOf(q Query) *KeyRange {
	if q == nil {
		return nil
	}
	return q.queryRange()
}
