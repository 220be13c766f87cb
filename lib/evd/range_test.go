package evd

import "testing"

// TestRangeContains tests bound and openness handling.
func TestRangeContains(t *testing.T) {
	tests := []struct {
		name string
		rng  *KeyRange
		in   []Key
		out  []Key
	}{
		{
			name: "Nil",
			rng:  nil,
			in:   []Key{Float64Key(1), StringKey("z")},
		},
		{
			name: "Only",
			rng:  Only(StringKey("b")),
			in:   []Key{StringKey("b")},
			out:  []Key{StringKey("a"), StringKey("c")},
		},
		{
			name: "LowerClosed",
			rng:  LowerBound(StringKey("b"), false),
			in:   []Key{StringKey("b"), StringKey("z")},
			out:  []Key{StringKey("a")},
		},
		{
			name: "LowerOpen",
			rng:  LowerBound(StringKey("b"), true),
			in:   []Key{StringKey("c")},
			out:  []Key{StringKey("a"), StringKey("b")},
		},
		{
			name: "UpperClosed",
			rng:  UpperBound(StringKey("m"), false),
			in:   []Key{StringKey("a"), StringKey("m")},
			out:  []Key{StringKey("n")},
		},
		{
			name: "UpperOpen",
			rng:  UpperBound(StringKey("m"), true),
			in:   []Key{StringKey("a")},
			out:  []Key{StringKey("m"), StringKey("n")},
		},
		{
			name: "BoundHalfOpen",
			rng:  Bound(StringKey("b"), StringKey("d"), false, true),
			in:   []Key{StringKey("b"), StringKey("c")},
			out:  []Key{StringKey("a"), StringKey("d")},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range tc.in {
				if !tc.rng.Contains(k) {
					t.Errorf("Expected %s to be inside the range", k)
				}
			}
			for _, k := range tc.out {
				if tc.rng.Contains(k) {
					t.Errorf("Expected %s to be outside the range", k)
				}
			}
		})
	}
}

// TestRangeOf tests the query normalization.
func TestRangeOf(t *testing.T) {
	if RangeOf(nil) != nil {
		t.Errorf("Expected a nil query to normalize to a nil range")
	}

	r := RangeOf(StringKey("k"))
	if r == nil || !r.Lower.Equal(StringKey("k")) || !r.Upper.Equal(StringKey("k")) || r.LowerOpen || r.UpperOpen {
		t.Errorf("Expected a key query to normalize to its Only range, got %+v", r)
	}

	rng := Bound(StringKey("a"), StringKey("b"), true, false)
	if RangeOf(rng) != rng {
		t.Errorf("Expected a range query to pass through unchanged")
	}
}
