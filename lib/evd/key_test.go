package evd

import (
	"sort"
	"testing"
)

// TestKeyTypeOrdering tests the cross-type ordering contract: all numbers
// before all strings before all binary keys, ordered within each class.
func TestKeyTypeOrdering(t *testing.T) {
	ordered := []Key{
		Float64Key(-1000),
		Float64Key(-1.5),
		Float64Key(0),
		Float64Key(0.5),
		Float64Key(1),
		Float64Key(42),
		Uint64Key(1 << 53),
		StringKey(""),
		StringKey("a"),
		StringKey("ab"),
		StringKey("b"),
		BinaryKey([]byte{}),
		BinaryKey([]byte{0x00}),
		BinaryKey([]byte{0x01}),
		BinaryKey([]byte{0x01, 0x00}),
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Compare(ordered[i]) >= 0 {
			t.Errorf("Expected %s < %s", ordered[i-1], ordered[i])
		}
	}

	// A shuffled copy must sort back into the same order.
	shuffled := make([]Key, len(ordered))
	for i, k := range ordered {
		shuffled[(i*7)%len(ordered)] = k
	}
	sort.Slice(shuffled, func(i, j int) bool { return shuffled[i].Compare(shuffled[j]) < 0 })
	for i, k := range shuffled {
		if !k.Equal(ordered[i]) {
			t.Fatalf("Position %d: expected %s, got %s", i, ordered[i], k)
		}
	}
}

// TestKeyAccessors tests decoding keys back into their source values.
func TestKeyAccessors(t *testing.T) {
	if f, ok := Float64Key(12.25).Float64(); !ok || f != 12.25 {
		t.Errorf("Expected 12.25, got %v (ok=%v)", f, ok)
	}
	if f, ok := Float64Key(-3).Float64(); !ok || f != -3 {
		t.Errorf("Expected -3, got %v (ok=%v)", f, ok)
	}
	if s, ok := StringKey("hello").Str(); !ok || s != "hello" {
		t.Errorf("Expected hello, got %q (ok=%v)", s, ok)
	}

	if _, ok := StringKey("hello").Float64(); ok {
		t.Errorf("A string key should not decode as a number")
	}
	if _, ok := Float64Key(1).Str(); ok {
		t.Errorf("A number key should not decode as a string")
	}
	if _, ok := BinaryKey([]byte{1, 2}).Str(); ok {
		t.Errorf("A binary key should not decode as a string")
	}

	if got := Float64Key(42).String(); got != "42" {
		t.Errorf("Expected rendering 42, got %q", got)
	}
	if got := Float64Key(1.5).String(); got != "1.5" {
		t.Errorf("Expected rendering 1.5, got %q", got)
	}
	if got := StringKey("user:1").String(); got != "user:1" {
		t.Errorf("Expected rendering user:1, got %q", got)
	}
	if got := BinaryKey([]byte{0xAB, 0xCD}).String(); got != "0xabcd" {
		t.Errorf("Expected rendering 0xabcd, got %q", got)
	}
	if got := Key(nil).String(); got != "<nil>" {
		t.Errorf("Expected rendering <nil>, got %q", got)
	}
}

// TestUint64Key tests that integer keys land in the shared number domain.
func TestUint64Key(t *testing.T) {
	if !Uint64Key(7).Equal(Float64Key(7)) {
		t.Errorf("Uint64Key(7) should equal Float64Key(7)")
	}
	if Uint64Key(7).Compare(Float64Key(7.5)) >= 0 {
		t.Errorf("Expected 7 < 7.5 in the number domain")
	}
}

// TestEncodeKey tests the dynamic encoding entry point.
func TestEncodeKey(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Key
	}{
		{"String", "a", StringKey("a")},
		{"Bytes", []byte{1}, BinaryKey([]byte{1})},
		{"Float64", 2.5, Float64Key(2.5)},
		{"Float32", float32(2), Float64Key(2)},
		{"Int", 3, Float64Key(3)},
		{"Int64", int64(4), Float64Key(4)},
		{"Uint64", uint64(5), Float64Key(5)},
		{"Key", StringKey("k"), StringKey("k")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeKey(tc.in)
			if err != nil {
				t.Fatalf("EncodeKey failed: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}

	if _, err := EncodeKey(nil); !IsCode(err, ErrCData) {
		t.Errorf("Expected a data error for nil, got %v", err)
	}
	if _, err := EncodeKey(true); !IsCode(err, ErrCData) {
		t.Errorf("Expected a data error for bool, got %v", err)
	}
}

// TestKeyClone tests that clones are independent copies.
func TestKeyClone(t *testing.T) {
	k := StringKey("abc")
	c := k.Clone()
	if !c.Equal(k) {
		t.Fatalf("Expected the clone to equal the original")
	}
	c[1] = 'X'
	if c.Equal(k) {
		t.Errorf("Mutating the clone should not affect the original")
	}
	if Key(nil).Clone() != nil {
		t.Errorf("Expected the clone of a nil key to be nil")
	}
}
