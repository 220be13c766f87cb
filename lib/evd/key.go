package evd

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
)

// --------------------------------------------------------------------------
// Key Type
// --------------------------------------------------------------------------

// Key is an encoded record key. Keys are opaque byte strings ordered with
// bytes.Compare; the constructors below produce order-preserving encodings
// with a leading type tag, so keys of mixed origin still sort
// deterministically: all numbers before all strings before all binary keys,
// and numerically/lexicographically within each class.
type Key []byte

// Type tags. The tag values define the cross-type ordering.
const (
	keyTagNumber byte = 0x01
	keyTagString byte = 0x02
	keyTagBinary byte = 0x03
)

// Compare returns -1, 0 or 1 following bytes.Compare semantics.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k, o)
}

// Equal reports whether two keys are byte-identical.
func (k Key) Equal(o Key) bool {
	return bytes.Equal(k, o)
}

// Clone returns an independent copy of the key.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// Float64Key encodes a number as a key. The encoding flips the sign bit for
// non-negative values and all bits for negative ones so that byte order
// equals numeric order.
func Float64Key(f float64) Key {
	k := make(Key, 9)
	k[0] = keyTagNumber
	binary.BigEndian.PutUint64(k[1:], orderFloatBits(f))
	return k
}

// Uint64Key encodes an unsigned integer as a number key. Number keys share
// one ordering domain, so integers are represented as floating point values
// (exact up to 2^53, which also bounds generated keys).
func Uint64Key(v uint64) Key {
	return Float64Key(float64(v))
}

// StringKey encodes a string as a key. UTF-8 byte order equals code point
// order, so the raw bytes follow the tag.
func StringKey(s string) Key {
	k := make(Key, 1+len(s))
	k[0] = keyTagString
	copy(k[1:], s)
	return k
}

// BinaryKey encodes an opaque byte slice as a key.
func BinaryKey(b []byte) Key {
	k := make(Key, 1+len(b))
	k[0] = keyTagBinary
	copy(k[1:], b)
	return k
}

// EncodeKey converts a Go value into a Key. Supported types: Key (returned
// as is), string, []byte, float64, float32, int, int64, uint64.
func EncodeKey(v interface{}) (Key, error) {
	switch t := v.(type) {
	case Key:
		return t, nil
	case string:
		return StringKey(t), nil
	case []byte:
		return BinaryKey(t), nil
	case float64:
		return Float64Key(t), nil
	case float32:
		return Float64Key(float64(t)), nil
	case int:
		return Float64Key(float64(t)), nil
	case int64:
		return Float64Key(float64(t)), nil
	case uint64:
		return Uint64Key(t), nil
	case nil:
		return nil, NewError(ErrCData, "nil is not a valid key")
	default:
		return nil, Errorf(ErrCData, "unsupported key type %T", v)
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Float64 decodes a number key. The boolean return value indicates whether
// the key is a number key.
func (k Key) Float64() (float64, bool) {
	if len(k) != 9 || k[0] != keyTagNumber {
		return 0, false
	}
	return floatFromOrderBits(binary.BigEndian.Uint64(k[1:])), true
}

// Str decodes a string key. The boolean return value indicates whether the
// key is a string key.
func (k Key) Str() (string, bool) {
	if len(k) == 0 || k[0] != keyTagString {
		return "", false
	}
	return string(k[1:]), true
}

// String renders the key for logs and CLI output.
func (k Key) String() string {
	if len(k) == 0 {
		return "<nil>"
	}
	switch k[0] {
	case keyTagNumber:
		if f, ok := k.Float64(); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case keyTagString:
		return string(k[1:])
	case keyTagBinary:
		return "0x" + hex.EncodeToString(k[1:])
	}
	return "0x" + hex.EncodeToString(k)
}

// --------------------------------------------------------------------------
// Float Ordering Helpers
// --------------------------------------------------------------------------

func orderFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		return bits | (1 << 63)
	}
	return ^bits
}

func floatFromOrderBits(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits &^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}
