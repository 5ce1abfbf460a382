// Package protocol implements the RESP (Redis Serialization Protocol)
// value model, stream framer and serializer described in spec.md §4.1/§4.2:
// a tagged variant type, a framer that hands back the exact bytes consumed
// for each parsed value (needed for byte-exact replication accounting), and
// the corresponding serializer.
package protocol

import "fmt"

// Kind discriminates the RESP value variants of spec.md §3.
type Kind int

const (
	SimpleString Kind = iota
	SimpleError
	Integer
	BulkString
	NullBulkString
	Array
	NullArray
	// RDBPayload is a pseudo-type used only for serialization: a
	// length-prefixed byte blob WITHOUT a trailing CRLF (spec.md §3/§4.2).
	RDBPayload
)

// Value is the tagged RESP value. Only the fields relevant to Kind are
// populated; the zero Value is not a valid RESP value on its own.
type Value struct {
	Kind  Kind
	Str   string  // SimpleString, SimpleError
	Int   int64   // Integer
	Bulk  []byte  // BulkString, RDBPayload
	Items []Value // Array
}

// NewSimpleString builds a simple-string Value.
func NewSimpleString(s string) Value { return Value{Kind: SimpleString, Str: s} }

// NewSimpleError builds a simple-error Value.
func NewSimpleError(s string) Value { return Value{Kind: SimpleError, Str: s} }

// NewInteger builds an integer Value.
func NewInteger(n int64) Value { return Value{Kind: Integer, Int: n} }

// NewBulkString builds a bulk-string Value from raw bytes.
func NewBulkString(b []byte) Value { return Value{Kind: BulkString, Bulk: b} }

// NewBulkStringFromString is a convenience wrapper over NewBulkString.
func NewBulkStringFromString(s string) Value { return NewBulkString([]byte(s)) }

// NullBulk is the distinguished null bulk string ($-1\r\n).
var NullBulk = Value{Kind: NullBulkString}

// NullArr is the distinguished null array (*-1\r\n).
var NullArr = Value{Kind: NullArray}

// NewArray builds an array Value.
func NewArray(items []Value) Value { return Value{Kind: Array, Items: items} }

// NewRDBPayload builds the pseudo-type used to serialize an RDB blob with
// no trailing CRLF.
func NewRDBPayload(b []byte) Value { return Value{Kind: RDBPayload, Bulk: b} }

// IsNull reports whether v is a null bulk string or null array.
func (v Value) IsNull() bool {
	return v.Kind == NullBulkString || v.Kind == NullArray
}

// String renders a human-readable form, used in logs and error messages —
// never on the wire.
func (v Value) String() string {
	switch v.Kind {
	case SimpleString:
		return fmt.Sprintf("+%s", v.Str)
	case SimpleError:
		return fmt.Sprintf("-%s", v.Str)
	case Integer:
		return fmt.Sprintf(":%d", v.Int)
	case BulkString:
		return fmt.Sprintf("$%q", v.Bulk)
	case NullBulkString:
		return "$-1"
	case Array:
		return fmt.Sprintf("*%d%v", len(v.Items), v.Items)
	case NullArray:
		return "*-1"
	case RDBPayload:
		return fmt.Sprintf("$%d<rdb>", len(v.Bulk))
	default:
		return "<invalid>"
	}
}

// AsCommand interprets an Array as an uppercased command name and its
// argument strings, per spec.md §4.4 ("The first array element is the
// uppercased command name; subsequent elements are arguments"). Items are
// normally bulk strings, but a RESP Integer is also accepted in argument
// position (e.g. a PX value sent as ":100\r\n") and rendered as its decimal
// form, per the argument validation rule in spec.md §4.4. ok is false if v
// is not a non-empty array of bulk strings/integers, or the command name
// itself is not a bulk string.
func (v Value) AsCommand() (name string, args []string, ok bool) {
	if v.Kind != Array || len(v.Items) == 0 {
		return "", nil, false
	}
	if v.Items[0].Kind != BulkString {
		return "", nil, false
	}
	args = make([]string, 0, len(v.Items)-1)
	for _, item := range v.Items[1:] {
		switch item.Kind {
		case BulkString:
			args = append(args, string(item.Bulk))
		case Integer:
			args = append(args, fmt.Sprintf("%d", item.Int))
		default:
			return "", nil, false
		}
	}
	name = UpperASCII(string(v.Items[0].Bulk))
	return name, args, true
}

// UpperASCII upper-cases ASCII letters only, used throughout for
// case-insensitive command names and options (RESP has no locale notion).
func UpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// LowerASCII lower-cases ASCII letters only, the counterpart of UpperASCII.
func LowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
