package protocol

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Serialize is the inverse of the framer (spec.md §4.2): it encodes a
// Value back into its wire form. Bulk strings always use
// "${len}\r\n<bytes>\r\n"; an RDBPayload uses "${len}\r\n<bytes>" with no
// trailing CRLF. Output buffers are pooled with bytebufferpool since the
// connection orchestration layer serializes one reply per command.
func Serialize(v Value) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	writeValue(bb, v)

	out := make([]byte, bb.Len())
	copy(out, bb.Bytes())
	return out
}

func writeValue(bb *bytebufferpool.ByteBuffer, v Value) {
	switch v.Kind {
	case SimpleString:
		bb.WriteByte('+')
		bb.WriteString(v.Str)
		bb.WriteString("\r\n")

	case SimpleError:
		bb.WriteByte('-')
		bb.WriteString(v.Str)
		bb.WriteString("\r\n")

	case Integer:
		bb.WriteByte(':')
		bb.WriteString(strconv.FormatInt(v.Int, 10))
		bb.WriteString("\r\n")

	case BulkString:
		bb.WriteByte('$')
		bb.WriteString(strconv.Itoa(len(v.Bulk)))
		bb.WriteString("\r\n")
		bb.Write(v.Bulk)
		bb.WriteString("\r\n")

	case NullBulkString:
		bb.WriteString("$-1\r\n")

	case Array:
		bb.WriteByte('*')
		bb.WriteString(strconv.Itoa(len(v.Items)))
		bb.WriteString("\r\n")
		for _, item := range v.Items {
			writeValue(bb, item)
		}

	case NullArray:
		bb.WriteString("*-1\r\n")

	case RDBPayload:
		bb.WriteByte('$')
		bb.WriteString(strconv.Itoa(len(v.Bulk)))
		bb.WriteString("\r\n")
		bb.Write(v.Bulk)
	}
}

// SerializeCommand encodes a command name and its string arguments as a
// RESP array of bulk strings — the wire form used both for client
// requests and for replicated write commands forwarded to replicas.
func SerializeCommand(name string, args ...string) []byte {
	items := make([]Value, 0, len(args)+1)
	items = append(items, NewBulkStringFromString(name))
	for _, a := range args {
		items = append(items, NewBulkStringFromString(a))
	}
	return Serialize(NewArray(items))
}
