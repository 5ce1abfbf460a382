package protocol

import "github.com/pkg/errors"

// Error kinds from spec.md §7. Framing errors on a connection are fatal;
// callers distinguish them with errors.Is against these sentinels.
var (
	// ErrMalformedFrame covers an unknown first byte, a bulk payload not
	// terminated by \r\n, a non-ASCII integer, or a length overflow.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnexpectedEOF is returned when a partial frame is followed by EOF.
	ErrUnexpectedEOF = errors.New("protocol: unexpected eof mid-frame")
)
