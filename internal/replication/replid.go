package replication

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

const hexDigits = "0123456789abcdef"

// ErrInvalidReplID is returned by ValidateReplID for anything other than 40
// lowercase hex characters (spec.md §6).
var ErrInvalidReplID = errors.New("replication: invalid master replication id")

// GenerateReplID produces a 40-character lowercase hex identifier from 20
// bytes of crypto/rand. It identifies a replication history rather than
// protecting anything, so the strength of the RNG is not relied upon.
func GenerateReplID() string {
	buf := make([]byte, 20)
	_, _ = rand.Read(buf)

	out := make([]byte, 40)
	for i, b := range buf {
		out[2*i] = hexDigits[b>>4]
		out[2*i+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// ValidateReplID reports whether s is exactly 40 lowercase hex digits, as
// replicas must check on any replid received from a primary.
func ValidateReplID(s string) error {
	if len(s) != 40 {
		return errors.Wrapf(ErrInvalidReplID, "length %d", len(s))
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return errors.Wrapf(ErrInvalidReplID, "byte %q", c)
		}
	}
	return nil
}
