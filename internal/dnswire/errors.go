// Package dnswire implements bit-exact parsing and serialization of DNS
// wire-format messages (RFC 1035 Section 4), including the name
// compression pointer scheme.
package dnswire

import "errors"

// Sentinel errors for wire-format failures. Wrap with fmt.Errorf("...: %w", …)
// to add context while preserving errors.Is checks.
var (
	// ErrEndOfBuffer is returned when a read or write would advance the
	// cursor past the fixed 512-byte buffer, or when ParsePacket reads past
	// the end of the datagram it was given.
	ErrEndOfBuffer = errors.New("dnswire: end of buffer")

	// ErrJumpLimitExceeded is returned when decoding a name follows more
	// than maxJumps compression pointers, bounding malicious pointer loops.
	ErrJumpLimitExceeded = errors.New("dnswire: too many compression pointer jumps")

	// ErrMalformedPacket is returned for structurally invalid packets that
	// are not simple end-of-buffer conditions (e.g. an empty or oversized
	// label, an over-long name, reserved label-length bits, or an A/AAAA
	// record whose address has the wrong length).
	ErrMalformedPacket = errors.New("dnswire: malformed packet")
)
