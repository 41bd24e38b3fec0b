// Package resolver implements the iterative recursive resolver: starting
// from a configured seed nameserver, it follows NS/A referral chains to
// answer a query, consulting a shared TTL cache at every step (spec §4.3).
package resolver

import "errors"

var (
	// ErrTransport wraps any I/O or parse failure while querying an
	// upstream nameserver (send, receive, timeout, or malformed reply).
	// The pipeline (spec §4.6) turns this into SERVFAIL.
	ErrTransport = errors.New("resolver: transport error")

	// ErrHopLimitExceeded is returned when the iterative referral loop
	// exceeds the configured hop ceiling without reaching a terminal
	// answer. The source has no such bound (spec §9); this resolver adds
	// one, as recommended there.
	ErrHopLimitExceeded = errors.New("resolver: hop limit exceeded")
)
