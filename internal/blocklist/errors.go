// Package blocklist implements the deny/allow host matching used to
// short-circuit resolution before it ever reaches the recursive resolver
// (spec §4.4, §4.6).
package blocklist

import "errors"

// ErrFetch wraps a failure to load a list, whether from disk or over HTTP.
var ErrFetch = errors.New("blocklist: failed to load list")
