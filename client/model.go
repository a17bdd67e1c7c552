package client

import (
	"errors"
	"net/http"
)

// ErrKindMismatch is returned when a Perform method receives a descriptor
// of another request kind.
var ErrKindMismatch = errors.New("descriptor kind does not match transport call")

// HeaderFromCache is set by caching transports on responses served locally.
const HeaderFromCache = "X-From-Cache"

// FromCache reports whether resp was served by a caching transport.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderFromCache) == "1"
}
