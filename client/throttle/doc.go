// Package throttle rate-limits outbound HTTP requests with a token bucket
// from [golang.org/x/time/rate].
//
// A request that finds the bucket empty holds a reservation and sleeps
// until its token is due. If the request context ends first, or its
// deadline is earlier than the token, the reservation is given back and
// the request fails with [ErrWaitingFailed]:
//
//	rt, err := throttle.NewRoundTripper(10, 5, nil, http.DefaultTransport)
//	hc := &http.Client{Transport: rt}
//
// Requests tagged [request.Immediate] through [request.ContextWithPriority]
// skip the bucket entirely and consume no tokens.
package throttle
