// Package request describes the units of work scheduled by fetchq.
//
// A [Descriptor] is built once with [New] (or one of the verb helpers such as
// [Get], [Post], [NewDownload] and [NewUpload]) and is treated as immutable
// from then on:
//
//	d, err := request.Get("https://api.example.com/v1/users/42",
//		request.WithPriority(request.High),
//		request.WithTag("profile"),
//		request.WithDestination(&user),
//	)
//
// The work itself is one of three [Kind] variants: [Simple], [Download] or
// [Multipart]. The [Shape] decides how a successful response body is handed
// back to the caller.
//
// Failures are reported as [*Error] values wrapping one of [ErrConnection],
// [ErrServer], [ErrParse] or [ErrCancelled].
package request
