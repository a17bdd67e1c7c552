// Package client performs the network I/O for request descriptors on
// top of [net/http].
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(10 * time.Second),
//		client.WithUserAgent("myapp/1.0"),
//		client.WithThrottle(20, 5),
//	)
//
// # Performing Requests
//
// Each request kind has its own call. The caller owns the returned
// response body:
//
//	d, err := request.Get("https://api.example.com/v1/resource")
//	resp, err := c.PerformSimple(ctx, d)
//
// [Client.PerformDownload] leaves the body unread for streaming to disk
// with the [github.com/adamwoolhether/fetchq/client/download] package, and
// [Client.PerformUpload] streams multipart fields and files with progress.
//
// Every request carries an X-Request-ID header, the descriptor's cache
// directives and the trace context of ctx.
package client
