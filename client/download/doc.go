// Package download streams HTTP response bodies to disk with optional
// checksum validation and progress reporting.
//
// [Handle] writes the response body to a temporary file alongside the
// destination path, then atomically renames it on success:
//
//	n, err := download.Handle(ctx, resp.Body, resp.ContentLength, destPath, logger,
//		download.WithChecksum(sha256.New(), expectedHex),
//		download.WithProgress(func(done, total int64) { ... }),
//	)
//
// Most callers submit a download descriptor to the engine instead, which
// invokes Handle on a worker.
package download
