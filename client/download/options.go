package download

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// Option defines optional settings for [Handle].
type Option func(*options) error

type options struct {
	digest       hash.Hash
	want         []byte
	progressFn   ProgressFunc
	progressLog  bool
	skipExisting bool
}

// ProgressFunc receives the bytes written so far and the expected total,
// which is -1 when the server did not send a Content-Length.
type ProgressFunc func(done, total int64)

// WithChecksum verifies the written file against expected, a hex-encoded
// digest produced by h (e.g. sha256.New()). Upper and lower case are
// accepted.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(opts *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		want, err := hex.DecodeString(expected)
		if err != nil {
			return fmt.Errorf("decoding expected checksum: %w", err)
		}
		if len(want) != h.Size() {
			return fmt.Errorf("expected checksum is %d bytes, digest produces %d", len(want), h.Size())
		}

		h.Reset()
		opts.digest = h
		opts.want = want
		return nil
	}
}

// WithProgress reports progress to fn after every write.
func WithProgress(fn ProgressFunc) Option {
	return func(opts *options) error {
		if fn == nil {
			return errors.New("progress func must not be nil")
		}
		opts.progressFn = fn
		return nil
	}
}

// WithProgressLog logs throughput at debug level through the logger given
// to Handle, at most once per second.
func WithProgressLog() Option {
	return func(opts *options) error {
		opts.progressLog = true
		return nil
	}
}

// WithSkipExisting makes Handle return immediately, reading nothing, when
// the destination already exists.
func WithSkipExisting() Option {
	return func(opts *options) error {
		opts.skipExisting = true
		return nil
	}
}
