package download

import (
	"bytes"
	"fmt"
	"hash"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// meter observes every byte written to the destination. It feeds the
// checksum digest, reports progress and logs throughput at most once per
// second.
type meter struct {
	path   string
	digest hash.Hash
	want   []byte
	fn     ProgressFunc
	logger *slog.Logger
	every  rate.Sometimes

	done  int64
	total int64
	start time.Time
}

func newMeter(path string, total int64, opts options, logger *slog.Logger) *meter {
	m := meter{
		path:   path,
		digest: opts.digest,
		want:   opts.want,
		fn:     opts.progressFn,
		every:  rate.Sometimes{Interval: time.Second},
		total:  total,
		start:  time.Now(),
	}
	if opts.progressLog {
		m.logger = logger
	}
	return &m
}

func (m *meter) Write(p []byte) (int, error) {
	if m.digest != nil {
		m.digest.Write(p)
	}
	m.done += int64(len(p))

	if m.fn != nil && len(p) > 0 {
		m.fn(m.done, m.total)
	}
	if m.logger != nil {
		m.every.Do(func() { m.log("downloading") })
	}

	return len(p), nil
}

// verify compares the digest against the expected sum, if any.
func (m *meter) verify() error {
	if m.digest == nil {
		return nil
	}

	got := m.digest.Sum(nil)
	if !bytes.Equal(got, m.want) {
		return &Error{
			Path:   m.path,
			Err:    ErrChecksumMismatch,
			Detail: fmt.Sprintf("expected %x, got %x", m.want, got),
		}
	}

	return nil
}

func (m *meter) finish() {
	if m.logger != nil {
		m.log("download complete")
	}
}

func (m *meter) log(msg string) {
	elapsed := time.Since(m.start)
	attrs := []any{
		"path", m.path,
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", m.done,
		"total", m.total,
		"mbps", fmt.Sprintf("%.2f", float64(m.done)/elapsed.Seconds()/(1024*1024)),
	}
	if m.total > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(m.done)/float64(m.total)*100))
	}
	m.logger.Debug(msg, attrs...)
}
