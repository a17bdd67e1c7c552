package request

import (
	"hash"
)

// Kind is the closed set of request variants: [Simple], [Download] and
// [Multipart]. Consumers switch on the concrete type.
type Kind interface {
	kindName() string
}

// KindName returns a short label for k, used in logs and metrics.
func KindName(k Kind) string {
	if k == nil {
		return "none"
	}
	return k.kindName()
}

// Simple is a plain request with an optional in-memory body.
type Simple struct {
	Body        []byte
	ContentType string
}

func (Simple) kindName() string { return "simple" }

// Download streams the response body into Dir/FileName.
//
// Progress, if set, is invoked on the worker goroutine at most once per
// second and once on completion.
type Download struct {
	Dir          string    `validate:"required"`
	FileName     string    `validate:"required"`
	Checksum     hash.Hash `validate:"-"`
	ChecksumHex  string
	SkipExisting bool
	Progress     func(done, total int64)
}

func (Download) kindName() string { return "download" }

// Multipart uploads form fields and file parts as multipart/form-data.
type Multipart struct {
	Fields   map[string]string
	Files    []Part `validate:"dive"`
	Progress func(sent, total int64)
}

func (Multipart) kindName() string { return "multipart" }

// Part is a single file in a [Multipart] request. Exactly one of Path or
// Data must be set.
type Part struct {
	Field       string `validate:"required"`
	FileName    string
	ContentType string
	Path        string
	Data        []byte
}
