package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamwoolhether/fetchq/request"
)

// multipartBody streams a multipart form through a pipe, reporting bytes
// consumed by the transport to the kind's progress func.
type multipartBody struct {
	pr          *io.PipeReader
	contentType string
	size        int64
	sent        int64
	progress    func(sent, total int64)
}

func newMultipartBody(k request.Multipart, logger *slog.Logger) (*multipartBody, error) {
	boundary := multipart.NewWriter(io.Discard).Boundary()

	size, err := multipartSize(k, boundary)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("setting boundary: %w", err)
	}

	go func() {
		err := writeMultipart(mw, k)
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			logger.Error("writing multipart body", "error", err)
		}
		pw.CloseWithError(err)
	}()

	return &multipartBody{
		pr:          pr,
		contentType: mw.FormDataContentType(),
		size:        size,
		progress:    k.Progress,
	}, nil
}

func (b *multipartBody) Read(p []byte) (int, error) {
	n, err := b.pr.Read(p)
	if n > 0 && b.progress != nil {
		b.sent += int64(n)
		b.progress(b.sent, b.size)
	}
	return n, err
}

func (b *multipartBody) Close() error {
	return b.pr.Close()
}

// multipartSize computes the encoded length by writing every header with
// empty contents and adding the part sizes.
func multipartSize(k request.Multipart, boundary string) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, fmt.Errorf("setting boundary: %w", err)
	}

	var total int64
	for name, value := range k.Fields {
		if err := mw.WriteField(name, value); err != nil {
			return 0, err
		}
	}

	for _, p := range k.Files {
		if _, err := mw.CreatePart(partHeader(p)); err != nil {
			return 0, err
		}

		if p.Path == "" {
			total += int64(len(p.Data))
			continue
		}

		info, err := os.Stat(p.Path)
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", p.Path, err)
		}
		total += info.Size()
	}

	if err := mw.Close(); err != nil {
		return 0, err
	}

	return total + int64(buf.Len()), nil
}

func writeMultipart(mw *multipart.Writer, k request.Multipart) error {
	for name, value := range k.Fields {
		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("writing field %s: %w", name, err)
		}
	}

	for _, p := range k.Files {
		w, err := mw.CreatePart(partHeader(p))
		if err != nil {
			return fmt.Errorf("creating part %s: %w", p.Field, err)
		}

		if err := copyPart(w, p); err != nil {
			return err
		}
	}

	return mw.Close()
}

func copyPart(w io.Writer, p request.Part) error {
	if p.Path == "" {
		_, err := w.Write(p.Data)
		return err
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", p.Path, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copying %s: %w", p.Path, err)
	}

	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func partHeader(p request.Part) textproto.MIMEHeader {
	fileName := p.FileName
	if fileName == "" && p.Path != "" {
		fileName = filepath.Base(p.Path)
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(p.Field), quoteEscaper.Replace(fileName)))
	h.Set("Content-Type", contentType)

	return h
}
