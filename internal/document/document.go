// Package document builds the root HTML document served for the site root
// and for every path the bundler does not know about.
//
// The document is assembled once at startup from the project's HTML
// template: the public URL placeholder is filled in, a script tag is
// appended to the body for every JavaScript output, a stylesheet link for
// every CSS output, and in production a Content-Security-Policy meta tag
// closes the head.
package document

import (
	"bytes"
	"io"
	"os"

	spaerrors "github.com/conneroisu/spadev/internal/errors"
)

// Document is an assembled HTML document. It is immutable; every accessor
// either copies or only reads the underlying bytes.
type Document struct {
	b []byte
}

// New returns a Document holding a copy of b.
func New(b []byte) Document {
	return Document{b: append([]byte(nil), b...)}
}

// Len returns the size of the document in bytes.
func (d Document) Len() int {
	return len(d.b)
}

// Bytes returns a copy of the document.
func (d Document) Bytes() []byte {
	return append([]byte(nil), d.b...)
}

// String returns the document as a string.
func (d Document) String() string {
	return string(d.b)
}

// Reader returns a fresh reader over the document.
func (d Document) Reader() *bytes.Reader {
	return bytes.NewReader(d.b)
}

// WriteTo writes the document to w.
func (d Document) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.b)
	return int64(n), err
}

// LoadTemplate reads the HTML template from disk.
func LoadTemplate(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, spaerrors.NewIOError(spaerrors.CodeTemplateMissing, "cannot read HTML template", err).
			WithFile(path)
	}
	return b, nil
}
