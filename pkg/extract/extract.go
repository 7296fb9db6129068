// Package extract turns uploaded files into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MIMEText = "text/plain"
	MIMEPDF  = "application/pdf"
)

// ErrUnsupportedType is returned for any MIME type other than text/plain and application/pdf.
var ErrUnsupportedType = errors.New("unsupported file type")

// MediaType strips parameters such as charset from a declared Content-Type.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Supported reports whether contentType can be extracted.
func Supported(contentType string) bool {
	switch MediaType(contentType) {
	case MIMEText, MIMEPDF:
		return true
	}
	return false
}

// Extractor turns a stored upload into text.
type Extractor interface {
	Extract(ctx context.Context, path, contentType string) (string, error)
}

// Local extracts in-process.
type Local struct{}

// Extract implements Extractor with File.
func (Local) Extract(_ context.Context, path, contentType string) (string, error) {
	return File(path, contentType)
}

// File extracts the text of the file at path according to its declared content type.
func File(path, contentType string) (string, error) {
	switch MediaType(contentType) {
	case MIMEText:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return clean(string(data)), nil
	case MIMEPDF:
		return pdfText(path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
}

func pdfText(path string) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
	}
	return clean(sb.String()), nil
}

func clean(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ToValidUTF8(text, "")
}
