package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Tika sends PDFs to an Apache Tika server and reads plain text locally.
type Tika struct {
	serverURL string
	client    *http.Client
}

// NewTika creates a Tika extractor for the server at serverURL.
func NewTika(serverURL string) *Tika {
	return &Tika{
		serverURL: strings.TrimRight(serverURL, "/"),
		client:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Extract implements Extractor.
func (t *Tika) Extract(ctx context.Context, path, contentType string) (string, error) {
	mt := MediaType(contentType)
	switch mt {
	case MIMEText:
		return File(path, contentType)
	case MIMEPDF:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.serverURL+"/tika", f)
	if err != nil {
		return "", fmt.Errorf("create tika request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", mt)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call tika: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tika returned [%d]: %s", resp.StatusCode, body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tika response: %w", err)
	}
	return clean(string(body)), nil
}
