package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFilePlainTextPassthrough(t *testing.T) {
	path := writeTemp(t, "notes.txt", "line one\r\nline\x00two\n")

	got, err := File(path, "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", got)
}

func TestFileRejectsUnsupportedType(t *testing.T) {
	path := writeTemp(t, "image.png", "\x89PNG")

	_, err := File(path, "image/png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.False(t, Supported("image/png"))
	assert.True(t, Supported("application/pdf"))
	assert.True(t, Supported("TEXT/PLAIN"))
}

func TestFileMalformedPDF(t *testing.T) {
	path := writeTemp(t, "broken.pdf", "not a pdf at all")

	_, err := File(path, MIMEPDF)
	assert.Error(t, err)
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/plain", MediaType("text/plain; charset=utf-8"))
	assert.Equal(t, "application/pdf", MediaType("application/pdf"))
	assert.Equal(t, "", MediaType(""))
}
