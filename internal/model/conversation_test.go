package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, NormalizeTitle(""))
	assert.Equal(t, DefaultTitle, NormalizeTitle("   "))
	assert.Equal(t, "Test", NormalizeTitle(" Test "))

	long := strings.Repeat("é", 80)
	got := NormalizeTitle(long)
	assert.Equal(t, MaxTitleRunes, len([]rune(got)))
}

func TestParseSessionID(t *testing.T) {
	_, ok := ParseSessionID("not-an-id")
	assert.False(t, ok)

	oid, ok := ParseSessionID("64b7f0c2a1b2c3d4e5f60718")
	assert.True(t, ok)
	assert.Equal(t, "64b7f0c2a1b2c3d4e5f60718", oid.Hex())
}
