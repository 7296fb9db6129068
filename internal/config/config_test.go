package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: s3cret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(10), cfg.Server.MaxUploadMB)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "RAG_FILES", cfg.VectorStore.Collection)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.Equal(t, 6, cfg.RAG.MemoryTurns)
	assert.Equal(t, 3, cfg.Kafka.MaxAttempts)
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
jwt:
  secret: from-file
vector_store:
  backend: memory
rag:
  chunk_size: 200
  chunk_overlap: 20
`)
	t.Setenv("RAGCHAT_JWT_SECRET", "from-env")
	t.Setenv("RAGCHAT_RAG_TOP_K", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "memory", cfg.VectorStore.Backend)
	assert.Equal(t, 200, cfg.RAG.ChunkSize)
	assert.Equal(t, 7, cfg.RAG.TopK)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", "rag:\n  chunk_size: 100\n"},
		{"overlap not below size", "jwt:\n  secret: x\nrag:\n  chunk_size: 50\n  chunk_overlap: 50\n"},
		{"unknown backend", "jwt:\n  secret: x\nvector_store:\n  backend: faiss\n"},
		{"unknown llm", "jwt:\n  secret: x\nllm:\n  provider: claude\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
