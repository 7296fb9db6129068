package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

type hashClient struct {
	dim int
}

// NewHashClient returns an offline embedder that hashes lower-cased words into dim buckets and
// L2-normalizes the counts. Texts sharing words score higher; it has no semantic knowledge.
func NewHashClient(dim int) Client {
	return &hashClient{dim: dim}
}

func (c *hashClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, c.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(c.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
