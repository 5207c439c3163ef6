package testutils

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
)

// HashEmbedder is a deterministic bag-of-words embedder. Texts sharing words
// get similar vectors, which is enough to exercise retrieval end to end.
type HashEmbedder struct {
	Dim   int
	Model string

	mu sync.Mutex
	// FailAfter makes EmbedBatch fail once this many batches have succeeded.
	// Negative disables it.
	FailAfter int
	Err       error
	Calls     int
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dim: 256, Model: "hash-256", FailAfter: -1}
}

func (h *HashEmbedder) ModelID() string { return h.Model }

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.FailAfter >= 0 && h.Calls >= h.FailAfter {
		h.mu.Unlock()
		return nil, h.Err
	}
	h.Calls++
	h.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.Vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// Vector hashes every lower-cased token into one of Dim buckets and
// L2-normalizes the counts.
func (h *HashEmbedder) Vector(text string) []float32 {
	v := make([]float32, h.Dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '$'
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		f.Write([]byte(tok))
		v[int(f.Sum32())%h.Dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

// UUID derives a stable UUID string for test fixtures.
func UUID(prefix string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", prefix, n))).String()
}
