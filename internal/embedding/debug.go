package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultDebugDimensions = 256

// DebugEmbedder hashes words into a fixed number of buckets. It needs no
// network, returns the same vector for the same text, and texts sharing words
// get similar vectors.
type DebugEmbedder struct {
	dimensions int
}

func NewDebugEmbedder(dimensions int) *DebugEmbedder {
	if dimensions <= 0 {
		dimensions = defaultDebugDimensions
	}
	return &DebugEmbedder{dimensions: dimensions}
}

func (e *DebugEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *DebugEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *DebugEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dimensions)]++
	}
	// keep the vector non-zero so it can be normalized
	v[0] += 0.01

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
