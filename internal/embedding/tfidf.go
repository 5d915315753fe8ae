package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// TFIDFEmbedder is a deterministic, dependency-free hashing-trick embedder.
// Equal input always produces equal output (byte-for-byte), which makes it
// suitable both as a default local embedder and as a test fixture.
type TFIDFEmbedder struct {
	dimensions int
}

// NewTFIDFEmbedder returns a TF-IDF embedder producing vectors of the given
// dimensionality.
func NewTFIDFEmbedder(dimensions int) *TFIDFEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &TFIDFEmbedder{dimensions: dimensions}
}

func (e *TFIDFEmbedder) Dimensions() int   { return e.dimensions }
func (e *TFIDFEmbedder) ModelName() string { return "tfidf" }

func (e *TFIDFEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return EmbedBatchSequential(ctx, e, texts)
}

// tokenize lower-cases text and splits on non-alphanumeric boundaries,
// dropping tokens of length <= 1.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 1 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func hashToBucket(s string, dimensions int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(dimensions))
}

func hashSign(s string) float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	_, _ = h.Write([]byte("_sign"))
	if h.Sum64()%2 == 0 {
		return 1.0
	}
	return -1.0
}

// Embed implements the TF-IDF hashing-trick contract: unigrams and bigrams
// hash into buckets of a fixed-dimension vector, weighted by a TF/length-IDF
// surrogate score and a deterministic sign to reduce collision bias, then
// L2-normalised. Empty input yields the zero vector.
func (e *TFIDFEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	vec := make([]float32, e.dimensions)

	if len(tokens) == 0 {
		return vec, nil
	}
	docLen := float64(len(tokens))

	// Bigrams, weighted at half strength, computed before token counts
	// consume the slice into a frequency map.
	for i := 0; i+1 < len(tokens); i++ {
		bigram := tokens[i] + "_" + tokens[i+1]
		idx := hashToBucket(bigram, e.dimensions)
		sign := hashSign(bigram)
		vec[idx] += 0.5 * sign
	}

	tf := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	for tok, count := range tf {
		tfScore := math.Log(1 + count/docLen)
		idfScore := 1 + float64(len(tok))*0.1
		weight := tfScore * idfScore

		idx := hashToBucket(tok, e.dimensions)
		sign := hashSign(tok)
		vec[idx] += float32(weight) * sign
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return vec, nil
}

var _ Embedder = (*TFIDFEmbedder)(nil)
