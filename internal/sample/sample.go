// Package sample draws new sequences from a trained model, one token at a
// time from the top-k filtered next-token distribution.
package sample

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/model"
	"github.com/mattfeng/progen/internal/token"
)

// DefaultTopK restricts each draw to the 25 most likely tokens.
const DefaultTopK = 25

// Options shape the sampling distribution.
type Options struct {
	// TopK keeps only the K highest logits per draw. Zero means
	// DefaultTopK; negative means no restriction.
	TopK int

	// Temperature divides the logits before the softmax. Zero means 1.
	Temperature float64
}

// Generate extends prime with sampled tokens until the sequence reaches
// seqLen bytes, stopping early if the model emits a pad token. The result
// includes the prime. Draws are deterministic for a fixed rng.
func Generate(ctx context.Context, rng *rand.Rand, m model.Model, params model.Params, prime []byte, seqLen int, opts Options) ([]byte, error) {
	if len(prime) == 0 {
		return nil, errors.New("sampling requires a non-empty prime")
	}
	if seqLen < len(prime) {
		return nil, errors.Errorf("sequence length %d is shorter than the %d byte prime", seqLen, len(prime))
	}

	topK := opts.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = 1
	}
	if temp < 0 {
		return nil, errors.Errorf("temperature must be positive, got %v", temp)
	}

	seq := make([]byte, len(prime), seqLen)
	copy(seq, prime)

	for len(seq) < seqLen {
		if err := ctx.Err(); err != nil {
			return seq, err
		}

		logits, err := m.Logits(params, seq)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to score %d byte context", len(seq))
		}

		tok, err := draw(rng, logits, topK, temp)
		if err != nil {
			return nil, err
		}
		if tok == token.Pad {
			break
		}
		seq = append(seq, tok)
	}
	return seq, nil
}

// draw samples one token index from the softmax of the top-k logits.
func draw(rng *rand.Rand, logits []float64, topK int, temp float64) (byte, error) {
	if len(logits) == 0 {
		return 0, errors.New("model produced no logits")
	}
	if len(logits) > token.VocabSize {
		return 0, errors.Errorf("%d logits exceed the byte vocabulary", len(logits))
	}

	idx := make([]int, len(logits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return logits[idx[a]] > logits[idx[b]] })
	if topK > 0 && topK < len(idx) {
		idx = idx[:topK]
	}

	// softmax over the kept logits, against the max for stability
	max := logits[idx[0]]
	probs := make([]float64, len(idx))
	var sum float64
	for i, j := range idx {
		p := math.Exp((logits[j] - max) / temp)
		probs[i] = p
		sum += p
	}

	r := rng.Float64() * sum
	for i, j := range idx {
		r -= probs[i]
		if r <= 0 {
			return byte(j), nil
		}
	}
	return byte(idx[len(idx)-1]), nil
}
