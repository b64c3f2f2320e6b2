package model

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/token"
)

func init() {
	Register("bigram", func(cfg Config) (Model, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return &Bigram{cfg: cfg}, nil
	})
}

// Bigram is a first order transition model: the logits of the next token
// depend only on the current one. It is the reference model of the training
// harness, with exact analytic gradients.
type Bigram struct {
	cfg Config
}

// Init draws a transition table with small random logits and a zero prior.
// The table is rank 2 and weight decayed, the prior is rank 1 and is not.
func (m *Bigram) Init(rng *rand.Rand) Params {
	v := m.cfg.NumTokens

	transitions := NewTensor(v, v)
	for i := range transitions.Data {
		transitions.Data[i] = rng.NormFloat64() * 0.02
	}

	return Params{
		"transitions": transitions,
		"prior":       NewTensor(v),
	}
}

// Loss computes the mean next-token cross entropy over every adjacent pair in
// the batch, skipping pairs whose target is padding.
func (m *Bigram) Loss(_ *rand.Rand, params Params, batch [][]byte) (float64, Params, error) {
	transitions, prior, err := m.tensors(params)
	if err != nil {
		return 0, nil, err
	}
	v := m.cfg.NumTokens

	grads := params.ZerosLike()
	gradT, gradP := grads["transitions"], grads["prior"]

	logits := make([]float64, v)
	probs := make([]float64, v)

	loss := 0.0
	pairs := 0
	for _, row := range batch {
		for t := 0; t+1 < len(row); t++ {
			cur, next := row[t], row[t+1]
			if next == token.Pad {
				continue
			}
			if int(cur) >= v || int(next) >= v {
				return 0, nil, errors.Errorf("token %d outside vocabulary of %d", max(int(cur), int(next)), v)
			}

			tRow := transitions.Row(int(cur))
			for j := 0; j < v; j++ {
				logits[j] = tRow[j] + prior.Data[j]
			}
			softmax(probs, logits)

			loss += -math.Log(math.Max(probs[next], 1e-30))
			pairs++

			gRow := gradT.Row(int(cur))
			for j := 0; j < v; j++ {
				g := probs[j]
				if j == int(next) {
					g -= 1
				}
				gRow[j] += g
				gradP.Data[j] += g
			}
		}
	}

	if pairs == 0 {
		return 0, nil, errors.New("batch has no next-token pairs to train on")
	}

	grads.Scale(1 / float64(pairs))
	return loss / float64(pairs), grads, nil
}

// Logits scores the token following the last context token.
func (m *Bigram) Logits(params Params, ctx []byte) ([]float64, error) {
	transitions, prior, err := m.tensors(params)
	if err != nil {
		return nil, err
	}
	if len(ctx) == 0 {
		return nil, errors.New("empty context")
	}

	v := m.cfg.NumTokens
	cur := int(ctx[len(ctx)-1])
	if cur >= v {
		return nil, errors.Errorf("token %d outside vocabulary of %d", cur, v)
	}

	out := make([]float64, v)
	row := transitions.Row(cur)
	for j := 0; j < v; j++ {
		out[j] = row[j] + prior.Data[j]
	}
	return out, nil
}

func (m *Bigram) tensors(params Params) (transitions, prior *Tensor, err error) {
	v := m.cfg.NumTokens

	transitions, ok := params["transitions"]
	if !ok || transitions.NDim() != 2 || transitions.Shape[0] != v || transitions.Shape[1] != v {
		return nil, nil, errors.Errorf("params carry no [%d, %d] transitions table", v, v)
	}
	prior, ok = params["prior"]
	if !ok || prior.NumEl() != v {
		return nil, nil, errors.Errorf("params carry no %d element prior", v)
	}
	return transitions, prior, nil
}

// softmax fills dst with the normalized exponentials of logits.
func softmax(dst, logits []float64) {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	sum := 0.0
	for i, l := range logits {
		dst[i] = math.Exp(l - maxLogit)
		sum += dst[i]
	}
	for i := range dst {
		dst[i] /= sum
	}
}
