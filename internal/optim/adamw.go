package optim

import (
	"math"

	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/model"
)

// AdamWConfig configures AdamW. Zero values select the usual defaults.
type AdamWConfig struct {
	LearningRate float64
	Beta1        float64 // default 0.9
	Beta2        float64 // default 0.999
	Eps          float64 // default 1e-8

	// WeightDecay is decoupled decay, applied only where Mask returns true.
	WeightDecay float64

	// Mask selects the parameters that decay. Nil decays everything.
	Mask func(name string, t *model.Tensor) bool
}

// DefaultDecayMask decays matrices and higher rank tensors, leaving biases
// and scale vectors alone.
func DefaultDecayMask(_ string, t *model.Tensor) bool {
	return t.NDim() > 1
}

// AdamW returns an AdamW transformation producing descent updates: the
// emitted updates already carry the negative learning rate, ready for
// ApplyUpdates.
func AdamW(cfg AdamWConfig) Transform {
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return adamw{cfg: cfg}
}

type adamw struct {
	cfg AdamWConfig
}

type adamwState struct {
	Step int
	Mu   model.Params
	Nu   model.Params
}

func (a adamw) Init(params model.Params) State {
	return adamwState{Mu: params.ZerosLike(), Nu: params.ZerosLike()}
}

func (a adamw) Update(updates model.Params, state State, params model.Params) (model.Params, State, error) {
	s, ok := state.(adamwState)
	if !ok {
		return nil, nil, errors.New("optimizer state is not an adamw state")
	}

	step := s.Step + 1
	next := adamwState{Step: step, Mu: s.Mu.Clone(), Nu: s.Nu.Clone()}
	out := updates.ZerosLike()

	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	muCorr := 1 - math.Pow(b1, float64(step))
	nuCorr := 1 - math.Pow(b2, float64(step))

	for _, k := range updates.SortedKeys() {
		g := updates[k]
		mu, nu := next.Mu[k], next.Nu[k]
		if mu == nil || nu == nil {
			return nil, nil, errors.Errorf("adamw state carries no moments for %q", k)
		}

		p, hasParam := params[k]
		decay := a.cfg.WeightDecay > 0 && hasParam &&
			(a.cfg.Mask == nil || a.cfg.Mask(k, p))

		o := out[k]
		for i, gi := range g.Data {
			mu.Data[i] = b1*mu.Data[i] + (1-b1)*gi
			nu.Data[i] = b2*nu.Data[i] + (1-b2)*gi*gi

			muHat := mu.Data[i] / muCorr
			nuHat := nu.Data[i] / nuCorr

			delta := muHat / (math.Sqrt(nuHat) + a.cfg.Eps)
			if decay {
				delta += a.cfg.WeightDecay * p.Data[i]
			}
			o.Data[i] = -a.cfg.LearningRate * delta
		}
	}

	return out, next, nil
}
