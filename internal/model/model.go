package model

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Model is an autoregressive sequence model over byte tokens.
//
// Implementations are pure with respect to their parameters: Loss and Logits
// never mutate the Params they are given, so the training loop owns every
// update.
type Model interface {
	// Init draws fresh parameters.
	Init(rng *rand.Rand) Params

	// Loss returns the mean next-token cross entropy over a batch of fixed
	// length rows, along with the gradient tree. Positions whose target is
	// the pad token do not contribute. The rng covers any stochastic
	// regularization a model applies.
	Loss(rng *rand.Rand, params Params, batch [][]byte) (float64, Params, error)

	// Logits scores the next token after ctx. The returned slice has one
	// entry per vocabulary token.
	Logits(params Params, ctx []byte) ([]float64, error)
}

// Constructor builds a model from its config.
type Constructor func(cfg Config) (Model, error)

var registry = make(map[string]Constructor)

// Register makes a model constructor available to New. It is intended to be
// called from package init functions.
func Register(name string, c Constructor) {
	registry[name] = c
}

// New builds the model the config names.
func New(cfg Config) (Model, error) {
	c, ok := registry[cfg.Model]
	if !ok {
		return nil, errors.Errorf("unknown model %q", cfg.Model)
	}
	return c(cfg)
}
