// Package optim implements gradient transformations in the style of
// composable optimizer chains: each transformation rewrites the incoming
// updates and threads its own state, and a chain pipes them together. The
// training harness composes global norm clipping, AdamW with a weight decay
// mask, and update accumulation.
package optim

import (
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/model"
)

// State is a transformation's private state. Concrete states are gob
// encodable so optimizer state rides into checkpoints.
type State any

// Transform rewrites gradient updates.
type Transform interface {
	// Init builds the transformation's state for a parameter tree.
	Init(params model.Params) State

	// Update rewrites updates, returning the new updates and state. The
	// incoming updates are not mutated.
	Update(updates model.Params, state State, params model.Params) (model.Params, State, error)
}

func init() {
	gob.Register(chainState{})
	gob.Register(clipState{})
	gob.Register(adamwState{})
	gob.Register(applyEveryState{})
}

// Chain composes transformations left to right.
func Chain(ts ...Transform) Transform {
	return chain{ts: ts}
}

type chain struct {
	ts []Transform
}

type chainState struct {
	States []State
}

func (c chain) Init(params model.Params) State {
	s := chainState{States: make([]State, len(c.ts))}
	for i, t := range c.ts {
		s.States[i] = t.Init(params)
	}
	return s
}

func (c chain) Update(updates model.Params, state State, params model.Params) (model.Params, State, error) {
	s, ok := state.(chainState)
	if !ok || len(s.States) != len(c.ts) {
		return nil, nil, errors.Errorf("optimizer state is not a chain of %d transforms", len(c.ts))
	}

	next := chainState{States: make([]State, len(c.ts))}
	var err error
	for i, t := range c.ts {
		updates, next.States[i], err = t.Update(updates, s.States[i], params)
		if err != nil {
			return nil, nil, err
		}
	}
	return updates, next, nil
}

// ClipByGlobalNorm scales updates down so their global l2 norm never exceeds
// maxNorm.
func ClipByGlobalNorm(maxNorm float64) Transform {
	return clip{maxNorm: maxNorm}
}

type clip struct {
	maxNorm float64
}

type clipState struct{}

func (clip) Init(model.Params) State {
	return clipState{}
}

func (c clip) Update(updates model.Params, state State, _ model.Params) (model.Params, State, error) {
	if _, ok := state.(clipState); !ok {
		return nil, nil, errors.New("optimizer state is not a clip state")
	}

	out := updates.Clone()
	if norm := out.GlobalNorm(); norm > c.maxNorm {
		out.Scale(c.maxNorm / norm)
	}
	return out, clipState{}, nil
}

// ApplyEvery accumulates updates and emits their sum every k-th call, zeros
// otherwise. Stepping parameters with the zeros is a no-op, so a training
// loop can apply updates every micro batch and still step effectively once
// per k.
func ApplyEvery(k int) Transform {
	if k < 1 {
		k = 1
	}
	return applyEvery{k: k}
}

type applyEvery struct {
	k int
}

type applyEveryState struct {
	Step int
	Acc  model.Params
}

func (applyEvery) Init(params model.Params) State {
	return applyEveryState{Acc: params.ZerosLike()}
}

func (a applyEvery) Update(updates model.Params, state State, _ model.Params) (model.Params, State, error) {
	s, ok := state.(applyEveryState)
	if !ok {
		return nil, nil, errors.New("optimizer state is not an accumulation state")
	}

	pos := s.Step % a.k

	var acc model.Params
	if pos == 0 {
		acc = updates.Clone()
	} else {
		acc = s.Acc.Clone()
		if err := acc.Add(updates); err != nil {
			return nil, nil, err
		}
	}

	var out model.Params
	if pos == a.k-1 {
		out = acc.Clone()
	} else {
		out = acc.ZerosLike()
	}

	return out, applyEveryState{Step: s.Step + 1, Acc: acc}, nil
}

// ApplyUpdates steps parameters by adding updates in place.
func ApplyUpdates(params, updates model.Params) error {
	return params.Add(updates)
}
