// Package flow runs small named pipelines: steps with dependencies and
// per-step retries, executed one at a time in a stable topological order.
package flow

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Step is one unit of work in a Flow.
type Step struct {
	Name string

	// DependsOn lists steps that must finish before this one runs.
	DependsOn []string

	// Retries is the number of extra attempts after a failure.
	Retries int

	Run func(ctx context.Context) error
}

// StepResult records how one step went.
type StepResult struct {
	Name     string
	Attempts int
	Duration time.Duration

	// Skipped marks steps never run because an earlier one failed.
	Skipped bool

	Err error
}

// Result is the outcome of a Flow run.
type Result struct {
	Name     string
	Steps    []StepResult
	Duration time.Duration
}

// Failed returns the result of the step that failed, or nil.
func (r *Result) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Err != nil {
			return &r.Steps[i]
		}
	}
	return nil
}

// Flow is an ordered set of steps.
type Flow struct {
	name    string
	steps   []*Step
	byName  map[string]*Step
	logger  *log.Logger
	backoff time.Duration
	maxWait time.Duration
}

// Option adjusts a Flow.
type Option func(*Flow)

// WithLogger directs step progress to a logger.
func WithLogger(logger *log.Logger) Option {
	return func(f *Flow) { f.logger = logger }
}

// WithBackoff sets the base and cap of the retry wait.
func WithBackoff(base, max time.Duration) Option {
	return func(f *Flow) {
		f.backoff = base
		f.maxWait = max
	}
}

// New returns an empty named Flow.
func New(name string, opts ...Option) *Flow {
	f := &Flow{
		name:    name,
		byName:  map[string]*Step{},
		logger:  log.New(io.Discard, "", 0),
		backoff: 500 * time.Millisecond,
		maxWait: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add appends a step. Dependencies may name steps added later; they are
// checked at Run.
func (f *Flow) Add(step Step) error {
	if step.Name == "" {
		return errors.New("step needs a name")
	}
	if step.Run == nil {
		return errors.Errorf("step %q has nothing to run", step.Name)
	}
	if _, ok := f.byName[step.Name]; ok {
		return errors.Errorf("step %q added twice", step.Name)
	}

	s := step
	f.steps = append(f.steps, &s)
	f.byName[s.Name] = &s
	return nil
}

// order resolves a stable topological order: each pass takes every ready
// step in insertion order.
func (f *Flow) order() ([]*Step, error) {
	for _, s := range f.steps {
		for _, d := range s.DependsOn {
			if _, ok := f.byName[d]; !ok {
				return nil, errors.Errorf("step %q depends on unknown step %q", s.Name, d)
			}
		}
	}

	done := make(map[string]bool, len(f.steps))
	out := make([]*Step, 0, len(f.steps))
	for len(out) < len(f.steps) {
		progressed := false
		for _, s := range f.steps {
			if done[s.Name] {
				continue
			}
			ready := true
			for _, d := range s.DependsOn {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				done[s.Name] = true
				out = append(out, s)
				progressed = true
			}
		}
		if !progressed {
			var stuck []string
			for _, s := range f.steps {
				if !done[s.Name] {
					stuck = append(stuck, s.Name)
				}
			}
			return nil, errors.Errorf("dependency cycle among steps: %s", strings.Join(stuck, ", "))
		}
	}
	return out, nil
}

// Run executes the flow. After a step fails the remaining steps are marked
// skipped, and the failure comes back alongside the full result.
func (f *Flow) Run(ctx context.Context) (*Result, error) {
	ordered, err := f.order()
	if err != nil {
		return nil, err
	}

	res := &Result{Name: f.name}
	start := time.Now()
	var firstErr error
	for _, s := range ordered {
		sr := StepResult{Name: s.Name}
		if firstErr != nil {
			sr.Skipped = true
			res.Steps = append(res.Steps, sr)
			continue
		}

		stepStart := time.Now()
		sr.Err = f.runStep(ctx, s, &sr.Attempts)
		sr.Duration = time.Since(stepStart)
		res.Steps = append(res.Steps, sr)

		if sr.Err != nil {
			firstErr = errors.WithMessagef(sr.Err, "step %q failed", s.Name)
		} else {
			f.logger.Printf("%s: %s done in %s", f.name, s.Name, sr.Duration.Round(time.Millisecond))
		}
	}
	res.Duration = time.Since(start)
	return res, firstErr
}

func (f *Flow) runStep(ctx context.Context, s *Step, attempts *int) error {
	wait := f.backoff
	for attempt := 0; ; attempt++ {
		*attempts = attempt + 1
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.Run(ctx)
		if err == nil {
			return nil
		}
		if attempt >= s.Retries {
			return err
		}

		f.logger.Printf("%s: %s failed (attempt %d of %d), retrying in %s: %v",
			f.name, s.Name, attempt+1, s.Retries+1, wait, err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
		if wait *= 2; wait > f.maxWait {
			wait = f.maxWait
		}
	}
}
