// Package track records training runs on the local filesystem: per run
// metadata, an append only event log of metrics, and rendered HTML pages for
// generated samples. Runs are grouped by project and listed in a JSONL index
// so other tooling can discover them.
package track

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Tracker receives training progress.
type Tracker interface {
	// LogMetrics records named scalars at a step.
	LogMetrics(step int, metrics map[string]float64) error

	// LogSample records a generated sequence alongside the prime that
	// seeded it.
	LogSample(step int, prime, sampled string) error

	// Finish marks the run complete.
	Finish() error
}

// Nop is a Tracker that drops everything, for runs with tracking turned off.
type Nop struct{}

func (Nop) LogMetrics(int, map[string]float64) error { return nil }
func (Nop) LogSample(int, string, string) error      { return nil }
func (Nop) Finish() error                            { return nil }

// NewRunID returns a fresh run identifier, a uuid spelled without dashes.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var sampleTmpl = template.Must(template.New("sample").Parse(
	`<i>{{.Prime}}</i><br/><br/><div style="overflow-wrap: break-word;">{{.Sampled}}</div>`))

// FSTracker writes a run under <root>/<project>/<run id>/:
//
//	meta.json            the run's identity
//	events.jsonl         one line per logged event
//	samples/             one HTML page per logged sample
//
// New runs are appended to <root>/<project>/index.jsonl.
type FSTracker struct {
	root    string
	project string
	runID   string
	resumed bool
	now     func() time.Time

	mu     sync.Mutex
	events *os.File
}

// Option adjusts an FSTracker.
type Option func(*FSTracker)

// WithRunID reattaches to an existing run instead of starting a fresh one.
func WithRunID(id string) Option {
	return func(t *FSTracker) {
		t.runID = id
		t.resumed = true
	}
}

// WithNow is useful for tests.
func WithNow(now func() time.Time) Option {
	return func(t *FSTracker) { t.now = now }
}

type runMeta struct {
	RunID      string    `json:"run_id"`
	Project    string    `json:"project"`
	StartedAt  time.Time `json:"started_at"`
	Resumed    bool      `json:"resumed"`
	AttachedAt time.Time `json:"attached_at"`
}

type event struct {
	Step    int                `json:"step"`
	Time    time.Time          `json:"time"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Sample  string             `json:"sample,omitempty"`
	Final   bool               `json:"final,omitempty"`
}

// NewFSTracker opens a run directory for the project, creating it as needed.
func NewFSTracker(root, project string, opts ...Option) (*FSTracker, error) {
	t := &FSTracker{root: root, project: project, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.runID == "" {
		t.runID = NewRunID()
	}

	dir := t.Dir()
	if err := os.MkdirAll(filepath.Join(dir, "samples"), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create run dir %s", dir)
	}

	if err := t.writeMeta(); err != nil {
		return nil, err
	}
	if !t.resumed {
		if err := t.appendIndex(); err != nil {
			return nil, err
		}
	}

	events, err := os.OpenFile(filepath.Join(dir, "events.jsonl"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open event log")
	}
	t.events = events
	return t, nil
}

// RunID returns the run's identifier.
func (t *FSTracker) RunID() string {
	return t.runID
}

// Resumed reports whether the tracker reattached to an existing run.
func (t *FSTracker) Resumed() bool {
	return t.resumed
}

// Dir returns the run's directory.
func (t *FSTracker) Dir() string {
	return filepath.Join(t.root, t.project, t.runID)
}

func (t *FSTracker) writeMeta() error {
	meta := runMeta{
		RunID:      t.runID,
		Project:    t.project,
		StartedAt:  t.now().UTC(),
		Resumed:    t.resumed,
		AttachedAt: t.now().UTC(),
	}

	path := filepath.Join(t.Dir(), "meta.json")
	if t.resumed {
		// keep the original start time across resumes
		if dat, err := os.ReadFile(path); err == nil {
			var old runMeta
			if json.Unmarshal(dat, &old) == nil && !old.StartedAt.IsZero() {
				meta.StartedAt = old.StartedAt
			}
		}
	}

	dat, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode run meta")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, dat, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}

func (t *FSTracker) appendIndex() error {
	line, err := json.Marshal(struct {
		RunID     string    `json:"run_id"`
		StartedAt time.Time `json:"started_at"`
	}{t.runID, t.now().UTC()})
	if err != nil {
		return errors.Wrap(err, "failed to encode index entry")
	}

	path := filepath.Join(t.root, t.project, "index.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open run index %s", path)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "failed to append to run index %s", path)
	}
	return nil
}

func (t *FSTracker) appendEvent(e event) error {
	e.Time = t.now().UTC()

	line, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events == nil {
		return errors.New("tracker is finished")
	}
	if _, err := t.events.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "failed to append event")
	}
	return nil
}

// LogMetrics appends named scalars to the event log.
func (t *FSTracker) LogMetrics(step int, metrics map[string]float64) error {
	return t.appendEvent(event{Step: step, Metrics: metrics})
}

// LogSample renders the sample page and records it in the event log. The
// prime renders in italics above the sampled continuation.
func (t *FSTracker) LogSample(step int, prime, sampled string) error {
	rel := filepath.Join("samples", sampleFileName(step))
	path := filepath.Join(t.Dir(), rel)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create sample page %s", path)
	}
	if err := sampleTmpl.Execute(f, struct{ Prime, Sampled string }{prime, sampled}); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to render sample page")
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to write sample page %s", path)
	}

	return t.appendEvent(event{Step: step, Sample: rel})
}

func sampleFileName(step int) string {
	return fmt.Sprintf("step_%09d.html", step)
}

// Finish closes the event log after a final marker.
func (t *FSTracker) Finish() error {
	if err := t.appendEvent(event{Final: true}); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.events.Close()
	t.events = nil
	if err != nil {
		return errors.Wrap(err, "failed to close event log")
	}
	return nil
}
