package track

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	id := NewRunID()

	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, NewRunID())
}

func TestFSTracker(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2021, 4, 20, 12, 0, 0, 0, time.UTC)

	tr, err := NewFSTracker(root, "progen-training", WithNow(func() time.Time { return now }))
	require.NoError(t, err)

	assert.False(t, tr.Resumed())
	assert.Equal(t, filepath.Join(root, "progen-training", tr.RunID()), tr.Dir())

	require.NoError(t, tr.LogMetrics(0, map[string]float64{"loss": 5.54}))
	require.NoError(t, tr.LogMetrics(4, map[string]float64{"loss": 5.12, "valid_loss": 5.3}))
	require.NoError(t, tr.LogSample(500, "MAHHH", "MAHHHKVILTG"))
	require.NoError(t, tr.Finish())

	// meta
	var meta runMeta
	dat, err := os.ReadFile(filepath.Join(tr.Dir(), "meta.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(dat, &meta))
	assert.Equal(t, tr.RunID(), meta.RunID)
	assert.Equal(t, "progen-training", meta.Project)
	assert.Equal(t, now, meta.StartedAt)
	assert.False(t, meta.Resumed)

	// index
	lines := readLines(t, filepath.Join(root, "progen-training", "index.jsonl"))
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], tr.RunID())

	// events
	events := readLines(t, filepath.Join(tr.Dir(), "events.jsonl"))
	require.Len(t, events, 4)

	var first event
	require.NoError(t, json.Unmarshal([]byte(events[0]), &first))
	assert.Equal(t, 0, first.Step)
	assert.Equal(t, 5.54, first.Metrics["loss"])

	var last event
	require.NoError(t, json.Unmarshal([]byte(events[3]), &last))
	assert.True(t, last.Final)

	// sample page
	var sampled event
	require.NoError(t, json.Unmarshal([]byte(events[2]), &sampled))
	assert.Equal(t, filepath.Join("samples", "step_000000500.html"), sampled.Sample)

	page, err := os.ReadFile(filepath.Join(tr.Dir(), sampled.Sample))
	require.NoError(t, err)
	assert.Equal(t,
		`<i>MAHHH</i><br/><br/><div style="overflow-wrap: break-word;">MAHHHKVILTG</div>`,
		string(page))

	// the log is closed
	assert.Error(t, tr.LogMetrics(5, map[string]float64{"loss": 5.0}))
}

func TestFSTrackerResume(t *testing.T) {
	root := t.TempDir()
	started := time.Date(2021, 4, 20, 12, 0, 0, 0, time.UTC)

	tr, err := NewFSTracker(root, "progen-training", WithNow(func() time.Time { return started }))
	require.NoError(t, err)
	require.NoError(t, tr.LogMetrics(0, map[string]float64{"loss": 5.54}))
	require.NoError(t, tr.Finish())

	resumedAt := started.Add(2 * time.Hour)
	tr2, err := NewFSTracker(root, "progen-training",
		WithRunID(tr.RunID()), WithNow(func() time.Time { return resumedAt }))
	require.NoError(t, err)

	assert.True(t, tr2.Resumed())
	assert.Equal(t, tr.RunID(), tr2.RunID())

	require.NoError(t, tr2.LogMetrics(8, map[string]float64{"loss": 4.9}))
	require.NoError(t, tr2.Finish())

	var meta runMeta
	dat, err := os.ReadFile(filepath.Join(tr2.Dir(), "meta.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(dat, &meta))
	assert.Equal(t, started, meta.StartedAt)
	assert.Equal(t, resumedAt, meta.AttachedAt)
	assert.True(t, meta.Resumed)

	// a resumed run is not indexed twice
	lines := readLines(t, filepath.Join(root, "progen-training", "index.jsonl"))
	assert.Len(t, lines, 1)

	// the event log carries over
	events := readLines(t, filepath.Join(tr2.Dir(), "events.jsonl"))
	assert.Len(t, events, 4)
}

func TestNop(t *testing.T) {
	var tr Tracker = Nop{}

	assert.NoError(t, tr.LogMetrics(0, map[string]float64{"loss": 1}))
	assert.NoError(t, tr.LogSample(0, "M", "MA"))
	assert.NoError(t, tr.Finish())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}
