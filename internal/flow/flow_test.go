package flow

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(ran *[]string, name string) func(context.Context) error {
	return func(context.Context) error {
		*ran = append(*ran, name)
		return nil
	}
}

func TestRunOrder(t *testing.T) {
	var ran []string
	f := New("prepare")

	require.NoError(t, f.Add(Step{Name: "manifest", DependsOn: []string{"encode"}, Run: record(&ran, "manifest")}))
	require.NoError(t, f.Add(Step{Name: "scan", Run: record(&ran, "scan")}))
	require.NoError(t, f.Add(Step{Name: "encode", DependsOn: []string{"scan"}, Run: record(&ran, "encode")}))
	require.NoError(t, f.Add(Step{Name: "verify", DependsOn: []string{"manifest", "scan"}, Run: record(&ran, "verify")}))

	res, err := f.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"scan", "encode", "manifest", "verify"}, ran)
	require.Len(t, res.Steps, 4)
	assert.Nil(t, res.Failed())
	for _, sr := range res.Steps {
		assert.Equal(t, 1, sr.Attempts)
		assert.False(t, sr.Skipped)
	}
}

func TestRunRetries(t *testing.T) {
	calls := 0
	f := New("prepare", WithBackoff(time.Millisecond, 4*time.Millisecond))
	require.NoError(t, f.Add(Step{
		Name:    "flaky",
		Retries: 3,
		Run: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))

	res, err := f.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, res.Steps[0].Attempts)
}

func TestRunFailureSkipsRest(t *testing.T) {
	var ran []string
	f := New("prepare", WithBackoff(time.Millisecond, time.Millisecond))

	require.NoError(t, f.Add(Step{Name: "scan", Run: record(&ran, "scan")}))
	require.NoError(t, f.Add(Step{
		Name:      "encode",
		DependsOn: []string{"scan"},
		Retries:   1,
		Run:       func(context.Context) error { return errors.New("disk full") },
	}))
	require.NoError(t, f.Add(Step{Name: "manifest", DependsOn: []string{"encode"}, Run: record(&ran, "manifest")}))

	res, err := f.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "encode" failed`)
	assert.Equal(t, []string{"scan"}, ran)

	failed := res.Failed()
	require.NotNil(t, failed)
	assert.Equal(t, "encode", failed.Name)
	assert.Equal(t, 2, failed.Attempts)
	assert.True(t, res.Steps[2].Skipped)
}

func TestRunGraphErrors(t *testing.T) {
	f := New("bad")
	require.NoError(t, f.Add(Step{Name: "a", DependsOn: []string{"b"}, Run: func(context.Context) error { return nil }}))

	_, err := f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "b"`)

	f = New("cyclic")
	require.NoError(t, f.Add(Step{Name: "a", DependsOn: []string{"b"}, Run: func(context.Context) error { return nil }}))
	require.NoError(t, f.Add(Step{Name: "b", DependsOn: []string{"a"}, Run: func(context.Context) error { return nil }}))

	_, err = f.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
}

func TestAddErrors(t *testing.T) {
	f := New("prepare")

	assert.Error(t, f.Add(Step{Run: func(context.Context) error { return nil }}))
	assert.Error(t, f.Add(Step{Name: "empty"}))

	require.NoError(t, f.Add(Step{Name: "scan", Run: func(context.Context) error { return nil }}))
	assert.Error(t, f.Add(Step{Name: "scan", Run: func(context.Context) error { return nil }}))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	f := New("prepare")
	require.NoError(t, f.Add(Step{Name: "first", Run: func(context.Context) error {
		cancel()
		return nil
	}}))
	require.NoError(t, f.Add(Step{Name: "second", DependsOn: []string{"first"}, Run: func(context.Context) error {
		t.Error("second step ran after cancellation")
		return nil
	}}))

	_, err := f.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := New("prepare", WithBackoff(5*time.Second, 5*time.Second))
	require.NoError(t, f.Add(Step{
		Name:    "flaky",
		Retries: 5,
		Run:     func(context.Context) error { return errors.New("boom") },
	}))

	start := time.Now()
	res, err := f.Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 1, res.Steps[0].Attempts)
	assert.Less(t, time.Since(start), time.Second)
}
