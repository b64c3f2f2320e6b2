package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattfeng/progen/internal/manifest"
)

func Test_writeReport(t *testing.T) {
	r := &manifest.Report{
		Project: "progen",
		Version: "1.0.0",
		Runtime: "~3.7",
		Backend: "poetry.core.masonry.api",
		Dependencies: []manifest.DependencyResult{
			{Name: "torch", Constraint: "^1.8", Releases: 12, Matched: "1.8.1", Satisfied: true},
			{Name: "pytest", Constraint: "^6.0", Dev: true, Releases: 40, Matched: "6.2.4", Satisfied: true},
			{Name: "ghost", Constraint: "*", Releases: 0},
		},
		Build: []manifest.DependencyResult{
			{Name: "poetry-core", Constraint: ">=1.0.0", Releases: 3, Matched: "1.9.0", Satisfied: true},
		},
	}

	var b bytes.Buffer
	writeReport(&b, r)
	out := b.String()

	assert.Contains(t, out, "progen 1.0.0 (runtime ~3.7, build backend poetry.core.masonry.api)")
	assert.Contains(t, out, "pytest (dev)")
	assert.Contains(t, out, "poetry-core (build)")
	assert.Contains(t, out, "unsatisfied")
	assert.NotContains(t, out, "torch (")
}

func Test_collectMeta(t *testing.T) {
	metas := collectMeta(rootCmd)

	root, ok := metas["progen"]
	require.True(t, ok)
	assert.True(t, root.hasChildren)
	assert.Empty(t, root.parent)

	tr, ok := metas["progen_train"]
	require.True(t, ok)
	assert.Equal(t, "progen", tr.parent)
	assert.Empty(t, tr.grandParent)

	pull, ok := metas["progen_hub_pull"]
	require.True(t, ok)
	assert.Equal(t, "hub", pull.parent)
	assert.Equal(t, "progen", pull.grandParent)
}
