package manifest

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// DependencyResult is the outcome of checking one requirement against a
// release index.
type DependencyResult struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint"`
	Dev        bool   `json:"dev,omitempty"`
	Optional   bool   `json:"optional,omitempty"`

	// Releases is the number of known releases of the package, zero when
	// the index does not know the package at all.
	Releases int `json:"releases"`

	// Matched is the highest release satisfying the constraint, empty when
	// nothing matched.
	Matched   string `json:"matched,omitempty"`
	Satisfied bool   `json:"satisfied"`

	// Error records an index failure for this package. A constraint with no
	// matching release, or a package the index has never heard of, is not an
	// error, just unsatisfied.
	Error string `json:"error,omitempty"`
}

// Report is the result of checking a manifest against a release index.
type Report struct {
	Project string `json:"project"`
	Version string `json:"version"`

	// Runtime is the declared interpreter requirement. Interpreters are not
	// published to the package index, so it is reported but not resolved.
	Runtime string `json:"runtime"`

	Backend      string             `json:"backend"`
	Dependencies []DependencyResult `json:"dependencies"`
	Build        []DependencyResult `json:"build"`
}

// Check verifies every dependency and build requirement of m against idx.
// Index failures for individual packages are recorded in the report rather
// than aborting the run, so one flaky lookup does not hide the rest. Check
// itself fails only on context cancellation.
func Check(ctx context.Context, m *Manifest, idx Index) (*Report, error) {
	report := &Report{
		Project: m.Name,
		Version: m.Version,
		Runtime: m.Runtime.String(),
		Backend: m.Build.Backend,
	}

	for _, d := range m.Dependencies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := checkOne(ctx, idx, d.Name, d.Constraint)
		res.Dev = d.Dev
		res.Optional = d.Optional
		report.Dependencies = append(report.Dependencies, res)
	}

	for _, r := range m.Build.Requires {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Build = append(report.Build, checkOne(ctx, idx, r.Name, r.Constraint))
	}

	return report, nil
}

func checkOne(ctx context.Context, idx Index, name string, c Constraint) DependencyResult {
	res := DependencyResult{Name: name, Constraint: c.String()}

	versions, err := idx.Releases(ctx, name)
	if errors.Is(err, ErrNotFound) {
		// unknown packages count as zero releases, not index failures
		return res
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Releases = len(versions)

	// versions are ascending, so the first match from the top is the
	// highest release satisfying the constraint
	for i := len(versions) - 1; i >= 0; i-- {
		if c.Match(versions[i]) {
			res.Matched = versions[i].String()
			res.Satisfied = true
			break
		}
	}
	return res
}

// Satisfied reports whether every dependency and build requirement resolved
// to at least one release.
func (r *Report) Satisfied() bool {
	for _, d := range r.Dependencies {
		if !d.Satisfied {
			return false
		}
	}
	for _, b := range r.Build {
		if !b.Satisfied {
			return false
		}
	}
	return true
}

// Problems returns one human readable line per failed result.
func (r *Report) Problems() []string {
	var problems []string
	describe := func(kind string, d DependencyResult) {
		switch {
		case d.Error != "":
			problems = append(problems, fmt.Sprintf("%s %s: %s", kind, d.Name, d.Error))
		case !d.Satisfied && d.Releases == 0:
			problems = append(problems, fmt.Sprintf("%s %s: no releases published", kind, d.Name))
		case !d.Satisfied:
			problems = append(problems, fmt.Sprintf("%s %s: none of %d releases satisfy %q",
				kind, d.Name, d.Releases, d.Constraint))
		}
	}
	for _, d := range r.Dependencies {
		describe("dependency", d)
	}
	for _, b := range r.Build {
		describe("build requirement", b)
	}
	return problems
}
