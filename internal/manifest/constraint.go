package manifest

import (
	"strings"

	"github.com/pkg/errors"
)

// Constraint is a version constraint: a comma-joined list of clauses that all
// must hold. The grammar covers the manifest's spellings: exact pins
// ("1.2.3", "==1.2.3"), comparisons (">=", ">", "<=", "<", "!="), compatible
// releases ("~=1.2"), caret ("^1.2.3") and tilde ("~1.2") shorthands, and
// wildcards ("1.2.*", "*").
type Constraint struct {
	raw     string
	clauses []clause
}

type clause struct {
	op string // "==", "!=", ">=", ">", "<=", "<", "==*", "!=*", "*"
	v  Version

	// significant release segments for the wildcard ops
	wild int
}

// ParseConstraint parses a constraint string. An empty string means "any
// version", same as "*".
func ParseConstraint(s string) (Constraint, error) {
	c := Constraint{raw: strings.TrimSpace(s)}

	if c.raw == "" || c.raw == "*" {
		c.clauses = []clause{{op: "*"}}
		return c, nil
	}

	for _, part := range strings.Split(c.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parsed, err := parseClause(part)
		if err != nil {
			return c, err
		}
		c.clauses = append(c.clauses, parsed...)
	}

	if len(c.clauses) == 0 {
		return c, errors.Errorf("empty constraint %q", s)
	}
	return c, nil
}

// MustParseConstraint is ParseConstraint for statically known inputs; it
// panics on error.
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// parseClause desugars a single clause into primitive comparisons. Caret,
// tilde and compatible-release forms expand to a lower and an upper bound.
func parseClause(s string) ([]clause, error) {
	switch {
	case s == "*":
		return []clause{{op: "*"}}, nil

	case strings.HasPrefix(s, "^"):
		v, err := ParseVersion(s[1:])
		if err != nil {
			return nil, errors.WithMessagef(err, "caret constraint %q", s)
		}
		return []clause{
			{op: ">=", v: v},
			{op: "<", v: caretUpper(v)},
		}, nil

	case strings.HasPrefix(s, "~="):
		v, err := ParseVersion(s[2:])
		if err != nil {
			return nil, errors.WithMessagef(err, "compatible-release constraint %q", s)
		}
		if len(v.Release) < 2 {
			return nil, errors.Errorf("compatible-release constraint %q needs at least two release segments", s)
		}
		return []clause{
			{op: ">=", v: v},
			{op: "<", v: bumpAt(v, len(v.Release)-2)},
		}, nil

	case strings.HasPrefix(s, "~"):
		v, err := ParseVersion(s[1:])
		if err != nil {
			return nil, errors.WithMessagef(err, "tilde constraint %q", s)
		}
		// ~1 allows minor bumps, anything more specific only patch bumps
		at := 1
		if len(v.Release) == 1 {
			at = 0
		}
		return []clause{
			{op: ">=", v: v},
			{op: "<", v: bumpAt(v, at)},
		}, nil
	}

	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if !strings.HasPrefix(s, op) {
			continue
		}
		body := strings.TrimSpace(s[len(op):])
		if (op == "==" || op == "!=") && strings.HasSuffix(body, ".*") {
			v, err := ParseVersion(strings.TrimSuffix(body, ".*"))
			if err != nil {
				return nil, errors.WithMessagef(err, "wildcard constraint %q", s)
			}
			return []clause{{op: op + "*", v: v, wild: len(v.Release)}}, nil
		}
		v, err := ParseVersion(body)
		if err != nil {
			return nil, errors.WithMessagef(err, "constraint %q", s)
		}
		return []clause{{op: op, v: v}}, nil
	}

	// bare version, possibly with a trailing wildcard
	if strings.HasSuffix(s, ".*") {
		v, err := ParseVersion(strings.TrimSuffix(s, ".*"))
		if err != nil {
			return nil, errors.WithMessagef(err, "wildcard constraint %q", s)
		}
		return []clause{{op: "==*", v: v, wild: len(v.Release)}}, nil
	}
	v, err := ParseVersion(s)
	if err != nil {
		return nil, errors.WithMessagef(err, "constraint %q", s)
	}
	return []clause{{op: "==", v: v}}, nil
}

// caretUpper returns the exclusive upper bound of a caret constraint: the
// leftmost non-zero release segment is bumped (^1.2.3 < 2.0.0, ^0.2.5 < 0.3.0,
// ^0.0.3 < 0.0.4).
func caretUpper(v Version) Version {
	at := 0
	for i, r := range v.Release {
		at = i
		if r != 0 {
			break
		}
	}
	return bumpAt(v, at)
}

// bumpAt returns a version with release segment i incremented and everything
// after it dropped: bumpAt(1.2.3, 1) = 1.3.
func bumpAt(v Version, i int) Version {
	release := make([]int, i+1)
	copy(release, v.Release)
	release[i]++
	return Version{Epoch: v.Epoch, Release: release, Post: -1, Dev: -1}
}

// String returns the constraint as written.
func (c Constraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}

// IsAny reports whether the constraint admits every version.
func (c Constraint) IsAny() bool {
	for _, cl := range c.clauses {
		if cl.op != "*" {
			return false
		}
	}
	return len(c.clauses) > 0
}

// mentionsPrerelease reports whether any clause names a pre- or dev-release,
// which opens the constraint up to matching pre-releases.
func (c Constraint) mentionsPrerelease() bool {
	for _, cl := range c.clauses {
		if cl.op == "*" {
			continue
		}
		if cl.v.IsPrerelease() {
			return true
		}
	}
	return false
}

// Match reports whether v satisfies every clause. Pre- and dev-releases only
// match when the constraint itself names one.
func (c Constraint) Match(v Version) bool {
	if v.IsPrerelease() && !c.mentionsPrerelease() {
		return false
	}
	for _, cl := range c.clauses {
		if !cl.match(v) {
			return false
		}
	}
	return len(c.clauses) > 0
}

func (cl clause) match(v Version) bool {
	switch cl.op {
	case "*":
		return true
	case "==":
		return v.Compare(cl.v) == 0
	case "!=":
		return v.Compare(cl.v) != 0
	case ">=":
		return v.Compare(cl.v) >= 0
	case ">":
		return v.Compare(cl.v) > 0
	case "<=":
		return v.Compare(cl.v) <= 0
	case "<":
		// an exclusive upper bound does not admit pre-releases of the bound
		// itself unless the bound is one
		if v.IsPrerelease() && !cl.v.IsPrerelease() && releasePrefixEqual(v, cl.v, maxLen(v, cl.v)) {
			return false
		}
		return v.Compare(cl.v) < 0
	case "==*":
		return v.Epoch == cl.v.Epoch && releasePrefixEqual(v, cl.v, cl.wild)
	case "!=*":
		return v.Epoch != cl.v.Epoch || !releasePrefixEqual(v, cl.v, cl.wild)
	default:
		return false
	}
}

func releasePrefixEqual(a, b Version, n int) bool {
	for i := 0; i < n; i++ {
		if a.releaseAt(i) != b.releaseAt(i) {
			return false
		}
	}
	return true
}

func maxLen(a, b Version) int {
	if len(a.Release) > len(b.Release) {
		return len(a.Release)
	}
	return len(b.Release)
}
