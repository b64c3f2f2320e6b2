// Package manifest parses and verifies the project's dependency manifest
// (pyproject.toml). It can validate the manifest's shape, and check that
// every declared dependency constraint — and the declared build backend — is
// satisfiable against a release index.
package manifest

import (
	"os"
	"regexp"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Manifest is a parsed pyproject-style manifest.
type Manifest struct {
	Name        string
	Version     string
	Description string
	Authors     []string

	// Runtime is the interpreter requirement (the "python" entry of the
	// dependency table).
	Runtime         Constraint
	runtimeDeclared bool

	// Dependencies excludes the runtime entry and is sorted by name.
	Dependencies []Dependency

	Build BuildSystem
}

// Dependency is one entry of the dependency table.
type Dependency struct {
	// Name as written in the manifest.
	Name string

	// Normalized is the comparable spelling of Name (lowercase, runs of
	// ".", "-", "_" collapsed to "-").
	Normalized string

	Constraint Constraint

	// Optional dependencies are declared but only installed with an extra.
	Optional bool

	// Dev dependencies come from the dev-dependency table.
	Dev bool
}

// BuildSystem is the [build-system] table.
type BuildSystem struct {
	Requires []Requirement
	Backend  string
}

// Requirement is a parsed requirement string such as "poetry-core>=1.0.0".
type Requirement struct {
	Name       string
	Normalized string
	Constraint Constraint
}

var normalizeRe = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the canonical comparable spelling of a package name:
// lowercased, with runs of ".", "-" and "_" collapsed to a single "-".
func NormalizeName(name string) string {
	return normalizeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// raw TOML shapes

type pyproject struct {
	Tool struct {
		Poetry struct {
			Name            string         `toml:"name"`
			Version         string         `toml:"version"`
			Description     string         `toml:"description"`
			Authors         []string       `toml:"authors"`
			Dependencies    map[string]any `toml:"dependencies"`
			DevDependencies map[string]any `toml:"dev-dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
	BuildSystem struct {
		Requires []string `toml:"requires"`
		Backend  string   `toml:"build-backend"`
	} `toml:"build-system"`
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse manifest %s", path)
	}
	return m, nil
}

// Parse parses manifest TOML.
func Parse(data []byte) (*Manifest, error) {
	var raw pyproject
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "not valid TOML")
	}

	p := raw.Tool.Poetry
	m := &Manifest{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Authors:     p.Authors,
		Runtime:     MustParseConstraint("*"),
	}

	deps, err := parseDependencyTable(p.Dependencies, false)
	if err != nil {
		return nil, err
	}
	devDeps, err := parseDependencyTable(p.DevDependencies, true)
	if err != nil {
		return nil, err
	}
	for _, d := range append(deps, devDeps...) {
		if d.Normalized == "python" && !d.Dev {
			m.Runtime = d.Constraint
			m.runtimeDeclared = true
			continue
		}
		m.Dependencies = append(m.Dependencies, d)
	}
	sort.Slice(m.Dependencies, func(i, j int) bool {
		return m.Dependencies[i].Normalized < m.Dependencies[j].Normalized
	})

	m.Build.Backend = raw.BuildSystem.Backend
	for _, r := range raw.BuildSystem.Requires {
		req, err := ParseRequirement(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "build-system requirement %q", r)
		}
		m.Build.Requires = append(m.Build.Requires, req)
	}

	return m, nil
}

// parseDependencyTable interprets the TOML dependency table. Entries are
// either a bare constraint string or a table with a "version" key and
// optional "optional" flag.
func parseDependencyTable(table map[string]any, dev bool) ([]Dependency, error) {
	deps := make([]Dependency, 0, len(table))

	for name, value := range table {
		d := Dependency{Name: name, Normalized: NormalizeName(name), Dev: dev}

		switch v := value.(type) {
		case string:
			c, err := ParseConstraint(v)
			if err != nil {
				return nil, errors.WithMessagef(err, "dependency %q", name)
			}
			d.Constraint = c
		case map[string]any:
			spec, _ := v["version"].(string)
			c, err := ParseConstraint(spec)
			if err != nil {
				return nil, errors.WithMessagef(err, "dependency %q", name)
			}
			d.Constraint = c
			if opt, ok := v["optional"].(bool); ok {
				d.Optional = opt
			}
		default:
			return nil, errors.Errorf("dependency %q: unsupported constraint of type %T", name, value)
		}

		deps = append(deps, d)
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].Normalized < deps[j].Normalized })
	return deps, nil
}

var requirementNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*`)

// ParseRequirement parses a requirement string ("poetry-core>=1.0.0",
// "setuptools", "wheel >0.30, <1.0"). Extras and environment markers are
// stripped; only the name and version constraint are kept.
func ParseRequirement(s string) (Requirement, error) {
	var r Requirement

	// drop environment markers
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)

	name := requirementNameRe.FindString(s)
	if name == "" {
		return r, errors.Errorf("requirement %q has no package name", s)
	}
	r.Name = name
	r.Normalized = NormalizeName(name)

	rest := strings.TrimSpace(s[len(name):])

	// drop extras
	if strings.HasPrefix(rest, "[") {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return r, errors.Errorf("requirement %q has an unterminated extras list", s)
		}
		rest = strings.TrimSpace(rest[end+1:])
	}
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "("))
	rest = strings.TrimSpace(strings.TrimSuffix(rest, ")"))

	c, err := ParseConstraint(rest)
	if err != nil {
		return r, err
	}
	r.Constraint = c
	return r, nil
}

// Validate checks manifest well-formedness: project name and a parseable
// version, a runtime requirement, no duplicate dependency names after
// normalization, and a build system with a backend and at least one
// requirement.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return errors.New("manifest has no project name")
	}
	if m.Version == "" {
		return errors.New("manifest has no project version")
	}
	if _, err := ParseVersion(m.Version); err != nil {
		return errors.WithMessagef(err, "project version %q", m.Version)
	}
	if !m.runtimeDeclared {
		return errors.New("manifest has no runtime (python) requirement")
	}

	seen := make(map[string]string, len(m.Dependencies))
	for _, d := range m.Dependencies {
		if first, dup := seen[d.Normalized]; dup {
			return errors.Errorf("dependency %q duplicates %q", d.Name, first)
		}
		seen[d.Normalized] = d.Name
	}

	if m.Build.Backend == "" {
		return errors.New("manifest has no build backend")
	}
	if len(m.Build.Requires) == 0 {
		return errors.New("manifest build system requires nothing")
	}
	return nil
}
