package manifest

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is a parsed package version: epoch, dotted release segments and the
// optional pre-release, post-release and dev-release tags of the Python
// versioning scheme (PEP 440). Local version labels are not modeled.
type Version struct {
	Epoch   int
	Release []int

	// Pre is nil for final releases. PreN is the numeral after the tag.
	Pre  string // "a", "b" or "rc" after normalization, "" when absent
	PreN int

	Post int // -1 when absent
	Dev  int // -1 when absent

	orig string
}

// ParseVersion parses a version string such as "1.2.3", "2!1.0", "1.0.0a1",
// "1.2.post1" or "0.3.dev2". Tag spellings are normalized ("alpha" → "a",
// "preview" → "rc", "rev" → "post").
func ParseVersion(s string) (Version, error) {
	v := Version{Post: -1, Dev: -1, orig: s}

	rest := strings.ToLower(strings.TrimSpace(s))
	rest = strings.TrimPrefix(rest, "v")
	if rest == "" {
		return v, errors.New("empty version")
	}

	// epoch
	if i := strings.IndexByte(rest, '!'); i >= 0 {
		n, err := strconv.Atoi(rest[:i])
		if err != nil || n < 0 {
			return v, errors.Errorf("invalid epoch in version %q", s)
		}
		v.Epoch = n
		rest = rest[i+1:]
	}

	// release segments
	for {
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if j == 0 {
			return v, errors.Errorf("invalid release segment in version %q", s)
		}
		n, err := strconv.Atoi(rest[:j])
		if err != nil {
			return v, errors.Errorf("invalid release segment in version %q", s)
		}
		v.Release = append(v.Release, n)
		rest = rest[j:]
		if strings.HasPrefix(rest, ".") && len(rest) > 1 && rest[1] >= '0' && rest[1] <= '9' {
			rest = rest[1:]
			continue
		}
		break
	}

	var ok bool
	if rest, ok = v.parseTag(rest, preTags, func(n int, tag string) { v.Pre, v.PreN = tag, n }); !ok {
		return v, errors.Errorf("invalid pre-release tag in version %q", s)
	}
	if rest, ok = v.parseTag(rest, postTags, func(n int, _ string) { v.Post = n }); !ok {
		return v, errors.Errorf("invalid post-release tag in version %q", s)
	}
	// implicit post release, "1.0-1" is "1.0.post1"
	if v.Post < 0 && strings.HasPrefix(rest, "-") {
		j := 1
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if j > 1 {
			v.Post, _ = strconv.Atoi(rest[1:j])
			rest = rest[j:]
		}
	}
	if rest, ok = v.parseTag(rest, devTags, func(n int, _ string) { v.Dev = n }); !ok {
		return v, errors.Errorf("invalid dev-release tag in version %q", s)
	}

	if rest != "" {
		return v, errors.Errorf("trailing %q in version %q", rest, s)
	}
	return v, nil
}

// MustParseVersion is ParseVersion for statically known inputs; it panics on
// error. Used in tests and table literals.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

var preTags = map[string]string{
	"a": "a", "alpha": "a",
	"b": "b", "beta": "b",
	"rc": "rc", "c": "rc", "pre": "rc", "preview": "rc",
}

var postTags = map[string]string{"post": "post", "rev": "post", "r": "post"}

var devTags = map[string]string{"dev": "dev"}

// parseTag consumes an optional separator, one of the given tag spellings and
// an optional numeral. It reports false only for a malformed numeral; an
// absent tag leaves the input untouched.
func (v *Version) parseTag(rest string, tags map[string]string, set func(n int, tag string)) (string, bool) {
	trimmed := strings.TrimLeft(rest, ".-_")

	var spelling, normalized string
	for t, norm := range tags {
		if strings.HasPrefix(trimmed, t) && len(t) > len(spelling) {
			spelling, normalized = t, norm
		}
	}
	if spelling == "" {
		return rest, true
	}

	after := strings.TrimLeft(trimmed[len(spelling):], ".-_")
	j := 0
	for j < len(after) && after[j] >= '0' && after[j] <= '9' {
		j++
	}
	n := 0
	if j > 0 {
		var err error
		if n, err = strconv.Atoi(after[:j]); err != nil {
			return rest, false
		}
	}
	set(n, normalized)
	return after[j:], true
}

// String returns the normalized form of the version.
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch > 0 {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteByte('!')
	}
	for i, r := range v.Release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(r))
	}
	if v.Pre != "" {
		b.WriteString(v.Pre)
		b.WriteString(strconv.Itoa(v.PreN))
	}
	if v.Post >= 0 {
		b.WriteString(".post")
		b.WriteString(strconv.Itoa(v.Post))
	}
	if v.Dev >= 0 {
		b.WriteString(".dev")
		b.WriteString(strconv.Itoa(v.Dev))
	}
	return b.String()
}

// IsPrerelease reports whether the version carries a pre-release or
// dev-release tag.
func (v Version) IsPrerelease() bool {
	return v.Pre != "" || v.Dev >= 0
}

// releaseAt returns the release segment at i, treating missing segments as 0,
// so 1.2 compares equal to 1.2.0.
func (v Version) releaseAt(i int) int {
	if i < len(v.Release) {
		return v.Release[i]
	}
	return 0
}

// Compare orders versions per the Python versioning scheme: by epoch, then
// release segments (zero-padded), then dev < pre < final < post at the same
// release.
func (v Version) Compare(o Version) int {
	if v.Epoch != o.Epoch {
		return cmpInt(v.Epoch, o.Epoch)
	}

	n := len(v.Release)
	if len(o.Release) > n {
		n = len(o.Release)
	}
	for i := 0; i < n; i++ {
		if c := cmpInt(v.releaseAt(i), o.releaseAt(i)); c != 0 {
			return c
		}
	}

	// Pre-release key: dev-only releases sort below pre-releases, which sort
	// below final and post releases.
	if c := cmpInt(v.preRank(), o.preRank()); c != 0 {
		return c
	}
	if v.Pre != "" && o.Pre != "" {
		if c := strings.Compare(v.Pre, o.Pre); c != 0 {
			return c
		}
		if c := cmpInt(v.PreN, o.PreN); c != 0 {
			return c
		}
	}

	// Post-release: absent sorts first.
	if c := cmpInt(v.Post, o.Post); c != 0 {
		return c
	}

	// Dev-release: absent sorts last.
	vd, od := v.Dev, o.Dev
	if vd < 0 {
		vd = int(^uint(0) >> 1)
	}
	if od < 0 {
		od = int(^uint(0) >> 1)
	}
	return cmpInt(vd, od)
}

func (v Version) preRank() int {
	switch {
	case v.Pre != "":
		return 1
	case v.Post < 0 && v.Dev >= 0:
		return 0
	default:
		return 2
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
