package token

import (
	"strings"

	"github.com/pkg/errors"
)

// Canonical is the set of 20 standard amino acid codes.
const Canonical = "ACDEFGHIKLMNPQRSTVWY"

// Extended adds the ambiguity and rare-residue codes accepted in FASTA
// protein records: X (any), B (Asx), Z (Glx), J (Xle), U (Sec), O (Pyl),
// and * for a translation stop.
const Extended = Canonical + "XBZJUO*"

var residueSet = func() [256]bool {
	var set [256]bool
	for _, c := range Extended {
		set[byte(c)] = true
		set[byte(c)|0x20] = true // lowercase variants
	}
	return set
}()

// IsResidue reports whether b is an accepted residue code, upper or lower
// case.
func IsResidue(b byte) bool {
	return residueSet[b]
}

// Sanitize uppercases seq and replaces unrecognized residue codes with 'X'.
// With strict set, the first unrecognized code is an error instead.
func Sanitize(seq string, strict bool) (string, error) {
	var b strings.Builder
	b.Grow(len(seq))

	for i := 0; i < len(seq); i++ {
		c := seq[i]
		if !IsResidue(c) {
			if strict {
				return "", errors.Errorf("unrecognized residue %q at position %d", string(c), i)
			}
			c = 'X'
		}
		if c >= 'a' && c <= 'z' {
			c -= 0x20
		}
		b.WriteByte(c)
	}

	return b.String(), nil
}
