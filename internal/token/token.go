// Package token converts protein sequences to model tokens and back.
//
// Sequences are tokenized at the byte level: a token is the raw byte of the
// residue character, the zero byte is reserved for padding, and decoding maps
// any control byte to a space. That keeps the vocabulary at 256 and lets any
// annotation text ride along with the residues.
//
// Tokenizers are looked up by class name through a registry so that model
// configs and dataset manifests can name the tokenizer they were built with.
package token

import (
	"github.com/pkg/errors"
)

// Pad is the padding token appended to sequences shorter than the model's
// sequence length.
const Pad byte = 0

// VocabSize is the number of distinct tokens a byte-level tokenizer can emit.
const VocabSize = 256

// Tokenizer converts between sequence text and token bytes.
type Tokenizer interface {
	// Encode converts sequence text to tokens.
	Encode(seq string) []byte

	// Decode converts tokens back to text. Padding and other control bytes
	// decode to spaces.
	Decode(tokens []byte) string
}

// Constructor builds a tokenizer for a registered class.
type Constructor func() (Tokenizer, error)

var classes = make(map[string]Constructor)

// Register makes a tokenizer class available to New. It is intended to be
// called from package init functions.
func Register(name string, c Constructor) {
	classes[name] = c
}

// New returns a tokenizer of the named class.
func New(name string) (Tokenizer, error) {
	c, ok := classes[name]
	if !ok {
		return nil, errors.Errorf("unknown tokenizer class %q", name)
	}
	return c()
}

func init() {
	Register("byte", func() (Tokenizer, error) {
		return ByteTokenizer{}, nil
	})
}

// ByteTokenizer is the default tokenizer: tokens are the sequence's bytes.
type ByteTokenizer struct{}

// Encode returns the raw bytes of seq.
func (ByteTokenizer) Encode(seq string) []byte {
	return []byte(seq)
}

// Decode maps each token back to its character. Tokens below 32 (padding and
// control bytes) become spaces.
func (ByteTokenizer) Decode(tokens []byte) string {
	out := make([]byte, len(tokens))
	for i, t := range tokens {
		if t < 32 {
			t = ' '
		}
		out[i] = t
	}
	return string(out)
}
