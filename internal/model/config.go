package model

import (
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/mattfeng/progen/internal/token"
)

// Config is a model description, stored as TOML next to the project and
// embedded into checkpoints so a resumed run rebuilds the same model.
type Config struct {
	// Model selects a registered model constructor.
	Model string `toml:"model"`

	// SeqLen is the fixed training sequence length. It also bounds the
	// context during sampling.
	SeqLen int `toml:"seq_len"`

	// NumTokens is the vocabulary size, at most the byte tokenizer's 256.
	NumTokens int `toml:"num_tokens"`
}

// LoadConfig reads a model config file, returning the parsed config and the
// raw bytes for embedding into checkpoints.
func LoadConfig(path string) (Config, []byte, error) {
	dat, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, errors.Wrapf(err, "failed to read model config %s", path)
	}
	cfg, err := ParseConfig(dat)
	if err != nil {
		return Config{}, nil, errors.WithMessagef(err, "model config %s", path)
	}
	return cfg, dat, nil
}

// ParseConfig parses model config TOML and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "not valid TOML")
	}
	if cfg.NumTokens == 0 {
		cfg.NumTokens = token.VocabSize
	}
	return cfg, cfg.Validate()
}

// Validate checks the config is complete enough to build a model from.
func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("model config names no model")
	}
	if c.SeqLen <= 0 {
		return errors.Errorf("model config needs a positive seq_len, got %d", c.SeqLen)
	}
	if c.NumTokens < 2 || c.NumTokens > token.VocabSize {
		return errors.Errorf("model config needs num_tokens in [2, %d], got %d", token.VocabSize, c.NumTokens)
	}
	return nil
}
