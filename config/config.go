// Package config is for app wide settings that are unmarshalled
// from Viper (see: /cmd)
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/mattfeng/progen/internal/hub"
	"github.com/mattfeng/progen/internal/manifest"
	"github.com/mattfeng/progen/internal/train"
)

// TrainSettings shape a training run
type TrainSettings struct {
	Seed            uint64  `mapstructure:"seed"`
	BatchSize       int     `mapstructure:"batch-size"`
	GradAccumEvery  int     `mapstructure:"grad-accum-every"`
	Epochs          int     `mapstructure:"epochs"`
	LearningRate    float64 `mapstructure:"learning-rate"`
	WeightDecay     float64 `mapstructure:"weight-decay"`
	MaxGradNorm     float64 `mapstructure:"max-grad-norm"`
	ValidateEvery   int     `mapstructure:"validate-every"`
	SampleEvery     int     `mapstructure:"sample-every"`
	CheckpointEvery int     `mapstructure:"checkpoint-every"`
	CheckpointPath  string  `mapstructure:"checkpoint-path"`
	CheckpointKeepN int     `mapstructure:"checkpoint-keep-n"`
	ConfigPath      string  `mapstructure:"config-path"`
	ModelName       string  `mapstructure:"model-name"`
	PrimeLength     int     `mapstructure:"prime-length"`
	TopK            int     `mapstructure:"top-k"`
}

// DataSettings locate and shape the token dataset
type DataSettings struct {
	// the dataset directory holding record shards and dataset.json
	Path string `mapstructure:"path"`

	// the tokenizer class sequences are encoded with
	Tokenizer string `mapstructure:"tokenizer"`

	// the fraction of sequences held out for validation during prepare
	ValidFrac float64 `mapstructure:"valid-frac"`

	// sequences per record shard
	PerShard int `mapstructure:"per-shard"`
}

// HubSettings point at the remote dataset store
type HubSettings struct {
	Endpoint    string `mapstructure:"endpoint"`
	AuthToken   string `mapstructure:"auth-token"`
	MaxParallel int    `mapstructure:"max-parallel"`
}

// TrackSettings configure the run tracker
type TrackSettings struct {
	Off     bool   `mapstructure:"off"`
	Path    string `mapstructure:"path"`
	Project string `mapstructure:"project"`
}

// VerifySettings configure manifest verification
type VerifySettings struct {
	// the package index consulted for releases
	Index string `mapstructure:"index"`
}

// Config is the root-level settings struct and is a mix of settings
// available in progen.toml, the environment, and the command line
type Config struct {
	Train  TrainSettings  `mapstructure:"train"`
	Data   DataSettings   `mapstructure:"data"`
	Hub    HubSettings    `mapstructure:"hub"`
	Track  TrackSettings  `mapstructure:"track"`
	Verify VerifySettings `mapstructure:"verify"`
}

// SetDefaults registers every setting's default with Viper.
func SetDefaults() {
	d := train.DefaultConfig()

	viper.SetDefault("train.seed", d.Seed)
	viper.SetDefault("train.batch-size", d.BatchSize)
	viper.SetDefault("train.grad-accum-every", d.GradAccumEvery)
	viper.SetDefault("train.epochs", d.Epochs)
	viper.SetDefault("train.learning-rate", d.LearningRate)
	viper.SetDefault("train.weight-decay", d.WeightDecay)
	viper.SetDefault("train.max-grad-norm", d.MaxGradNorm)
	viper.SetDefault("train.validate-every", d.ValidateEvery)
	viper.SetDefault("train.sample-every", d.SampleEvery)
	viper.SetDefault("train.checkpoint-every", d.CheckpointEvery)
	viper.SetDefault("train.checkpoint-path", d.CheckpointPath)
	viper.SetDefault("train.checkpoint-keep-n", d.CheckpointKeepN)
	viper.SetDefault("train.config-path", d.ConfigPath)
	viper.SetDefault("train.model-name", d.ModelName)
	viper.SetDefault("train.prime-length", d.PrimeLength)
	viper.SetDefault("train.top-k", d.TopK)

	viper.SetDefault("data.path", d.DataPath)
	viper.SetDefault("data.tokenizer", "byte")
	viper.SetDefault("data.valid-frac", 0.05)
	viper.SetDefault("data.per-shard", 10000)

	viper.SetDefault("hub.endpoint", "")
	viper.SetDefault("hub.auth-token", "")
	viper.SetDefault("hub.max-parallel", hub.DefaultMaxParallel)

	viper.SetDefault("track.off", false)
	viper.SetDefault("track.path", d.TrackPath)
	viper.SetDefault("track.project", d.Project)

	viper.SetDefault("verify.index", manifest.DefaultIndexURL)
}

// Load points Viper at the progen.toml settings file (working directory,
// then home) and at the PROGEN_ environment. A missing settings file is
// fine; defaults and flags cover everything.
func Load() error {
	// .env files feed the PROGEN_ environment lookups below
	_ = godotenv.Load()

	SetDefaults()

	viper.SetConfigName("progen")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}

	viper.SetEnvPrefix("PROGEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read settings file")
		}
	}
	return nil
}

// New returns a Config populated by Viper settings (from progen.toml,
// the environment, and bound command line flags).
func New() (Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return c, errors.Wrap(err, "failed to decode settings")
	}
	return c, nil
}

// TrainConfig lowers the settings into a training run configuration.
func (c Config) TrainConfig() train.Config {
	cfg := train.DefaultConfig()

	cfg.Seed = c.Train.Seed
	cfg.BatchSize = c.Train.BatchSize
	cfg.GradAccumEvery = c.Train.GradAccumEvery
	cfg.Epochs = c.Train.Epochs
	cfg.LearningRate = c.Train.LearningRate
	cfg.WeightDecay = c.Train.WeightDecay
	cfg.MaxGradNorm = c.Train.MaxGradNorm
	cfg.ValidateEvery = c.Train.ValidateEvery
	cfg.SampleEvery = c.Train.SampleEvery
	cfg.CheckpointEvery = c.Train.CheckpointEvery
	cfg.CheckpointPath = c.Train.CheckpointPath
	cfg.CheckpointKeepN = c.Train.CheckpointKeepN
	cfg.ConfigPath = c.Train.ConfigPath
	cfg.ModelName = c.Train.ModelName
	cfg.PrimeLength = c.Train.PrimeLength
	cfg.TopK = c.Train.TopK

	cfg.DataPath = c.Data.Path
	cfg.TrackOff = c.Track.Off
	cfg.TrackPath = c.Track.Path
	cfg.Project = c.Track.Project

	return cfg
}
