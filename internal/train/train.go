// Package train drives the training loop: gradient accumulation over
// dataset batches, periodic validation, sampling and checkpointing, with
// progress mirrored to a run tracker.
package train

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/cheggaaa/pb.v1"

	"github.com/mattfeng/progen/internal/checkpoint"
	"github.com/mattfeng/progen/internal/model"
	"github.com/mattfeng/progen/internal/optim"
	"github.com/mattfeng/progen/internal/prng"
	"github.com/mattfeng/progen/internal/sample"
	"github.com/mattfeng/progen/internal/seqio"
	"github.com/mattfeng/progen/internal/token"
	"github.com/mattfeng/progen/internal/track"
)

// Config holds every knob of a training run.
type Config struct {
	Seed           uint64
	BatchSize      int
	GradAccumEvery int
	Epochs         int

	LearningRate float64
	WeightDecay  float64
	MaxGradNorm  float64

	ValidateEvery   int
	SampleEvery     int
	CheckpointEvery int
	CheckpointPath  string
	CheckpointKeepN int

	// ConfigPath is the directory of model configs; ModelName picks the
	// <name>.toml inside it.
	ConfigPath string
	ModelName  string

	PrimeLength int
	TopK        int

	DataPath string

	TrackOff  bool
	TrackPath string
	Project   string

	// Progress draws a per-epoch progress bar on stdout.
	Progress bool
}

// DefaultConfig returns the standard training configuration.
func DefaultConfig() Config {
	return Config{
		Seed:            42,
		BatchSize:       4,
		GradAccumEvery:  4,
		Epochs:          100,
		LearningRate:    2e-4,
		WeightDecay:     1e-3,
		MaxGradNorm:     0.5,
		ValidateEvery:   100,
		SampleEvery:     500,
		CheckpointEvery: 1000,
		CheckpointPath:  "./ckpts",
		CheckpointKeepN: 500,
		ConfigPath:      "./configs/model",
		ModelName:       "default",
		PrimeLength:     25,
		TopK:            25,
		DataPath:        "./train_data",
		TrackPath:       "./runs",
		Project:         "progen-training",
	}
}

// Validate reports the first nonsensical setting, if any.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.GradAccumEvery <= 0:
		return errors.Errorf("gradient accumulation must be positive, got %d", c.GradAccumEvery)
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return errors.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case c.MaxGradNorm <= 0:
		return errors.Errorf("max gradient norm must be positive, got %v", c.MaxGradNorm)
	case c.ValidateEvery <= 0 || c.SampleEvery <= 0 || c.CheckpointEvery <= 0:
		return errors.New("validate, sample and checkpoint intervals must be positive")
	case c.PrimeLength <= 0:
		return errors.Errorf("prime length must be positive, got %d", c.PrimeLength)
	}
	return nil
}

// Run trains until the configured epochs complete or ctx is cancelled.
// Cancellation between steps saves a checkpoint before returning ctx's
// error, so the run resumes where it stopped.
func Run(ctx context.Context, cfg Config, logger *log.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	last, _, err := checkpoint.Last(cfg.CheckpointPath)
	if err != nil {
		return err
	}

	// the model config rides along inside checkpoints so a resumed run
	// cannot drift from the architecture it started with
	var (
		mcfg model.Config
		raw  []byte
	)
	if last != nil {
		raw = last.ModelConfig
		if mcfg, err = model.ParseConfig(raw); err != nil {
			return errors.WithMessage(err, "failed to read the checkpointed model config")
		}
	} else {
		path := filepath.Join(cfg.ConfigPath, cfg.ModelName+".toml")
		if mcfg, raw, err = model.LoadConfig(path); err != nil {
			return err
		}
	}

	m, err := model.New(mcfg)
	if err != nil {
		return err
	}

	rng := prng.NewSeq(cfg.Seed)

	transform := optim.Chain(
		optim.ClipByGlobalNorm(cfg.MaxGradNorm),
		optim.AdamW(optim.AdamWConfig{
			LearningRate: cfg.LearningRate,
			WeightDecay:  cfg.WeightDecay,
			Mask:         optim.DefaultDecayMask,
		}),
		optim.ApplyEvery(cfg.GradAccumEvery),
	)

	var (
		params        model.Params
		state         optim.State
		startSeqIndex int
		runID         string
	)
	if last != nil {
		params = last.Params
		state = last.OptimState
		startSeqIndex = last.NextSeqIndex
		runID = last.RunID
	} else {
		params = m.Init(rng.Next())
		state = transform.Init(params)
	}

	var tracker track.Tracker = track.Nop{}
	if !cfg.TrackOff {
		var opts []track.Option
		if runID != "" {
			opts = append(opts, track.WithRunID(runID))
		}
		fs, err := track.NewFSTracker(cfg.TrackPath, cfg.Project, opts...)
		if err != nil {
			return err
		}
		tracker = fs
		runID = fs.RunID()
	}

	ds, err := seqio.LoadDataset(cfg.DataPath)
	if err != nil {
		return err
	}
	dec, err := token.New(ds.Tokenizer)
	if err != nil {
		return err
	}

	totalTrain := ds.Count("train")
	if totalTrain == 0 {
		return errors.New("no protein sequences found for training")
	}
	if ds.Count("valid") == 0 {
		return errors.New("no protein sequences found for validation")
	}

	trainIt, err := ds.Iterator("train", seqio.IteratorConfig{
		SeqLen:    mcfg.SeqLen,
		BatchSize: cfg.BatchSize,
		Skip:      startSeqIndex,
		Loop:      true,
	})
	if err != nil {
		return err
	}
	defer trainIt.Close()

	validIt, err := ds.Iterator("valid", seqio.IteratorConfig{
		SeqLen:    mcfg.SeqLen,
		BatchSize: cfg.BatchSize,
		Loop:      true,
	})
	if err != nil {
		return err
	}
	defer validIt.Close()

	logger.Printf("params: %s", humanize.Comma(int64(params.NumParams())))
	logger.Printf("sequence length: %d", mcfg.SeqLen)
	logger.Printf("num sequences: %d", totalTrain)
	logger.Printf("starting from sequence %d", startSeqIndex)

	effectiveBatch := cfg.BatchSize * cfg.GradAccumEvery
	stepsPerEpoch := 0
	if startSeqIndex < totalTrain {
		stepsPerEpoch = (totalTrain - startSeqIndex + effectiveBatch - 1) / effectiveBatch
	}
	if stepsPerEpoch == 0 {
		return errors.Errorf("nothing left to train: sequence index %d is past all %d training sequences",
			startSeqIndex, totalTrain)
	}

	save := func(nextSeqIndex int) error {
		_, err := checkpoint.Save(cfg.CheckpointPath, &checkpoint.Checkpoint{
			NextSeqIndex: nextSeqIndex,
			RunID:        runID,
			ModelConfig:  raw,
			Params:       params,
			OptimState:   state,
		}, cfg.CheckpointKeepN)
		return err
	}

	primeLen := cfg.PrimeLength
	if primeLen > mcfg.SeqLen {
		primeLen = mcfg.SeqLen
	}

	step := 0
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		logger.Printf("==== starting epoch: %d ====", epoch)

		var bar *pb.ProgressBar
		if cfg.Progress {
			bar = pb.StartNew(stepsPerEpoch)
		}

		for i := 0; i < stepsPerEpoch; i++ {
			seqIndex := startSeqIndex + i*effectiveBatch

			if err := ctx.Err(); err != nil {
				if cfg.Progress {
					bar.Finish()
				}
				if serr := save(seqIndex); serr != nil {
					return serr
				}
				logger.Printf("interrupted, checkpoint to start at sequence index of %d", seqIndex)
				_ = tracker.Finish()
				return err
			}

			var loss float64
			for n := 0; n < cfg.GradAccumEvery; n++ {
				batch, err := trainIt.Next()
				if err != nil {
					return errors.WithMessage(err, "failed to read a training batch")
				}
				l, grads, err := m.Loss(rng.Next(), params, batch)
				if err != nil {
					return err
				}
				updates, next, err := transform.Update(grads, state, params)
				if err != nil {
					return err
				}
				state = next
				if err := optim.ApplyUpdates(params, updates); err != nil {
					return err
				}
				loss = l
			}

			logger.Printf("loss: %v", loss)
			if err := tracker.LogMetrics(step, map[string]float64{"loss": loss}); err != nil {
				return err
			}

			if i%cfg.CheckpointEvery == 0 {
				next := seqIndex + effectiveBatch
				if err := save(next); err != nil {
					return err
				}
				logger.Printf("checkpoint to start at sequence index of %d", next)
			}

			if i%cfg.ValidateEvery == 0 {
				batch, err := validIt.Next()
				if err != nil {
					return errors.WithMessage(err, "failed to read a validation batch")
				}
				vloss, _, err := m.Loss(rng.Next(), params, batch)
				if err != nil {
					return err
				}
				logger.Printf("valid_loss: %v", vloss)
				if err := tracker.LogMetrics(step, map[string]float64{"valid_loss": vloss}); err != nil {
					return err
				}
			}

			if i%cfg.SampleEvery == 0 {
				batch, err := validIt.Next()
				if err != nil {
					return errors.WithMessage(err, "failed to read a batch to prime sampling")
				}
				prime := batch[0][:primeLen]

				sampled, err := sample.Generate(ctx, rng.Next(), m, params, prime, mcfg.SeqLen,
					sample.Options{TopK: cfg.TopK})
				if err != nil {
					return errors.WithMessage(err, "failed to sample")
				}

				primeStr := dec.Decode(prime)
				contStr := dec.Decode(sampled[len(prime):])
				logger.Printf("%s\n%s\n%s", primeStr, strings.Repeat("*", 40), contStr)
				if err := tracker.LogSample(step, primeStr, contStr); err != nil {
					return err
				}
			}

			if cfg.Progress {
				bar.Increment()
			}
			step++
		}

		if cfg.Progress {
			bar.Finish()
		}
	}

	next := startSeqIndex + stepsPerEpoch*effectiveBatch
	if err := save(next); err != nil {
		return err
	}
	logger.Printf("checkpoint to start at sequence index of %d", next)

	return tracker.Finish()
}
