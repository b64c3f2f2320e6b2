package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattfeng/progen/config"
	"github.com/mattfeng/progen/internal/checkpoint"
	"github.com/mattfeng/progen/internal/train"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:                        "train",
	Short:                      "Train a protein language model on a prepared dataset",
	SuggestionsMinimumDistance: 2,
	Long: `
Train a protein language model on a dataset prepared with "progen data prepare".

Training resumes from the newest checkpoint in the checkpoint directory when
one exists: parameters, optimizer state, dataset position and the tracking
run all carry over. Without a checkpoint a fresh model is built from
configs/model/<model>.toml and training starts at the first sequence.

Interrupting with ctrl-c checkpoints before exiting, so the next invocation
picks up where this one stopped.`,
	Example: "  progen train --data ./train_data --model default",
	Run: func(cmd *cobra.Command, args []string) {
		c, err := config.New()
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		cfg := c.TrainConfig()
		cfg.Progress, _ = cmd.Flags().GetBool("progress")

		if fresh, _ := cmd.Flags().GetBool("new"); fresh {
			prompt := fmt.Sprintf("start a new run? this removes every checkpoint in %s", cfg.CheckpointPath)
			if !confirm(cmd.InOrStdin(), prompt) {
				return
			}
			if err := checkpoint.Reset(cfg.CheckpointPath); err != nil {
				stderr.Fatalf("%v", err)
			}
		}

		ctx, stop := contextWithSignals()
		defer stop()

		// an interrupt already checkpointed and logged inside the loop
		if err := train.Run(ctx, cfg, stderr); err != nil && !errors.Is(err, context.Canceled) {
			stderr.Fatalf("%v", err)
		}
	},
}

// set flags
func init() {
	rootCmd.AddCommand(trainCmd)

	d := train.DefaultConfig()

	trainCmd.Flags().Uint64("seed", d.Seed, "seed for deterministic parameter init, batching and sampling")
	trainCmd.Flags().IntP("batch-size", "b", d.BatchSize, "sequences per micro batch")
	trainCmd.Flags().Int("grad-accum-every", d.GradAccumEvery, "micro batches accumulated per optimizer step")
	trainCmd.Flags().IntP("epochs", "e", d.Epochs, "passes over the training split")
	trainCmd.Flags().Float64("learning-rate", d.LearningRate, "AdamW learning rate")
	trainCmd.Flags().Float64("weight-decay", d.WeightDecay, "AdamW decoupled weight decay")
	trainCmd.Flags().Float64("max-grad-norm", d.MaxGradNorm, "clip gradients above this global norm")
	trainCmd.Flags().Int("validate-every", d.ValidateEvery, "steps between validation losses")
	trainCmd.Flags().Int("sample-every", d.SampleEvery, "steps between sampled sequences")
	trainCmd.Flags().Int("checkpoint-every", d.CheckpointEvery, "steps between checkpoints")
	trainCmd.Flags().String("checkpoints", d.CheckpointPath, "directory checkpoints are saved to")
	trainCmd.Flags().Int("keep", d.CheckpointKeepN, "checkpoints kept before the oldest are pruned (0 keeps all)")
	trainCmd.Flags().String("configs", d.ConfigPath, "directory of model config TOML files")
	trainCmd.Flags().StringP("model", "m", d.ModelName, "model config name, <configs>/<model>.toml")
	trainCmd.Flags().Int("prime-length", d.PrimeLength, "residues of a validation sequence priming each sample")
	trainCmd.Flags().Int("top-k", d.TopK, "sample from the k most likely next residues")
	trainCmd.Flags().StringP("data", "d", d.DataPath, "prepared dataset directory")
	trainCmd.Flags().Bool("track-off", false, "disable run tracking")
	trainCmd.Flags().String("runs", d.TrackPath, "directory tracked runs are written to")
	trainCmd.Flags().String("project", d.Project, "tracking project runs are grouped under")

	trainCmd.Flags().Bool("progress", true, "draw a per-epoch progress bar")
	trainCmd.Flags().BoolP("new", "n", false, "wipe checkpoints and start a fresh run (asks first)")

	// Bind the parameters to viper
	viper.BindPFlag("train.seed", trainCmd.Flags().Lookup("seed"))
	viper.BindPFlag("train.batch-size", trainCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("train.grad-accum-every", trainCmd.Flags().Lookup("grad-accum-every"))
	viper.BindPFlag("train.epochs", trainCmd.Flags().Lookup("epochs"))
	viper.BindPFlag("train.learning-rate", trainCmd.Flags().Lookup("learning-rate"))
	viper.BindPFlag("train.weight-decay", trainCmd.Flags().Lookup("weight-decay"))
	viper.BindPFlag("train.max-grad-norm", trainCmd.Flags().Lookup("max-grad-norm"))
	viper.BindPFlag("train.validate-every", trainCmd.Flags().Lookup("validate-every"))
	viper.BindPFlag("train.sample-every", trainCmd.Flags().Lookup("sample-every"))
	viper.BindPFlag("train.checkpoint-every", trainCmd.Flags().Lookup("checkpoint-every"))
	viper.BindPFlag("train.checkpoint-path", trainCmd.Flags().Lookup("checkpoints"))
	viper.BindPFlag("train.checkpoint-keep-n", trainCmd.Flags().Lookup("keep"))
	viper.BindPFlag("train.config-path", trainCmd.Flags().Lookup("configs"))
	viper.BindPFlag("train.model-name", trainCmd.Flags().Lookup("model"))
	viper.BindPFlag("train.prime-length", trainCmd.Flags().Lookup("prime-length"))
	viper.BindPFlag("train.top-k", trainCmd.Flags().Lookup("top-k"))
	viper.BindPFlag("data.path", trainCmd.Flags().Lookup("data"))
	viper.BindPFlag("track.off", trainCmd.Flags().Lookup("track-off"))
	viper.BindPFlag("track.path", trainCmd.Flags().Lookup("runs"))
	viper.BindPFlag("track.project", trainCmd.Flags().Lookup("project"))
}
