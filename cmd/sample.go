package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattfeng/progen/internal/checkpoint"
	"github.com/mattfeng/progen/internal/model"
	"github.com/mattfeng/progen/internal/prng"
	"github.com/mattfeng/progen/internal/sample"
	"github.com/mattfeng/progen/internal/token"
	"github.com/mattfeng/progen/internal/train"
)

// sampleCmd represents the sample command
var sampleCmd = &cobra.Command{
	Use:                        "sample",
	Short:                      "Sample protein sequences from the newest checkpoint",
	SuggestionsMinimumDistance: 2,
	Long: `
Sample protein sequences from the newest checkpoint in the checkpoint
directory. Each sequence starts from the prime residues and is extended one
residue at a time, drawn from the top-k next-residue distribution.

Sampling is deterministic for a fixed seed.`,
	Example: `  progen sample --prime MKVILT --count 3
  progen sample --temperature 0.8 --top-k 10`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagOrSetting(cmd, "checkpoints", "train.checkpoint-path")

		last, _, err := checkpoint.Last(dir)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		if last == nil {
			stderr.Fatalf("no checkpoint found in %s, train a model first", dir)
		}

		mcfg, err := model.ParseConfig(last.ModelConfig)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		m, err := model.New(mcfg)
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		tok, err := token.New(viper.GetString("data.tokenizer"))
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		prime, _ := cmd.Flags().GetString("prime")
		length, _ := cmd.Flags().GetInt("length")
		count, _ := cmd.Flags().GetInt("count")
		topK, _ := cmd.Flags().GetInt("top-k")
		temp, _ := cmd.Flags().GetFloat64("temperature")
		seed, _ := cmd.Flags().GetUint64("seed")

		if length <= 0 || length > mcfg.SeqLen {
			length = mcfg.SeqLen
		}

		ctx, stop := contextWithSignals()
		defer stop()

		rng := prng.NewSeq(seed).Next()
		opts := sample.Options{TopK: topK, Temperature: temp}
		for i := 0; i < count; i++ {
			seq, err := sample.Generate(ctx, rng, m, last.Params, tok.Encode(prime), length, opts)
			if err != nil {
				stderr.Fatalf("%v", err)
			}
			fmt.Println(tok.Decode(seq))
		}
	},
}

// set flags
func init() {
	rootCmd.AddCommand(sampleCmd)

	d := train.DefaultConfig()

	sampleCmd.Flags().StringP("prime", "p", "M", "residues each sampled sequence starts from")
	sampleCmd.Flags().IntP("length", "l", 0, "residues per sequence (0 means the model's sequence length)")
	sampleCmd.Flags().IntP("count", "c", 1, "number of sequences to sample")
	sampleCmd.Flags().Int("top-k", sample.DefaultTopK, "sample from the k most likely next residues")
	sampleCmd.Flags().Float64("temperature", 1.0, "logit temperature, lower is greedier")
	sampleCmd.Flags().Uint64("seed", d.Seed, "sampling seed")
	sampleCmd.Flags().String("checkpoints", d.CheckpointPath, "directory checkpoints are read from")
}
