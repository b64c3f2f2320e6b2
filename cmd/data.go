package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/cheggaaa/pb.v1"

	"github.com/mattfeng/progen/internal/flow"
	"github.com/mattfeng/progen/internal/prng"
	"github.com/mattfeng/progen/internal/seqio"
	"github.com/mattfeng/progen/internal/token"
)

// dataCmd groups dataset preparation and inspection
var dataCmd = &cobra.Command{
	Use:                        "data",
	Short:                      "Prepare and inspect protein sequence datasets",
	SuggestionsMinimumDistance: 2,
	Long: `Prepare a FASTA file of protein sequences into the sharded dataset
the trainer reads, or inspect a dataset that already exists.`,
}

// dataPrepareCmd encodes a FASTA file into a training dataset
var dataPrepareCmd = &cobra.Command{
	Use:                        "prepare",
	Short:                      "Encode a FASTA file into a sharded training dataset",
	SuggestionsMinimumDistance: 2,
	Example:                    "  progen data prepare --in uniref50.fa --out ./train_data",
	Long: `
Encode a FASTA file into the dataset directory the trainer reads.

Preparation runs as a small pipeline: scan the FASTA records, write a .fai
index next to the input, sanitize and tokenize every sequence, shuffle and
split them into train and valid shards, then re-read everything written to
verify counts and checksums. A failing step aborts the run.`,
	Run: func(cmd *cobra.Command, args []string) {
		in, _ := cmd.Flags().GetString("in")
		out := flagOrSetting(cmd, "out", "data.path")
		name, _ := cmd.Flags().GetString("name")
		strict, _ := cmd.Flags().GetBool("strict")
		seed, _ := cmd.Flags().GetUint64("seed")
		showProgress, _ := cmd.Flags().GetBool("progress")

		tokClass := viper.GetString("data.tokenizer")
		validFrac := viper.GetFloat64("data.valid-frac")
		perShard := viper.GetInt("data.per-shard")

		if name == "" {
			name = strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		}
		if validFrac < 0 || validFrac >= 1 {
			stderr.Fatalf("valid-frac must be in [0, 1), got %v", validFrac)
		}

		tok, err := token.New(tokClass)
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		// steps communicate through these
		var (
			records []seqio.Record
			encoded [][]byte
			ds      *seqio.Dataset
		)

		f := flow.New("prepare", flow.WithLogger(stderr))

		f.Add(flow.Step{
			Name: "scan",
			Run: func(context.Context) error {
				if records, err = seqio.ReadFasta(in); err != nil {
					return err
				}
				if len(records) == 0 {
					return errors.Errorf("no sequences found in %s", in)
				}
				return nil
			},
		})

		f.Add(flow.Step{
			Name:      "index",
			DependsOn: []string{"scan"},
			Run: func(context.Context) error {
				recs, err := seqio.BuildIndex(in)
				if err != nil {
					return err
				}
				return seqio.WriteIndex(in+".fai", recs)
			},
		})

		f.Add(flow.Step{
			Name:      "encode",
			DependsOn: []string{"scan"},
			Run: func(context.Context) error {
				var bar *pb.ProgressBar
				if showProgress {
					bar = pb.StartNew(len(records))
				}

				for _, r := range records {
					seq, err := token.Sanitize(r.Seq, strict)
					if err != nil {
						return errors.WithMessagef(err, "failed to sanitize %s", r.ID)
					}
					if seq != "" {
						encoded = append(encoded, tok.Encode(seq))
					}
					if bar != nil {
						bar.Increment()
					}
				}
				if bar != nil {
					bar.Finish()
				}

				if len(encoded) == 0 {
					return errors.Errorf("no usable sequences in %s after sanitizing", in)
				}
				return nil
			},
		})

		f.Add(flow.Step{
			Name:      "manifest",
			DependsOn: []string{"encode", "index"},
			Run: func(context.Context) error {
				rng := prng.NewSeq(seed).Next()
				rng.Shuffle(len(encoded), func(i, j int) {
					encoded[i], encoded[j] = encoded[j], encoded[i]
				})

				nValid := int(float64(len(encoded)) * validFrac)
				if nValid == 0 && validFrac > 0 && len(encoded) > 1 {
					nValid = 1
				}

				ds = seqio.NewDataset(out, name, tokClass)
				if err := ds.WriteSplit("train", encoded[nValid:], perShard); err != nil {
					return err
				}
				if nValid > 0 {
					if err := ds.WriteSplit("valid", encoded[:nValid], perShard); err != nil {
						return err
					}
				}
				return ds.Save()
			},
		})

		f.Add(flow.Step{
			Name:      "verify",
			DependsOn: []string{"manifest"},
			Run: func(context.Context) error {
				loaded, err := seqio.LoadDataset(out)
				if err != nil {
					return err
				}
				for _, split := range loaded.SplitNames() {
					n, _, _, _, err := scanSplit(loaded, split)
					if err != nil {
						return err
					}
					if n != loaded.Count(split) {
						return errors.Errorf("split %s holds %d sequences, dataset.json says %d", split, n, loaded.Count(split))
					}
				}
				return nil
			},
		})

		ctx, stop := contextWithSignals()
		defer stop()

		if _, err := f.Run(ctx); err != nil {
			stderr.Fatalf("%v", err)
		}

		stderr.Printf("prepared %s: %s train, %s valid sequences in %s",
			name,
			humanize.Comma(int64(ds.Count("train"))),
			humanize.Comma(int64(ds.Count("valid"))),
			out)
	},
}

// dataStatsCmd summarizes a prepared dataset
var dataStatsCmd = &cobra.Command{
	Use:                        "stats",
	Short:                      "Summarize a prepared dataset",
	SuggestionsMinimumDistance: 2,
	Example:                    "  progen data stats --data ./train_data",
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagOrSetting(cmd, "data", "data.path")

		ds, err := seqio.LoadDataset(dir)
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		fmt.Printf("dataset %s (tokenizer %s, created %s)\n\n",
			ds.Name, ds.Tokenizer, humanize.Time(ds.CreatedAt))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 3, ' ', 0)
		fmt.Fprintf(w, "split\tsequences\tshards\tresidues\tmin\tmean\tmax\t\n")
		for _, split := range ds.SplitNames() {
			n, residues, minLen, maxLen, err := scanSplit(ds, split)
			if err != nil {
				stderr.Fatalf("%v", err)
			}

			mean := 0
			if n > 0 {
				mean = int(residues) / n
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\t%d\n",
				split, humanize.Comma(int64(n)), len(ds.Splits[split].Shards),
				humanize.Comma(residues), minLen, mean, maxLen)
		}
		w.Flush()
	},
}

// dataIndexCmd builds a .fai random access index for a FASTA file
var dataIndexCmd = &cobra.Command{
	Use:                        "index",
	Short:                      "Build a samtools-style .fai index for a FASTA file",
	SuggestionsMinimumDistance: 2,
	Example:                    "  progen data index --in uniref50.fa",
	Run: func(cmd *cobra.Command, args []string) {
		in, _ := cmd.Flags().GetString("in")

		recs, err := seqio.BuildIndex(in)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		if err := seqio.WriteIndex(in+".fai", recs); err != nil {
			stderr.Fatalf("%v", err)
		}

		x, err := seqio.OpenFaidx(in)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		defer x.Close()

		ps := x.LengthPercentiles(0.05, 0.5, 0.95)
		stderr.Printf("indexed %s sequences, %s residues (p5 %d, median %d, p95 %d) to %s.fai",
			humanize.Comma(int64(len(recs))), humanize.Comma(x.TotalResidues()),
			ps[0], ps[1], ps[2], in)
	},
}

// scanSplit streams every shard of a split, validating checksums and
// returning the sequence count and residue length stats.
func scanSplit(ds *seqio.Dataset, split string) (n int, residues int64, minLen, maxLen int, err error) {
	s, ok := ds.Splits[split]
	if !ok {
		return 0, 0, 0, 0, errors.Errorf("no split %q in dataset %s", split, ds.Dir())
	}

	for _, shard := range s.Shards {
		path := filepath.Join(ds.Dir(), shard.File)
		f, err := os.Open(path)
		if err != nil {
			return 0, 0, 0, 0, errors.Wrapf(err, "failed to open shard %s", path)
		}

		rr := seqio.NewRecordReader(f)
		for {
			rec, err := rr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return 0, 0, 0, 0, errors.WithMessagef(err, "shard %s", path)
			}

			if n == 0 || len(rec) < minLen {
				minLen = len(rec)
			}
			if len(rec) > maxLen {
				maxLen = len(rec)
			}
			n++
			residues += int64(len(rec))
		}
		f.Close()
	}
	return n, residues, minLen, maxLen, nil
}

// set flags
func init() {
	dataCmd.AddCommand(dataPrepareCmd)
	dataCmd.AddCommand(dataStatsCmd)
	dataCmd.AddCommand(dataIndexCmd)
	rootCmd.AddCommand(dataCmd)

	dataPrepareCmd.Flags().StringP("in", "i", "", "FASTA file of protein sequences")
	dataPrepareCmd.Flags().StringP("out", "o", "./train_data", "dataset directory to write")
	dataPrepareCmd.Flags().String("name", "", "dataset name (default: the input filename)")
	dataPrepareCmd.Flags().Float64("valid-frac", 0.05, "fraction of sequences held out for validation")
	dataPrepareCmd.Flags().Int("per-shard", 10000, "sequences per shard file")
	dataPrepareCmd.Flags().String("tokenizer", "byte", "tokenizer class to encode with")
	dataPrepareCmd.Flags().Bool("strict", false, "reject sequences with unrecognized residues instead of substituting X")
	dataPrepareCmd.Flags().Uint64("seed", 42, "shuffle seed for the train/valid split")
	dataPrepareCmd.Flags().Bool("progress", true, "draw a progress bar while encoding")
	dataPrepareCmd.MarkFlagRequired("in")

	// Bind the parameters to viper
	viper.BindPFlag("data.tokenizer", dataPrepareCmd.Flags().Lookup("tokenizer"))
	viper.BindPFlag("data.valid-frac", dataPrepareCmd.Flags().Lookup("valid-frac"))
	viper.BindPFlag("data.per-shard", dataPrepareCmd.Flags().Lookup("per-shard"))

	dataStatsCmd.Flags().StringP("data", "d", "./train_data", "dataset directory")

	dataIndexCmd.Flags().StringP("in", "i", "", "FASTA file to index")
	dataIndexCmd.MarkFlagRequired("in")
}
