package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mattfeng/progen/internal/checkpoint"
	"github.com/mattfeng/progen/internal/train"
)

// checkpointsCmd groups checkpoint housekeeping
var checkpointsCmd = &cobra.Command{
	Use:                        "checkpoints",
	Short:                      "List, prune, or remove saved checkpoints",
	SuggestionsMinimumDistance: 2,
	Aliases:                    []string{"ckpts"},
}

// checkpointsListCmd prints the saved checkpoints, oldest first
var checkpointsListCmd = &cobra.Command{
	Use:                        "list",
	Short:                      "List saved checkpoints",
	SuggestionsMinimumDistance: 2,
	Aliases:                    []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagOrSetting(cmd, "checkpoints", "train.checkpoint-path")

		names, err := checkpoint.List(dir)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		if len(names) == 0 {
			stderr.Printf("no checkpoints in %s", dir)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 3, ' ', 0)
		fmt.Fprintf(w, "checkpoint\tsaved\tnext sequence\tsize\t\n")
		for _, name := range names {
			savedAt, seqIndex, err := checkpoint.ParseName(name)
			if err != nil {
				stderr.Fatalf("%v", err)
			}
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil {
				stderr.Fatalf("%v", err)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				name, humanize.Time(savedAt), seqIndex, humanize.Bytes(uint64(info.Size())))
		}
		w.Flush()
	},
}

// checkpointsPruneCmd removes all but the newest checkpoints
var checkpointsPruneCmd = &cobra.Command{
	Use:                        "prune",
	Short:                      "Remove all but the newest checkpoints",
	SuggestionsMinimumDistance: 2,
	Example:                    "  progen checkpoints prune --keep 5",
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagOrSetting(cmd, "checkpoints", "train.checkpoint-path")
		keep, _ := cmd.Flags().GetInt("keep")
		if keep <= 0 {
			stderr.Fatalf("keep must be positive, got %d", keep)
		}

		before, err := checkpoint.List(dir)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		if err := checkpoint.Prune(dir, keep); err != nil {
			stderr.Fatalf("%v", err)
		}
		after, err := checkpoint.List(dir)
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		stderr.Printf("removed %d checkpoint(s), %d left in %s", len(before)-len(after), len(after), dir)
	},
}

// checkpointsResetCmd removes every checkpoint
var checkpointsResetCmd = &cobra.Command{
	Use:                        "reset",
	Short:                      "Remove every saved checkpoint",
	SuggestionsMinimumDistance: 2,
	Aliases:                    []string{"rm"},
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagOrSetting(cmd, "checkpoints", "train.checkpoint-path")

		if force, _ := cmd.Flags().GetBool("force"); !force {
			prompt := fmt.Sprintf("remove every checkpoint in %s?", dir)
			if !confirm(cmd.InOrStdin(), prompt) {
				return
			}
		}

		if err := checkpoint.Reset(dir); err != nil {
			stderr.Fatalf("%v", err)
		}
		stderr.Printf("removed all checkpoints in %s", dir)
	},
}

// set flags
func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsPruneCmd)
	checkpointsCmd.AddCommand(checkpointsResetCmd)
	rootCmd.AddCommand(checkpointsCmd)

	d := train.DefaultConfig()
	for _, c := range []*cobra.Command{checkpointsListCmd, checkpointsPruneCmd, checkpointsResetCmd} {
		c.Flags().String("checkpoints", d.CheckpointPath, "checkpoint directory")
	}

	checkpointsPruneCmd.Flags().IntP("keep", "k", 5, "checkpoints to keep")
	checkpointsResetCmd.Flags().BoolP("force", "f", false, "do not ask for confirmation")
}
