package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattfeng/progen/internal/checkpoint"
)

// envCmd reports the software and hardware the trainer runs on
var envCmd = &cobra.Command{
	Use:                        "env",
	Short:                      "Report the training environment",
	SuggestionsMinimumDistance: 2,
	Long: `Report the progen version, Go runtime, CPU, and where the settings,
dataset, and checkpoints are. Useful to attach to bug reports.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 3, ' ', 0)

		fmt.Fprintf(w, "progen\t%s\n", rootCmd.Version)
		fmt.Fprintf(w, "go\t%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(w, "cpu\t%s\n", cpuid.CPU.BrandName)
		fmt.Fprintf(w, "cores\t%d physical, %d logical, GOMAXPROCS %d\n",
			cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, runtime.GOMAXPROCS(0))
		fmt.Fprintf(w, "vector\tavx2 %v, avx512 %v\n",
			cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.AVX512F))

		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(w, "settings\t%s\n", used)
		} else {
			fmt.Fprintf(w, "settings\tdefaults, no progen.toml found\n")
		}

		dataDir := viper.GetString("data.path")
		fmt.Fprintf(w, "data\t%s (%s)\n", dataDir, presence(dataDir))

		ckptDir := viper.GetString("train.checkpoint-path")
		names, err := checkpoint.List(ckptDir)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		fmt.Fprintf(w, "checkpoints\t%s (%d saved)\n", ckptDir, len(names))
		w.Flush()

		if features, _ := cmd.Flags().GetBool("features"); features {
			fmt.Printf("\ncpu features: %s\n", strings.Join(cpuid.CPU.FeatureSet(), " "))
		}
	},
}

func presence(dir string) string {
	if _, err := os.Stat(dir); err != nil {
		return "missing"
	}
	return "present"
}

// set flags
func init() {
	rootCmd.AddCommand(envCmd)

	envCmd.Flags().Bool("features", false, "also list every CPU feature flag")
}
