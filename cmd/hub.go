package cmd

import (
	"io/fs"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/cheggaaa/pb.v1"

	"github.com/mattfeng/progen/internal/hub"
)

// hubCmd groups dataset transfer against a remote hub
var hubCmd = &cobra.Command{
	Use:                        "hub",
	Short:                      "Sync datasets with a remote hub",
	SuggestionsMinimumDistance: 2,
	Long: `Pull prepared datasets from a hub, or push local ones up. The hub
endpoint and auth token come from flags, progen.toml, or PROGEN_ environment
variables.`,
}

// hubPullCmd downloads a dataset
var hubPullCmd = &cobra.Command{
	Use:                        "pull [dataset]",
	Short:                      "Download a dataset from the hub",
	Args:                       cobra.ExactArgs(1),
	SuggestionsMinimumDistance: 2,
	Example:                    "  progen hub pull uniref50 --out ./train_data",
	Long: `
Download every file of a named dataset. Files already present with matching
checksums are skipped, interrupted downloads leave no partial files behind,
and up to max-parallel files transfer at once.`,
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		out := flagOrSetting(cmd, "out", "data.path")
		showProgress, _ := cmd.Flags().GetBool("progress")

		client := hubClient()

		ctx, stop := contextWithSignals()
		defer stop()

		var progress hub.ProgressFn
		var bar *pb.ProgressBar
		if showProgress {
			listing, err := client.Dataset(ctx, name)
			if err != nil {
				stderr.Fatalf("%v", err)
			}
			bar = pb.New64(listing.TotalSize()).SetUnits(pb.U_BYTES).Start()
			progress = func(_ string, n int64) { bar.Add64(n) }
		}

		ds, err := client.Pull(ctx, name, out, progress)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		stderr.Printf("pulled %s: %d files, %s into %s",
			ds.Name, len(ds.Files), humanize.Bytes(uint64(ds.TotalSize())), out)
	},
}

// hubPushCmd uploads a dataset
var hubPushCmd = &cobra.Command{
	Use:                        "push [dataset]",
	Short:                      "Upload a local dataset directory to the hub",
	Args:                       cobra.ExactArgs(1),
	SuggestionsMinimumDistance: 2,
	Example:                    "  progen hub push uniref50 --dir ./train_data",
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		dir := flagOrSetting(cmd, "dir", "data.path")
		showProgress, _ := cmd.Flags().GetBool("progress")

		client := hubClient()

		ctx, stop := contextWithSignals()
		defer stop()

		var progress hub.ProgressFn
		var bar *pb.ProgressBar
		if showProgress {
			total, err := dirSize(dir)
			if err != nil {
				stderr.Fatalf("%v", err)
			}
			bar = pb.New64(total).SetUnits(pb.U_BYTES).Start()
			progress = func(_ string, n int64) { bar.Add64(n) }
		}

		ds, err := client.Push(ctx, name, dir, progress)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		stderr.Printf("pushed %s: %d files, %s",
			ds.Name, len(ds.Files), humanize.Bytes(uint64(ds.TotalSize())))
	},
}

// hubClient builds a client from the hub settings.
func hubClient() *hub.Client {
	endpoint := viper.GetString("hub.endpoint")
	if endpoint == "" {
		stderr.Fatalf("no hub endpoint configured; pass --endpoint or set hub.endpoint in progen.toml")
	}

	client := hub.New(endpoint)
	if token := viper.GetString("hub.auth-token"); token != "" {
		client = client.WithAuthToken(token)
	}
	if n := viper.GetInt("hub.max-parallel"); n > 0 {
		client = client.WithMaxParallel(n)
	}
	return client
}

// dirSize sums the regular file sizes under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// set flags
func init() {
	hubCmd.AddCommand(hubPullCmd)
	hubCmd.AddCommand(hubPushCmd)
	rootCmd.AddCommand(hubCmd)

	hubCmd.PersistentFlags().String("endpoint", "", "hub base URL")
	hubCmd.PersistentFlags().String("token", "", "bearer token for hub requests")
	hubCmd.PersistentFlags().Int("max-parallel", hub.DefaultMaxParallel, "files transferred at once")

	hubPullCmd.Flags().StringP("out", "o", "./train_data", "directory the dataset lands in")
	hubPullCmd.Flags().Bool("progress", true, "draw a transfer progress bar")

	hubPushCmd.Flags().StringP("dir", "d", "./train_data", "local dataset directory to upload")
	hubPushCmd.Flags().Bool("progress", true, "draw a transfer progress bar")

	// Bind the parameters to viper
	viper.BindPFlag("hub.endpoint", hubCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("hub.auth-token", hubCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("hub.max-parallel", hubCmd.PersistentFlags().Lookup("max-parallel"))
}
