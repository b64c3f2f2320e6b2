package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattfeng/progen/internal/manifest"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:                        "verify",
	Short:                      "Verify the training environment's package manifest",
	SuggestionsMinimumDistance: 2,
	Long: `
Verify a pyproject-style package manifest: parse it, validate its shape, and
check that every declared dependency constraint and the build backend can be
satisfied by at least one published release in the package index.

With --offline the manifest is parsed and validated but nothing is resolved
against an index. With --index-file releases are looked up in a local JSON
index instead of over the network.

The exit status is nonzero when validation fails or any constraint is
unsatisfiable.`,
	Example: `  progen verify
  progen verify --manifest ./pyproject.toml --json
  progen verify --index-file releases.json`,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("manifest")
		indexFile, _ := cmd.Flags().GetString("index-file")
		offline, _ := cmd.Flags().GetBool("offline")
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := manifest.ParseFile(path)
		if err != nil {
			stderr.Fatalf("%v", err)
		}
		if err := m.Validate(); err != nil {
			stderr.Fatalf("%s is not a valid manifest: %v", path, err)
		}

		if offline {
			stderr.Printf("%s parses and validates; constraint checks skipped offline", path)
			return
		}

		var idx manifest.Index
		if indexFile != "" {
			if idx, err = manifest.LoadFileIndex(indexFile); err != nil {
				stderr.Fatalf("%v", err)
			}
		} else {
			idx = manifest.NewHTTPIndex(viper.GetString("verify.index")).WithUserAgent("progen")
		}

		ctx, stop := contextWithSignals()
		defer stop()

		report, err := manifest.Check(ctx, m, idx)
		if err != nil {
			stderr.Fatalf("%v", err)
		}

		if asJSON {
			b, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				stderr.Fatalf("%v", err)
			}
			fmt.Println(string(b))
		} else {
			writeReport(os.Stdout, report)
		}

		if !report.Satisfied() {
			for _, p := range report.Problems() {
				stderr.Printf("%s", p)
			}
			os.Exit(1)
		}
	},
}

// writeReport renders a check report as a table.
func writeReport(out io.Writer, r *manifest.Report) {
	fmt.Fprintf(out, "%s %s (runtime %s, build backend %s)\n\n", r.Project, r.Version, r.Runtime, r.Backend)

	w := tabwriter.NewWriter(out, 0, 4, 3, ' ', 0)
	fmt.Fprintf(w, "package\tconstraint\treleases\tmatched\tstatus\t\n")

	row := func(d manifest.DependencyResult, kind string) {
		status := "ok"
		switch {
		case d.Error != "":
			status = "error"
		case !d.Satisfied:
			status = "unsatisfied"
		}

		name := d.Name
		if kind != "" {
			name += " (" + kind + ")"
		}
		matched := d.Matched
		if matched == "" {
			matched = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", name, d.Constraint, d.Releases, matched, status)
	}

	for _, d := range r.Dependencies {
		kind := ""
		if d.Dev {
			kind = "dev"
		}
		row(d, kind)
	}
	for _, b := range r.Build {
		row(b, "build")
	}
	w.Flush()
}

// set flags
func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringP("manifest", "m", "pyproject.toml", "manifest file to verify")
	verifyCmd.Flags().String("index", manifest.DefaultIndexURL, "package index URL")
	verifyCmd.Flags().String("index-file", "", "local JSON release index instead of the network")
	verifyCmd.Flags().Bool("offline", false, "parse and validate only, resolve nothing")
	verifyCmd.Flags().Bool("json", false, "print the report as JSON")

	// Bind the parameters to viper
	viper.BindPFlag("verify.index", verifyCmd.Flags().Lookup("index"))
}
