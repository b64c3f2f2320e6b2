// Package cmd is for command line interactions with the progen application
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mattfeng/progen/config"
)

var (
	// stderr is for logging to Stderr (without an annoying timestamp)
	stderr = log.New(os.Stderr, "", 0)
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use: "progen",
	Short: `Train and sample protein language models.
Prepare sequence datasets, sync them with a hub, and verify the
training environment's package manifest`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := config.Load(); err != nil {
		stderr.Fatalf("%v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		stderr.Fatalf("%v", err)
	}
}

// confirm asks a y/n question on in and reports whether the answer was yes.
func confirm(in io.Reader, question string) bool {
	fmt.Printf("%s (y/n) ", question)

	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// flagOrSetting returns the flag's value when it was passed and the viper
// setting under key otherwise. Keys stay bound to one command's flags; every
// other command reads them through here.
func flagOrSetting(cmd *cobra.Command, flag, key string) string {
	if cmd.Flags().Changed(flag) {
		v, _ := cmd.Flags().GetString(flag)
		return v
	}
	return viper.GetString(key)
}

// contextWithSignals returns a context cancelled by an interrupt or SIGTERM.
func contextWithSignals() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
