// Command reactive serves named signals over HTTP and WebSocket, replays
// scenario files as traces and benchmarks the scheduler strategies.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/reactive/internal/config"
	"github.com/vango-dev/reactive/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reactive",
		Short: "Fine-grained reactive signals with pluggable schedulers",
		Long: `reactive tracks dependencies between signals, cached values and
effects, and runs effects on a chosen scheduler.

  serve   serve named signals over HTTP and WebSocket
  trace   run scenario files and print their traces
  bench   measure how fast each scheduler settles a graph
  config  print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.AddCommand(
		serveCmd(),
		traceCmd(),
		benchCmd(),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig loads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}
