package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/internal/scenario"
)

func traceCmd() *cobra.Command {
	var (
		goldenDir string
		strict    bool
	)

	cmd := &cobra.Command{
		Use:   "trace FILE...",
		Short: "Run scenario files and print their traces",
		Long: `Run each scenario on a manual scheduler and print the trace of
computations, effect runs, writes and failures.

With --golden the traces are compared with DIR/<name>.golden instead of
being printed.

Examples:
  reactive trace scenarios/counter.yaml
  reactive trace --golden testdata/golden scenarios/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				res, err := scenario.Run(cmd.Context(), sc)
				if err != nil {
					return err
				}
				if strict && res.Errors > 0 {
					return errors.New("R184").
						WithKey(path).
						WithDetailf("%d failures recorded", res.Errors)
				}

				if goldenDir == "" {
					fmt.Fprint(out, res.String())
					continue
				}
				want, err := os.ReadFile(filepath.Join(goldenDir, sc.Name+".golden"))
				if err != nil {
					return errors.New("R180").WithKey(path).Wrap(err)
				}
				if bytes.Equal(want, []byte(res.String())) {
					success(out, "%s", sc.Name)
				} else {
					failed++
					fmt.Fprintf(out, "\033[31m✗\033[0m %s: trace differs from golden file\n", sc.Name)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d traces differ", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&goldenDir, "golden", "", "Compare with golden files in this directory")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when a scenario records an error")

	return cmd
}
