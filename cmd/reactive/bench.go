package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/reactive/internal/config"
	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/pkg/reactive"
	"github.com/vango-dev/reactive/pkg/scheduler"
)

// benchOptions sizes the benchmark graph.
type benchOptions struct {
	Strategies []string
	Width      int
	Depth      int
	Writes     int
	Timeout    time.Duration
}

// benchResult is the outcome for one strategy.
type benchResult struct {
	Strategy string
	Writes   int
	Runs     int64
	Passes   int
	Total    time.Duration
}

// PerWrite returns the mean time from a write to stability.
func (r benchResult) PerWrite() time.Duration {
	if r.Writes == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Writes)
}

func benchCmd() *cobra.Command {
	var (
		strategies string
		opts       benchOptions
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure how fast each scheduler settles a graph",
		Long: `Build a graph with one source signal, a chain of cached values and a
fan-out of effects reading the end of the chain. Every write to the
source is followed by a stability wait; the time per write is reported
for each strategy.

Examples:
  reactive bench
  reactive bench --width 1000 --depth 10 --writes 200
  reactive bench --strategies macrotask,frame --writes 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Strategies = strings.Split(strategies, ",")
			if err := opts.validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STRATEGY\tWRITES\tEFFECT RUNS\tPASSES\tTOTAL\tPER WRITE")
			for _, name := range opts.Strategies {
				res, err := runBench(cmd.Context(), name, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
					res.Strategy, res.Writes, res.Runs, res.Passes,
					res.Total.Round(time.Microsecond), res.PerWrite().Round(time.Nanosecond))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&strategies, "strategies", "sync,macrotask,manual", "Comma-separated strategies to measure")
	cmd.Flags().IntVar(&opts.Width, "width", 100, "Number of effects reading the chain")
	cmd.Flags().IntVar(&opts.Depth, "depth", 5, "Length of the cached chain")
	cmd.Flags().IntVar(&opts.Writes, "writes", 100, "Writes to the source signal")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Give up on a strategy after this long")

	return cmd
}

func (o benchOptions) validate() error {
	for _, s := range o.Strategies {
		if !validStrategy(s) {
			return errors.New("R142").
				WithKey("--strategies").
				WithDetailf("unknown strategy %q", s).
				WithSuggestion("Use any of: " + strings.Join(config.Strategies, ", "))
		}
	}
	switch {
	case o.Width < 1:
		return errors.New("R142").WithKey("--width").WithDetail("must be at least 1")
	case o.Depth < 1:
		return errors.New("R142").WithKey("--depth").WithDetail("must be at least 1")
	case o.Writes < 1:
		return errors.New("R142").WithKey("--writes").WithDetail("must be at least 1")
	case o.Timeout <= 0:
		return errors.New("R142").WithKey("--timeout").WithDetail("must be positive")
	}
	return nil
}

func validStrategy(s string) bool {
	for _, known := range config.Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// runBench measures one strategy. The graph is rebuilt for every run so
// strategies never share state.
func runBench(ctx context.Context, strategy string, opts benchOptions) (benchResult, error) {
	res := benchResult{Strategy: strategy, Writes: opts.Writes}

	cfg := config.Default()
	cfg.Scheduler.Strategy = strategy
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched, err := cfg.NewScheduler(scheduler.WithLogger(quiet))
	if err != nil {
		return res, err
	}
	if c, ok := sched.(io.Closer); ok {
		defer c.Close()
	}

	passes := &passCounter{Scheduler: sched}
	root := reactive.NewRoot(passes, nil, reactive.WithName("bench"), reactive.WithLogger(quiet))
	defer root.Dispose()

	source := reactive.NewSignal(0)
	var tail reactive.Signal[int] = source
	for i := 0; i < opts.Depth; i++ {
		prev := tail
		tail = reactive.NewCached(func() int { return prev.Get() + 1 })
	}

	var runs, seen atomic.Int64
	for i := 0; i < opts.Width; i++ {
		root.Effect(func() {
			seen.Store(int64(tail.Get()))
			runs.Add(1)
		})
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := root.Stable(ctx); err != nil {
		return res, benchFailed(strategy, err)
	}
	passes.n.Store(0)
	runs.Store(0)

	start := time.Now()
	for i := 1; i <= opts.Writes; i++ {
		source.Set(i)
		if err := root.Stable(ctx); err != nil {
			return res, benchFailed(strategy, err)
		}
	}
	res.Total = time.Since(start)
	res.Runs = runs.Load()
	res.Passes = int(passes.n.Load())

	if want := int64(opts.Writes + opts.Depth); seen.Load() != want {
		return res, errors.New("R143").
			WithKey(strategy).
			WithDetailf("effects saw %d, want %d", seen.Load(), want)
	}
	return res, nil
}

func benchFailed(strategy string, err error) error {
	e := errors.New("R143").WithKey(strategy).Wrap(err)
	if stderrors.Is(err, context.DeadlineExceeded) {
		e.WithSuggestion("Raise --timeout or lower --writes")
	}
	return e
}

// passCounter counts drain passes.
type passCounter struct {
	scheduler.Scheduler
	n atomic.Int64
}

func (p *passCounter) Drain(ctx context.Context) error {
	p.n.Add(1)
	return p.Scheduler.Drain(ctx)
}

func (p *passCounter) Unwrap() scheduler.Scheduler { return p.Scheduler }
