package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/pkg/reactive"
	"github.com/vango-dev/reactive/pkg/scheduler"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Trace holds one line per event, in order.
	Trace []string

	// Final holds the value of every signal after the last step.
	Final map[string]any

	// Runs counts effect runs by effect name.
	Runs map[string]uint64

	// Errors counts the failures recorded in the trace.
	Errors int
}

// String joins the trace, one event per line.
func (r *Result) String() string {
	return strings.Join(r.Trace, "\n") + "\n"
}

// passLimit fails a drain once a stable step has used its passes.
type passLimit struct {
	scheduler.Scheduler
	max    int
	passes int
	key    string
}

func (l *passLimit) Drain(ctx context.Context) error {
	if l.passes >= l.max {
		return errors.New("R183").
			WithKey(l.key).
			WithDetailf("still pending after %d passes", l.passes)
	}
	l.passes++
	return l.Scheduler.Drain(ctx)
}

func (l *passLimit) Unwrap() scheduler.Scheduler { return l.Scheduler }

func (l *passLimit) reset(key string) {
	l.passes = 0
	l.key = key
}

type run struct {
	sc      *Scenario
	res     *Result
	signals map[string]*reactive.State[any]
	cached  map[string]*reactive.Cached[any]
	effects map[string]*reactive.Effect
	manual  *scheduler.Manual
	limit   *passLimit
	root    *reactive.Root
}

// Run executes sc on a manual scheduler and records what happened. Steps
// are never aborted: effect failures and unsettled stable steps show up in
// the trace. Run only fails when ctx ends.
func Run(ctx context.Context, sc *Scenario, opts ...reactive.RootOption) (*Result, error) {
	r := &run{
		sc:      sc,
		res:     &Result{Final: map[string]any{}, Runs: map[string]uint64{}},
		signals: make(map[string]*reactive.State[any], len(sc.Signals)),
		cached:  make(map[string]*reactive.Cached[any], len(sc.Cached)),
		effects: make(map[string]*reactive.Effect, len(sc.Effects)),
	}
	r.manual = scheduler.NewManual(scheduler.WithErrorHandler(r.fail))

	passes := sc.MaxPasses
	if passes == 0 {
		passes = DefaultMaxPasses
	}
	r.limit = &passLimit{Scheduler: r.manual, max: passes}

	opts = append([]reactive.RootOption{
		reactive.WithName(sc.Name),
		reactive.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	r.root = reactive.NewRoot(r.limit, nil, opts...)
	defer r.root.Dispose()

	names := sortedKeys(sc.Signals)
	for _, name := range names {
		r.signals[name] = reactive.NewSignal(sc.Signals[name])
	}
	for _, def := range sc.Cached {
		r.cached[def.Name] = r.newCached(def)
	}

	r.logf("scenario: %s", sc.Name)
	r.logf("signals: %s", r.values(names))
	effectNames := make([]string, len(sc.Effects))
	for i, def := range sc.Effects {
		effectNames[i] = def.Name
		r.effects[def.Name] = r.root.Effect(r.effectBody(def))
	}
	r.logf("effects: %s", strings.Join(effectNames, " "))
	r.logf("pending: %d", r.manual.Pending())

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return r.res, err
		}
		r.step(ctx, i, step)
	}

	for _, name := range names {
		r.res.Final[name] = r.signals[name].Peek()
	}
	runs := make([]string, len(effectNames))
	for i, name := range effectNames {
		n := r.effects[name].Runs()
		r.res.Runs[name] = n
		runs[i] = fmt.Sprintf("%s=%d", name, n)
	}
	r.logf("final: %s", r.values(names))
	r.logf("runs: %s", strings.Join(runs, " "))
	return r.res, nil
}

func (r *run) step(ctx context.Context, i int, step Step) {
	key := fmt.Sprintf("steps[%d]", i)
	switch step.kind() {
	case "set":
		keys := sortedKeys(step.Set)
		parts := make([]string, len(keys))
		for j, name := range keys {
			parts[j] = fmt.Sprintf("%s=%v", name, step.Set[name])
		}
		r.logf("step %d: set %s", i+1, strings.Join(parts, " "))
		for _, name := range keys {
			r.signals[name].Set(step.Set[name])
		}
	case "flush":
		r.logf("step %d: flush", i+1)
		if err := r.manual.Flush(); err != nil {
			r.fail(err)
		}
	case "stable":
		r.logf("step %d: stable", i+1)
		r.limit.reset(key)
		if err := r.root.Stable(ctx); err != nil {
			r.fail(err)
		} else {
			r.logf("  settled passes=%d", r.limit.passes)
		}
	case "dispose":
		r.logf("step %d: dispose %s", i+1, step.Dispose)
		r.effects[step.Dispose].Dispose()
	}
	r.logf("  pending=%d", r.manual.Pending())
}

func (r *run) newCached(def CachedDef) *reactive.Cached[any] {
	return reactive.NewCached(func() any {
		var v any
		switch def.Op {
		case "sum":
			total := 0
			for _, in := range def.Of {
				total += toInt(def.Name, in, r.read(in))
			}
			v = total
		case "concat":
			var b strings.Builder
			for _, in := range def.Of {
				fmt.Fprint(&b, r.read(in))
			}
			v = b.String()
		}
		r.logf("  compute %s=%v", def.Name, v)
		return v
	})
}

func (r *run) effectBody(def EffectDef) func() {
	return func() {
		var seen []string
		readAll := func(names []string) {
			for _, name := range names {
				seen = append(seen, fmt.Sprintf("%s=%v", name, r.read(name)))
			}
		}

		readAll(def.Reads)
		if def.When != nil {
			cond := r.read(def.When.Signal)
			seen = append(seen, fmt.Sprintf("%s=%v", def.When.Signal, cond))
			if truthy(cond) {
				readAll(def.When.Then)
			} else {
				readAll(def.When.Else)
			}
		}

		line := "  run " + def.Name
		if len(seen) > 0 {
			line += " " + strings.Join(seen, " ")
		}
		r.logf("%s", line)

		if m := def.FailWhen; m != nil {
			if fmt.Sprint(r.peek(m.Signal)) == fmt.Sprint(m.Equals) {
				panic(fmt.Sprintf("effect %s failed: %s=%v", def.Name, m.Signal, m.Equals))
			}
		}

		if w := def.Write; w != nil {
			s := r.signals[w.Signal]
			current := toInt(def.Name, w.Signal, s.Peek())
			if w.Below != nil && current >= *w.Below {
				return
			}
			s.Set(current + w.Add)
			r.logf("  write %s=%d", w.Signal, current+w.Add)
		}
	}
}

// read returns the value of a signal or cached value and tracks it.
func (r *run) read(name string) any {
	if s, ok := r.signals[name]; ok {
		return s.Get()
	}
	return r.cached[name].Get()
}

func (r *run) peek(name string) any {
	if s, ok := r.signals[name]; ok {
		return s.Peek()
	}
	return r.cached[name].Peek()
}

func (r *run) values(names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%v", name, r.signals[name].Peek())
	}
	return strings.Join(parts, " ")
}

func (r *run) fail(err error) {
	r.res.Errors++
	r.logf("  error: %v", err)
}

func (r *run) logf(format string, args ...any) {
	r.res.Trace = append(r.res.Trace, fmt.Sprintf(format, args...))
}

func toInt(owner, name string, v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("%s: %s=%v is not a number", owner, name, v))
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	}
	return true
}

