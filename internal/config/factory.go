package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/pkg/scheduler"
)

// NewScheduler builds the configured scheduler. Deferred strategies own a
// loop goroutine; the returned scheduler then implements io.Closer.
func (c *Config) NewScheduler(opts ...scheduler.Option) (scheduler.Scheduler, error) {
	switch c.Scheduler.Strategy {
	case StrategySync:
		return scheduler.NewSync(), nil
	case StrategyMacrotask, StrategyFrame:
		var (
			d   *scheduler.Deferred
			err error
		)
		if c.Scheduler.Strategy == StrategyFrame {
			opts = append([]scheduler.Option{scheduler.WithInterval(c.Scheduler.FrameInterval.Std())}, opts...)
			d, err = scheduler.NewFrame(opts...)
		} else {
			d, err = scheduler.NewMacrotask(opts...)
		}
		if err != nil {
			return nil, err
		}
		return d, nil
	case StrategyManual:
		return scheduler.NewManual(opts...), nil
	default:
		return nil, errors.New("R102").
			WithKey("scheduler.strategy").
			WithDetailf("unknown strategy %q", c.Scheduler.Strategy)
	}
}

// Logger builds a slog.Logger writing to w with the configured level and
// format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
