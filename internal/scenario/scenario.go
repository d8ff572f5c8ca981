// Package scenario runs small reactive graphs described in YAML and renders
// what happened as a deterministic text trace.
//
// A scenario declares signals, cached values and effects, then a list of
// steps. All effects run on a manual scheduler, so the trace depends only
// on the scenario:
//
//	name: self_writing_counter
//	description: an effect that counts up to three
//	signals:
//	  count: 0
//	effects:
//	  - name: counter
//	    reads: [count]
//	    write: {signal: count, add: 1, below: 3}
//	steps:
//	  - stable: true
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vango-dev/reactive/internal/config"
	"github.com/vango-dev/reactive/internal/errors"
	"gopkg.in/yaml.v3"
)

// DefaultMaxPasses bounds a stable step when the scenario sets no limit.
const DefaultMaxPasses = 100

// Scenario is a parsed scenario file.
type Scenario struct {
	// Name identifies the scenario and names its golden trace.
	Name string `yaml:"name"`

	// Description explains what the scenario shows.
	Description string `yaml:"description,omitempty"`

	// Signals are the writable signals and their initial values.
	Signals map[string]any `yaml:"signals"`

	// Cached are derived values over signals or earlier cached values.
	Cached []CachedDef `yaml:"cached,omitempty"`

	// Effects are registered in order before the first step.
	Effects []EffectDef `yaml:"effects"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// MaxPasses bounds each stable step (default DefaultMaxPasses).
	MaxPasses int `yaml:"max_passes,omitempty"`
}

// CachedDef declares a cached value.
type CachedDef struct {
	Name string `yaml:"name"`

	// Op is "sum" (integers) or "concat" (text).
	Op string `yaml:"op"`

	// Of lists the inputs, read in order.
	Of []string `yaml:"of"`
}

// EffectDef declares an effect.
type EffectDef struct {
	Name string `yaml:"name"`

	// Reads are read on every run, in order.
	Reads []string `yaml:"reads,omitempty"`

	// When adds reads that depend on a condition signal.
	When *Branch `yaml:"when,omitempty"`

	// Write optionally increments a signal after the reads.
	Write *Write `yaml:"write,omitempty"`

	// FailWhen makes the run panic when a signal holds a value.
	FailWhen *Match `yaml:"fail_when,omitempty"`
}

// Branch reads Then when Signal is truthy and Else otherwise.
type Branch struct {
	Signal string   `yaml:"signal"`
	Then   []string `yaml:"then,omitempty"`
	Else   []string `yaml:"else,omitempty"`
}

// Write sets Signal to its current value plus Add, only while the current
// value is below Below (when given).
type Write struct {
	Signal string `yaml:"signal"`
	Add    int    `yaml:"add"`
	Below  *int   `yaml:"below,omitempty"`
}

// Match compares a signal with a value by their printed form.
type Match struct {
	Signal string `yaml:"signal"`
	Equals any    `yaml:"equals"`
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	// Set writes each signal, in name order.
	Set map[string]any `yaml:"set,omitempty"`

	// Flush runs one manual flush.
	Flush bool `yaml:"flush,omitempty"`

	// Stable waits for the root to settle.
	Stable bool `yaml:"stable,omitempty"`

	// Dispose disposes the named effect.
	Dispose string `yaml:"dispose,omitempty"`
}

// kind names the step's action for the trace.
func (s Step) kind() string {
	switch {
	case s.Set != nil:
		return "set"
	case s.Flush:
		return "flush"
	case s.Stable:
		return "stable"
	case s.Dispose != "":
		return "dispose"
	}
	return ""
}

func (s Step) fields() int {
	n := 0
	if s.Set != nil {
		n++
	}
	if s.Flush {
		n++
	}
	if s.Stable {
		n++
	}
	if s.Dispose != "" {
		n++
	}
	return n
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New("R180").Wrap(err).WithKey(path)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a scenario. Unknown keys are rejected.
func Parse(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New("R180").Wrap(err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, errors.New("R180").
			WithDetail("Failed to parse YAML: " + err.Error()).
			WithSuggestion("Check the key names against the scenario format")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks names and steps.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return errors.New("R180").WithKey("name").WithDetail("name is required")
	}
	if len(sc.Steps) == 0 {
		return errors.New("R182").WithKey("steps").WithDetail("at least one step is required")
	}
	if sc.MaxPasses < 0 {
		return errors.New("R180").WithKey("max_passes").WithDetail("must not be negative")
	}

	known := make(map[string]bool, len(sc.Signals)+len(sc.Cached))
	for name := range sc.Signals {
		if !config.ValidSignalName(name) {
			return errors.New("R106").WithKey("signals." + name)
		}
		known[name] = true
	}

	ref := func(key, name string) error {
		if !known[name] {
			return errors.New("R181").WithKey(key).WithDetailf("%q is not declared", name)
		}
		return nil
	}
	signal := func(key, name string) error {
		if _, ok := sc.Signals[name]; !ok {
			return errors.New("R181").WithKey(key).WithDetailf("%q is not a writable signal", name)
		}
		return nil
	}

	for i, c := range sc.Cached {
		key := fmt.Sprintf("cached[%d]", i)
		if c.Name == "" || known[c.Name] {
			return errors.New("R180").WithKey(key).WithDetailf("cached name %q is empty or taken", c.Name)
		}
		if c.Op != "sum" && c.Op != "concat" {
			return errors.New("R180").WithKey(key + ".op").WithDetailf("unknown op %q", c.Op).
				WithSuggestion("Use sum or concat")
		}
		for _, in := range c.Of {
			if err := ref(key+".of", in); err != nil {
				return err
			}
		}
		known[c.Name] = true
	}

	effects := make(map[string]bool, len(sc.Effects))
	for i, e := range sc.Effects {
		key := fmt.Sprintf("effects[%d]", i)
		if e.Name == "" || effects[e.Name] {
			return errors.New("R180").WithKey(key).WithDetailf("effect name %q is empty or taken", e.Name)
		}
		effects[e.Name] = true
		for _, r := range e.Reads {
			if err := ref(key+".reads", r); err != nil {
				return err
			}
		}
		if e.When != nil {
			if err := ref(key+".when", e.When.Signal); err != nil {
				return err
			}
			for _, r := range append(append([]string{}, e.When.Then...), e.When.Else...) {
				if err := ref(key+".when", r); err != nil {
					return err
				}
			}
		}
		if e.Write != nil {
			if err := signal(key+".write", e.Write.Signal); err != nil {
				return err
			}
		}
		if e.FailWhen != nil {
			if err := ref(key+".fail_when", e.FailWhen.Signal); err != nil {
				return err
			}
		}
	}

	for i, st := range sc.Steps {
		key := fmt.Sprintf("steps[%d]", i)
		if st.fields() != 1 {
			return errors.New("R182").WithKey(key)
		}
		for _, name := range sortedKeys(st.Set) {
			if err := signal(key+".set", name); err != nil {
				return err
			}
		}
		if st.Dispose != "" && !effects[st.Dispose] {
			return errors.New("R181").WithKey(key + ".dispose").WithDetailf("no effect named %q", st.Dispose)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
