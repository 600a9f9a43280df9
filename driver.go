package pegopt

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pmezard/go-difflib/difflib"
)

// OutputMode mirrors the build's requested output shape. Only the two
// source-map modes matter to the optimizer: both make it a no-op,
// since a rewrite would invalidate the map.
type OutputMode int

const (
	OutputDefault OutputMode = iota
	OutputSourceAndMap
	OutputSourceWithInlineMap
)

// Options configures one OptimizeBlock call: no global state, every
// knob passed in explicitly.
type Options struct {
	Output OutputMode

	// Log, when non-nil and LogRuleName matches, receives a before/after
	// trace of any rule the driver actually rewrote.
	Log         io.Writer
	LogRuleName string // "" disables logging; "*" logs every rule.

	SkipDeadSlot bool

	// MaxOuterIterations caps the peephole+dead-slot fixpoint loop; 0
	// means unbounded. Hitting the cap is reported through Warn, never
	// returned as an error.
	MaxOuterIterations int
	Warn               func(*RuntimeError)
}

func (o Options) logs(rule string) bool {
	return o.Log != nil && (o.LogRuleName == "*" || o.LogRuleName == rule)
}

// OptimizeBlock runs one rule's flat instruction stream through the
// optimizer: format once, iterate the peephole visitors and the
// dead-slot pass to a joint fixed point, flatten only if anything
// changed.
func OptimizeBlock(rule string, flat []int, grammar Grammar, opts Options) ([]int, error) {
	if opts.Output == OutputSourceAndMap || opts.Output == OutputSourceWithInlineMap {
		return flat, nil
	}

	tree, err := Format(rule, flat)
	if err != nil {
		return nil, err
	}

	visitors := NewPeepholeVisitors()
	everChanged := false

	for iter := 1; ; iter++ {
		state := NewState(rule, grammar, visitors)
		runResult, err := state.run(&tree)
		if err != nil {
			return nil, err
		}
		peepChanged := runResult.Changed

		deadChanged := false
		if !peepChanged && !opts.SkipDeadSlot {
			deadChanged = DeadSlotPass(rule, &tree)
		}

		if peepChanged || deadChanged {
			everChanged = true
		} else {
			break
		}

		if opts.MaxOuterIterations > 0 && iter >= opts.MaxOuterIterations {
			if opts.Warn != nil {
				opts.Warn(ErrOptimizerIterationCapExceeded.NewError(rule, -1, fmt.Sprintf("stopped after %d iterations", iter)))
			}
			break
		}
	}

	out := flat
	if everChanged {
		out, err = Flatten(rule, tree)
		if err != nil {
			return nil, err
		}
	}

	if everChanged && opts.logs(rule) {
		logOptimization(opts.Log, rule, flat, out)
	}

	return out, nil
}

// logOptimization prints a before/after instruction dump plus a
// unified diff and a comma-grouped instruction-count summary.
func logOptimization(w io.Writer, rule string, before, after []int) {
	beforeLines := dumpFlatLines(rule, before)
	afterLines := dumpFlatLines(rule, after)

	fmt.Fprintf(w, "pegopt: rule %q: %s -> %s instructions\n",
		rule, humanize.Comma(int64(len(before))), humanize.Comma(int64(len(after))))

	diff := difflib.UnifiedDiff{
		A:        beforeLines,
		B:        afterLines,
		FromFile: rule + " (before)",
		ToFile:   rule + " (after)",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		fmt.Fprintf(w, "pegopt: rule %q: (diff unavailable: %v)\n", rule, err)
		return
	}
	io.WriteString(w, text)
}
