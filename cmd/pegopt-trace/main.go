// Command pegopt-trace is a non-interactive debug harness: it reads a
// flattened instruction dump and an optional grammar-hint file from
// disk, runs the optimizer once, and prints the before/after formatted
// bytecode trees plus the driver's own diff log.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pegvm-lang/pegopt"
)

// hintFile is the on-disk JSON shape for a grammar-hint file: rule
// index (as a string key, since JSON object keys are always strings)
// to +1/-1/0 per external grammar descriptor.
type hintFile map[string]int

func (h hintFile) Match(ruleIndex int) int {
	return h[fmt.Sprintf("%d", ruleIndex)]
}

func main() {
	var (
		instrPath   = flag.String("instructions", "", "path to a JSON array of flat opcode integers")
		grammarPath = flag.String("grammar", "", "optional path to a JSON rule-index -> hint object")
		rule        = flag.String("rule", "rule", "rule name to attribute in traces and errors")
		skipDead    = flag.Bool("skip-dead-slot", false, "disable the dead-slot dataflow pass")
		maxIters    = flag.Int("max-iterations", 0, "outer fixpoint iteration cap, 0 = unbounded")
	)
	flag.Parse()

	if *instrPath == "" {
		fmt.Fprintln(os.Stderr, "pegopt-trace: -instructions is required")
		os.Exit(2)
	}

	flat, err := readInstructions(*instrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pegopt-trace: %v\n", err)
		os.Exit(1)
	}

	var grammar pegopt.Grammar
	if *grammarPath != "" {
		grammar, err = readGrammar(*grammarPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pegopt-trace: %v\n", err)
			os.Exit(1)
		}
	}

	before, err := pegopt.Format(*rule, flat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pegopt-trace: format: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("=== before ===")
	fmt.Println(pegopt.Print(*rule, before))

	opts := pegopt.Options{
		Log:                os.Stdout,
		LogRuleName:        "*",
		SkipDeadSlot:       *skipDead,
		MaxOuterIterations: *maxIters,
		Warn: func(err *pegopt.RuntimeError) {
			fmt.Fprintf(os.Stderr, "pegopt-trace: warning: %v\n", err)
		},
	}

	out, err := pegopt.OptimizeBlock(*rule, flat, grammar, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pegopt-trace: optimize: %v\n", err)
		os.Exit(1)
	}

	after, err := pegopt.Format(*rule, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pegopt-trace: format result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("=== after ===")
	fmt.Println(pegopt.Print(*rule, after))
}

func readInstructions(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var flat []int
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return flat, nil
}

func readGrammar(path string) (hintFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var h hintFile
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return h, nil
}
