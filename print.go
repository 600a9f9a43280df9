package pegopt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xlab/treeprint"
)

// stackDelta is the abstract stack depth immediately before and after
// one element's transfer function ran, captured by driving a State
// with tracing visitors installed.
type stackDelta struct {
	before, after int
}

// traceState runs block through a State whose visitors only observe,
// purely to record each element's stack-depth delta on the settled
// pass (State.run calls neither hook during loop fixpoint iterations).
// Each PreInterp pushes the depth before its element and the matching
// PostInterp pops it, so a conditional's or loop's own entry survives
// the nested elements interpreted in between. The interpreter's own
// splices (a statically known conditional, a loop that never runs)
// still apply, to nested blocks in place.
func traceState(rule string, block Block) (map[Element]stackDelta, error) {
	deltas := make(map[Element]stackDelta)
	var befores []int
	visitors := &Visitors{
		PreInterp: func(s *State, block *Block, ip int) (InterpResult, bool) {
			befores = append(befores, len(s.Stack))
			return InterpResult{}, false
		},
		PostInterp: func(s *State, block *Block, ip int, res InterpResult) *Mods {
			before := befores[len(befores)-1]
			befores = befores[:len(befores)-1]
			deltas[(*block)[ip]] = stackDelta{before: before, after: len(s.Stack)}
			return nil
		},
	}
	state := NewState(rule, nil, visitors)
	if _, err := state.run(&block); err != nil {
		return deltas, err
	}
	return deltas, nil
}

// Print renders formatted bytecode as an indented tree: one line per
// element, annotated with the stack-depth delta a debug interpreter
// pass observed for it, conditionals and loops as branches carrying
// their own sub-tree.
func Print(rule string, block Block) string {
	deltas, err := traceState(rule, block)
	root := treeprint.NewWithRoot(rule)
	appendBlock(root, block, deltas)
	if err != nil {
		return fmt.Sprintf("(trace incomplete: %v)\n%s", err, root.String())
	}
	return root.String()
}

func appendBlock(node treeprint.Tree, block Block, deltas map[Element]stackDelta) {
	for _, el := range block {
		appendElement(node, el, deltas)
	}
}

func appendElement(node treeprint.Tree, el Element, deltas map[Element]stackDelta) {
	switch e := el.(type) {
	case *FlatElement:
		node.AddNode(annotate(flatElementLabel(e), el, deltas))

	case *CondElement:
		label := e.Op.String()
		if conditionalArgCount(e.Op) == 1 {
			label += " " + strconv.Itoa(e.Arg)
		}
		branch := node.AddBranch(annotate(label, el, deltas))
		thenNode := branch.AddBranch("then")
		appendBlock(thenNode, e.Then, deltas)
		elseNode := branch.AddBranch("else")
		appendBlock(elseNode, e.Else, deltas)

	case *LoopElement:
		branch := node.AddBranch(annotate("WHILE_NOT_ERROR", el, deltas))
		appendBlock(branch, e.Body, deltas)
	}
}

// annotate appends the traced stack delta to label, when traceState
// recorded one for el; el goes untraced when it sits past a point
// traceState's run aborted on error, or was spliced away entirely.
func annotate(label string, el Element, deltas map[Element]stackDelta) string {
	d, ok := deltas[el]
	if !ok {
		return label
	}
	return fmt.Sprintf("%s  (stack %d->%d, %+d)", label, d.before, d.after, d.after-d.before)
}

func flatElementLabel(fe *FlatElement) string {
	if len(fe.Args) == 0 {
		return fe.Op.String()
	}
	parts := make([]string, len(fe.Args))
	for i, a := range fe.Args {
		parts[i] = strconv.Itoa(a)
	}
	return fe.Op.String() + " " + strings.Join(parts, " ")
}

// dumpFlatLines renders a flat opcode stream as one text line per
// instruction, used only to feed difflib's line-oriented unified diff;
// it tolerates a malformed stream by falling back to a raw dump instead
// of failing the log line. Unlike Print, this never drives a State: a
// diff feed needs stable, purely syntactic lines, not annotations that
// shift whenever the abstract interpreter's lattice changes.
func dumpFlatLines(rule string, flat []int) []string {
	block, err := Format(rule, flat)
	if err != nil {
		return []string{fmt.Sprintf("<unformattable: %v>", err)}
	}
	var lines []string
	appendLines(&lines, block, 0)
	return lines
}

func appendLines(lines *[]string, block Block, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, el := range block {
		switch e := el.(type) {
		case *FlatElement:
			*lines = append(*lines, indent+flatElementLabel(e))
		case *CondElement:
			label := e.Op.String()
			if conditionalArgCount(e.Op) == 1 {
				label += " " + strconv.Itoa(e.Arg)
			}
			*lines = append(*lines, indent+label)
			*lines = append(*lines, indent+"  then:")
			appendLines(lines, e.Then, depth+2)
			*lines = append(*lines, indent+"  else:")
			appendLines(lines, e.Else, depth+2)
		case *LoopElement:
			*lines = append(*lines, indent+"WHILE_NOT_ERROR:")
			appendLines(lines, e.Body, depth+1)
		}
	}
}
