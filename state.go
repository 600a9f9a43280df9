package pegopt

import "fmt"

// Grammar exposes, for the RULE opcode, a per-rule "always matches /
// never matches / unknown" hint. When nil, or when Match returns 0,
// the producer pushes TAny.
type Grammar interface {
	// Match returns +1 if the referenced rule always matches, -1 if it
	// never matches, 0 if unknown.
	Match(ruleIndex int) int
}

// idGen mints fresh, per-optimization identities for OFFSET values.
// Shared by pointer across every State cloned while optimizing one
// rule, so "the same OFFSET value flowing through the code" is
// recognizable by simple integer equality.
type idGen struct{ n int }

func (g *idGen) next() identity {
	g.n++
	return identity(g.n)
}

// PreInterpFunc runs before an element's transfer function, only when
// s.looping == 0. Returning
// handled=true bypasses State.interp entirely for this element; the
// returned InterpResult is used as-is by State.run.
type PreInterpFunc func(s *State, block *Block, ip int) (result InterpResult, handled bool)

// PostInterpFunc runs after the transfer function, only when
// s.looping == 0. A non-nil return overrides InterpResult.Mods.
type PostInterpFunc func(s *State, block *Block, ip int, res InterpResult) *Mods

// RunHookFunc runs once before/after a block's whole element loop,
// only when s.looping == 0.
type RunHookFunc func(s *State, block *Block)

// Visitors bundles the four hook points the driver installs before
// running the interpreter over a rule. They are not called during
// loop re-interpretation (looping > 0).
type Visitors struct {
	PreInterp  PreInterpFunc
	PostInterp PostInterpFunc
	PreRun     RunHookFunc
	PostRun    RunHookFunc
}

// Mods is a splice request: replace block[StartOffset:StartOffset+Length]
// with Replacement. The package always expresses a rewrite this way,
// including a bare "in-place mutation happened" signal — a same-length
// splice of a freshly mutated copy of the same element covers that
// case without a second mechanism.
type Mods struct {
	StartOffset int
	Length      int
	Replacement Block
}

// InterpResult is what State.interp (or a PreInterpFunc) returns for
// one element.
type InterpResult struct {
	// NextIP is where State.run should resume when Mods is nil.
	NextIP int
	// Cond is set only when the interpreted element was a conditional;
	// State.run threads the last element's Cond out as RunResult.Cond.
	Cond *CondState
	// Mods, when non-nil, asks State.run to splice the block and
	// resume interpreting from Mods.StartOffset.
	Mods *Mods
	// Changed reports a rewrite already happened below this element
	// (e.g. inside a conditional's branches) with no splice needed at
	// this ip; State.run propagates it into RunResult.Changed.
	Changed bool
}

// RunResult is what State.run returns for a whole block.
type RunResult struct {
	Changed bool
	Cond    *CondState
}

// CondState is the per-branch abstract state observed at the join
// point of a conditional, preserved so a following
// peephole pass can reason about each branch's post-conditional stack
// shape (e.g. conditional fusion).
type CondState struct {
	Then CondBranch
	Else CondBranch
}

// CondBranch is either a terminal snapshot of the branch's ending
// state, or, if the branch itself ended in a conditional, that
// conditional's own CondState.
type CondBranch struct {
	Terminal *State
	Branch   *CondState
}

func branchOf(terminal *State, nested *CondState) CondBranch {
	if nested != nil {
		return CondBranch{Branch: nested}
	}
	return CondBranch{Terminal: terminal}
}

// State is the abstract interpreter: a
// symbolic stack, the live currPos value, the silentFails nesting
// depth, and the hooks a driver installs to turn interpretation into
// optimization. One State is created per rule optimization; it is
// cloned at every conditional branch and loop entry and merged at
// every join.
type State struct {
	Stack       []Value
	CurrPos     Value
	SilentFails int
	RuleName    string
	Grammar     Grammar

	looping  int
	visitors *Visitors
	ids      *idGen
}

// NewState creates the interpreter for one rule. visitors may be nil
// (no peephole rewrites), used by callers that only want to check
// reachability or dump abstract state. interp's own splices still
// apply either way: a conditional whose branch is statically known is
// replaced by that branch, and a loop that can never run is removed.
func NewState(ruleName string, grammar Grammar, visitors *Visitors) *State {
	ids := &idGen{}
	return &State{
		RuleName: ruleName,
		Grammar:  grammar,
		visitors: visitors,
		ids:      ids,
		CurrPos:  Value{Tag: TOffset, id: ids.next()},
	}
}

func (s *State) clone() *State {
	cp := *s
	cp.Stack = append([]Value(nil), s.Stack...)
	return &cp
}

// Clone exposes clone() to callers outside the package that need a
// snapshot before speculatively driving the interpreter (e.g. a
// dead-slot analysis reusing State for reachability queries).
func (s *State) Clone() *State { return s.clone() }

func (s *State) push(v Value) { s.Stack = append(s.Stack, v) }

func (s *State) pop() (Value, error) {
	if len(s.Stack) == 0 {
		return Value{}, ErrStackUnderflow.NewError(s.RuleName, -1, "pop on empty stack")
	}
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return v, nil
}

func (s *State) popN(n int) error {
	if n < 0 {
		return ErrStackUnderflow.NewError(s.RuleName, -1, "negative discard count")
	}
	if n > len(s.Stack) {
		return ErrStackUnderflow.NewError(s.RuleName, -1, fmt.Sprintf("discard %d exceeds stack depth %d", n, len(s.Stack)))
	}
	s.Stack = s.Stack[:len(s.Stack)-n]
	return nil
}

// peek reads the value depthFromTop slots below the top (0 = top)
// without popping it.
func (s *State) peek(depthFromTop int) (Value, error) {
	idx := len(s.Stack) - 1 - depthFromTop
	if idx < 0 {
		return Value{}, ErrStackUnderflow.NewError(s.RuleName, -1, "inspect below the bottom of the stack")
	}
	return s.Stack[idx], nil
}

func (s *State) setTop(depthFromTop int, v Value) {
	s.Stack[len(s.Stack)-1-depthFromTop] = v
}

// merge implements the lattice join at a conditional's join point or a
// loop's fixpoint step: stacks must be the same
// length and silentFails must agree, or the merge is a structural
// error; otherwise every stack slot and currPos are unioned in place.
func (s *State) merge(other *State) error {
	if len(s.Stack) != len(other.Stack) {
		return ErrStackMismatch.NewError(s.RuleName, -1, fmt.Sprintf("%d vs %d", len(s.Stack), len(other.Stack)))
	}
	if s.SilentFails != other.SilentFails {
		return ErrSilentFailsMismatch.NewError(s.RuleName, -1, fmt.Sprintf("%d vs %d", s.SilentFails, other.SilentFails))
	}
	for i := range s.Stack {
		s.Stack[i] = union(s.Stack[i], other.Stack[i])
	}
	s.CurrPos = union(s.CurrPos, other.CurrPos)
	return nil
}

// equal is merge's precondition check plus an exact elementwise
// comparison, used only by the loop fixpoint to detect convergence.
// currPos is deliberately excluded: each loop iteration legitimately
// mints a fresh currPos identity.
func (s *State) equal(other *State) bool {
	if len(s.Stack) != len(other.Stack) || s.SilentFails != other.SilentFails {
		return false
	}
	for i := range s.Stack {
		if !equalValue(s.Stack[i], other.Stack[i]) {
			return false
		}
	}
	return true
}

// run drives one block element by element, applying preInterp/interp/
// postInterp and splicing any resulting Mods.
func (s *State) run(block *Block) (RunResult, error) {
	if s.looping == 0 && s.visitors != nil && s.visitors.PreRun != nil {
		s.visitors.PreRun(s, block)
	}

	var changed bool
	var lastCond *CondState

	ip := 0
	for ip < len(*block) {
		pre := s.clone()

		var (
			res     InterpResult
			err     error
			handled bool
		)
		if s.looping == 0 && s.visitors != nil && s.visitors.PreInterp != nil {
			res, handled = s.visitors.PreInterp(s, block, ip)
		}
		if !handled {
			res, err = s.interp(*block, ip)
			if err != nil {
				return RunResult{}, err
			}
			if s.looping == 0 && s.visitors != nil && s.visitors.PostInterp != nil {
				if mods := s.visitors.PostInterp(s, block, ip, res); mods != nil {
					res.Mods = mods
				}
			}
		}

		if res.Cond != nil {
			lastCond = res.Cond
		} else if ip == len(*block)-1 {
			lastCond = nil
		}

		switch {
		case res.Mods != nil:
			// The splice's effect on the abstract state must come
			// entirely from re-interpreting the replacement: revert
			// to the state as of the start of this iteration, splice,
			// then resume at the replacement's first instruction.
			*s = *pre
			applySplice(block, res.Mods)
			changed = true
			ip = res.Mods.StartOffset
		case res.Changed:
			changed = true
			ip = res.NextIP
		default:
			ip = res.NextIP
		}
	}

	if s.looping == 0 && s.visitors != nil && s.visitors.PostRun != nil {
		s.visitors.PostRun(s, block)
	}

	return RunResult{Changed: changed, Cond: lastCond}, nil
}

func applySplice(block *Block, m *Mods) {
	start := m.StartOffset
	length := m.Length
	out := make(Block, 0, len(*block)-length+len(m.Replacement))
	out = append(out, (*block)[:start]...)
	out = append(out, m.Replacement...)
	out = append(out, (*block)[start+length:]...)
	*block = out
}

// interp computes the transfer function of one element.
func (s *State) interp(block Block, ip int) (InterpResult, error) {
	el := block[ip]
	op := el.Opcode()

	switch opCategory[op] {
	case catCond0, catCond1:
		return s.interpCondition(block, ip)
	case catLoop:
		return s.interpLoop(block, ip)
	}

	fe, ok := el.(*FlatElement)
	if !ok {
		return InterpResult{}, ErrMalformedTree.NewError(s.RuleName, ip, "expected a flat element")
	}
	args := fe.Args

	switch op {
	case OpPushEmptyString:
		s.push(valString())
	case OpPushCurrPos:
		s.push(Value{Tag: TOffset, id: s.CurrPos.id})
	case OpPushUndefined:
		s.push(valUndefined())
	case OpPushNull:
		s.push(valNull())
	case OpPushFailed:
		s.push(valFailed())
	case OpPushEmptyArray:
		s.push(valArray(s.ids.next()))

	case OpPop:
		if _, err := s.pop(); err != nil {
			return InterpResult{}, err
		}
	case OpPopN:
		if err := s.popN(args[0]); err != nil {
			return InterpResult{}, err
		}
	case OpNip:
		if len(s.Stack) < 2 {
			return InterpResult{}, ErrStackUnderflow.NewError(s.RuleName, ip, "NIP needs two slots")
		}
		top := s.Stack[len(s.Stack)-1]
		s.Stack = append(s.Stack[:len(s.Stack)-2], top)

	case OpPopCurrPos:
		v, err := s.pop()
		if err != nil {
			return InterpResult{}, err
		}
		if !mustBe(v, TOffset) {
			return InterpResult{}, ErrBadCurrPos.NewError(s.RuleName, ip, fmt.Sprintf("top tag %s", v.Tag))
		}
		id := v.id
		if id == 0 {
			id = s.ids.next()
		}
		s.CurrPos = Value{Tag: TOffset, id: id}

	case OpAppend:
		if _, err := s.pop(); err != nil {
			return InterpResult{}, err
		}
		top, err := s.peek(0)
		if err != nil {
			return InterpResult{}, err
		}
		if top.Tag != TArray {
			return InterpResult{}, ErrBadAppend.NewError(s.RuleName, ip, fmt.Sprintf("top tag %s", top.Tag))
		}
		s.setTop(0, valArray(s.ids.next()))

	case OpWrap:
		n := args[0]
		if err := s.popN(n); err != nil {
			return InterpResult{}, err
		}
		s.push(valArray(s.ids.next()))

	case OpText:
		v, err := s.pop()
		if err != nil {
			return InterpResult{}, err
		}
		if v.Tag != TOffset {
			return InterpResult{}, ErrBadText.NewError(s.RuleName, ip, fmt.Sprintf("top tag %s", v.Tag))
		}
		s.push(valString())

	case OpPluck:
		n, k, ps := args[0], args[1], args[2:]
		vals := make([]Value, k)
		for i, p := range ps {
			v, err := s.peek(p)
			if err != nil {
				return InterpResult{}, err
			}
			vals[i] = v
		}
		if err := s.popN(n); err != nil {
			return InterpResult{}, err
		}
		if k == 1 {
			s.push(vals[0])
		} else {
			s.push(valArray(s.ids.next()))
		}

	case OpAcceptN, OpAcceptString:
		s.CurrPos = Value{Tag: TOffset, id: s.ids.next()}
		s.push(valString())

	case OpLoadSavedPos, OpUpdateSavedPos:
		// No abstract stack effect; these only touch host-side saved
		// position bookkeeping the lattice does not model.

	case OpFail:
		s.push(valFailed())

	case OpSilentFailsOn:
		s.SilentFails++
	case OpSilentFailsOff:
		if s.SilentFails == 0 {
			return InterpResult{}, ErrSilentFailsMismatch.NewError(s.RuleName, ip, "SILENT_FAILS_OFF with no matching ON")
		}
		s.SilentFails--

	case OpCall:
		n, _, ps := args[1], args[2], args[3:]
		for _, p := range ps {
			if _, err := s.peek(p); err != nil {
				return InterpResult{}, err
			}
		}
		if err := s.popN(n); err != nil {
			return InterpResult{}, err
		}
		s.CurrPos = Value{Tag: TOffset, id: s.ids.next()}
		s.push(Value{Tag: TAny})

	case OpRule:
		tag := TAny
		if s.Grammar != nil {
			switch s.Grammar.Match(args[0]) {
			case 1:
				tag = TAny &^ TFailed
			case -1:
				tag = TFailed
			}
		}
		s.CurrPos = Value{Tag: TOffset, id: s.ids.next()}
		s.push(Value{Tag: tag})

	case OpSourceMapPush, OpSourceMapPop, OpSourceMapLabelPush, OpSourceMapLabelPop:
		// No semantic effect on the abstract stack.

	default:
		return InterpResult{}, ErrInvalidOpcode.NewError(s.RuleName, ip, op.String())
	}

	return InterpResult{NextIP: ip + 1}, nil
}

// classifyFunc reports, given the (unpopped) top of stack, whether one
// side is the only reachable/resolvable one, and how to refine top for
// that side. interpCondition consults it for IF, IF_ERROR and
// IF_NOT_ERROR; conditionalFusionMods (visitors.go) also consults it,
// for those three plus WHILE_NOT_ERROR, to decide whether a following
// element's code can be folded into a preceding conditional's terminal
// branches.
type classifyFunc func(top Value, forThen bool) (only bool, refined T)

func classifierFor(op Op) classifyFunc {
	switch op {
	case OpIf:
		return func(top Value, forThen bool) (bool, T) {
			if forThen {
				return mustBeTrue(top), top.Tag & (TArray | TFailed)
			}
			return mustBeFalse(top), top.Tag & (TNull | TUndefined)
		}
	case OpIfError:
		return func(top Value, forThen bool) (bool, T) {
			if forThen {
				return mustBe(top, TFailed), top.Tag & TFailed
			}
			return mustBe(top, TAny&^TFailed), top.Tag &^ TFailed
		}
	case OpIfNotError:
		return func(top Value, forThen bool) (bool, T) {
			if forThen {
				return mustBe(top, TAny&^TFailed), top.Tag &^ TFailed
			}
			return mustBe(top, TFailed), top.Tag & TFailed
		}
	case OpWhileNotError:
		// A loop only ever resolves definitely on the "never runs"
		// side (top must be FAILED, mirroring interpLoop's own
		// dead-loop check); whether it runs at least once is a
		// fixpoint property no single classifier call can prove.
		return func(top Value, forThen bool) (bool, T) {
			if forThen {
				return false, 0
			}
			return mustBe(top, TFailed), top.Tag & TFailed
		}
	default:
		return nil
	}
}

// interpCondition computes the transfer function of a conditional
// element: it clones state into the then branch, refines the top of
// stack on each side when a classifier applies, runs both branches,
// and merges the results at the join point.
func (s *State) interpCondition(block Block, ip int) (InterpResult, error) {
	el, ok := block[ip].(*CondElement)
	if !ok {
		return InterpResult{}, ErrMalformedTree.NewError(s.RuleName, ip, "expected a conditional element")
	}

	classifier := classifierFor(el.Op)

	thenState := s.clone()

	if classifier != nil {
		top, err := s.peek(0)
		if err != nil {
			return InterpResult{}, err
		}
		thenOnly, thenRefined := classifier(top, true)
		elseOnly, elseRefined := classifier(top, false)
		if thenOnly && elseOnly {
			return InterpResult{}, ErrImpossibleConditional.NewError(s.RuleName, ip, "")
		}
		if thenOnly {
			return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: cloneBlock(el.Then)}}, nil
		}
		if elseOnly {
			return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: cloneBlock(el.Else)}}, nil
		}
		thenState.setTop(0, Value{Tag: thenRefined, id: top.id})
		s.setTop(0, Value{Tag: elseRefined, id: top.id})
	}

	thenResult, err := thenState.run(&el.Then)
	if err != nil {
		return InterpResult{}, err
	}
	elseResult, err := s.run(&el.Else)
	if err != nil {
		return InterpResult{}, err
	}
	elseSnapshot := s.clone()

	if len(el.Else) == 0 && len(thenState.Stack) > len(s.Stack) {
		thenState.Stack = append([]Value(nil), thenState.Stack[:len(s.Stack)]...)
	}

	if err := s.merge(thenState); err != nil {
		return InterpResult{}, err
	}

	cond := &CondState{
		Then: branchOf(thenState, thenResult.Cond),
		Else: branchOf(elseSnapshot, elseResult.Cond),
	}

	return InterpResult{
		NextIP:  ip + 1,
		Cond:    cond,
		Changed: thenResult.Changed || elseResult.Changed,
	}, nil
}

// interpLoop computes the transfer function of a loop element: a
// dead-loop short-circuit, then a monotone fixpoint over the finite
// lattice.
func (s *State) interpLoop(block Block, ip int) (InterpResult, error) {
	el, ok := block[ip].(*LoopElement)
	if !ok {
		return InterpResult{}, ErrMalformedTree.NewError(s.RuleName, ip, "expected a loop element")
	}

	top, err := s.peek(0)
	if err != nil {
		return InterpResult{}, err
	}
	if mustBe(top, TFailed) {
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: nil}}, nil
	}

	s.looping++
	saved := s.clone()
	for {
		if _, err := s.run(&el.Body); err != nil {
			s.looping--
			return InterpResult{}, err
		}
		if err := s.merge(saved); err != nil {
			s.looping--
			return InterpResult{}, err
		}
		if s.equal(saved) {
			break
		}
		saved = s.clone()
	}
	s.looping--

	final, err := s.run(&el.Body)
	if err != nil {
		return InterpResult{}, err
	}

	return InterpResult{NextIP: ip + 1, Changed: final.Changed}, nil
}
