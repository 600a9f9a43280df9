package pegopt

// NewPeepholeVisitors builds the pre/post-interp visitor pair the
// driver installs before running the interpreter over a rule. Every
// rewrite here is conservative: the replacement leaves the
// interpreter's abstract state exactly as it would have been without
// the splice.
func NewPeepholeVisitors() *Visitors {
	return &Visitors{PreInterp: preInterp, PostInterp: postInterp}
}

func isPurePush(op Op) bool {
	switch op {
	case OpPushEmptyString, OpPushCurrPos, OpPushUndefined, OpPushNull, OpPushFailed, OpPushEmptyArray:
		return true
	default:
		return false
	}
}

// isPushLikeForSwap is the wider producer set for the pre-interp
// push/NIP swap: it also covers RULE/ACCEPT_N/ACCEPT_STRING/FAIL,
// which have host-visible side effects the swap preserves (it
// reorders, never deletes).
func isPushLikeForSwap(op Op) bool {
	switch op {
	case OpPushEmptyString, OpPushCurrPos, OpPushUndefined, OpPushNull, OpPushFailed, OpPushEmptyArray,
		OpRule, OpAcceptN, OpAcceptString, OpFail:
		return true
	default:
		return false
	}
}

// isTopSlotKiller is the narrower "discards exactly the producer's own
// pushed value" set used by the WRAP/PLUCK simplifications: NIP
// discards the slot below top, so it needs its own rules (the WRAP 1
// NIP swap and WRAP-into-PLUCK below), not this one.
func isTopSlotKiller(op Op) bool {
	return op == OpPop || op == OpPopN
}

// topSlotKillDiscard is isTopSlotKiller plus the check isTopSlotKiller
// alone can't make: POP_N 0 is the opcode-shape of a slot killer but
// discards nothing, the placeholder collapseSilentFailsPairs and the
// dead-slot pass leave behind (deadslot.go) for an instruction they
// hollowed out. Deleting a producer in front of a real no-op like that
// would drop a value still needed downstream.
func topSlotKillDiscard(next Element) bool {
	fe, ok := next.(*FlatElement)
	if !ok || !isTopSlotKiller(fe.Op) {
		return false
	}
	return discardCount(fe.Op, fe.Args) > 0
}

// slotKillDiscard is isSlotKiller plus the same POP_N 0 exclusion as
// topSlotKillDiscard, for the wider NIP-inclusive slot-killer set.
func slotKillDiscard(next Element) bool {
	fe, ok := next.(*FlatElement)
	if !ok || !isSlotKiller(fe.Op) {
		return false
	}
	return discardCount(fe.Op, fe.Args) > 0
}

// pushTagFor reports the tag pushed by a singleton-valued push op —
// UNDEFINED, NULL and FAILED each have exactly one possible concrete
// value for their tag, so a POP immediately before one of them can be
// elided once the popped value is already known to carry that same
// tag. PUSH_EMPTY_STRING/PUSH_EMPTY_ARRAY are deliberately excluded:
// a value tagged STRING or ARRAY need not be the empty one.
func pushTagFor(op Op) (T, bool) {
	switch op {
	case OpPushUndefined:
		return TUndefined, true
	case OpPushNull:
		return TNull, true
	case OpPushFailed:
		return TFailed, true
	default:
		return 0, false
	}
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func allSlotKillers(b Block) bool {
	for _, el := range b {
		fe, ok := el.(*FlatElement)
		if !ok || !isSlotKiller(fe.Op) {
			return false
		}
	}
	return true
}

// condPopsOnlyMods implements "a conditional whose both branches are
// pops only": when every element of both Then
// and Else is a slot killer, the branch taken makes no difference to
// the net stack effect, so the whole conditional collapses to either
// branch.
func condPopsOnlyMods(ip int, cond *CondElement) *Mods {
	if !allSlotKillers(cond.Then) || !allSlotKillers(cond.Else) {
		return nil
	}
	return &Mods{StartOffset: ip, Length: 1, Replacement: cloneBlock(cond.Else)}
}

func preInterp(s *State, block *Block, ip int) (InterpResult, bool) {
	b := *block
	el := b[ip]
	op := el.Opcode()

	if cond, ok := el.(*CondElement); ok {
		if mods := condPopsOnlyMods(ip, cond); mods != nil {
			return InterpResult{Mods: mods}, true
		}
	}

	// POP_N 0 is the placeholder the dead-slot pass leaves behind for a
	// producer or SILENT_FAILS marker it hollowed out; it is always a
	// no-op.
	if fe, ok := el.(*FlatElement); ok && fe.Op == OpPopN && fe.Args[0] == 0 {
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: nil}}, true
	}

	if op == OpPopCurrPos {
		if top, err := s.peek(0); err == nil && top.id != 0 && top.id == s.CurrPos.id {
			return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: Block{&FlatElement{Op: OpPop}}}}, true
		}
	}

	if ip+1 >= len(b) {
		return InterpResult{}, false
	}
	next := b[ip+1]
	nextOp := next.Opcode()

	switch {
	case isPushLikeForSwap(op) && nextOp == OpNip:
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 2, Replacement: Block{&FlatElement{Op: OpPop}, el.clone()}}}, true

	case op == OpCall && nextOp == OpNip:
		fe := el.(*FlatElement)
		args := append([]int(nil), fe.Args...)
		args[1]++
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 2, Replacement: Block{&FlatElement{Op: OpCall, Args: args}}}}, true

	case op == OpText && nextOp == OpNip:
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 2, Replacement: Block{next.clone(), el.clone()}}}, true

	case op == OpText && topSlotKillDiscard(next):
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: nil}}, true

	case op == OpNip && slotKillDiscard(next):
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: Block{&FlatElement{Op: OpPop}}}}, true

	case op == OpWrap && el.(*FlatElement).Args[0] == 1 && nextOp == OpNip:
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 2, Replacement: Block{next.clone(), el.clone()}}}, true

	case op == OpWrap && el.(*FlatElement).Args[0] > 1 && nextOp == OpNip:
		n := el.(*FlatElement).Args[0]
		args := append([]int{n + 1, n}, sequence(n)...)
		return InterpResult{Mods: &Mods{StartOffset: ip, Length: 2, Replacement: Block{&FlatElement{Op: OpPluck, Args: args}}}}, true

	case (op == OpWrap || op == OpPluck) && topSlotKillDiscard(next):
		n := el.(*FlatElement).Args[0]
		switch {
		case n == 0:
			return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: Block{&FlatElement{Op: OpPushNull}}}}, true
		case n == 1:
			return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: nil}}, true
		default:
			return InterpResult{Mods: &Mods{StartOffset: ip, Length: 1, Replacement: Block{&FlatElement{Op: OpPopN, Args: []int{n - 1}}}}}, true
		}

	case op == OpPop:
		if want, ok := pushTagFor(nextOp); ok {
			if top, err := s.peek(0); err == nil && top.Tag == want {
				return InterpResult{Mods: &Mods{StartOffset: ip, Length: 2, Replacement: nil}}, true
			}
		}
	}

	return InterpResult{}, false
}

func postInterp(s *State, block *Block, ip int, res InterpResult) *Mods {
	b := *block
	el := b[ip]
	op := el.Opcode()

	if op == OpSilentFailsOn && s.SilentFails > 1 {
		// State.run re-interprets a splice from the pre-ON state, so the
		// nested ON is removed together with its matching OFF in one
		// splice; removing the ON alone would leave the OFF unbalanced.
		depth := 0
		for k := ip + 1; k < len(b); k++ {
			switch b[k].Opcode() {
			case OpSilentFailsOn:
				depth++
			case OpSilentFailsOff:
				if depth == 0 {
					return &Mods{StartOffset: ip, Length: k - ip + 1, Replacement: append(Block(nil), b[ip+1:k]...)}
				}
				depth--
			}
		}
	}
	if op == OpSilentFailsOff && s.SilentFails > 0 {
		return &Mods{StartOffset: ip, Length: 1, Replacement: nil}
	}

	if op == OpPopCurrPos {
		if mods := deadPopCurrPosMods(b, ip); mods != nil {
			return mods
		}
	}

	if res.Cond != nil {
		if mods := conditionalFusionMods(b, ip, res.Cond); mods != nil {
			return mods
		}
		if mods := conditionalPopChainMods(b, ip, res.Cond); mods != nil {
			return mods
		}
	}

	isDeadPush := isPurePush(op)
	if op == OpFail && s.SilentFails > 0 {
		isDeadPush = true
	}
	if isDeadPush && ip+1 < len(b) {
		next := b[ip+1]
		switch next.Opcode() {
		case OpPop:
			return &Mods{StartOffset: ip, Length: 2, Replacement: nil}
		case OpPopN:
			k := next.(*FlatElement).Args[0]
			switch {
			case k == 0:
				// Discards nothing: the push must stay live.
			case k == 1:
				return &Mods{StartOffset: ip, Length: 2, Replacement: nil}
			default:
				return &Mods{StartOffset: ip, Length: 2, Replacement: Block{&FlatElement{Op: OpPopN, Args: []int{k - 1}}}}
			}
		}
	}

	if op == OpFail && s.SilentFails > 0 {
		return &Mods{StartOffset: ip, Length: 1, Replacement: Block{&FlatElement{Op: OpPushFailed}}}
	}

	return nil
}

// deadPopCurrPosMods implements "dead POP_CURR_POS": a linear forward
// scan within the same block for another POP_CURR_POS reached before
// any PUSH_CURR_POS. Branching into a conditional or loop before
// either is found is treated conservatively as "might read", since the
// two paths could disagree.
func deadPopCurrPosMods(b Block, ip int) *Mods {
	for i := ip + 1; i < len(b); i++ {
		fe, ok := b[i].(*FlatElement)
		if !ok {
			return nil
		}
		switch fe.Op {
		case OpPushCurrPos:
			return nil
		case OpPopCurrPos:
			return &Mods{StartOffset: ip, Length: 1, Replacement: Block{&FlatElement{Op: OpPop}}}
		}
	}
	return nil
}

// condLeaf is one terminal of a CondState tree, paired with the block
// it lives at the tail of so a fusion can append to it in place.
type condLeaf struct {
	block *Block
	state *State
}

func collectCondLeaves(thenBlock, elseBlock *Block, cond *CondState, out *[]condLeaf) {
	collectBranchLeaves(thenBlock, &cond.Then, out)
	collectBranchLeaves(elseBlock, &cond.Else, out)
}

func collectBranchLeaves(block *Block, branch *CondBranch, out *[]condLeaf) {
	if branch.Terminal != nil {
		*out = append(*out, condLeaf{block: block, state: branch.Terminal})
		return
	}
	if branch.Branch == nil || len(*block) == 0 {
		return
	}
	nested, ok := (*block)[len(*block)-1].(*CondElement)
	if !ok {
		return
	}
	collectCondLeaves(&nested.Then, &nested.Else, branch.Branch, out)
}

// conditionalPopChainMods implements "conditional + pop-chain": a
// contiguous run of NIP/POP/POP_N right after a conditional is pushed
// into every terminal branch and deleted at the outer level. State.run
// reverts to the pre-splice state and resumes at the conditional, so
// the appended tail is interpreted fresh.
func conditionalPopChainMods(b Block, ip int, cond *CondState) *Mods {
	el, ok := b[ip].(*CondElement)
	if !ok {
		return nil
	}
	end := ip + 1
	for end < len(b) {
		fe, ok := b[end].(*FlatElement)
		if !ok || !isSlotKiller(fe.Op) {
			break
		}
		end++
	}
	if end == ip+1 {
		return nil
	}
	chain := b[ip+1 : end]

	var leaves []condLeaf
	collectCondLeaves(&el.Then, &el.Else, cond, &leaves)
	if len(leaves) == 0 {
		return nil
	}
	for _, leaf := range leaves {
		*leaf.block = append(*leaf.block, cloneBlock(chain)...)
	}

	return &Mods{StartOffset: ip, Length: end - ip, Replacement: Block{el}}
}

// cheapBlock classifies a block as safe to duplicate across branches:
// only pops, at most one constant push, or a single k==1 PLUCK.
func cheapBlock(b Block) bool {
	pushCount, pluckCount := 0, 0
	for _, el := range b {
		fe, ok := el.(*FlatElement)
		if !ok {
			return false
		}
		switch {
		case isSlotKiller(fe.Op):
			continue
		case isPurePush(fe.Op):
			pushCount++
			if pushCount > 1 {
				return false
			}
		case fe.Op == OpPluck && len(fe.Args) >= 2 && fe.Args[1] == 1:
			pluckCount++
			if pluckCount > 1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// fusionBranch returns the code a fused terminal inherits: a
// conditional's own then/else child, or, for a WHILE_NOT_ERROR
// classified as definitely dead (forThen == false is the only side
// that classifier ever resolves), the empty block — the loop
// contributes no code at all on that path.
func fusionBranch(next Element, forThen bool) Block {
	cond, ok := next.(*CondElement)
	if !ok {
		return nil
	}
	if forThen {
		return cond.Then
	}
	return cond.Else
}

// conditionalFusionMods implements "conditional fusion" for a
// following IF/IF_ERROR/IF_NOT_ERROR/WHILE_NOT_ERROR: each terminal of
// the preceding conditional's CondState is classified against the next
// element's own classifier, and, when every terminal resolves to a
// definite side, that side's code is cloned into the terminal and the
// outer element is deleted.
//
// WHILE_NOT_ERROR only ever resolves definitely on the "loop never
// runs" side (classifierFor's dead-loop check, state.go); whether it
// runs at least once is a fixpoint property no single classifier call
// can prove, so any terminal that might enter the loop leaves the
// whole fusion unresolved and it does not fire. This still requires
// every terminal to resolve to a definite side, rather than allowing
// zero non-cheap copies alongside unknown terminals.
func conditionalFusionMods(b Block, ip int, cond *CondState) *Mods {
	el, ok := b[ip].(*CondElement)
	if !ok || ip+1 >= len(b) {
		return nil
	}
	next := b[ip+1]
	classifier := classifierFor(next.Opcode())
	if classifier == nil {
		return nil
	}

	var leaves []condLeaf
	collectCondLeaves(&el.Then, &el.Else, cond, &leaves)
	if len(leaves) == 0 {
		return nil
	}

	type placement struct {
		leaf   condLeaf
		branch Block
	}
	var placements []placement
	nonCheap := 0
	for _, leaf := range leaves {
		if len(leaf.state.Stack) == 0 {
			return nil
		}
		top := leaf.state.Stack[len(leaf.state.Stack)-1]
		thenOnly, _ := classifier(top, true)
		elseOnly, _ := classifier(top, false)

		var chosen Block
		switch {
		case thenOnly:
			chosen = fusionBranch(next, true)
		case elseOnly:
			chosen = fusionBranch(next, false)
		default:
			return nil
		}
		if !cheapBlock(chosen) {
			nonCheap++
		}
		placements = append(placements, placement{leaf: leaf, branch: chosen})
	}
	if nonCheap > 1 {
		return nil
	}

	for _, p := range placements {
		*p.leaf.block = append(*p.leaf.block, cloneBlock(p.branch)...)
	}

	return &Mods{StartOffset: ip, Length: 2, Replacement: Block{el}}
}
