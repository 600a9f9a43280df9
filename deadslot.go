package pegopt

// DeadSlotPass implements a second-pass dataflow analysis: a stack
// slot produced by a pure instruction (a PUSH_*, TEXT or WRAP) whose
// only consumer is a discard is a candidate for removal even when the
// two are not adjacent, which is the one thing the single-lookahead
// peephole visitors (visitors.go) cannot see.
//
// A producer immediately followed, at zero intervening stack depth, by
// a conditional is still tracked: scanForDeadConsumer recurses into
// both Then and Else and only accepts the producer as dead when each
// branch independently resolves to a discard with nothing reading
// through first — the candidate-set intersection between the two
// paths. A loop boundary is not crossed this way: a slot produced
// outside a loop and consumed inside it (or vice versa) depends on the
// iteration count, so the scan bails at any LoopElement. Everything
// else between a candidate producer and its prospective consumer must
// be a plain, non-inspecting instruction (PLUCK, CALL, APPEND, and the
// SOURCE_MAP_* family all abort the scan for that producer) so no
// other instruction's indices need adjusting when the slot disappears.
func DeadSlotPass(rule string, block *Block) bool {
	changed := collapseSilentFailsPairs(block)
	if deadSlotPassBlock(block) {
		changed = true
	}
	return changed
}

func deadSlotPassBlock(block *Block) bool {
	changed := false

	for i := 0; i < len(*block); i++ {
		fe, ok := (*block)[i].(*FlatElement)
		if !ok {
			continue
		}
		arity, isProducer := producerArity(fe)
		if !isProducer {
			continue
		}
		fixes, ok := scanForDeadConsumer(block, i)
		if !ok {
			continue
		}
		replaceProducerWithDrain(block, i, arity)
		for _, fix := range fixes {
			applyConsumerFix(fix)
		}
		changed = true
	}

	for i := range *block {
		switch el := (*block)[i].(type) {
		case *CondElement:
			if deadSlotPassBlock(&el.Then) {
				changed = true
			}
			if deadSlotPassBlock(&el.Else) {
				changed = true
			}
		case *LoopElement:
			if deadSlotPassBlock(&el.Body) {
				changed = true
			}
		}
	}

	return changed
}

// producerArity reports whether fe is one of the pure single-slot
// producers this pass tracks, and how many operands it pops.
func producerArity(fe *FlatElement) (int, bool) {
	switch fe.Op {
	case OpPushEmptyString, OpPushCurrPos, OpPushUndefined, OpPushNull, OpPushFailed, OpPushEmptyArray:
		return 0, true
	case OpText:
		return 1, true
	case OpWrap:
		return fe.Args[0], true
	default:
		return 0, false
	}
}

// consumerFix describes how to shrink an instruction that used to
// discard a now-removed producer's slot. block pins down exactly which
// block the fix lives in — the producer's own block for a same-run
// consumer, or a conditional's Then/Else for a cross-branch one.
type consumerFix struct {
	block    *Block
	index    int
	deleteIt bool
	newCount int
}

// scanForDeadConsumer walks forward from a candidate producer at index
// i in block tracking depthAbove, the number of live slots currently
// sitting above it, until every path from the producer reaches an
// instruction that discards its slot with nothing having read through
// it first. Reaching a conditional while depthAbove is 0 (the slot
// sits exactly on top) recurses into both branches and requires both
// to resolve; anything else that isn't a plain, non-inspecting
// instruction bails the whole scan.
func scanForDeadConsumer(block *Block, i int) ([]consumerFix, bool) {
	return scanBlockForDeadConsumer(block, i+1, 0)
}

func scanBlockForDeadConsumer(block *Block, start, depthAbove int) ([]consumerFix, bool) {
	b := *block
	for j := start; j < len(b); j++ {
		switch el := b[j].(type) {
		case *FlatElement:
			switch el.Op {
			case OpPop:
				if depthAbove == 0 {
					return []consumerFix{{block: block, index: j, deleteIt: true}}, true
				}
				depthAbove--

			case OpPopN:
				k := el.Args[0]
				switch {
				case k < depthAbove:
					depthAbove -= k
				case k == depthAbove:
					depthAbove = 0
				default:
					if k-1 == 0 {
						return []consumerFix{{block: block, index: j, deleteIt: true}}, true
					}
					return []consumerFix{{block: block, index: j, newCount: k - 1}}, true
				}

			case OpNip:
				switch {
				case depthAbove == 0:
					// Targets whatever is below i's slot; unrelated.
				case depthAbove == 1:
					return []consumerFix{{block: block, index: j, deleteIt: true}}, true
				default:
					depthAbove--
				}

			case OpPushEmptyString, OpPushCurrPos, OpPushUndefined, OpPushNull, OpPushFailed, OpPushEmptyArray,
				OpRule, OpAcceptN, OpAcceptString, OpFail:
				depthAbove++

			case OpText:
				if depthAbove == 0 {
					return nil, false
				}

			case OpWrap:
				n := el.Args[0]
				if n > depthAbove {
					return nil, false
				}
				depthAbove += 1 - n

			case OpPopCurrPos:
				if depthAbove == 0 {
					return nil, false
				}
				depthAbove--

			case OpSilentFailsOn, OpSilentFailsOff, OpLoadSavedPos, OpUpdateSavedPos:
				// No stack effect.

			default:
				// PLUCK, CALL, APPEND may inspect arbitrary depths. The
				// SOURCE_MAP_* family has no stack effect but is left as
				// an opaque barrier the scan never reorders past.
				return nil, false
			}

		case *CondElement:
			if depthAbove != 0 {
				return nil, false
			}
			thenFixes, ok := scanBlockForDeadConsumer(&el.Then, 0, 0)
			if !ok {
				return nil, false
			}
			elseFixes, ok := scanBlockForDeadConsumer(&el.Else, 0, 0)
			if !ok {
				return nil, false
			}
			return append(thenFixes, elseFixes...), true

		default:
			// LoopElement: crossing a loop boundary needs the
			// iteration count, which this pass does not reason about.
			return nil, false
		}
	}
	return nil, false
}

func replaceProducerWithDrain(block *Block, i, arity int) {
	(*block)[i] = &FlatElement{Op: OpPopN, Args: []int{arity}}
}

func applyConsumerFix(fix consumerFix) {
	if fix.deleteIt {
		b := *fix.block
		out := make(Block, 0, len(b)-1)
		out = append(out, b[:fix.index]...)
		out = append(out, b[fix.index+1:]...)
		*fix.block = out
		return
	}
	(*fix.block)[fix.index] = &FlatElement{Op: OpPopN, Args: []int{fix.newCount}}
}

// blockHasObservableFailure reports whether b, recursively through any
// nested conditional or loop, contains a CALL, FAIL or RULE — the only
// opcodes a SILENT_FAILS scope can affect.
func blockHasObservableFailure(b Block) bool {
	for _, el := range b {
		switch v := el.(type) {
		case *FlatElement:
			if v.Op == OpCall || v.Op == OpFail || v.Op == OpRule {
				return true
			}
		case *CondElement:
			if blockHasObservableFailure(v.Then) || blockHasObservableFailure(v.Else) {
				return true
			}
		case *LoopElement:
			if blockHasObservableFailure(v.Body) {
				return true
			}
		}
	}
	return false
}

// collapseSilentFailsPairs implements the bytecode format's
// SILENT_FAILS_ON/OFF collapse: a balanced pair whose interior never
// invokes anything that can report a failure has no observable effect.
func collapseSilentFailsPairs(block *Block) bool {
	b := *block
	changed := false
	for a := 0; a < len(b); a++ {
		fe, ok := b[a].(*FlatElement)
		if !ok || fe.Op != OpSilentFailsOn {
			continue
		}
		depth := 1
		closeIdx := -1
		for k := a + 1; k < len(b); k++ {
			kf, ok := b[k].(*FlatElement)
			if !ok {
				continue
			}
			switch kf.Op {
			case OpSilentFailsOn:
				depth++
			case OpSilentFailsOff:
				depth--
				if depth == 0 {
					closeIdx = k
				}
			}
			if closeIdx != -1 {
				break
			}
		}
		if closeIdx == -1 || blockHasObservableFailure(b[a+1:closeIdx]) {
			continue
		}
		b[a] = &FlatElement{Op: OpPopN, Args: []int{0}}
		b[closeIdx] = &FlatElement{Op: OpPopN, Args: []int{0}}
		changed = true
	}
	*block = b
	return changed
}
