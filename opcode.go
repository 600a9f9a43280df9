package pegopt

// Op is one instruction in the flat opcode stream. Numbering is local
// to this package's own self-contained encoding: in a real deployment
// the numbering would be an external compatibility boundary shared
// with a host VM and code generator, but since this package has no
// such external host, it owns its own table end to end (format.go
// never reads a numbering from anywhere else).
type Op int

const (
	// Push/const, one push each.
	OpPushEmptyString Op = iota
	OpPushCurrPos
	OpPushUndefined
	OpPushNull
	OpPushFailed
	OpPushEmptyArray

	// Stack manipulation.
	OpPop
	OpPopN
	OpNip
	OpPluck
	OpWrap
	OpAppend
	OpText

	// Position.
	OpPopCurrPos
	OpAcceptN
	OpAcceptString
	OpLoadSavedPos
	OpUpdateSavedPos

	// Failure.
	OpFail
	OpSilentFailsOn
	OpSilentFailsOff

	// Invocation.
	OpCall
	OpRule

	// Conditionals, 0 flag args.
	OpIf
	OpIfError
	OpIfNotError
	OpMatchAny

	// Conditionals, 1 flag arg.
	OpIfLT
	OpIfGE
	OpIfLTDynamic
	OpIfGEDynamic
	OpMatchString
	OpMatchStringIC
	OpMatchCharClass

	// Loop.
	OpWhileNotError

	// Source-map annotations: no semantic effect, pass through.
	OpSourceMapPush
	OpSourceMapPop
	OpSourceMapLabelPush
	OpSourceMapLabelPop

	opCount
)

var opNames = [opCount]string{
	OpPushEmptyString:    "PUSH_EMPTY_STRING",
	OpPushCurrPos:        "PUSH_CURR_POS",
	OpPushUndefined:      "PUSH_UNDEFINED",
	OpPushNull:           "PUSH_NULL",
	OpPushFailed:         "PUSH_FAILED",
	OpPushEmptyArray:     "PUSH_EMPTY_ARRAY",
	OpPop:                "POP",
	OpPopN:               "POP_N",
	OpNip:                "NIP",
	OpPluck:              "PLUCK",
	OpWrap:               "WRAP",
	OpAppend:             "APPEND",
	OpText:               "TEXT",
	OpPopCurrPos:         "POP_CURR_POS",
	OpAcceptN:            "ACCEPT_N",
	OpAcceptString:       "ACCEPT_STRING",
	OpLoadSavedPos:       "LOAD_SAVED_POS",
	OpUpdateSavedPos:     "UPDATE_SAVED_POS",
	OpFail:               "FAIL",
	OpSilentFailsOn:      "SILENT_FAILS_ON",
	OpSilentFailsOff:     "SILENT_FAILS_OFF",
	OpCall:               "CALL",
	OpRule:               "RULE",
	OpIf:                 "IF",
	OpIfError:            "IF_ERROR",
	OpIfNotError:         "IF_NOT_ERROR",
	OpMatchAny:           "MATCH_ANY",
	OpIfLT:               "IF_LT",
	OpIfGE:               "IF_GE",
	OpIfLTDynamic:        "IF_LT_DYNAMIC",
	OpIfGEDynamic:        "IF_GE_DYNAMIC",
	OpMatchString:        "MATCH_STRING",
	OpMatchStringIC:      "MATCH_STRING_IC",
	OpMatchCharClass:     "MATCH_CHAR_CLASS",
	OpWhileNotError:      "WHILE_NOT_ERROR",
	OpSourceMapPush:      "SOURCE_MAP_PUSH",
	OpSourceMapPop:       "SOURCE_MAP_POP",
	OpSourceMapLabelPush: "SOURCE_MAP_LABEL_PUSH",
	OpSourceMapLabelPop:  "SOURCE_MAP_LABEL_POP",
}

// String implements fmt.Stringer for readable trace output.
func (op Op) String() string {
	if op < 0 || op >= opCount {
		return "INVALID_OPCODE"
	}
	return opNames[op]
}

// Valid reports whether op is a known opcode.
func (op Op) Valid() bool {
	return op >= 0 && op < opCount
}

type category uint8

const (
	catFlat category = iota
	catCond0
	catCond1
	catLoop
)

var opCategory = [opCount]category{
	OpIf:             catCond0,
	OpIfError:        catCond0,
	OpIfNotError:     catCond0,
	OpMatchAny:       catCond0,
	OpIfLT:           catCond1,
	OpIfGE:           catCond1,
	OpIfLTDynamic:    catCond1,
	OpIfGEDynamic:    catCond1,
	OpMatchString:    catCond1,
	OpMatchStringIC:  catCond1,
	OpMatchCharClass: catCond1,
	OpWhileNotError:  catLoop,
}

// IsConditional reports whether op is one of the two conditional
// categories.
func (op Op) IsConditional() bool {
	c := opCategory[op]
	return c == catCond0 || c == catCond1
}

// IsLoop reports whether op is the loop opcode.
func (op Op) IsLoop() bool {
	return opCategory[op] == catLoop
}

// conditionalArgCount returns 0 or 1, the number of flag arguments a
// conditional opcode carries ahead of its two child blocks. Calling it
// on a non-conditional opcode is a programmer error and panics.
func conditionalArgCount(op Op) int {
	switch opCategory[op] {
	case catCond0:
		return 0
	case catCond1:
		return 1
	default:
		panic("pegopt: conditionalArgCount called on non-conditional opcode " + op.String())
	}
}

// opFixedArity gives the operand count of opcodes whose arity never
// depends on an earlier operand. -1 marks a variable-arity opcode,
// handled explicitly in format.go.
var opFixedArity = [opCount]int{
	OpPushEmptyString: 0,
	OpPushCurrPos:     0,
	OpPushUndefined:   0,
	OpPushNull:        0,
	OpPushFailed:      0,
	OpPushEmptyArray:  0,
	OpPop:             0,
	OpPopN:            1,
	OpNip:             0,
	OpPluck:           -1,
	OpWrap:            1,
	OpAppend:          0,
	OpText:            0,
	OpPopCurrPos:      0,
	OpAcceptN:         1,
	OpAcceptString:    -1,
	OpLoadSavedPos:    1,
	OpUpdateSavedPos:  0,
	OpFail:            1,
	OpSilentFailsOn:   0,
	OpSilentFailsOff:  0,
	OpCall:            -1,
	OpRule:            1,

	OpSourceMapPush:      0,
	OpSourceMapPop:       0,
	OpSourceMapLabelPush: -1,
	OpSourceMapLabelPop:  0,
}

// isSlotKiller reports whether op discards one or more stack slots
// without inspecting their values, the "slot killer" category the
// peephole and dead-slot passes both key off of.
func isSlotKiller(op Op) bool {
	return op == OpPop || op == OpPopN || op == OpNip
}

// discardCount returns how many stack slots a slot-killer instruction
// with the given decoded args removes.
func discardCount(op Op, args []int) int {
	switch op {
	case OpPop:
		return 1
	case OpNip:
		return 1
	case OpPopN:
		return args[0]
	default:
		return 0
	}
}
