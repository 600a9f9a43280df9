package pegopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runPeephole runs block with the peephole visitors installed; seed, if
// given, is the stack already present when the block starts.
func runPeephole(t *testing.T, block Block, seed ...Value) (Block, *State) {
	t.Helper()
	s := NewState("r", nil, NewPeepholeVisitors())
	s.Stack = append(s.Stack, seed...)
	_, err := s.run(&block)
	require.NoError(t, err)
	return block, s
}

func TestDeadPushPopFusion(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushNull},
		&FlatElement{Op: OpPop},
	}
	out, _ := runPeephole(t, block)
	assert.Empty(t, out)
}

func TestDeadPushPopNFusionReducesCount(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPushNull},
		&FlatElement{Op: OpPopN, Args: []int{2}},
	}
	out, s := runPeephole(t, block)
	require.Len(t, out, 2)
	assert.Equal(t, OpPushUndefined, out[0].Opcode())
	assert.Equal(t, OpPopN, out[1].Opcode())
	assert.Empty(t, s.Stack)
}

func TestPushNipSwap(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushNull},
		&FlatElement{Op: OpNip},
	}
	out, _ := runPeephole(t, block, valUndefined())
	require.Len(t, out, 2)
	assert.Equal(t, OpPop, out[0].Opcode())
	assert.Equal(t, OpPushNull, out[1].Opcode())
}

func TestCallNipFusesIntoArity(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpCall, Args: []int{9, 1, 1, 0}},
		&FlatElement{Op: OpNip},
	}
	out, _ := runPeephole(t, block, valUndefined())
	require.Len(t, out, 2)
	call, ok := out[1].(*FlatElement)
	require.True(t, ok)
	assert.Equal(t, OpCall, call.Op)
	assert.Equal(t, 2, call.Args[1])
}

func TestWrapMultiNipBecomesPluck(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpWrap, Args: []int{3}},
		&FlatElement{Op: OpNip},
	}
	out, _ := runPeephole(t, block, valUndefined())
	last := out[len(out)-1]
	fe, ok := last.(*FlatElement)
	require.True(t, ok)
	assert.Equal(t, OpPluck, fe.Op)
	assert.Equal(t, []int{4, 3, 0, 1, 2}, fe.Args)
}

func TestPopThenSingletonPushElided(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPop},
		&FlatElement{Op: OpPushUndefined},
	}
	out, _ := runPeephole(t, block, valUndefined())
	assert.Empty(t, out)
}

func TestPopThenSingletonPushNotElidedOnTagMismatch(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPop},
		&FlatElement{Op: OpPushUndefined},
	}
	out, _ := runPeephole(t, block, valNull())
	require.Len(t, out, 2)
}

func TestRedundantSilentFailsOnDeleted(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpSilentFailsOn},
		&FlatElement{Op: OpSilentFailsOn},
		&FlatElement{Op: OpSilentFailsOff},
		&FlatElement{Op: OpSilentFailsOff},
	}
	out, _ := runPeephole(t, block)
	var ops []Op
	for _, el := range out {
		ops = append(ops, el.Opcode())
	}
	assert.Equal(t, []Op{OpSilentFailsOn, OpSilentFailsOff}, ops)
}

func TestTextSurvivesFollowingNoOpPopN(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushCurrPos},
		&FlatElement{Op: OpText},
		&FlatElement{Op: OpPopN, Args: []int{0}},
		&FlatElement{Op: OpPopN, Args: []int{0}},
		&FlatElement{Op: OpWrap, Args: []int{1}},
	}
	out, _ := runPeephole(t, block)
	require.Len(t, out, 3)
	assert.Equal(t, OpPushCurrPos, out[0].Opcode())
	assert.Equal(t, OpText, out[1].Opcode())
	assert.Equal(t, OpWrap, out[2].Opcode())
}

func TestNipDowngradeNotTriggeredByNoOpPopN(t *testing.T) {
	// WRAP 0 has no dedicated push/NIP swap rule of its own (unlike every
	// other producer), so the NIP here reaches its own preInterp call
	// instead of being absorbed by a producer-specific rule first.
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpWrap, Args: []int{0}},
		&FlatElement{Op: OpNip},
		&FlatElement{Op: OpPopN, Args: []int{0}},
	}
	out, _ := runPeephole(t, block)
	require.Len(t, out, 3)
	assert.Equal(t, OpPushUndefined, out[0].Opcode())
	assert.Equal(t, OpWrap, out[1].Opcode())
	assert.Equal(t, OpNip, out[2].Opcode())
}

func TestWrapSurvivesFollowingNoOpPopN(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpWrap, Args: []int{2}},
		&FlatElement{Op: OpPopN, Args: []int{0}},
	}
	out, _ := runPeephole(t, block)
	require.Len(t, out, 3)
	assert.Equal(t, OpWrap, out[2].Opcode())
}

func TestDeadPushNotFusedWithNoOpPopN(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushNull},
		&FlatElement{Op: OpPopN, Args: []int{0}},
	}
	out, _ := runPeephole(t, block)
	require.Len(t, out, 1)
	assert.Equal(t, OpPushNull, out[0].Opcode())
}

func TestConditionalBothBranchesPopsOnlyCollapses(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPushUndefined},
		&CondElement{
			Op:   OpIfError,
			Then: Block{&FlatElement{Op: OpPop}},
			Else: Block{&FlatElement{Op: OpPop}},
		},
	}
	out, _ := runPeephole(t, block)
	require.Len(t, out, 3)
	assert.Equal(t, OpPop, out[2].Opcode())
}
