package pegopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFlattenRoundTrip(t *testing.T) {
	flat := []int{
		int(OpPushCurrPos),
		int(OpIf), 0, 2,
		int(OpPop),
		int(OpPushNull),
		int(OpPop),
	}
	block, err := Format("r", flat)
	require.NoError(t, err)
	require.Len(t, block, 3)

	out, err := Flatten("r", block)
	require.NoError(t, err)
	assert.Equal(t, flat, out)
}

func TestFormatLoop(t *testing.T) {
	flat := []int{
		int(OpWhileNotError), 1,
		int(OpPop),
	}
	block, err := Format("r", flat)
	require.NoError(t, err)
	require.Len(t, block, 1)
	loop, ok := block[0].(*LoopElement)
	require.True(t, ok)
	assert.Len(t, loop.Body, 1)

	out, err := Flatten("r", block)
	require.NoError(t, err)
	assert.Equal(t, flat, out)
}

func TestFormatVariableArity(t *testing.T) {
	flat := []int{
		int(OpPluck), 3, 2, 0, 1,
		int(OpCall), 5, 1, 1, 0,
		int(OpAcceptString), 2, 'h', 'i',
	}
	block, err := Format("r", flat)
	require.NoError(t, err)
	require.Len(t, block, 3)

	out, err := Flatten("r", block)
	require.NoError(t, err)
	assert.Equal(t, flat, out)
}

func TestFormatUnknownOpcode(t *testing.T) {
	_, err := Format("r", []int{999})
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidOpcode, rerr.Err)
}

func TestFormatTruncatedConditional(t *testing.T) {
	_, err := Format("r", []int{int(OpIf), 0})
	require.Error(t, err)
	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	assert.Equal(t, ErrMalformedTree, rerr.Err)
}

func TestFlattenRejectsBadArgCount(t *testing.T) {
	block := Block{&FlatElement{Op: OpPopN, Args: []int{1, 2}}}
	_, err := Flatten("r", block)
	require.Error(t, err)
}
