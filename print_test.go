package pegopt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceStateRecordsStackDeltas(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPushNull},
		&FlatElement{Op: OpPop},
	}
	deltas, err := traceState("r", block)
	require.NoError(t, err)

	assert.Equal(t, stackDelta{before: 0, after: 1}, deltas[block[0]])
	assert.Equal(t, stackDelta{before: 1, after: 2}, deltas[block[1]])
	assert.Equal(t, stackDelta{before: 2, after: 1}, deltas[block[2]])
}

func TestPrintAnnotatesStackDeltas(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpPushUndefined},
		&FlatElement{Op: OpPop},
	}
	out := Print("r", block)
	assert.Contains(t, out, "PUSH_UNDEFINED  (stack 0->1, +1)")
	assert.Contains(t, out, "POP  (stack 1->0, -1)")
}

func TestPrintDescendsIntoConditionalBranches(t *testing.T) {
	block := Block{
		&FlatElement{Op: OpRule, Args: []int{0}},
		&CondElement{
			Op:   OpIfError,
			Then: Block{&FlatElement{Op: OpPop}},
			Else: Block{&FlatElement{Op: OpPop}},
		},
	}
	out := Print("r", block)
	require.True(t, strings.Contains(out, "then"))
	require.True(t, strings.Contains(out, "else"))
	assert.Contains(t, out, "IF_ERROR  (stack 1->0, -1)")
}

func TestDumpFlatLinesStaysUnannotated(t *testing.T) {
	flat := []int{int(OpPushUndefined), int(OpPop)}
	lines := dumpFlatLines("r", flat)
	for _, line := range lines {
		assert.NotContains(t, line, "stack")
	}
}
