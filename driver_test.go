package pegopt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizeBlockDropsDeadPushPop(t *testing.T) {
	flat := []int{
		int(OpPushNull),
		int(OpPop),
		int(OpPushUndefined),
	}
	out, err := OptimizeBlock("r", flat, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{int(OpPushUndefined)}, out)
}

func TestOptimizeBlockNoopOnSourceMapOutput(t *testing.T) {
	flat := []int{int(OpPushNull), int(OpPop)}
	out, err := OptimizeBlock("r", flat, nil, Options{Output: OutputSourceAndMap})
	require.NoError(t, err)
	assert.Equal(t, flat, out)
}

func TestOptimizeBlockReturnsInputUnchangedWhenNothingToDo(t *testing.T) {
	flat := []int{int(OpPushUndefined)}
	out, err := OptimizeBlock("r", flat, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, flat, out)
}

func TestOptimizeBlockLogsWhenRewritten(t *testing.T) {
	var buf bytes.Buffer
	flat := []int{
		int(OpPushNull),
		int(OpPop),
		int(OpPushUndefined),
	}
	_, err := OptimizeBlock("r", flat, nil, Options{Log: &buf, LogRuleName: "*"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "r")
}

func TestOptimizeBlockWarnsOnIterationCap(t *testing.T) {
	flat := []int{
		int(OpPushNull),
		int(OpPop),
		int(OpPushUndefined),
	}
	var warned *RuntimeError
	_, err := OptimizeBlock("r", flat, nil, Options{
		MaxOuterIterations: 1,
		Warn:               func(e *RuntimeError) { warned = e },
	})
	require.NoError(t, err)
	if warned != nil {
		assert.Equal(t, ErrOptimizerIterationCapExceeded, warned.Err)
	}
}
