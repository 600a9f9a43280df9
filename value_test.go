package pegopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionPreservesIdentityForSingleKind(t *testing.T) {
	id := identity(7)
	a := Value{Tag: TOffset, id: id}
	b := Value{Tag: TOffset, id: id}
	got := union(a, b)
	assert.Equal(t, TOffset, got.Tag)
	assert.Equal(t, id, got.id)
}

func TestUnionDropsIdentityOnMismatch(t *testing.T) {
	a := Value{Tag: TOffset, id: 1}
	b := Value{Tag: TOffset, id: 2}
	got := union(a, b)
	assert.Equal(t, TOffset, got.Tag)
	assert.Equal(t, identity(0), got.id)
}

func TestUnionDropsIdentityWhenTagWidens(t *testing.T) {
	a := Value{Tag: TOffset, id: 1}
	b := Value{Tag: TArray, id: 1}
	got := union(a, b)
	assert.Equal(t, TOffset|TArray, got.Tag)
	assert.Equal(t, identity(0), got.id)
}

func TestMustBeAndCouldBe(t *testing.T) {
	v := Value{Tag: TArray | TFailed}
	assert.True(t, mustBe(v, TArray|TFailed|TString))
	assert.False(t, mustBe(v, TArray))
	assert.True(t, couldBe(v, TArray))
	assert.True(t, couldBe(v, TString|TArray))
	assert.False(t, couldBe(v, TString))
}

func TestMustBeTrueFalse(t *testing.T) {
	assert.True(t, mustBeTrue(Value{Tag: TArray}))
	assert.True(t, mustBeTrue(Value{Tag: TFailed}))
	assert.False(t, mustBeTrue(Value{Tag: TArray | TNull}))
	assert.True(t, mustBeFalse(Value{Tag: TNull | TUndefined}))
	assert.False(t, mustBeFalse(Value{Tag: TNull | TArray}))
}

func TestEqualValue(t *testing.T) {
	assert.True(t, equalValue(Value{Tag: TOffset, id: 1}, Value{Tag: TOffset, id: 1}))
	assert.False(t, equalValue(Value{Tag: TOffset, id: 1}, Value{Tag: TOffset, id: 2}))
	assert.False(t, equalValue(Value{Tag: TOffset}, Value{Tag: TArray}))
}
