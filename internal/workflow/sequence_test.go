package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepSequenceOrdersByPosition(t *testing.T) {
	seq, err := NewStepSequence([]ProductStep{
		{ProductID: "p", StepID: "c", Position: 30},
		{ProductID: "p", StepID: "a", Position: 0},
		{ProductID: "p", StepID: "b", Position: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())

	first, ok := seq.First()
	require.True(t, ok)
	assert.Equal(t, "a", first.StepID)

	next, ok, err := seq.Next("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", next.StepID, "gaps in positions are skipped")

	_, ok, err = seq.Next("c")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = seq.Next("z")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStepSequenceRejectsBadConfiguration(t *testing.T) {
	_, err := NewStepSequence([]ProductStep{
		{ProductID: "p", StepID: "a", Position: 1},
		{ProductID: "p", StepID: "b", Position: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewStepSequence([]ProductStep{
		{ProductID: "p", StepID: "a", Position: 1},
		{ProductID: "p", StepID: "a", Position: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestStepSequenceEmpty(t *testing.T) {
	seq, err := NewStepSequence(nil)
	require.NoError(t, err)
	_, ok := seq.First()
	assert.False(t, ok)
}

func TestCapabilities(t *testing.T) {
	v, err := AgentVerificateur.Capability()
	require.NoError(t, err)
	assert.Equal(t, Capability{StepType: StepTypeClient}, v)

	c, err := AgentCreateur.Capability()
	require.NoError(t, err)
	assert.Equal(t, Capability{StepType: StepTypeAdmin, RequiresReadiness: true, AutoApprove: true}, c)

	_, err = AgentType("juriste").Capability()
	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, StepType("OTHER").Valid())
}
