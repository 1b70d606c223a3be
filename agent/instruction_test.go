package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	assert.True(t, inst.IsStatic())

	got, err := inst.Resolve(InstructionContext{})
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_Func(t *testing.T) {
	inst := NewInstructionFromFunc(func(ic InstructionContext) (string, error) {
		return "You control the " + ic.AgentType + " devices.", nil
	})
	assert.False(t, inst.IsStatic())

	got, err := inst.Resolve(InstructionContext{AgentType: "zigbee"})
	require.NoError(t, err)
	assert.Equal(t, "You control the zigbee devices.", got)
}

func TestInstruction_ProviderError(t *testing.T) {
	inst := NewInstructionFromProvider(InstructionFunc(func(InstructionContext) (string, error) {
		return "", errors.New("boom")
	}))
	_, err := inst.Resolve(InstructionContext{})
	assert.EqualError(t, err, "boom")
}

func TestWithTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 18, 45, 12, 0, time.UTC)
	assert.Equal(t, "Be brief. It is 2025-06-01T18:45", withTime("Be brief.", now))
}
