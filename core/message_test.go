package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessage_Roles(t *testing.T) {
	tests := []struct {
		role    Role
		kind    Kind
		wantErr bool
	}{
		{RoleSystem, KindSystem, false},
		{RoleUser, KindUser, false},
		{RoleAssistant, KindAssistantText, false},
		{RoleTool, "", true},
		{Role("robot"), "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			m, err := NewMessage(tt.role, "x")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMessage)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.kind, m.Kind)
			assert.Equal(t, tt.role, m.Role())
		})
	}
}

func TestMessage_Validate(t *testing.T) {
	assert.NoError(t, ToolRequest(ToolCallRef{ID: "1", Name: "n"}).Validate())
	assert.Error(t, ToolRequest(ToolCallRef{Name: "n"}).Validate())
	assert.Error(t, Message{Kind: KindToolResult}.Validate())
	assert.Error(t, Message{Kind: "bogus"}.Validate())
	assert.Error(t, Message{Kind: KindUser, Result: &ToolResult{CallID: "x"}}.Validate())
}

func TestMessage_Text(t *testing.T) {
	assert.Equal(t, "out", ToolResultMessage("1", "n", "out").Text())
	assert.Equal(t, "hi", UserMessage("hi").Text())
	assert.Equal(t, RoleTool, ToolResultMessage("1", "n", "out").Role())
}

func TestIterationLimiter(t *testing.T) {
	l := NewIterationLimiter(0)
	assert.Equal(t, DefaultMaxIterations, l.Max())
	for i := 0; i < DefaultMaxIterations; i++ {
		assert.False(t, l.Exhausted())
		l.Increment()
	}
	assert.True(t, l.Exhausted())
	assert.Equal(t, 0, l.Remaining())
	assert.Equal(t, DefaultMaxIterations, l.Count())
}
