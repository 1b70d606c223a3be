package agent

import "time"

// InstructionContext is passed to dynamic instruction providers.
type InstructionContext struct {
	AgentID   string
	AgentType string
	Now       time.Time
}

// InstructionProvider supplies the system prompt when the agent is created.
type InstructionProvider interface {
	Instruction(ic InstructionContext) (string, error)
}

// InstructionFunc is a functional adapter to allow ordinary functions to be
// used as InstructionProviders.
type InstructionFunc func(ic InstructionContext) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(ic InstructionContext) (string, error) { return f(ic) }

// Instruction represents either a static instruction string or a dynamic provider.
type Instruction struct {
	text     string
	provider InstructionProvider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p InstructionProvider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ic InstructionContext) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ic InstructionContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ic)
	}
	return i.text, nil
}

// timeLayout renders the clock suffix appended by the IncludeTime option.
const timeLayout = "2006-01-02T15:04"

func withTime(text string, now time.Time) string {
	return text + " It is " + now.Format(timeLayout)
}
