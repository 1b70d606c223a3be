// Package core provides the foundational conversation types shared by every
// other package of the smart-home agent runtime:
//
//   - Message, a closed tagged variant (system, user, assistant text,
//     assistant tool request, tool result)
//   - ToolCallRef / ToolResult, the pairing records between a model request
//     and the answer produced by a tool
//   - Transcript, the append-only ordered log owned by exactly one agent
//   - IterationLimiter, the per-turn bound on tool-triggered round trips
//
// The package has no knowledge of providers, tools or sessions; it only defines
// the data that flows between them.
package core
