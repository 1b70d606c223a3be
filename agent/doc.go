// Package agent binds a model provider, a tool registry and a transcript
// into a conversational agent.
//
// An Agent runs one turn at a time. Stream starts a turn and returns a Turn
// whose Fragments sequence yields text as the model produces it; Run does the
// same and collects the result. Between and during turns other agents of the
// same session can hand messages to an agent with Deliver:
//
//   - while idle the message is appended to the transcript right away
//   - while a turn is running it is queued and appended after the current
//     iteration's tool results; an assistant message ends the turn without
//     another model request
//
// After every turn the agent snapshot is handed to the configured
// session.Sink.
package agent
