// Package session coordinates the agents that take part in one conversation.
//
// A Session tracks a primary agent and any number of subagents. Subagents
// reach the primary transcript only through InjectIntoPrimary, which hands a
// message to the primary's Deliver method; the owning agent appends it at a
// safe point of its own loop.
//
// Snapshots of agents and sessions are persisted through a Sink. FileSink
// writes JSON documents, SQLiteSink stores rows in a local database and
// InMemorySink keeps clones for tests.
package session
