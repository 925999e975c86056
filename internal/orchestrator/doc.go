// Package orchestrator owns conversation identity and the turn lifecycle.
//
// A turn moves through Created -> Streaming -> Committed or Failed. The
// orchestrator resolves (or creates) the conversation, records the user
// message before any upstream call, streams model output to the caller while
// accumulating it, and commits the final assistant message when the stream
// ends. On failure or cancellation the partial accumulation is committed
// with status partial-failed before the error reaches the caller, so
// history always matches what the user saw on screen.
//
// # Concurrency
//
// At most one turn is active per conversation id. A second SubmitTurn for a
// busy conversation fails with ErrConversationBusy before any side effect.
// Queuing was considered and rejected: the caller already holds the only
// live stream for the conversation, so a queued turn could only wait behind
// output its user has not seen yet. Turns on different conversations never
// block each other.
//
// The Broadcaster fans conversation lifecycle notifications out to
// subscribed clients (created, deleted, message added, summary updated) so
// they can refresh without polling.
package orchestrator
