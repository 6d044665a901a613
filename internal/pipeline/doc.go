// Package pipeline turns user intents into outbound action requests and
// inbound server messages into reconciler envelopes.
//
// Every intent is applied optimistically to the store before the request
// is handed to the ActionSender. Nothing waits for the server: the effect
// of an action is confirmed only when a later ActionResponse is reconciled.
//
// Counters that are not yet confirmed have no server ID to address. Actions
// against them are applied locally and deferred; Reconciled flushes them
// once the create is promoted. A delete of an unconfirmed counter sends
// nothing and instead tombstones the correlation ID, so the later
// confirmation turns into a Delete for the assigned server ID.
package pipeline
