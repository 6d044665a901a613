// Package reconcile merges the server's event stream into the local store.
//
// A Reconciler turns one Envelope into zero or more store mutations. Events
// inside an envelope are applied in listed order and the envelope is the
// unit of acknowledgement: Apply reports whether the batch should be
// acknowledged, and the caller sends the acknowledgement only after Apply
// returns.
//
// # Envelope Kinds
//
//   - Reset: the snapshot replaces the store. Creation records without a
//     body are skipped.
//   - Notification: creates append, updates overwrite by server ID, deletes
//     remove by server ID.
//   - ActionResponse: as Notification, except a create promotes the local
//     optimistic counter carrying the same correlation ID.
//
// # Tolerated Failures
//
// Events that reference unknown entities are soft misses. Bodies that do not
// decode as a counter skip that one event; the rest of the batch still
// applies. Neither aborts the batch.
//
// # Ownership
//
// The Reconciler is the only writer of its Store. Optimistic local changes
// go through AppendLocal, MutateLocal and RemoveLocal so that the same
// component owns both clocks of every counter.
package reconcile
