// Package store holds the in-memory collection of synchronized counters.
//
// No operation fails because an entity is missing. Remote events race with
// local deletions, so a miss is reported as a false return value and the
// caller decides whether to log it.
//
// Order is insertion order, which is the order a list UI shows. ReplaceAll
// takes the order of the snapshot it is given.
//
// Only the reconciler writes to a Store. Everyone else reads through the
// Reader interface.
package store
