// Package entity defines the synchronized counter model shared by the store,
// the reconciler and the action pipeline.
//
// # Identity
//
// Every counter carries two identifiers:
//   - CorrelationID: generated on the device when the counter is created.
//     It never changes and is the only handle on a counter the server has
//     not confirmed yet.
//   - ServerID: assigned by the server. Zero until the create is confirmed,
//     immutable afterwards.
//
// # Logical Time
//
// LocalSeq and ServerSeq record the two logical clocks that last wrote a
// counter: the intent clock (optimistic local mutations) and the truth clock
// (server events). Neither is a wall-clock value.
package entity
