// Package journal is the durable record kept next to the in-memory store.
//
// It remembers two things across restarts:
//   - which batches were acknowledged, so a session can resume from the
//     newest one and skip batches the server redelivers anyway
//   - which actions were sent and whether the server confirmed them
//
// The journal is SQLite in WAL mode with a single connection. Only the
// engine loop writes to it.
package journal
