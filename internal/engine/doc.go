// Package engine implements the countersync sync loop.
//
// The engine owns the entity store and wires the reconciler, the action
// pipeline and a sync session together.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All store writes happen on the goroutine running Engine.Run. This ensures:
// - A local intent never interleaves with the application of a batch
// - Follow-up actions (deferred flushes, cancelled deletes) go out in order
// - A batch is acknowledged only after it is fully applied
//
// Event Processing Flow:
// 1. The session enqueues every inbound message; callers enqueue intents
// 2. Engine.Run dequeues events one at a time
// 3. processEvent routes to the intent or message handler
// 4. Messages are classified, checked against the journal, applied, then acknowledged
// 5. The pipeline reacts to the outcome and sends follow-up actions
//
// A broken stream ends Run with a stream RuntimeError but keeps the queue
// open, so the host can reconnect by calling Run with a new session. A
// reconnect resumes after the last acknowledged batch; a fresh engine
// always starts with a reset because the store lives in memory.
//
// Two logical clocks stamp seq values: the intent clock for local intents
// and the truth clock for applied envelopes. Wall-clock time is only used
// for staleness of pending creates.
package engine
