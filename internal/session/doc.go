// Package session owns the single bidirectional stream to the sync server.
//
// A Session opens its stream lazily: the first Reset, Resume, SendAction or
// Acknowledge goes through ensureOpen, and every later call reuses the same
// stream. There is never more than one stream per Session.
//
// Inbound messages are delivered in arrival order to the one Subscriber,
// from a single receive goroutine. When the stream breaks the Session moves
// to StateFailed, reports the error to the Subscriber once, and refuses
// further operations. Reconnecting means creating a new Session; that policy
// belongs to the host.
//
// Transports plug in through Opener: GRPCOpener, WebSocketOpener, and
// MemoryTransport for in-process use.
package session
