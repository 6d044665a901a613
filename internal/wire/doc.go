// Package wire holds the logical message shapes exchanged with the sync
// server over the Synchronize stream, plus the encodings this client needs
// to produce and consume them.
//
// Envelope messages (ClientMessage, ServerMessage) are plain structs that
// travel as JSON: over gRPC through the "json" codec registered by this
// package, over WebSocket as text frames. Entity bodies and action payloads
// are carried inside Any values using the proto3 wire format, so a decoding
// failure is scoped to one entity event.
package wire
