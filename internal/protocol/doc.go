// Package protocol implements the wire framing shared by every TCP
// connection in the system (spec.md §6): control (coordinator↔node),
// worker (coordinator↔node worker pool), delivery (node↔node and
// client↔node payload streaming), and client (user↔coordinator).
//
// Every message is `uint8 kind | uint32 length_be | length bytes of
// body`. Scalars inside a body are big-endian (`uint8`, `uint32`,
// `uint64`, IEEE-754 `double`); strings are `uint32 length | utf-8
// bytes`; a `cube<N>` is 2N doubles; a `vector<T>` is `uint64 count |
// count*T`. Each connection opens with a 4-byte magic identifying its
// role, before any framed message.
//
// Codec reads a whole frame into an immutable buffer and hands back a
// Decoder positioned at the body, rather than decoding fields in place
// off the socket — this keeps partial-read bugs out of every message
// type's decode logic, at the cost of buffering one frame at a time.
package protocol
