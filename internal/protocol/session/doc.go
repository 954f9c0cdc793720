// Package session owns the transport-facing side of sub-op replies.
//
// Ownership boundary:
// - reply frame encode/decode (frame header <-> subopreply.Envelope)
// - correlation of replies with pending sub-ops by tid
// - the caller-side invariants a reply must satisfy (epoch, replica,
//   last_complete_ondisk monotonicity)
package session
