// Package protocol owns the error taxonomy shared by the wire layers.
//
// Ownership boundary:
// - wire: cursor primitives and versioned struct envelopes
// - osd: cluster identity value types
// - subopreply: sub-op reply envelope and codec
// - frame/schema/session: transport-facing envelope and correlation
package protocol
