// Package pay defines the payment descriptor value object and the
// content-addressed identity scheme built on RFC 8785 canonical JSON.
//
// A payment descriptor is immutable: its identity is a SHA-256 hash (with
// domain separation) over the canonical serialization of all fields. Two
// descriptors with identical fields are the same payment, and all per-payment
// state elsewhere in the system is keyed by this hash.
//
// The constrained Value types (String, Int, Bool, Array, Object) exist so
// that everything feeding a hash is deterministic by construction: no floats,
// no nulls, keys ordered by UTF-16 code units, strings NFC normalized.
package pay
