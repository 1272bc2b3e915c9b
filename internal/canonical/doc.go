// Package canonical builds the deterministic fiscal payload that feeds the
// chain fingerprint. Two render paths exist over the same numbers: an ordered
// key=value string for the legacy hash, and a structured record whose bytes
// are canonicalized with RFC 8785 (JCS) in the primary hash path.
//
// All monetary arithmetic is decimal, rounded to 2 places half away from
// zero, and formatted with '.' regardless of locale. Identical invoice
// content, previous fingerprint, and freeze timestamp always produce
// byte-identical output.
package canonical
