// Package checksum implements the integrity codec shared by every storage
// mode.
//
// A variable set is canonicalized by sorting names byte-wise and rendering
// each entry as name=<value as a JSON string literal>, joined with "\n".
// The checksum is the hex-encoded SHA-256 of that string. String quoting
// follows ECMAScript JSON.stringify exactly (no HTML escaping, U+2028 and
// U+2029 emitted verbatim) so checksums match those computed by other
// cfenv implementations for the same variables.
package checksum
