// Package snapshot encodes the immutable records written in snapshot
// storage mode.
//
// A snapshot is a JSON document holding a version id, the link scope, the
// integrity checksum and the full variable set. When encryption is
// requested the JSON is wrapped in a self-describing envelope:
//
//	{
//	  "format": "cfenv-aes-256-gcm-v1",
//	  "kdf": "scrypt",
//	  "saltB64": "...",       // 16 random bytes
//	  "ivB64": "...",         // 12 random bytes
//	  "authTagB64": "...",    // 16 bytes
//	  "ciphertextB64": "..."
//	}
//
// A payload is treated as encrypted only when it parses as JSON with this
// exact shape and a known format/kdf pair; anything else is plaintext.
//
// Version ids are a UTC millisecond stamp (YYYYMMDDHHMMSSmmm) followed by
// eight random hex characters, so lexicographic order follows creation
// order.
package snapshot
