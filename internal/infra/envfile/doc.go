// Package envfile reads and writes environment files.
//
// Parsing uses godotenv, so files follow the common dotenv dialect:
// comments, an optional "export " prefix, single quotes for literal values
// and double quotes with escapes. Unescaped "$NAME" references in unquoted
// or double-quoted values are expanded. Marshal quotes every value it can
// and escapes "$", so pulled files read back unchanged.
//
// Writes are atomic (temp file in the target directory, then rename) and
// produce 0600 files.
package envfile
