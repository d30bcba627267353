package envfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/cfenv-go/internal/core/domain"
)

// Format is an output format for a variable set.
type Format string

// Supported formats.
const (
	FormatDotenv Format = "dotenv"
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
)

// ParseFormat parses a format name. "env" is accepted for dotenv and
// "yml" for yaml.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "dotenv", "env":
		return FormatDotenv, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", domain.ErrInvalidArgument.WithDetailsf("unknown format %q, use dotenv, json or yaml", raw)
	}
}

// Parse reads dotenv content and validates every variable name.
func Parse(r io.Reader) (domain.Env, error) {
	values, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	env := domain.Env(values)
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Read parses the dotenv file at path.
func Read(path string) (domain.Env, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// Marshal renders env as dotenv text, sorted by name, with a trailing
// newline. Values are double-quoted with escapes so that Parse returns
// them unchanged. A value ending in a double quote is single-quoted and
// one ending in a backslash is written bare, because the parser treats a
// quote after a backslash as escaped and trims trailing quote characters.
// Values that fit none of these forms are rejected.
func Marshal(env domain.Env) (string, error) {
	if len(env) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, name := range env.Names() {
		value, err := quoteValue(env[name])
		if err != nil {
			return "", domain.ErrInvalidArgument.WithDetailsf("%s: %v", name, err)
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// quoteValue picks a quoting that godotenv parses back to v.
func quoteValue(v string) (string, error) {
	switch {
	case !strings.HasSuffix(v, `\`) && !strings.HasSuffix(v, `"`):
		return doubleQuote(v), nil
	case strings.HasSuffix(v, `"`) && !strings.ContainsAny(v, "'\r"):
		// Single-quoted text is literal. Line endings are normalized
		// before parsing, so a carriage return cannot survive.
		return "'" + v + "'", nil
	case bareSafe(v):
		return v, nil
	default:
		return "", errors.New("value cannot be represented in a dotenv file")
	}
}

func doubleQuote(v string) string {
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for _, r := range v {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '$':
			b.WriteString(`\$`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// bareSafe reports whether v survives as an unquoted value: no
// surrounding space, no line break, no expansion or comment marker and
// no leading quote.
func bareSafe(v string) bool {
	if v == "" || strings.ContainsAny(v, "\r\n$#") {
		return false
	}
	if v[0] == '\'' || v[0] == '"' {
		return false
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return !unicode.IsSpace(first) && !unicode.IsSpace(last)
}

// Render encodes env in the given format.
func Render(env domain.Env, format Format) ([]byte, error) {
	if env == nil {
		env = domain.Env{}
	}
	switch format {
	case FormatDotenv:
		out, err := Marshal(env)
		return []byte(out), err
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(env); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		if len(env) == 0 {
			return []byte("{}\n"), nil
		}
		return yaml.Marshal(map[string]string(env))
	default:
		return nil, domain.ErrInvalidArgument.WithDetailsf("unknown format %q", format)
	}
}
