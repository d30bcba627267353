package output

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// Status prints prefixed, colored status lines.
type Status struct {
	w     io.Writer
	quiet bool
}

// NewStatus returns a Status writing to w. A quiet Status only prints
// warnings.
func NewStatus(w io.Writer, quiet bool) *Status {
	return &Status{w: w, quiet: quiet}
}

// Success prints a green check line.
func (s *Status) Success(format string, args ...any) {
	if s.quiet {
		return
	}
	fmt.Fprintf(s.w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// Info prints an arrow line.
func (s *Status) Info(format string, args ...any) {
	if s.quiet {
		return
	}
	fmt.Fprintf(s.w, "%s %s\n", color.CyanString("→"), fmt.Sprintf(format, args...))
}

// Warn prints a yellow warning line.
func (s *Status) Warn(format string, args ...any) {
	fmt.Fprintf(s.w, "%s %s\n", color.YellowString("!"), fmt.Sprintf(format, args...))
}

// Highlight returns s in the accent color.
func Highlight(s string) string {
	return color.YellowString(s)
}

// Bytes formats a size, e.g. "1.2 kB".
func Bytes(n int) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// Ago formats t relative to now, e.g. "3 minutes ago". Zero times are "-".
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// Count formats n with a pluralized noun, e.g. "1 variable", "3 variables".
func Count(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), noun)
}
