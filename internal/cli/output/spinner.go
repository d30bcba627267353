package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Spinner displays a progress animation while a command waits on the
// network. On anything but a terminal it stays silent until it finishes.
type Spinner struct {
	w io.Writer
	s *spinner.Spinner
}

// NewSpinner creates a spinner writing to w. Animation is enabled only
// when w is a terminal and enabled is true.
func NewSpinner(w io.Writer, message string, enabled bool) *Spinner {
	sp := &Spinner{w: w}
	if f, ok := w.(*os.File); ok && enabled && IsTerminal(f) {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(f))
		s.Suffix = " " + message
		_ = s.Color("cyan")
		sp.s = s
	}
	return sp
}

// Start starts the animation.
func (s *Spinner) Start() {
	if s.s != nil {
		s.s.Start()
	}
}

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() {
	if s.s != nil {
		s.s.Stop()
	}
}

// Success stops the spinner with a success message.
func (s *Spinner) Success(format string, args ...any) {
	s.Stop()
	fmt.Fprintf(s.w, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// Fail stops the spinner with a failure message.
func (s *Spinner) Fail(format string, args ...any) {
	s.Stop()
	fmt.Fprintf(s.w, "%s %s\n", color.RedString("✗"), fmt.Sprintf(format, args...))
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
