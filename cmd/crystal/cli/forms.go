package cli

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// NewAccessibleForm builds a huh form that honors the ACCESSIBLE environment
// variable, falling back to plain text prompts for screen readers.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(os.Getenv("ACCESSIBLE") != "")
}

// isInteractive reports whether stdin is attached to a terminal. Commands
// that would prompt fall back to non-interactive behavior when it is not.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
