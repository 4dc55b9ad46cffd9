package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/tabsd/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to out
func NewErrorHandler(verbose bool, out io.Writer) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// hints maps error codes to what the user can do about them.
var hints = map[errors.ErrorCode]string{
	errors.ErrCodeConfigNotFound:    "Create tabsd.yml in the config directory ('tabsd paths' shows where) or pass --config.",
	errors.ErrCodeConfigValidation:  "Run 'tabsd config validate' for details and 'tabsd config schema' for the accepted keys.",
	errors.ErrCodeDaemonNotRunning:  "Start it with 'tabsd daemon start'.",
	errors.ErrCodeSessionNotFound:   "Create the session first with 'tabsd session new'.",
	errors.ErrCodeIdentityMismatch:  "Sessions can only be used by the user that created them.",
	errors.ErrCodePermissionDenied:  "Admin commands must run as the user the daemon runs as.",
	errors.ErrCodeRateLimited:       "Too many speculative requests; wait for the window to pass or ask an admin to run 'tabsd throttle reset'.",
	errors.ErrCodeBanned:            "The uid stays banned until an admin runs 'tabsd throttle reset'.",
	errors.ErrCodeBackgroundCaller:  "Warmup is only accepted from a foreground process or an allow-listed uid.",
	errors.ErrCodePolicyDenied:      "Call 'tabsd warmup' before predicting launches.",
}

// Handle prints err with a hint based on its code and returns it unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	t := DefaultTheme
	red := lipgloss.NewStyle().Bold(true).Foreground(t.Colors.Red)

	code := errors.GetCode(err)
	fmt.Fprintf(h.Out, "%s %v\n", red.Render("Error:"), err)
	if hint, ok := hints[code]; ok {
		fmt.Fprintln(h.Out, t.Muted.Render(hint))
	}

	// If verbose mode, show full error details
	if h.Verbose {
		if tabsErr, ok := err.(*errors.TabsError); ok {
			fmt.Fprintf(h.Out, "\nError details:\n%s\n", tabsErr.ToJSON())
		}
	}
	return err
}
