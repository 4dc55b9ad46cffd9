package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PrettyLogger writes styled, human oriented lines for CLI commands. It never
// writes to the component log files.
type PrettyLogger struct {
	writer io.Writer
	styles PrettyStyles
	pad    int
}

// PrettyStyles holds the lipgloss styles for each kind of line.
type PrettyStyles struct {
	Success lipgloss.Style
	Warning lipgloss.Style
	Key     lipgloss.Style
	Value   lipgloss.Style
	Path    lipgloss.Style
}

func DefaultPrettyStyles() PrettyStyles {
	return PrettyStyles{
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Key:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Path:    lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Italic(true),
	}
}

// NewPrettyLogger returns a pretty logger writing to w. Keys are padded to
// pad columns so fields line up.
func NewPrettyLogger(w io.Writer, pad int) *PrettyLogger {
	return &PrettyLogger{writer: w, styles: DefaultPrettyStyles(), pad: pad}
}

func (p *PrettyLogger) key(label string) string {
	label += ":"
	if n := p.pad - len(label); n > 0 {
		label += strings.Repeat(" ", n)
	}
	return p.styles.Key.Render(label)
}

// Success prints a message with a checkmark.
func (p *PrettyLogger) Success(message string) {
	fmt.Fprintf(p.writer, "%s %s\n", p.styles.Success.Render("✓"), p.styles.Success.Render(message))
}

// Warn prints a warning line.
func (p *PrettyLogger) Warn(message string) {
	fmt.Fprintf(p.writer, "%s %s\n", p.styles.Warning.Render("⚠"), p.styles.Warning.Render(message))
}

// Field prints a key-value pair.
func (p *PrettyLogger) Field(label string, value interface{}) {
	fmt.Fprintf(p.writer, "%s %s\n", p.key(label), p.styles.Value.Render(fmt.Sprint(value)))
}

// Path prints a file path.
func (p *PrettyLogger) Path(label, path string) {
	fmt.Fprintf(p.writer, "%s %s\n", p.key(label), p.styles.Path.Render(path))
}
