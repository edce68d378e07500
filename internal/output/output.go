// Package output provides consistent CLI output: status lines, and search,
// graph, expand, symbol and status results as colored text or JSON.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
	"github.com/Aman-CERP/cgrep/internal/ui"
)

// Format selects the result encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", cerrors.ValidationError(fmt.Sprintf("unknown output format %q", s), nil).
		WithSuggestion("Use --format text or --format json")
}

// Options configures a Writer.
type Options struct {
	Format Format
	// Color enables lipgloss styling of text output.
	Color bool
	// Compact drops snippets and context from text output.
	Compact bool
	// Status receives status, warning and error lines in JSON format, so
	// the result document stays alone on Out. Nil discards them.
	Status io.Writer
}

// DetectColor reports whether w should get colored output: a terminal with
// NO_COLOR unset.
func DetectColor(w io.Writer) bool {
	return ui.IsTTY(w) && !ui.DetectNoColor()
}

// Writer provides formatted output for CLI.
type Writer struct {
	out     io.Writer
	status  io.Writer
	format  Format
	compact bool
	styles  styles
}

type styles struct {
	path    lipgloss.Style
	line    lipgloss.Style
	score   lipgloss.Style
	kind    lipgloss.Style
	dim     lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	errs    lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		path:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ui.ColorAccent)),
		line:    lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorYellow)),
		score:   lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorGray)),
		kind:    lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorGreen)),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorDarkGray)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorGreen)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorYellow)),
		errs:    lipgloss.NewStyle().Foreground(lipgloss.Color(ui.ColorRed)),
	}
}

// New creates a plain text Writer.
func New(out io.Writer) *Writer {
	return NewWithOptions(out, Options{Format: FormatText})
}

// NewWithOptions creates a Writer with an explicit format and color choice.
func NewWithOptions(out io.Writer, opts Options) *Writer {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	status := out
	if opts.Format == FormatJSON {
		status = opts.Status
		if status == nil {
			status = io.Discard
		}
	}
	return &Writer{
		out:     out,
		status:  status,
		format:  opts.Format,
		compact: opts.Compact,
		styles:  newStyles(opts.Color && opts.Format == FormatText),
	}
}

// Format returns the writer's format.
func (w *Writer) Format() Format { return w.format }

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.status, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.status, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.success.Render("✅"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.warning.Render("⚠️ "), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.errs.Render("❌"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints a code block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Failure reports err in the writer's format: the structured error document
// for JSON, the CLI rendering otherwise.
func (w *Writer) Failure(err error) {
	if w.format == FormatJSON {
		data, ferr := cerrors.FormatJSON(err)
		if ferr == nil {
			_, _ = fmt.Fprintln(w.out, string(data))
			return
		}
	}
	_, _ = fmt.Fprint(w.out, cerrors.FormatForCLI(err))
}
