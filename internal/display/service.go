// Package display renders command output as colored tables, JSON or YAML.
package display

import (
	"fmt"
	"io"
	"strings"
)

// OutputFormat selects how results are rendered
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Color represents terminal color options
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
)

// ColorTheme defines color scheme for different message types
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

// Printer is the output surface used by every command
type Printer struct {
	config *Config
	colors ColorSystem
	theme  ColorTheme
	writer io.Writer
}

// NewPrinter creates a printer from config
func NewPrinter(config *Config) *Printer {
	if config == nil {
		config = DefaultConfig()
	}
	config.SetDefaults()
	return &Printer{
		config: config,
		colors: NewColorSystem(config.ColorEnabled),
		theme:  GetThemeByName(config.Theme),
		writer: config.Writer,
	}
}

// Writer returns the underlying output
func (p *Printer) Writer() io.Writer {
	return p.writer
}

// Format returns the configured output format
func (p *Printer) Format() OutputFormat {
	return OutputFormat(p.config.OutputFormat)
}

// Structured reports whether output is machine-readable
func (p *Printer) Structured() bool {
	f := p.Format()
	return f == FormatJSON || f == FormatYAML
}

// Colorize applies a theme color when colors are enabled
func (p *Printer) Colorize(text string, c Color) string {
	return p.colors.Colorize(text, c)
}

// Theme returns the active theme
func (p *Printer) Theme() ColorTheme {
	return p.theme
}

// Header prints a section title. Suppressed for structured output.
func (p *Printer) Header(title string) {
	if p.config.Quiet || p.Structured() {
		return
	}
	line := strings.Repeat("=", len(title)+4)
	fmt.Fprintln(p.writer, p.colors.Colorize(fmt.Sprintf("%s\n  %s\n%s", line, title, line), p.theme.Primary))
}

// Success prints a success line
func (p *Printer) Success(format string, args ...interface{}) {
	p.status("OK", p.theme.Success, format, args...)
}

// Warning prints a warning line
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("WARN", p.theme.Warning, format, args...)
}

// Error prints an error line. Errors are printed even in quiet mode.
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintf(p.writer, "%s %s\n", p.colors.Colorize("[ERROR]", p.theme.Error), fmt.Sprintf(format, args...))
}

// Info prints an informational line
func (p *Printer) Info(format string, args ...interface{}) {
	p.status("INFO", p.theme.Info, format, args...)
}

func (p *Printer) status(level string, c Color, format string, args ...interface{}) {
	if p.config.Quiet || p.Structured() {
		return
	}
	fmt.Fprintf(p.writer, "%s %s\n", p.colors.Colorize("["+level+"]", c), fmt.Sprintf(format, args...))
}

// Table renders rows with the configured table style
func (p *Printer) Table(headers []string, rows [][]string) {
	t := NewTable(p.colors, p.theme)
	t.SetStyle(TableStyleByName(p.config.TableStyle))
	t.SetMaxWidth(p.config.MaxTableWidth)
	t.SetHeaders(headers)
	for _, row := range rows {
		t.AddRow(row)
	}
	t.RenderTo(p.writer)
}

// KeyValues prints aligned "key: value" pairs in order
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		key := p.colors.Colorize(fmt.Sprintf("%-*s", width+1, kv[0]+":"), p.theme.Muted)
		fmt.Fprintf(p.writer, "%s %s\n", key, kv[1])
	}
}

// Print renders v as JSON or YAML when a structured format is selected,
// otherwise calls human.
func (p *Printer) Print(v interface{}, human func()) error {
	switch p.Format() {
	case FormatJSON, FormatYAML:
		return Encode(p.writer, p.Format(), v)
	default:
		human()
		return nil
	}
}
