package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment of a column
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft, TopRight, BottomLeft, BottomRight string
	Horizontal, Vertical, Cross                string
	TopTee, BottomTee, LeftTee, RightTee       string
}

// TableStyle defines the visual style of a table
type TableStyle struct {
	Name    string
	Border  BorderStyle
	Padding int
}

var (
	asciiBorder = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}
	roundedBorder = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}

	DefaultTableStyle = TableStyle{Name: "default", Border: asciiBorder, Padding: 1}
	RoundedTableStyle = TableStyle{Name: "rounded", Border: roundedBorder, Padding: 1}
	CompactTableStyle = TableStyle{Name: "compact", Padding: 1}
)

// TableStyleByName resolves a configured style name
func TableStyleByName(name string) TableStyle {
	switch name {
	case "rounded":
		return RoundedTableStyle
	case "compact":
		return CompactTableStyle
	default:
		return DefaultTableStyle
	}
}

// Table renders rows of text cells
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	style      TableStyle
	maxWidth   int
	colors     ColorSystem
	theme      ColorTheme
}

// NewTable creates a table; colors may be nil
func NewTable(colors ColorSystem, theme ColorTheme) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		style:      DefaultTableStyle,
		colors:     colors,
		theme:      theme,
	}
}

// SetHeaders sets the header row
func (t *Table) SetHeaders(headers []string) { t.headers = headers }

// AddRow appends a row
func (t *Table) AddRow(row []string) { t.rows = append(t.rows, row) }

// SetStyle sets the border style
func (t *Table) SetStyle(style TableStyle) { t.style = style }

// SetAlignment sets the alignment of a column
func (t *Table) SetAlignment(column int, a Alignment) { t.alignments[column] = a }

// SetMaxWidth caps the rendered width; 0 means the terminal width
func (t *Table) SetMaxWidth(width int) { t.maxWidth = width }

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.fit(t.columnWidths())
	b := t.style.Border

	var out strings.Builder
	if b.Horizontal != "" {
		out.WriteString(t.rule(widths, b.TopLeft, b.TopTee, b.TopRight))
	}
	if len(t.headers) > 0 {
		out.WriteString(t.renderRow(t.headers, widths, true))
		if b.Horizontal != "" {
			out.WriteString(t.rule(widths, b.LeftTee, b.Cross, b.RightTee))
		}
	}
	for _, row := range t.rows {
		out.WriteString(t.renderRow(row, widths, false))
	}
	if b.Horizontal != "" {
		out.WriteString(t.rule(widths, b.BottomLeft, b.BottomTee, b.BottomRight))
	}
	return out.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columns() int {
	n := len(t.headers)
	for _, row := range t.rows {
		n = max(n, len(row))
	}
	return n
}

func (t *Table) columnWidths() []int {
	widths := make([]int, t.columns())
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}
	for i := range widths {
		widths[i] += t.style.Padding * 2
	}
	return widths
}

// fit shrinks the widest columns until the table fits the width limit
func (t *Table) fit(widths []int) []int {
	limit := t.maxWidth
	if limit == 0 {
		limit = terminalWidth()
	}
	if limit <= 0 {
		return widths
	}

	minWidth := t.style.Padding*2 + 4
	for total(widths, t.style.Border.Vertical != "") > limit {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

func total(widths []int, bordered bool) int {
	sum := 0
	for _, w := range widths {
		sum += w
	}
	if bordered {
		sum += len(widths) + 1
	}
	return sum
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	var out strings.Builder
	out.WriteString(left)
	for i, w := range widths {
		out.WriteString(strings.Repeat(t.style.Border.Horizontal, w))
		if i < len(widths)-1 {
			out.WriteString(mid)
		}
	}
	out.WriteString(right)
	out.WriteString("\n")
	return out.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var out strings.Builder
	out.WriteString(t.style.Border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		out.WriteString(t.formatCell(cell, w, t.alignments[i], header))
		out.WriteString(t.style.Border.Vertical)
	}
	return strings.TrimRight(out.String(), " ") + "\n"
}

func (t *Table) formatCell(content string, width int, align Alignment, header bool) string {
	room := max(width-t.style.Padding*2, 0)
	if utf8.RuneCountInString(content) > room {
		runes := []rune(content)
		if room > 3 {
			content = string(runes[:room-3]) + "..."
		} else {
			content = string(runes[:room])
		}
	}

	gap := room - utf8.RuneCountInString(content)
	if header && t.colors != nil {
		content = t.colors.Colorize(content, t.theme.Primary)
	}

	pad := strings.Repeat(" ", t.style.Padding)
	if align == AlignRight {
		return pad + strings.Repeat(" ", gap) + content + pad
	}
	return pad + content + strings.Repeat(" ", gap) + pad
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}
