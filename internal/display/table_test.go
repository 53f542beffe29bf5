package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableRenderDefaultStyle(t *testing.T) {
	table := NewTable(NewColorSystem(false), PlainTextTheme())
	table.SetMaxWidth(200)
	table.SetHeaders([]string{"A", "BB"})
	table.AddRow([]string{"x", "yyy"})

	want := "+---+-----+\n" +
		"| A | BB  |\n" +
		"+---+-----+\n" +
		"| x | yyy |\n" +
		"+---+-----+\n"
	assert.Equal(t, want, table.Render())
}

func TestTableCompactStyle(t *testing.T) {
	table := NewTable(nil, PlainTextTheme())
	table.SetStyle(CompactTableStyle)
	table.SetMaxWidth(200)
	table.SetHeaders([]string{"DB", "SIZE"})
	table.SetAlignment(1, AlignRight)
	table.AddRow([]string{"acore_world", "12"})

	want := " DB           SIZE\n" +
		" acore_world    12\n"
	assert.Equal(t, want, table.Render())
}

func TestTableTruncatesToMaxWidth(t *testing.T) {
	table := NewTable(nil, PlainTextTheme())
	table.SetMaxWidth(12)
	table.SetHeaders([]string{"NAME"})
	table.AddRow([]string{"abcdefghijklmnop"})

	out := table.Render()
	assert.Contains(t, out, "| abcde... |\n")
}

func TestTableEmpty(t *testing.T) {
	assert.Empty(t, NewTable(nil, PlainTextTheme()).Render())
}
