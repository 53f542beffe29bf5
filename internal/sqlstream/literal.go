package sqlstream

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one column value of a dumped row. Numeric kinds keep their
// textual form so DECIMAL and BIGINT UNSIGNED survive without rounding.
type Value struct {
	Kind  Kind
	Text  string
	Bytes []byte
}

// Null returns the SQL NULL value
func Null() Value { return Value{Kind: KindNull} }

// Int returns an integer value
func Int(n int64) Value { return Value{Kind: KindInt, Text: strconv.FormatInt(n, 10)} }

// Float returns a floating point value
func Float(f float64) Value {
	return Value{Kind: KindFloat, Text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// String returns a text value
func String(s string) Value { return Value{Kind: KindString, Text: s} }

// Binary returns a byte string value
func Binary(b []byte) Value { return Value{Kind: KindBinary, Bytes: b} }

// Numeric returns an int or float value from its textual form. Text that
// is not a plain number is kept as a quoted string instead.
func Numeric(kind Kind, text string) Value {
	if (kind == KindInt || kind == KindFloat) && isNumericText(text) {
		return Value{Kind: kind, Text: text}
	}
	return String(text)
}

// Literal renders a value as a MySQL literal
func Literal(v Value) string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt, KindFloat:
		return v.Text
	case KindString:
		return quoteString(v.Text)
	case KindBinary:
		return "X'" + hex.EncodeToString(v.Bytes) + "'"
	default:
		panic(fmt.Sprintf("sqlstream: unhandled value kind %v", v.Kind))
	}
}

// FromDriver classifies a value scanned into *any from database/sql. The
// MySQL text protocol hands back []byte for most columns, so the declared
// column type decides how the bytes are interpreted.
func FromDriver(v any, databaseType string) Value {
	kind := kindForColumn(databaseType)

	switch x := v.(type) {
	case nil:
		return Null()
	case int64:
		return Int(x)
	case int32:
		return Int(int64(x))
	case uint64:
		return Value{Kind: KindInt, Text: strconv.FormatUint(x, 10)}
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case bool:
		if x {
			return Int(1)
		}
		return Int(0)
	case time.Time:
		return String(x.Format("2006-01-02 15:04:05.999999"))
	case string:
		if kind == KindBinary {
			return Binary([]byte(x))
		}
		return Numeric(kind, x)
	case []byte:
		switch kind {
		case KindBinary:
			return Binary(append([]byte(nil), x...))
		case KindInt, KindFloat:
			return Numeric(kind, string(x))
		default:
			return String(string(x))
		}
	default:
		return String(fmt.Sprint(x))
	}
}

func kindForColumn(databaseType string) Kind {
	t := strings.ToUpper(databaseType)
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return KindInt
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
		return KindFloat
	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB", "BIT", "GEOMETRY":
		return KindBinary
	default:
		return KindString
	}
}

func isNumericText(s string) bool {
	if s == "" {
		return false
	}
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case (c == '-' || c == '+') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return digits > 0
}

// quoteString escapes the same characters as the mysql client library
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case 0x1a:
			b.WriteString(`\Z`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// QuoteIdentifier wraps a table or column name in backticks
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// InsertBuilder accumulates rows into multi-row INSERT statements bounded
// by a row count and a byte budget. A single row larger than the budget
// still becomes its own statement.
type InsertBuilder struct {
	prefix   string
	buf      strings.Builder
	rows     int
	maxRows  int
	maxBytes int
}

// NewInsertBuilder creates a builder for one table. Rows passed to Add
// must follow the order of columns.
func NewInsertBuilder(table string, columns []string, maxRows, maxBytes int) *InsertBuilder {
	if maxRows <= 0 {
		maxRows = 500
	}
	prefix := "INSERT INTO " + QuoteIdentifier(table)
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = QuoteIdentifier(c)
		}
		prefix += " (" + strings.Join(quoted, ",") + ")"
	}
	return &InsertBuilder{
		prefix:   prefix + " VALUES\n",
		maxRows:  maxRows,
		maxBytes: maxBytes,
	}
}

// Add appends a row. When the row does not fit in the current batch the
// finished batch is returned and the row starts the next one.
func (ib *InsertBuilder) Add(row []Value) (string, bool) {
	tuple := renderTuple(row)

	var done string
	var flushed bool
	if ib.rows > 0 {
		tooMany := ib.rows >= ib.maxRows
		tooBig := ib.maxBytes > 0 && ib.buf.Len()+len(tuple)+2 > ib.maxBytes
		if tooMany || tooBig {
			done, flushed = ib.Flush()
		}
	}

	if ib.rows == 0 {
		ib.buf.WriteString(ib.prefix)
	} else {
		ib.buf.WriteString(",\n")
	}
	ib.buf.WriteString(tuple)
	ib.rows++

	return done, flushed
}

// Flush returns the pending batch terminated by a semicolon
func (ib *InsertBuilder) Flush() (string, bool) {
	if ib.rows == 0 {
		return "", false
	}
	ib.buf.WriteString(";\n")
	stmt := ib.buf.String()
	ib.buf.Reset()
	ib.rows = 0
	return stmt, true
}

// Rows returns the number of rows in the pending batch
func (ib *InsertBuilder) Rows() int {
	return ib.rows
}

func renderTuple(row []Value) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(Literal(v))
	}
	b.WriteByte(')')
	return b.String()
}
