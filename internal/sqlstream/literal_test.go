package sqlstream

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiteral(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null(), "NULL"},
		{"int", Int(-42), "-42"},
		{"float", Float(1.5), "1.5"},
		{"plain string", String("Stormwind"), "'Stormwind'"},
		{"quote and backslash", String(`it's a \ path`), `'it\'s a \\ path'`},
		{"control chars", String("a\nb\r\x00\x1a\t\"c"), `'a\nb\r\0\Z\t\"c'`},
		{"binary", Binary([]byte{0xde, 0xad, 0x00}), "X'dead00'"},
		{"empty binary", Binary(nil), "X''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Literal(tt.v))
		})
	}
}

func TestLiteralRoundTripsThroughSplitter(t *testing.T) {
	nasty := String("semi; quote' back\\ dash --\n end")
	stmt := "INSERT INTO `t` VALUES (" + Literal(nasty) + ");"

	got := SplitAll(stmt + "UNLOCK TABLES;")
	require.Len(t, got, 2)
	assert.Equal(t, "UNLOCK TABLES", got[1])
}

func TestFromDriver(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		dbType string
		want   Value
	}{
		{"nil", nil, "INT", Null()},
		{"int64", int64(7), "INT", Int(7)},
		{"unsigned bigint text", []byte("18446744073709551615"), "UNSIGNED BIGINT", Value{Kind: KindInt, Text: "18446744073709551615"}},
		{"decimal text", []byte("12.50"), "DECIMAL", Value{Kind: KindFloat, Text: "12.50"}},
		{"float64", float64(0.25), "DOUBLE", Float(0.25)},
		{"varchar bytes", []byte("Thrall"), "VARCHAR", String("Thrall")},
		{"blob bytes", []byte{1, 2}, "BLOB", Binary([]byte{1, 2})},
		{"datetime text", []byte("2024-06-01 03:00:00"), "DATETIME", String("2024-06-01 03:00:00")},
		{"garbage numeric text", []byte("1; DROP"), "INT", String("1; DROP")},
		{"bool", true, "TINYINT", Int(1)},
		{"time", time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC), "DATETIME", String("2024-06-01 03:00:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromDriver(tt.in, tt.dbType))
		})
	}
}

func TestFromDriverCopiesBinary(t *testing.T) {
	raw := []byte{1, 2, 3}
	v := FromDriver(raw, "VARBINARY")
	raw[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes)
}

func TestInsertBuilderBatchesByRows(t *testing.T) {
	ib := NewInsertBuilder("creature", []string{"guid", "name"}, 2, 0)

	_, flushed := ib.Add([]Value{Int(1), String("a")})
	assert.False(t, flushed)
	_, flushed = ib.Add([]Value{Int(2), Null()})
	assert.False(t, flushed)

	stmt, flushed := ib.Add([]Value{Int(3), String("c")})
	require.True(t, flushed)
	assert.Equal(t, "INSERT INTO `creature` (`guid`,`name`) VALUES\n(1,'a'),\n(2,NULL);\n", stmt)
	assert.Equal(t, 1, ib.Rows())

	stmt, flushed = ib.Flush()
	require.True(t, flushed)
	assert.Equal(t, "INSERT INTO `creature` (`guid`,`name`) VALUES\n(3,'c');\n", stmt)

	_, flushed = ib.Flush()
	assert.False(t, flushed)
}

func TestInsertBuilderBatchesByBytes(t *testing.T) {
	ib := NewInsertBuilder("t", nil, 500, 40)

	_, flushed := ib.Add([]Value{String("0123456789")})
	assert.False(t, flushed)

	stmt, flushed := ib.Add([]Value{String("abcdefghij")})
	require.True(t, flushed)
	assert.Equal(t, "INSERT INTO `t` VALUES\n('0123456789');\n", stmt)
}

func TestInsertBuilderOutputIsAllowed(t *testing.T) {
	ib := NewInsertBuilder("weird`name", []string{"odd`col"}, 10, 0)
	ib.Add([]Value{Int(1)})
	stmt, _ := ib.Flush()

	got := SplitAll(stmt)
	require.Len(t, got, 1)
	assert.True(t, IsAllowed(got[0]))
	assert.Equal(t, "weird`name", TableName(got[0]))
	assert.True(t, strings.HasPrefix(got[0], "INSERT INTO `weird``name` (`odd``col`) VALUES"))
}
