package sqlstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = "-- Pure Node.js dump of acore_world\n" +
	"-- Generated: 2024-06-01T03:00:00.000Z\n\n" +
	"/*!40101 SET NAMES utf8mb4 */;\n" +
	"--\n-- Table structure for table `creature`\n--\n\n" +
	"DROP TABLE IF EXISTS `creature`;\n" +
	"CREATE TABLE `creature` (\n  `guid` int NOT NULL,\n  `name` varchar(64) DEFAULT 'a;b'\n);\n" +
	"LOCK TABLES `creature` WRITE;\n" +
	"INSERT INTO `creature` VALUES\n(1,'it\\'s; fine'),\n(2,'-- not a comment'),\n(3,\"dq; \\\" x\");\n" +
	"UNLOCK TABLES;\n"

func TestSplitAll(t *testing.T) {
	got := SplitAll(sampleDump)

	require.Len(t, got, 6)
	assert.Equal(t, "/*!40101 SET NAMES utf8mb4 */", got[0])
	assert.Equal(t, "DROP TABLE IF EXISTS `creature`", got[1])
	assert.True(t, strings.HasPrefix(got[2], "CREATE TABLE `creature`"))
	assert.Contains(t, got[2], "DEFAULT 'a;b'")
	assert.Equal(t, "LOCK TABLES `creature` WRITE", got[3])
	assert.Contains(t, got[4], `'it\'s; fine'`)
	assert.Contains(t, got[4], "'-- not a comment'")
	assert.Contains(t, got[4], `"dq; \" x"`)
	assert.Equal(t, "UNLOCK TABLES", got[5])
}

func TestSplitterChunkBoundaryInvariance(t *testing.T) {
	want := SplitAll(sampleDump)

	for offset := 1; offset < len(sampleDump); offset++ {
		s := NewSplitter()
		got := s.Feed([]byte(sampleDump[:offset]))
		got = append(got, s.Feed([]byte(sampleDump[offset:]))...)
		got = append(got, s.Flush()...)
		require.Equal(t, want, got, "split at offset %d", offset)
	}
}

func TestSplitterByteAtATime(t *testing.T) {
	want := SplitAll(sampleDump)

	s := NewSplitter()
	var got []string
	for i := 0; i < len(sampleDump); i++ {
		got = append(got, s.Feed([]byte{sampleDump[i]})...)
	}
	got = append(got, s.Flush()...)
	assert.Equal(t, want, got)
}

func TestSplitterDropsCommentOnlyAndEmptyStatements(t *testing.T) {
	got := SplitAll("-- just a comment\n;\n  ;;\n-- another\n")
	assert.Empty(t, got)
}

func TestSplitterBlockCommentHidesSemicolon(t *testing.T) {
	got := SplitAll("/*!50001 CREATE x; y */;\nUNLOCK TABLES;")
	assert.Equal(t, []string{"/*!50001 CREATE x; y */", "UNLOCK TABLES"}, got)
}

func TestSplitterKeepsMidLineDashes(t *testing.T) {
	got := SplitAll("INSERT INTO `t` VALUES (5-1);")
	assert.Equal(t, []string{"INSERT INTO `t` VALUES (5-1)"}, got)
}

func TestSplitterCommentAfterBoundary(t *testing.T) {
	got := SplitAll("UNLOCK TABLES; -- done\nDROP TABLE IF EXISTS `a`;")
	assert.Equal(t, []string{"UNLOCK TABLES", "DROP TABLE IF EXISTS `a`"}, got)
}

func TestSplitterFlushReturnsTrailingStatement(t *testing.T) {
	s := NewSplitter()
	assert.Empty(t, s.Feed([]byte("UNLOCK TABLES")))
	assert.Equal(t, []string{"UNLOCK TABLES"}, s.Flush())
	assert.Empty(t, s.Flush())
}

func TestSplitterFlushResetsState(t *testing.T) {
	s := NewSplitter()
	s.Feed([]byte("INSERT INTO `t` VALUES ('open"))
	s.Flush()

	got := s.Feed([]byte("UNLOCK TABLES;"))
	assert.Equal(t, []string{"UNLOCK TABLES"}, got)
}

func TestSplitterMultiByteText(t *testing.T) {
	text := "INSERT INTO `t` VALUES ('Thrall – Warchief; Orgrimmar');"
	want := SplitAll(text)
	require.Len(t, want, 1)

	for offset := 1; offset < len(text); offset++ {
		s := NewSplitter()
		got := append(s.Feed([]byte(text[:offset])), s.Feed([]byte(text[offset:]))...)
		got = append(got, s.Flush()...)
		assert.Equal(t, want, got)
	}
}
