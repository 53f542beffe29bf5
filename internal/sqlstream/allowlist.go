package sqlstream

import "strings"

// Allowed statement prefixes. Only what the dumper itself writes.
const (
	VerbDropTableIfExists = "DROP TABLE IF EXISTS"
	VerbCreateTable       = "CREATE TABLE"
	VerbInsertInto        = "INSERT INTO"
	VerbLockTables        = "LOCK TABLES"
	VerbUnlockTables      = "UNLOCK TABLES"
	VerbConditional       = "/*!"
)

var allowedVerbs = [][]string{
	{"DROP", "TABLE", "IF", "EXISTS"},
	{"CREATE", "TABLE"},
	{"INSERT", "INTO"},
	{"LOCK", "TABLES"},
	{"UNLOCK", "TABLES"},
}

// IsAllowed reports whether a statement may be executed during a restore
func IsAllowed(statement string) bool {
	return Verb(statement) != ""
}

// Verb returns the allowed prefix a statement starts with, or "" when the
// statement is not allowed. Keywords match case-insensitively and must be
// whole words, so CREATE TABLESPACE does not match CREATE TABLE. A
// conditional comment only matches when it spans the whole statement.
func Verb(statement string) string {
	body := StripLeadingComments(statement)

	if strings.HasPrefix(body, VerbConditional) {
		end := strings.Index(body, "*/")
		if end >= 0 && end == len(body)-2 {
			return VerbConditional
		}
		return ""
	}

	words := leadingWords(body, 4)
	for _, verb := range allowedVerbs {
		if hasWordPrefix(words, verb) {
			return strings.Join(verb, " ")
		}
	}
	return ""
}

// StripLeadingComments removes leading blank lines and `--` comment lines
func StripLeadingComments(statement string) string {
	body := strings.TrimLeft(statement, " \t\r\n")
	for strings.HasPrefix(body, "--") {
		nl := strings.IndexByte(body, '\n')
		if nl < 0 {
			return ""
		}
		body = strings.TrimLeft(body[nl+1:], " \t\r\n")
	}
	return strings.TrimRight(body, " \t\r\n")
}

func leadingWords(s string, n int) []string {
	words := make([]string, 0, n)
	i := 0
	for len(words) < n {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		j := i
		for j < len(s) && isWordByte(s[j]) {
			j++
		}
		if j == i {
			break
		}
		words = append(words, strings.ToUpper(s[i:j]))
		i = j
		if i < len(s) && !isSpace(s[i]) {
			break
		}
	}
	return words
}

func hasWordPrefix(words, verb []string) bool {
	if len(words) < len(verb) {
		return false
	}
	for i := range verb {
		if words[i] != verb[i] {
			return false
		}
	}
	return true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// TableName extracts the backtick-quoted or bare table name that follows
// the verb of a DROP TABLE IF EXISTS, CREATE TABLE or LOCK TABLES statement.
func TableName(statement string) string {
	body := StripLeadingComments(statement)
	verb := Verb(body)
	if verb == "" || verb == VerbConditional || verb == VerbUnlockTables {
		return ""
	}

	rest := skipWords(body, len(strings.Fields(verb)))
	if verb == VerbCreateTable && hasWordPrefix(leadingWords(rest, 3), []string{"IF", "NOT", "EXISTS"}) {
		rest = skipWords(rest, 3)
	}

	if strings.HasPrefix(rest, "`") {
		var name strings.Builder
		for i := 1; i < len(rest); i++ {
			if rest[i] == '`' {
				if i+1 < len(rest) && rest[i+1] == '`' {
					name.WriteByte('`')
					i++
					continue
				}
				return name.String()
			}
			name.WriteByte(rest[i])
		}
		return ""
	}

	end := 0
	for end < len(rest) && (isWordByte(rest[end]) || rest[end] == '$') {
		end++
	}
	return rest[:end]
}

func skipWords(s string, n int) string {
	for ; n > 0; n-- {
		s = strings.TrimLeft(s, " \t\r\n")
		for len(s) > 0 && isWordByte(s[0]) {
			s = s[1:]
		}
	}
	return strings.TrimLeft(s, " \t\r\n")
}
