package migration

import (
	"strings"
)

// Section markers of generated SQL files
const (
	UpMarker   = "-- +up"
	DownMarker = "-- +down"
)

// File is a parsed migration or seeder file
type File struct {
	Up   string
	Down string
}

// Render writes a file with a header comment and both sections
func Render(header, up, down string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimSpace(header), "\n") {
		if line != "" {
			b.WriteString("-- " + line + "\n")
		}
	}
	b.WriteString("\n" + UpMarker + "\n")
	b.WriteString(strings.TrimSpace(up) + "\n")
	b.WriteString("\n" + DownMarker + "\n")
	b.WriteString(strings.TrimSpace(down) + "\n")
	return b.String()
}

// ParseFile splits content into its up and down sections. Content without
// markers is treated as a single up section.
func ParseFile(content string) File {
	var f File
	var current *string
	var plain strings.Builder
	sawMarker := false

	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case UpMarker:
			current, sawMarker = &f.Up, true
			continue
		case DownMarker:
			current, sawMarker = &f.Down, true
			continue
		}
		if current == nil {
			plain.WriteString(line + "\n")
			continue
		}
		*current += line + "\n"
	}
	if !sawMarker {
		f.Up = plain.String()
	}
	f.Up = strings.TrimSpace(f.Up)
	f.Down = strings.TrimSpace(f.Down)
	return f
}

// SplitStatements splits a section on semicolons outside quotes and
// comments. Empty statements are dropped. Backslash escapes inside string
// literals are honoured for MySQL only.
func SplitStatements(sql string, d Dialect) []string {
	var out []string
	var cur strings.Builder
	var quote byte
	lineComment := false

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && !onlyComments(s) {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case lineComment:
			cur.WriteByte(c)
			if c == '\n' {
				lineComment = false
			}
			continue
		case quote != 0:
			cur.WriteByte(c)
			if c == '\\' && quote == '\'' && d == MySQL && i+1 < len(sql) {
				i++
				cur.WriteByte(sql[i])
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"', '`':
			quote = c
			cur.WriteByte(c)
		case '-':
			if i+1 < len(sql) && sql[i+1] == '-' {
				lineComment = true
			}
			cur.WriteByte(c)
		case ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

func onlyComments(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}
