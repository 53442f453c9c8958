package generator

import (
	"strconv"
	"strings"
)

type valueKind int

const (
	kindBare valueKind = iota
	kindString
	kindObject
	kindArray
)

// value is a loosely parsed literal from a model source
type value struct {
	kind   valueKind
	raw    string
	str    string
	object []entry
	array  []value
}

type entry struct {
	key string
	val value
}

type scanner struct {
	s   string
	pos int
}

func (sc *scanner) eof() bool { return sc.pos >= len(sc.s) }

func (sc *scanner) skip(chars string) {
	for !sc.eof() && strings.IndexByte(chars, sc.s[sc.pos]) >= 0 {
		sc.pos++
	}
}

// skipLine drops the rest of the current line
func (sc *scanner) skipLine() {
	for !sc.eof() && sc.s[sc.pos] != '\n' {
		sc.pos++
	}
}

// parseEntries reads `key: value` pairs separated by newlines or commas.
// Malformed lines are skipped.
func parseEntries(text string) []entry {
	sc := &scanner{s: text}
	var out []entry
	for {
		sc.skip(" \t\r\n,")
		if sc.eof() {
			return out
		}
		if strings.HasPrefix(sc.s[sc.pos:], "//") {
			sc.skipLine()
			continue
		}

		key, ok := sc.key()
		if !ok {
			sc.skipLine()
			continue
		}
		sc.skip(" \t")
		if sc.eof() || sc.s[sc.pos] != ':' {
			sc.skipLine()
			continue
		}
		sc.pos++
		sc.skip(" \t")
		out = append(out, entry{key: key, val: sc.value()})
	}
}

func (sc *scanner) key() (string, bool) {
	if sc.s[sc.pos] == '"' {
		v := sc.quoted()
		return v.str, v.str != ""
	}
	start := sc.pos
	for !sc.eof() && isIdentByte(sc.s[sc.pos]) {
		sc.pos++
	}
	return sc.s[start:sc.pos], sc.pos > start
}

func (sc *scanner) value() value {
	if sc.eof() {
		return value{}
	}
	start := sc.pos
	switch sc.s[sc.pos] {
	case '"':
		return sc.quoted()
	case '{':
		inner := sc.group('{', '}')
		return value{kind: kindObject, raw: sc.s[start:sc.pos], object: parseEntries(inner)}
	case '[':
		inner := sc.group('[', ']')
		return value{kind: kindArray, raw: sc.s[start:sc.pos], array: parseArray(inner)}
	}
	for !sc.eof() && strings.IndexByte(",\n}]", sc.s[sc.pos]) < 0 {
		sc.pos++
	}
	bare := strings.TrimSpace(sc.s[start:sc.pos])
	return value{kind: kindBare, raw: bare, str: bare}
}

// group consumes a balanced group and returns its content. An unterminated
// group swallows the rest of the input.
func (sc *scanner) group(open, close byte) string {
	start := sc.pos
	inner, ok := balanced(sc.s, start, open, close)
	if !ok {
		sc.pos = len(sc.s)
		return sc.s[start+1:]
	}
	sc.pos = start + len(inner) + 2
	return inner
}

func (sc *scanner) quoted() value {
	start := sc.pos
	i := sc.pos + 1
	for i < len(sc.s) {
		if sc.s[i] == '\\' {
			i += 2
			continue
		}
		if sc.s[i] == '"' {
			break
		}
		i++
	}
	if i >= len(sc.s) {
		sc.pos = len(sc.s)
		return value{kind: kindString, raw: sc.s[start:], str: sc.s[start+1:]}
	}
	sc.pos = i + 1
	raw := sc.s[start:sc.pos]
	str, err := strconv.Unquote(raw)
	if err != nil {
		str = raw[1 : len(raw)-1]
	}
	return value{kind: kindString, raw: raw, str: str}
}

func parseArray(text string) []value {
	sc := &scanner{s: text}
	var out []value
	for {
		sc.skip(" \t\r\n,")
		if sc.eof() {
			return out
		}
		before := sc.pos
		v := sc.value()
		if sc.pos == before {
			sc.pos++
			continue
		}
		out = append(out, v)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
