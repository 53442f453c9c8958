package chat

import "strings"

// StreamDetector finds calls in text that arrives in chunks. Brace, string
// and escape state carry over between chunks, so a call is reported in the
// chunk that closes it and never while its JSON is incomplete. Objects that
// close inside a still open one are checked too, so a stray brace in prose
// does not hide the calls after it.
type StreamDetector struct {
	text     strings.Builder
	stack    []byte
	starts   []int
	start    int
	inString bool
	escaped  bool
	seen     map[string]bool
}

// NewStreamDetector creates an empty detector
func NewStreamDetector() *StreamDetector {
	return &StreamDetector{start: -1, seen: map[string]bool{}}
}

// Feed appends chunk and returns the calls it completed. A call already
// reported is not reported again.
func (d *StreamDetector) Feed(chunk string) []Call {
	var out []Call
	offset := d.text.Len()
	d.text.WriteString(chunk)

	for i := 0; i < len(chunk); i++ {
		ch := chunk[i]
		if d.start < 0 {
			if ch == '{' {
				d.start = offset + i
				d.stack = append(d.stack[:0], '}')
				d.starts = append(d.starts[:0], d.start)
				d.inString, d.escaped = false, false
			}
			continue
		}

		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case ch == '\\':
				d.escaped = true
			case ch == '"':
				d.inString = false
			}
			continue
		}

		switch ch {
		case '"':
			d.inString = true
		case '{':
			d.stack = append(d.stack, '}')
			d.starts = append(d.starts, offset+i)
		case '[':
			d.stack = append(d.stack, ']')
			d.starts = append(d.starts, offset+i)
		case '}', ']':
			if d.stack[len(d.stack)-1] != ch {
				d.reset()
				continue
			}
			levelStart := d.starts[len(d.starts)-1]
			d.stack = d.stack[:len(d.stack)-1]
			d.starts = d.starts[:len(d.starts)-1]
			if len(d.stack) > 0 && ch == '}' {
				if c, ok := ParseCall(d.text.String()[levelStart : offset+i+1]); ok && !d.seen[c.Key()] {
					d.seen[c.Key()] = true
					out = append(out, c)
				}
				continue
			}
			if len(d.stack) == 0 {
				raw := d.text.String()[d.start : offset+i+1]
				d.reset()
				for _, c := range callsIn(raw) {
					if key := c.Key(); !d.seen[key] {
						d.seen[key] = true
						out = append(out, c)
					}
				}
			}
		}
	}
	return out
}

func (d *StreamDetector) reset() {
	d.start = -1
	d.stack = d.stack[:0]
	d.starts = d.starts[:0]
	d.inString, d.escaped = false, false
}

// Pending reports whether a candidate object is open
func (d *StreamDetector) Pending() bool { return d.start >= 0 }

// Text returns everything fed so far
func (d *StreamDetector) Text() string { return d.text.String() }

// Seen reports whether c was already reported
func (d *StreamDetector) Seen(c Call) bool { return d.seen[c.Key()] }
