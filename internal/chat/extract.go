// Package chat turns LLM output into function calls. It finds JSON call
// objects in free text (fenced or bare, buffered or streamed), executes each
// distinct call once and strips the calls from the text shown to the user.
package chat

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// CompletionMessage replaces a reply that had nothing left but calls
const CompletionMessage = "Done. The requested operations have been executed."

// Call is a function call found in model output
type Call struct {
	Function string                 `json:"function"`
	Params   map[string]interface{} `json:"params"`
	Raw      string                 `json:"-"`
}

// Key identifies a call by function and canonical params. encoding/json
// writes map keys sorted, so equal params give equal keys.
func (c Call) Key() string {
	params, _ := json.Marshal(c.Params)
	return c.Function + "\x00" + string(params)
}

// Candidate is a balanced {...} span of text
type Candidate struct {
	Start int
	End   int
	Text  string
}

type scanState int

const (
	stateScanning scanState = iota
	stateOpen
)

// FindCandidates scans text for balanced top-level JSON objects. Braces and
// brackets are tracked with string and escape state; a closer that does not
// match its opener abandons the candidate and scanning resumes after its
// opening brace. A candidate still open at the end of text is retried the
// same way, so a stray brace in prose does not hide later objects.
func FindCandidates(text string) []Candidate {
	var (
		out      []Candidate
		state    = stateScanning
		stack    []byte
		start    int
		inString bool
		escaped  bool
	)
	for i := 0; ; i++ {
		if i >= len(text) {
			if state != stateOpen {
				break
			}
			state = stateScanning
			i = start
			continue
		}
		ch := text[i]
		if state == stateScanning {
			if ch == '{' {
				state, start, stack = stateOpen, i, append(stack[:0], '}')
				inString, escaped = false, false
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if stack[len(stack)-1] != ch {
				// abandoned: retry from the character after the opener
				state = stateScanning
				i = start
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				out = append(out, Candidate{Start: start, End: i + 1, Text: text[start : i+1]})
				state = stateScanning
			}
		}
	}
	return out
}

// ParseCall decodes a candidate as a function call. Two shapes are
// accepted: {"function": name, "params": {...}} and the MCP form
// {"jsonrpc": "2.0", "method": "tools/call", "params": {"name", "arguments"}},
// where "arguments" may replace "params" and the name may be nested one
// level deeper under arguments.arguments.
func ParseCall(raw string) (Call, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return Call{}, false
	}

	if name, ok := obj["function"].(string); ok && strings.TrimSpace(name) != "" {
		params, ok := objectOrEmpty(obj["params"])
		if !ok {
			return Call{}, false
		}
		return Call{Function: strings.TrimSpace(name), Params: params, Raw: raw}, true
	}

	if obj["jsonrpc"] != "2.0" || obj["method"] != "tools/call" {
		return Call{}, false
	}
	body, ok := obj["params"].(map[string]interface{})
	if !ok {
		if body, ok = obj["arguments"].(map[string]interface{}); !ok {
			return Call{}, false
		}
	}
	name, _ := body["name"].(string)
	args := body["arguments"]
	if strings.TrimSpace(name) == "" {
		nested, ok := body["arguments"].(map[string]interface{})
		if !ok {
			return Call{}, false
		}
		name, _ = nested["name"].(string)
		args = nested["arguments"]
	}
	if strings.TrimSpace(name) == "" {
		return Call{}, false
	}
	params, ok := objectOrEmpty(args)
	if !ok {
		return Call{}, false
	}
	return Call{Function: strings.TrimSpace(name), Params: params, Raw: raw}, true
}

func objectOrEmpty(v interface{}) (map[string]interface{}, bool) {
	switch p := v.(type) {
	case nil:
		return map[string]interface{}{}, true
	case map[string]interface{}:
		return p, true
	}
	return nil, false
}

var (
	jsonFence     = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)```")
	untaggedFence = regexp.MustCompile("(?s)```[ \\t]*\\r?\\n(.*?)```")
	blankLines    = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// Extract returns the distinct calls in text. Fenced json blocks are
// scanned first, then untagged fenced blocks, then the bare text; a call
// seen more than once is returned at its first sighting only.
func Extract(text string) []Call {
	seen := map[string]bool{}
	var out []Call
	for _, c := range scanAll(text) {
		key := c.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// scanAll returns every call occurrence across the three scans
func scanAll(text string) []Call {
	var out []Call
	for _, m := range jsonFence.FindAllStringSubmatch(text, -1) {
		out = append(out, callsIn(m[1])...)
	}
	for _, m := range untaggedFence.FindAllStringSubmatch(text, -1) {
		out = append(out, callsIn(m[1])...)
	}
	return append(out, callsIn(text)...)
}

// callsIn parses each candidate of text, descending into candidates that
// are not calls themselves
func callsIn(text string) []Call {
	var out []Call
	for _, cand := range FindCandidates(text) {
		if call, ok := ParseCall(cand.Text); ok {
			out = append(out, call)
			continue
		}
		inner := cand.Text[1 : len(cand.Text)-1]
		out = append(out, callsIn(inner)...)
	}
	return out
}

// Clean removes every call from text. Fenced blocks that held nothing but
// calls go with their fence markers. A reply with nothing but punctuation
// left becomes CompletionMessage.
func Clean(text string) string {
	for _, fence := range []*regexp.Regexp{jsonFence, untaggedFence} {
		text = fence.ReplaceAllStringFunc(text, func(block string) string {
			inner := fence.FindStringSubmatch(block)[1]
			calls := callsIn(inner)
			if len(calls) == 0 {
				return block
			}
			for _, c := range calls {
				inner = strings.ReplaceAll(inner, c.Raw, "")
			}
			if strings.TrimSpace(inner) == "" {
				return ""
			}
			return block
		})
	}
	for _, c := range callsIn(text) {
		text = strings.ReplaceAll(text, c.Raw, "")
	}
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if onlyPunctuation(text) {
		return CompletionMessage
	}
	return text
}

func onlyPunctuation(text string) bool {
	for _, r := range text {
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
