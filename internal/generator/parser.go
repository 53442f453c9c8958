package generator

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/aethra/lowcode/internal/meta"
)

var (
	classRegex     = regexp.MustCompile(`(?m)^\s*model\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{`)
	assocCallRegex = regexp.MustCompile(`\b(belongsToMany|belongsTo|hasMany|hasOne)\s*\(`)
)

// Decode extracts class name, fields, associations and options from a model
// source. It never fails: anything it cannot find is left empty, and a
// missing class name marks the source as unparseable.
func (c *ModelCodec) Decode(src string) ModelSource {
	var out ModelSource

	loc := classRegex.FindStringSubmatchIndex(src)
	if loc == nil {
		return out
	}
	out.ClassName = src[loc[2]:loc[3]]

	body, ok := balanced(src, loc[1]-1, '{', '}')
	if !ok {
		body = src[loc[1]:]
	}

	if block, ok := namedBlock(body, "fields"); ok {
		out.Fields = parseFields(block)
	}
	if block, ok := namedBlock(body, "associate"); ok {
		out.Associations = parseAssociations(block)
	}
	if block, ok := namedBlock(body, "options"); ok {
		out.Options = parseOptions(block)
	}
	return out
}

// namedBlock returns the content of `name { ... }` inside body
func namedBlock(body, name string) (string, bool) {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\{`)
	loc := re.FindStringIndex(body)
	if loc == nil {
		return "", false
	}
	return balanced(body, loc[1]-1, '{', '}')
}

// balanced returns the text between s[openIdx] and its matching close
// delimiter, skipping over double-quoted strings.
func balanced(s string, openIdx int, open, close byte) (string, bool) {
	if openIdx < 0 || openIdx >= len(s) || s[openIdx] != open {
		return "", false
	}
	depth := 0
	inString := false
	escape := false
	for i := openIdx; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[openIdx+1 : i], true
			}
		}
	}
	return "", false
}

func parseFields(block string) []meta.Field {
	var fields []meta.Field
	for _, e := range parseEntries(block) {
		f := meta.Field{Name: e.key}
		switch e.val.kind {
		case kindObject:
			applyFieldProps(&f, e.val.object)
		case kindBare, kindString:
			f.Type = meta.NormalizeType(e.val.str)
		default:
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

func applyFieldProps(f *meta.Field, props []entry) {
	for _, p := range props {
		switch p.key {
		case "type":
			f.Type = meta.NormalizeType(p.val.str)
		case "primaryKey":
			f.PrimaryKey = p.val.str == "true"
		case "autoIncrement":
			f.AutoIncrement = p.val.str == "true"
		case "unique":
			f.Unique = p.val.str == "true"
		case "allowNull":
			f.AllowNull = meta.BoolPtr(p.val.str == "true")
		case "defaultValue":
			f.DefaultValue = decodeRaw(p.val)
		case "values":
			for _, v := range p.val.array {
				f.Values = append(f.Values, v.str)
			}
		case "references":
			ref := &meta.Reference{}
			for _, r := range p.val.object {
				switch r.key {
				case "model":
					ref.Model = r.val.str
				case "key":
					ref.Key = r.val.str
				}
			}
			if ref.Model != "" {
				f.References = ref
			}
		}
	}
}

func parseAssociations(block string) []meta.Association {
	var assocs []meta.Association
	for _, loc := range assocCallRegex.FindAllStringSubmatchIndex(block, -1) {
		kind := meta.AssociationType(block[loc[2]:loc[3]])
		args, ok := balanced(block, loc[1]-1, '(', ')')
		if !ok {
			continue
		}

		target := args
		rest := ""
		if i := strings.IndexByte(args, ','); i >= 0 {
			target, rest = args[:i], args[i+1:]
		}
		a := meta.Association{Type: kind, Target: strings.TrimSpace(target)}
		if a.Target == "" {
			continue
		}

		if i := strings.IndexByte(rest, '{'); i >= 0 {
			if inner, ok := balanced(rest, i, '{', '}'); ok {
				for _, e := range parseEntries(inner) {
					switch e.key {
					case "foreignKey":
						a.ForeignKey = e.val.str
					case "through":
						a.Through = e.val.str
					case "otherKey":
						a.OtherKey = e.val.str
					case "as":
						a.As = e.val.str
					}
				}
			}
		}
		assocs = append(assocs, a)
	}
	return assocs
}

func parseOptions(block string) meta.Options {
	opts := meta.Options{}
	for _, e := range parseEntries(block) {
		opts[e.key] = toInterface(e.val)
	}
	return opts
}

// decodeRaw reads a JSON-encoded literal, falling back to the plain value
func decodeRaw(v value) interface{} {
	if v.kind == kindString {
		return v.str
	}
	var out interface{}
	if err := json.Unmarshal([]byte(v.raw), &out); err == nil {
		return out
	}
	return toInterface(v)
}

func toInterface(v value) interface{} {
	switch v.kind {
	case kindString:
		return v.str
	case kindObject:
		m := make(map[string]interface{}, len(v.object))
		for _, e := range v.object {
			m[e.key] = toInterface(e.val)
		}
		return m
	case kindArray:
		arr := make([]interface{}, len(v.array))
		for i, item := range v.array {
			arr[i] = toInterface(item)
		}
		return arr
	}
	switch v.str {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(v.str, 64); err == nil {
		return n
	}
	return v.str
}
