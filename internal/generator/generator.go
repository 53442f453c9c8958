// Package generator - model source generator and parser.
// Encode and Decode form a matched pair: Decode reads back anything Encode writes.
package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/aethra/lowcode/internal/meta"
)

// Codec encodes model definitions to source artifacts and decodes them back
type Codec interface {
	Encode(spec Spec) (string, error)
	Decode(src string) ModelSource
}

// Spec is the input of the model source generator
type Spec struct {
	Name         string
	ClassName    string
	Module       string
	Fields       []meta.Field
	Associations []meta.Association
	Options      meta.Options
}

// ModelSource is what the parser extracts from a model source artifact
type ModelSource struct {
	ClassName    string
	Fields       []meta.Field
	Associations []meta.Association
	Options      meta.Options
}

// Valid reports whether the source could be parsed at all
func (s ModelSource) Valid() bool {
	return s.ClassName != ""
}

// Definition returns the parsed body as a meta.Definition
func (s ModelSource) Definition() meta.Definition {
	return meta.Definition{Fields: s.Fields, Associations: s.Associations, Options: s.Options}
}

// ModelCodec is the default Codec
type ModelCodec struct {
	tmpl *template.Template
}

// NewCodec creates a model codec
func NewCodec() *ModelCodec {
	tmpl := template.Must(template.New("model").Funcs(template.FuncMap{
		"fieldExpr": fieldExpr,
		"assocCall": assocCall,
	}).Parse(modelTemplate))
	return &ModelCodec{tmpl: tmpl}
}

type optionLine struct {
	Key   string
	Value string
}

type modelView struct {
	Name         string
	ClassName    string
	Module       string
	Fields       []meta.Field
	Associations []meta.Association
	Options      []optionLine
}

// Encode renders a complete model source artifact. modelName and tableName
// are always written so the file is self-describing.
func (c *ModelCodec) Encode(spec Spec) (string, error) {
	if spec.ClassName == "" {
		return "", fmt.Errorf("class name is required")
	}
	name := spec.Name
	if name == "" {
		name = strings.ToLower(spec.ClassName)
	}

	opts := spec.Options.Clone()
	if opts.ModelName() == "" {
		opts["modelName"] = name
	}
	opts["tableName"] = meta.ResolveTableName(spec.ClassName, spec.Module, spec.Options)

	fields := make([]meta.Field, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		f.Type = meta.NormalizeType(string(f.Type))
		if f.Type == meta.TypeEnum && len(f.Values) == 0 {
			f.Values = meta.DefaultEnumValues(f.Name)
		}
		fields = append(fields, f)
	}

	view := modelView{
		Name:         name,
		ClassName:    spec.ClassName,
		Module:       spec.Module,
		Fields:       fields,
		Associations: spec.Associations,
		Options:      optionLines(opts),
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// optionLines orders modelName and tableName first, then the rest by key
func optionLines(opts meta.Options) []optionLine {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		if k != "modelName" && k != "tableName" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	keys = append([]string{"modelName", "tableName"}, keys...)

	lines := make([]optionLine, 0, len(keys))
	for _, k := range keys {
		v, ok := opts[k]
		if !ok {
			continue
		}
		lines = append(lines, optionLine{Key: k, Value: literal(v)})
	}
	return lines
}

var bareWord = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// literal renders a value; identifier-like strings stay bare unless they
// would read back as a bool, null or number ("NaN", "Inf")
func literal(v interface{}) string {
	switch val := v.(type) {
	case string:
		if bareWord.MatchString(val) && val != "true" && val != "false" && val != "null" {
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				return val
			}
		}
		return strconv.Quote(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return strconv.Quote(fmt.Sprint(val))
		}
		return string(b)
	}
}

// needsObjectForm reports whether a field must be written as an object literal
func needsObjectForm(f meta.Field) bool {
	return f.PrimaryKey || f.AutoIncrement || f.AllowNull != nil || f.Unique ||
		f.Type == meta.TypeEnum || f.References != nil || f.DefaultValue != nil || len(f.Values) > 0
}

func fieldExpr(f meta.Field) string {
	if !needsObjectForm(f) {
		return string(f.Type)
	}
	parts := []string{"type: " + string(f.Type)}
	if f.PrimaryKey {
		parts = append(parts, "primaryKey: true")
	}
	if f.AutoIncrement {
		parts = append(parts, "autoIncrement: true")
	}
	if f.AllowNull != nil {
		parts = append(parts, "allowNull: "+strconv.FormatBool(*f.AllowNull))
	}
	if f.Unique {
		parts = append(parts, "unique: true")
	}
	if f.DefaultValue != nil {
		b, err := json.Marshal(f.DefaultValue)
		if err == nil {
			parts = append(parts, "defaultValue: "+string(b))
		}
	}
	if len(f.Values) > 0 {
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = strconv.Quote(v)
		}
		parts = append(parts, "values: ["+strings.Join(quoted, ", ")+"]")
	}
	if f.References != nil {
		ref := "references: { model: " + literal(f.References.Model)
		if f.References.Key != "" {
			ref += ", key: " + literal(f.References.Key)
		}
		parts = append(parts, ref+" }")
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func assocCall(a meta.Association) string {
	var opts []string
	if a.Through != "" {
		opts = append(opts, "through: "+literal(a.Through))
	}
	if a.ForeignKey != "" {
		opts = append(opts, "foreignKey: "+literal(a.ForeignKey))
	}
	if a.OtherKey != "" {
		opts = append(opts, "otherKey: "+literal(a.OtherKey))
	}
	if a.As != "" {
		opts = append(opts, "as: "+literal(a.As))
	}
	if len(opts) == 0 {
		return fmt.Sprintf("%s(%s)", a.Type, a.Target)
	}
	return fmt.Sprintf("%s(%s, { %s })", a.Type, a.Target, strings.Join(opts, ", "))
}

// Model source template. Every association is guarded by has(Target) because
// modules load independently and the target may not be registered yet.
const modelTemplate = `// Code generated by lowcode. DO NOT EDIT.
// Model: {{.Name}}{{if .Module}} (module {{.Module}}){{end}}

model {{.ClassName}} {
	fields {
{{- range .Fields}}
		{{.Name}}: {{fieldExpr .}}
{{- end}}
	}

	associate {
{{- range .Associations}}
		if has({{.Target}}) {
			{{assocCall .}}
		}
{{- end}}
	}

	options {
{{- range .Options}}
		{{.Key}}: {{.Value}}
{{- end}}
	}
}
`
