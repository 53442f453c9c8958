package functions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/aethra/lowcode/internal/errors"
)

// Args are the parameters of a call as decoded from JSON
type Args map[string]interface{}

// String returns the first non-empty string among keys
func (a Args) String(keys ...string) string {
	for _, k := range keys {
		switch v := a[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case uint:
			return strconv.FormatUint(uint64(v), 10)
		}
	}
	return ""
}

// Require is String that fails with a validation error when every key is empty
func (a Args) Require(keys ...string) (string, error) {
	if s := a.String(keys...); s != "" {
		return s, nil
	}
	return "", apperrors.NewValidationError(keys[0], keys[0]+" is required")
}

// Int returns key as an int, or def
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns key as a bool, or def
func (a Args) Bool(key string, def bool) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case float64:
		return v != 0
	}
	return def
}

// Map returns key as an object. Strings holding JSON objects are decoded.
func (a Args) Map(key string) map[string]interface{} {
	switch v := a[key].(type) {
	case map[string]interface{}:
		return v
	case string:
		var m map[string]interface{}
		if json.Unmarshal([]byte(v), &m) == nil {
			return m
		}
	}
	return nil
}

// Strings returns key as a string list; a comma separated string is split
func (a Args) Strings(key string) []string {
	var out []string
	switch v := a[key].(type) {
	case []interface{}:
		for _, it := range v {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		out = append(out, v...)
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Decode converts the value under key into v. Strings holding JSON are
// decoded as JSON. A missing key leaves v untouched.
func (a Args) Decode(key string, v interface{}) error {
	raw, ok := a[key]
	if !ok || raw == nil {
		return nil
	}
	var data []byte
	if s, ok := raw.(string); ok {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewValidationError(key, fmt.Sprintf("invalid %s: %v", key, err))
	}
	return nil
}

// Without returns a copy of a without keys
func (a Args) Without(keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for k, v := range a {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Schema builds a JSON schema object from property definitions. Required
// properties are marked with a trailing "!" in their key.
func Schema(props map[string]string) map[string]interface{} {
	properties := map[string]interface{}{}
	var required []string
	for key, typ := range props {
		name := strings.TrimSuffix(key, "!")
		if name != key {
			required = append(required, name)
		}
		properties[name] = map[string]interface{}{"type": typ}
	}
	schema := map[string]interface{}{"type": "object", "properties": properties}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}
