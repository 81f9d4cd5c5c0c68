package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	tetherschema "github.com/Paintersrp/tether/schema"
)

const schemaResource = "tether.v1.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaTree     any
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if err := json.Unmarshal(tetherschema.TetherV1Schema, &schemaTree); err != nil {
			schemaErr = fmt.Errorf("parse config schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource(schemaResource, bytes.NewReader(tetherschema.TetherV1Schema)); err != nil {
			schemaErr = fmt.Errorf("add config schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaResource)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// FieldError is a single schema violation named by its dotted config path,
// the same way Validate names fields.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// SchemaError lists every schema violation found in a config document.
type SchemaError struct {
	Problems []FieldError
}

func (e *SchemaError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.String()
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

func validateAgainstSchema(doc map[string]any) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	instance, err := toJSONValue(doc)
	if err != nil {
		return fmt.Errorf("prepare config for schema validation: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var vErr *jsonschema.ValidationError
	if !errors.As(err, &vErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var problems []FieldError
	collectProblems(vErr, instance, &problems)
	if len(problems) == 0 {
		problems = append(problems, FieldError{Field: "config", Message: vErr.Message})
	}
	sort.SliceStable(problems, func(i, j int) bool { return problems[i].Field < problems[j].Field })
	return &SchemaError{Problems: dedupe(problems)}
}

// toJSONValue round-trips the YAML document through JSON so the validator
// sees the same types a JSON document would produce.
func toJSONValue(doc map[string]any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func collectProblems(err *jsonschema.ValidationError, instance any, out *[]FieldError) {
	if len(err.Causes) > 0 {
		for _, cause := range err.Causes {
			collectProblems(cause, instance, out)
		}
		return
	}

	keyword := path.Base(err.KeywordLocation)
	rule := lookup(schemaTree, err.KeywordLocation)
	value := lookup(instance, err.InstanceLocation)
	field := fieldName(err.InstanceLocation)

	switch keyword {
	case "additionalProperties":
		known := propertyNames(lookup(schemaTree, strings.TrimSuffix(err.KeywordLocation, keyword)+"properties"))
		for _, key := range objectKeys(value) {
			if _, ok := known[key]; !ok {
				*out = append(*out, FieldError{Field: joinField(field, key), Message: "unknown field"})
			}
		}
	case "required":
		present := objectKeys(value)
		for _, name := range stringList(rule) {
			if !contains(present, name) {
				*out = append(*out, FieldError{Field: joinField(field, name), Message: "required"})
			}
		}
	case "enum":
		*out = append(*out, FieldError{Field: field, Message: fmt.Sprintf("unsupported value %s (want %s)", render(value), strings.Join(stringList(rule), ", "))})
	case "type":
		*out = append(*out, FieldError{Field: field, Message: fmt.Sprintf("must be a %s", strings.Join(stringList(rule), " or "))})
	case "minLength":
		*out = append(*out, FieldError{Field: field, Message: "must not be empty"})
	case "minimum":
		*out = append(*out, FieldError{Field: field, Message: fmt.Sprintf("must be at least %v", rule)})
	case "maximum":
		*out = append(*out, FieldError{Field: field, Message: fmt.Sprintf("must be at most %v", rule)})
	default:
		*out = append(*out, FieldError{Field: field, Message: err.Message})
	}
}

// lookup resolves a JSON pointer against a decoded JSON value.
func lookup(root any, ptr string) any {
	if ptr == "" || ptr == "/" {
		return root
	}
	current := root
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		switch node := current.(type) {
		case map[string]any:
			current = node[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

// fieldName turns an instance pointer such as /backend/ports/0 into the
// dotted form backend.ports[0].
func fieldName(ptr string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(segment); err == nil {
			fmt.Fprintf(&b, "[%s]", segment)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(segment)
	}
	if b.Len() == 0 {
		return "config"
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "config" {
		return name
	}
	return parent + "." + name
}

func objectKeys(v any) []string {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func propertyNames(v any) map[string]struct{} {
	names := map[string]struct{}{}
	for _, k := range objectKeys(v) {
		names[k] = struct{}{}
	}
	return names
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprint(v)
}

func dedupe(problems []FieldError) []FieldError {
	out := problems[:0]
	seen := map[FieldError]struct{}{}
	for _, p := range problems {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
