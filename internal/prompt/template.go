// Package prompt turns task descriptions, inputs and templates into prompts.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

//go:embed templates/*.md
var skeletons embed.FS

// Skeleton returns one of the embedded prompt skeletons by name
// (e.g. "chain-of-thought"). It panics on an unknown name.
func Skeleton(name string) string {
	data, err := skeletons.ReadFile("templates/" + name + ".md")
	if err != nil {
		panic(fmt.Sprintf("prompt: unknown skeleton %q", name))
	}
	return string(data)
}

// Subject is the part of a task the builders read.
type Subject struct {
	ID             string
	Description    string
	ExpectedOutput string
	Context        map[string]any
}

// BuildFromTemplate replaces every {{key}} with the string form of its value.
// Placeholders without a matching variable are left as they are.
func BuildFromTemplate(tmpl string, vars map[string]any) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := tmpl
	for _, k := range keys {
		out = strings.ReplaceAll(out, "{{"+k+"}}", Stringify(vars[k]))
	}
	return out
}

// Variables merges the execution input with the task fields a template may reference.
func Variables(s Subject, input map[string]any) map[string]any {
	vars := make(map[string]any, len(input)+4)
	for k, v := range input {
		vars[k] = v
	}
	vars["taskId"] = s.ID
	vars["taskDescription"] = s.Description
	vars["expectedOutput"] = s.ExpectedOutput
	vars["context"] = toJSON(orEmpty(s.Context), false)
	return vars
}

// Stringify converts a template variable to text. Strings pass through,
// scalars use their natural form and composite values are JSON encoded.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	default:
		return toJSON(x, false)
	}
}

func formatFloat(f float64) string {
	if math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toJSON(v any, indent bool) string {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
