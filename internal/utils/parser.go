package utils

import (
	"encoding/json"
	"html"
	"regexp"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// placeholders look like {{ name }} or {{ name | fallback }}
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*(?:\|\s*([^}]*?)\s*)?\}\}`)

// ParseVariables lists the distinct placeholder names in text, sorted.
func ParseVariables(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReplaceVariables substitutes placeholders with values from variables.
// Unknown or empty variables fall back to the inline default, or render
// empty. Values are HTML-escaped when escapeHTML is set; defaults are part
// of the template and are inserted as written.
func ReplaceVariables(input string, variables map[string]string, escapeHTML bool) string {
	return placeholderRe.ReplaceAllStringFunc(input, func(match string) string {
		m := placeholderRe.FindStringSubmatch(match)
		value := variables[m[1]]
		if value == "" {
			return m[2]
		}
		if escapeHTML {
			return html.EscapeString(value)
		}
		return value
	})
}

// JSONToMap converts a JSON object column to string values; non-string
// values are rendered with their JSON text.
func JSONToMap(jsonData datatypes.JSON) (map[string]string, error) {
	result := map[string]string{}
	if len(jsonData) == 0 {
		return result, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			result[k] = s
			continue
		}
		result[k] = strings.TrimSpace(string(v))
	}
	return result, nil
}
