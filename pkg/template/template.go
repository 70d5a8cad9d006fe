// Package template renders step configuration against run data with Go templates.
package template

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const noValue = "<no value>"

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		// has reports whether a list contains the value, e.g. {{ has .contact.tags "vip" }}.
		"has": func(list any, value any) bool {
			items, ok := list.([]any)
			if !ok {
				if strs, ok := list.([]string); ok {
					return slices.Contains(strs, fmt.Sprint(value))
				}

				return false
			}

			return slices.ContainsFunc(items, func(item any) bool {
				return fmt.Sprint(item) == fmt.Sprint(value)
			})
		},
		"default": func(fallback any, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"contains": strings.Contains,
		"json": func(value any) (string, error) {
			data, err := json.Marshal(value)

			return string(data), err
		},
	}
}

// RenderString renders the template to text. Missing keys render empty.
func RenderString(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.New("step").Funcs(funcs()).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

// RenderHTML renders the template with contextual HTML escaping of the data.
func RenderHTML(templateStr string, data any) (string, error) {
	tmpl, err := htmltemplate.New("email").Funcs(htmltemplate.FuncMap(funcs())).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

// Render renders the template and converts the output to a typed value:
// JSON objects and arrays, numbers and booleans are decoded, anything else is
// returned as a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.New("transform").Funcs(funcs()).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
