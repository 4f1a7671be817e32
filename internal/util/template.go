package util

import (
	"strings"
	"sync"
	"text/template"
)

var promptFuncs = template.FuncMap{
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}
		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// parsed prompt templates keyed by their source text
var promptCache sync.Map

// RenderPrompt executes text as a text/template against vars. Text without
// template actions is returned unchanged. Parsed templates are cached.
func RenderPrompt(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := parsePrompt(text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func parsePrompt(text string) (*template.Template, error) {
	if cached, ok := promptCache.Load(text); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := template.New("system_prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, err
	}
	actual, _ := promptCache.LoadOrStore(text, tmpl)
	return actual.(*template.Template), nil
}
