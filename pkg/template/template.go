// Package template renders the placeholders staff can put in notification
// titles and contents, such as "{{ .TargetCount }} customers at risk".
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// NotificationData is what a notification template can reference.
type NotificationData struct {
	WorkflowID    string
	WorkflowTitle string
	ShopID        string
	TriggerType   string
	TargetCount   int
	Now           time.Time
}

var funcs = template.FuncMap{
	"date": func(layout string, t time.Time) string {
		return t.Format(layout)
	},
	"plural": func(n int, singular, plural string) string {
		if n == 1 {
			return singular
		}

		return plural
	},
	"upper": strings.ToUpper,
}

// Render executes templateStr against data. Text without "{{" is returned
// unchanged without parsing.
func Render(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.New("notification").
		Option("missingkey=error").
		Funcs(funcs).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}
