package ai

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/znz-systems/mailpilot/internal/compose"
	"github.com/znz-systems/mailpilot/internal/models"
)

const defaultReplyTemplate = `Hi{{if .Name}} {{.Name}}{{end}},

Thanks for your message{{if .Subject}} about "{{.Subject}}"{{end}}. I've received it and will get back to you as soon as I can.
{{- if .Hint}}

{{.Hint}}
{{- end}}

Best regards`

// Template renders a fixed acknowledgement. It needs no network access and is
// used when no model is configured.
type Template struct {
	tmpl *template.Template
}

func NewTemplate(text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultReplyTemplate
	}
	t, err := template.New("reply").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse reply template: %w", err)
	}
	return &Template{tmpl: t}, nil
}

func (t *Template) GenerateReply(_ context.Context, thread *models.Thread, hint string) (string, error) {
	data := struct {
		Name    string
		Subject string
		Hint    string
	}{
		Name:    displayName(thread.From),
		Subject: thread.Subject,
		Hint:    strings.TrimSpace(hint),
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render reply template: %w", err)
	}
	return buf.String(), nil
}

// displayName returns the first word of the sender's display name, if any.
func displayName(from string) string {
	addr := compose.ExtractAddress(from)
	if addr == from {
		return ""
	}
	name := strings.TrimSpace(strings.Trim(strings.TrimSpace(strings.Replace(from, "<"+addr+">", "", 1)), `"`))
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
