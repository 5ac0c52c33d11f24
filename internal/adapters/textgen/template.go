// Package textgen provides TextGenerator implementations for coaching copy.
package textgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/hylla/nudge/internal/app"
)

// ErrNoTemplate reports a purpose with no configured template.
var ErrNoTemplate = errors.New("no template for purpose")

// defaultTemplates phrase each purpose from request facts. Missing facts render empty.
var defaultTemplates = map[app.TextPurpose]string{
	app.TextMotivation: `{{with .streak}}{{if ne . "0"}}Day {{.}} of your streak. {{end}}{{end}}` +
		`{{with .level}}Level {{.}}. {{end}}Pick one thing and start small.`,
	app.TextCoaching: `Up next: {{or .task_title "your next task"}}.` +
		`{{with .reason}} Chosen because it {{.}}.{{end}}` +
		`{{with .mode}} Mode: {{.}}.{{end}}`,
	app.TextNoTask: `Nothing on your list fits right now{{with .mode}} in {{.}} mode{{end}}. ` +
		`A short reset and a fresh check-in usually helps.`,
	app.TextStuckCoach: `{{or .task_title "This task"}} has stalled {{or .stuck_episodes "several"}} times. ` +
		`Name the blocker in one sentence, then decide: ask, split or park it.`,
	app.TextDayInsight: `Today: {{or .completed_count "0"}} done, {{or .xp_today "0"}} XP.` +
		`{{with .resolved_episodes}}{{if ne . "0"}} You got unstuck {{.}} time(s).{{end}}{{end}}` +
		` Streak: {{or .streak "0"}}.`,
}

// TemplateGenerator renders coaching copy from text/template definitions.
type TemplateGenerator struct {
	templates map[app.TextPurpose]*template.Template
}

// NewTemplateGenerator parses the default templates plus overrides keyed by purpose.
func NewTemplateGenerator(overrides map[app.TextPurpose]string) (*TemplateGenerator, error) {
	sources := make(map[app.TextPurpose]string, len(defaultTemplates)+len(overrides))
	for purpose, src := range defaultTemplates {
		sources[purpose] = src
	}
	for purpose, src := range overrides {
		if strings.TrimSpace(src) == "" {
			continue
		}
		sources[purpose] = src
	}
	g := &TemplateGenerator{templates: make(map[app.TextPurpose]*template.Template, len(sources))}
	for purpose, src := range sources {
		tmpl, err := template.New(string(purpose)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", purpose, err)
		}
		g.templates[purpose] = tmpl
	}
	return g, nil
}

// Generate renders the template for req.Purpose.
func (g *TemplateGenerator) Generate(ctx context.Context, req app.TextRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tmpl, ok := g.templates[req.Purpose]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoTemplate, req.Purpose)
	}
	facts := req.Facts
	if facts == nil {
		facts = map[string]string{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, facts); err != nil {
		return "", fmt.Errorf("render %s: %w", req.Purpose, err)
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}
