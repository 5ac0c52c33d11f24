package textgen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hylla/nudge/internal/app"
	"google.golang.org/genai"
)

func TestTemplateGeneratorRendersFacts(t *testing.T) {
	gen, err := NewTemplateGenerator(nil)
	if err != nil {
		t.Fatalf("NewTemplateGenerator() error = %v", err)
	}
	cases := []struct {
		purpose app.TextPurpose
		facts   map[string]string
		want    string
	}{
		{
			purpose: app.TextCoaching,
			facts:   map[string]string{app.FactTaskTitle: "Write report", app.FactReason: "fits your energy"},
			want:    "Up next: Write report. Chosen because it fits your energy.",
		},
		{
			purpose: app.TextCoaching,
			want:    "Up next: your next task.",
		},
		{
			purpose: app.TextDayInsight,
			facts:   map[string]string{app.FactCompleted: "2", app.FactXPToday: "45", app.FactStreak: "3", app.FactResolved: "0"},
			want:    "Today: 2 done, 45 XP. Streak: 3.",
		},
		{
			purpose: app.TextMotivation,
			facts:   map[string]string{app.FactStreak: "0"},
			want:    "Pick one thing and start small.",
		},
	}
	for _, tc := range cases {
		got, err := gen.Generate(context.Background(), app.TextRequest{Purpose: tc.purpose, Facts: tc.facts})
		if err != nil {
			t.Fatalf("Generate(%s) error = %v", tc.purpose, err)
		}
		if got != tc.want {
			t.Fatalf("Generate(%s) = %q, want %q", tc.purpose, got, tc.want)
		}
	}
}

func TestTemplateGeneratorOverridesAndErrors(t *testing.T) {
	gen, err := NewTemplateGenerator(map[app.TextPurpose]string{app.TextNoTask: "Rest, {{.mode}}."})
	if err != nil {
		t.Fatalf("NewTemplateGenerator() error = %v", err)
	}
	got, err := gen.Generate(context.Background(), app.TextRequest{Purpose: app.TextNoTask, Facts: map[string]string{app.FactMode: "recovery"}})
	if err != nil || got != "Rest, recovery." {
		t.Fatalf("Generate() = %q, %v", got, err)
	}
	if _, err := gen.Generate(context.Background(), app.TextRequest{Purpose: "limerick"}); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("Generate(unknown) error = %v, want ErrNoTemplate", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gen.Generate(ctx, app.TextRequest{Purpose: app.TextNoTask}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate(canceled) error = %v", err)
	}
	if _, err := NewTemplateGenerator(map[app.TextPurpose]string{app.TextNoTask: "{{"}); err == nil {
		t.Fatal("expected parse error")
	}
}

// stubModels records GenerateContent calls.
type stubModels struct {
	text      string
	err       error
	lastModel string
	lastText  string
	lastCfg   *genai.GenerateContentConfig
}

func (s *stubModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.lastModel = model
	s.lastCfg = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		s.lastText = contents[0].Parts[0].Text
	}
	if s.err != nil {
		return nil, s.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(s.text, genai.RoleModel),
		}},
	}, nil
}

func TestGenAIGeneratorBuildsPrompt(t *testing.T) {
	models := &stubModels{text: "  Go write that report.  "}
	gen := newGenAIGenerator(models, "")
	got, err := gen.Generate(context.Background(), app.TextRequest{
		Purpose: app.TextCoaching,
		Facts:   map[string]string{app.FactTaskTitle: "Write report", app.FactMode: "", app.FactReason: "high priority"},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Go write that report." {
		t.Fatalf("Generate() = %q", got)
	}
	if models.lastModel != DefaultGenAIModel || gen.Name() != "genai:"+DefaultGenAIModel {
		t.Fatalf("model = %q, name = %q", models.lastModel, gen.Name())
	}
	if strings.Contains(models.lastText, "mode:") {
		t.Fatalf("empty facts should be omitted: %q", models.lastText)
	}
	if strings.Index(models.lastText, "reason:") > strings.Index(models.lastText, "task_title:") {
		t.Fatalf("facts should be sorted: %q", models.lastText)
	}
	if models.lastCfg == nil || models.lastCfg.SystemInstruction == nil {
		t.Fatal("expected system instruction")
	}
}

func TestGenAIGeneratorErrors(t *testing.T) {
	gen := newGenAIGenerator(&stubModels{err: errors.New("quota")}, "gemini-test")
	if _, err := gen.Generate(context.Background(), app.TextRequest{Purpose: app.TextNoTask}); err == nil {
		t.Fatal("expected upstream error")
	}
	gen = newGenAIGenerator(&stubModels{text: "   "}, "gemini-test")
	if _, err := gen.Generate(context.Background(), app.TextRequest{Purpose: app.TextNoTask}); err == nil {
		t.Fatal("expected empty-text error")
	}
	if _, err := NewGenAIGenerator(context.Background(), " ", ""); err == nil {
		t.Fatal("expected missing key error")
	}
}
