package textgen

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hylla/nudge/internal/app"
	"google.golang.org/genai"
)

// DefaultGenAIModel is used when no model is configured.
const DefaultGenAIModel = "gemini-2.5-flash"

const systemPrompt = "You write one or two short, warm, concrete sentences for a focus app. " +
	"Use only the facts given. Never invent tasks, numbers or names. No lists, no emoji."

// contentGenerator is the subset of *genai.Models the generator calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIGenerator produces coaching copy with Google's Gemini API.
type GenAIGenerator struct {
	models    contentGenerator
	model     string
	maxTokens int32
}

// NewGenAIGenerator creates a Gemini-backed generator.
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}
	return newGenAIGenerator(client.Models, model), nil
}

func newGenAIGenerator(models contentGenerator, model string) *GenAIGenerator {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultGenAIModel
	}
	return &GenAIGenerator{models: models, model: model, maxTokens: 120}
}

// Generate asks the model to phrase req.Facts for req.Purpose.
func (g *GenAIGenerator) Generate(ctx context.Context, req app.TextRequest) (string, error) {
	resp, err := g.models.GenerateContent(ctx,
		g.model,
		[]*genai.Content{genai.NewContentFromText(buildPrompt(req), genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.7),
			MaxOutputTokens:   g.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate %s: %w", req.Purpose, err)
	}
	if resp == nil {
		return "", errors.New("GenAI returned no response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("GenAI returned empty text")
	}
	return text, nil
}

// Name returns the generator name.
func (g *GenAIGenerator) Name() string {
	return "genai:" + g.model
}

// buildPrompt renders the purpose and facts in a stable order.
func buildPrompt(req app.TextRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Purpose: %s\n", purposeInstruction(req.Purpose))
	keys := make([]string, 0, len(req.Facts))
	for k := range req.Facts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	b.WriteString("Facts:\n")
	for _, k := range keys {
		if v := strings.TrimSpace(req.Facts[k]); v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}

func purposeInstruction(p app.TextPurpose) string {
	switch p {
	case app.TextCoaching:
		return "encourage the user to start the selected task and mention why it was picked"
	case app.TextNoTask:
		return "explain gently that no task fits right now and suggest a reset"
	case app.TextStuckCoach:
		return "help a user who is repeatedly stuck on a task decide their next move"
	case app.TextDayInsight:
		return "summarize the user's day"
	case app.TextMotivation:
		return "greet the user and motivate a first small step"
	default:
		return string(p)
	}
}
