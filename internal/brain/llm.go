package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/gemhq/gem/internal/registry"
	"github.com/gemhq/gem/pkg/models"
)

// Planner is the LLM fallback behind the rule table. Implementations MUST
// return the same artifact shape as a rule plan; plans are validated exactly
// like rule plans afterwards.
type Planner interface {
	Plan(ctx context.Context, message string, tools []*registry.Tool) ([]models.PlannedCall, string, error)
}

const defaultPlannerModel = "claude-sonnet-4-20250514"

const plannerSystemPrompt = `You translate an operator message into tool calls.
Respond with a JSON array only, no prose, no code fences:
[{"tool_name": "<name>", "input": {...}, "confidence": 0.0-1.0}]
Use only the tools listed below and follow each input schema exactly.
Respond with [] when no tool applies.`

// AnthropicPlanner asks Claude for a plan when no rule matches.
type AnthropicPlanner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicPlanner creates a planner. model may be empty.
func NewAnthropicPlanner(apiKey, model string) (*AnthropicPlanner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		model = defaultPlannerModel
	}
	return &AnthropicPlanner{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 1024,
	}, nil
}

// Plan implements Planner.
func (p *AnthropicPlanner) Plan(ctx context.Context, message string, tools []*registry.Tool) ([]models.PlannedCall, string, error) {
	prompt := plannerSystemPrompt + "\n\nTools:\n" + catalogueSummary(tools)

	response, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: prompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("planner request: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	planned, err := parsePlan(text.String())
	if err != nil {
		return nil, "", err
	}
	if len(planned) == 0 {
		return nil, "the language model found no applicable tool", nil
	}
	return planned, "plan produced by the language model", nil
}

// parsePlan decodes the model's JSON array, tolerating code fences the
// prompt forbids but models still emit.
func parsePlan(text string) ([]models.PlannedCall, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var planned []models.PlannedCall
	if err := json.Unmarshal([]byte(text), &planned); err != nil {
		return nil, fmt.Errorf("planner returned malformed plan: %w", err)
	}
	for i := range planned {
		if len(planned[i].Input) == 0 {
			planned[i].Input = json.RawMessage(`{}`)
		}
	}
	return planned, nil
}

func catalogueSummary(tools []*registry.Tool) string {
	var b strings.Builder
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n  input schema: %s\n", tool.Name, tool.Description, tool.InputSchema)
	}
	return b.String()
}
