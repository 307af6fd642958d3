package builtinactions

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aura-automation/aura/action"
	"github.com/aura-automation/aura/value"
)

// TextGenerator is the minimal surface ai.generate_text needs: a single-turn
// prompt-in, text-out call. Deliberately narrower than the teacher's
// features/model.Client tool-calling abstraction (no conversation history, no
// tool definitions, no streaming) since this action only needs one-shot text
// generation from a YAML-declared prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt, model string, maxTokens int64) (string, error)
}

// AnthropicTextGenerator implements TextGenerator over
// github.com/anthropics/anthropic-sdk-go, grounded on
// features/model/anthropic/client.go's NewFromAPIKey/Complete/
// translateResponse pattern.
type AnthropicTextGenerator struct {
	client       sdk.Client
	defaultModel string
}

// NewAnthropicTextGenerator constructs a generator using apiKey and
// defaultModel (an anthropic-sdk-go Model identifier, e.g.
// string(sdk.ModelClaudeSonnet4_5_20250929)) as the model used when an
// action call does not override it.
func NewAnthropicTextGenerator(apiKey, defaultModel string) (*AnthropicTextGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if defaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &AnthropicTextGenerator{
		client:       sdk.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}, nil
}

// GenerateText issues a single-turn Messages.New request and returns the
// first text content block, matching translateResponse's "text" case.
func (g *AnthropicTextGenerator) GenerateText(ctx context.Context, prompt, model string, maxTokens int64) (string, error) {
	if prompt == "" {
		return "", errors.New("anthropic: prompt is required")
	}
	if model == "" {
		model = g.defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	msg, err := g.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", nil
}

// registerAI adds ai.generate_text. gen may be nil, in which case the action
// fails at call time rather than at registration, matching how the other
// builtin actions tolerate a facade assembled without every optional
// dependency wired.
func registerAI(reg *action.Registry, gen TextGenerator) {
	reg.Register(&action.Definition{
		Name:     "ai.generate_text",
		ReadOnly: true,
		Public:   true,
		PluginID: PluginID,
		Params: []action.ParamSpec{
			{Name: "prompt", Kind: action.ParamRendered},
			{Name: "model", Kind: action.ParamRendered, Default: defaultString("")},
			{Name: "max_tokens", Kind: action.ParamRendered, Default: defaultNumber(0)},
		},
		Func: func(ctx context.Context, args action.Args) (value.Value, error) {
			if gen == nil {
				return value.Null, errors.New("ai.generate_text: no text generator configured")
			}
			promptVal, _ := args.Value("prompt")
			prompt, _ := promptVal.AsString()
			modelVal, _ := args.Value("model")
			model, _ := modelVal.AsString()
			maxTokensVal, _ := args.Value("max_tokens")
			maxTokens, _ := maxTokensVal.AsNumber()

			text, err := gen.GenerateText(ctx, prompt, model, int64(maxTokens))
			if err != nil {
				return value.Null, err
			}
			return value.String(text), nil
		},
	})
}

func defaultNumber(n float64) *value.Value {
	v := value.Number(n)
	return &v
}
