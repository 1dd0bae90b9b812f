package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/penguin-run/penguin/pkg/core"
)

// AnthropicConfig holds the connection settings for an AnthropicGateway.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string

	// DefaultModel is used when an agent's ModelConfig.Model is empty.
	DefaultModel string
}

// AnthropicGateway implements core.ModelGateway over the Anthropic
// Messages streaming API. It holds no per-call state: every Stream call
// opens an independent SSE connection, matching the Engine's one
// gateway-shared-across-agents usage pattern.
type AnthropicGateway struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicGateway builds an AnthropicGateway from cfg.
func NewAnthropicGateway(cfg AnthropicConfig) *AnthropicGateway {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicGateway{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

// Stream satisfies core.ModelGateway.
func (g *AnthropicGateway) Stream(ctx context.Context, messages []core.ChatMessage, cfg core.ModelConfig) (<-chan core.Delta, <-chan error) {
	deltas := make(chan core.Delta)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		model := cfg.Model
		if model == "" {
			model = g.defaultModel
		}
		maxTokens := int64(cfg.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages:  convertMessages(messages),
		}
		if sys := systemPrompt(messages); sys != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: sys}}
		}

		stream := g.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						if !send(ctx, deltas, core.Delta{Text: delta.Text, Kind: core.DeltaContent}) {
							return
						}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						if !send(ctx, deltas, core.Delta{Text: delta.Thinking, Kind: core.DeltaReasoning}) {
							return
						}
					}
				}
			case "message_stop":
				return
			}
		}
		if err := stream.Err(); err != nil {
			if asContextErr(err) {
				return
			}
			errs <- wrapStreamErr(err, isAnthropicRetryable(err))
		}
	}()

	return deltas, errs
}

// isAnthropicRetryable prefers the status code the SDK attaches to a
// structured *anthropic.Error, falling back to string classification for
// transport-level errors (timeouts, DNS failures) that never reach the API.
func isAnthropicRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	return classifyRetryable(err)
}

func systemPrompt(messages []core.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.Content)
		}
	}
	return b.String()
}

func convertMessages(messages []core.ChatMessage) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// user and tool-observation roles both become Anthropic user
			// turns; the parser/executor already folded tool output into
			// plain message content before it reaches the gateway.
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return result
}
