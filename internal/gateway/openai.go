package gateway

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/penguin-run/penguin/pkg/core"
)

// OpenAIConfig holds the connection settings for an OpenAIGateway.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIGateway implements core.ModelGateway over the OpenAI chat
// completions streaming API.
type OpenAIGateway struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIGateway builds an OpenAIGateway from cfg.
func NewOpenAIGateway(cfg OpenAIConfig) *OpenAIGateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "gpt-4o"
	}
	return &OpenAIGateway{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: defaultModel,
	}
}

// Stream satisfies core.ModelGateway.
func (g *OpenAIGateway) Stream(ctx context.Context, messages []core.ChatMessage, cfg core.ModelConfig) (<-chan core.Delta, <-chan error) {
	deltas := make(chan core.Delta)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		model := cfg.Model
		if model == "" {
			model = g.defaultModel
		}

		req := openai.ChatCompletionRequest{
			Model:    model,
			Messages: convertChatMessages(messages),
			Stream:   true,
		}
		if cfg.MaxTokens > 0 {
			req.MaxTokens = cfg.MaxTokens
		}
		if cfg.Temperature > 0 {
			req.Temperature = float32(cfg.Temperature)
		}

		stream, err := g.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if asContextErr(err) {
				return
			}
			errs <- wrapStreamErr(err, classifyRetryable(err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if asContextErr(err) {
					return
				}
				errs <- wrapStreamErr(err, classifyRetryable(err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				if !send(ctx, deltas, core.Delta{Text: text, Kind: core.DeltaContent}) {
					return
				}
			}
		}
	}()

	return deltas, errs
}

func convertChatMessages(messages []core.ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case core.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case core.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return result
}
