package gateway

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/penguin-run/penguin/pkg/core"
)

// BedrockConfig holds the connection settings for a BedrockGateway.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// BedrockGateway implements core.ModelGateway over AWS Bedrock's
// ConverseStream API, giving the Engine access to any foundation model
// hosted on Bedrock through one adapter.
type BedrockGateway struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockGateway builds a BedrockGateway from cfg, loading AWS
// credentials from cfg if given or the default credential chain
// otherwise.
func NewBedrockGateway(ctx context.Context, cfg BedrockConfig) (*BedrockGateway, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	return &BedrockGateway{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: defaultModel,
	}, nil
}

// Stream satisfies core.ModelGateway.
func (g *BedrockGateway) Stream(ctx context.Context, messages []core.ChatMessage, cfg core.ModelConfig) (<-chan core.Delta, <-chan error) {
	deltas := make(chan core.Delta)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		model := cfg.Model
		if model == "" {
			model = g.defaultModel
		}

		req := &bedrockruntime.ConverseStreamInput{
			ModelId:  aws.String(model),
			Messages: convertBedrockMessages(messages),
		}
		if sys := systemPrompt(messages); sys != "" {
			req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: sys}}
		}
		if cfg.MaxTokens > 0 {
			maxTokens := cfg.MaxTokens
			if maxTokens > 1<<20 {
				maxTokens = 1 << 20
			}
			// #nosec G115 -- bounded above
			req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
		}

		out, err := g.client.ConverseStream(ctx, req)
		if err != nil {
			if asContextErr(err) {
				return
			}
			errs <- wrapStreamErr(err, classifyRetryable(err))
			return
		}

		eventStream := out.GetStream()
		defer eventStream.Close()

		for event := range eventStream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if text, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && text.Value != "" {
					if !send(ctx, deltas, core.Delta{Text: text.Value, Kind: core.DeltaContent}) {
						return
					}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				return
			}
		}
		if err := eventStream.Err(); err != nil {
			if asContextErr(err) {
				return
			}
			errs <- wrapStreamErr(err, classifyRetryable(err))
		}
	}()

	return deltas, errs
}

func convertBedrockMessages(messages []core.ChatMessage) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == core.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return result
}
