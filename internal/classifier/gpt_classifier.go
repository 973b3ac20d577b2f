package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// maxPromptMessages bounds how many excerpts go into one request.
const maxPromptMessages = 50

type GPTConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxTopics   int
}

type GPTClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	fallback    *SimpleClassifier
	logger      *zap.Logger
}

func NewGPTClassifier(cfg GPTConfig, logger *zap.Logger) *GPTClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &GPTClassifier{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		fallback:    NewSimpleClassifier(cfg.MaxTopics),
		logger:      logger,
	}
}

func (c *GPTClassifier) Digest(ctx context.Context, messages []string) Digest {
	if len(messages) == 0 {
		return c.fallback.Digest(ctx, messages)
	}
	batch := messages
	if len(batch) > maxPromptMessages {
		batch = batch[:maxPromptMessages]
	}

	prompt := fmt.Sprintf(`These are recent messages posted by members of a community who joined through a referral link.
Identify the main topics (max %d, short lowercase words) and write a one-sentence summary of what members talk about.

Return the response as a JSON object with this structure:
{
    "topics": ["topic1", "topic2", ...],
    "summary": "one_sentence_summary"
}

Messages:
- %s`, c.fallback.maxTopics, strings.Join(batch, "\n- "))

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		c.logger.Error("Failed to get GPT response", zap.Error(err))
		return c.fallback.Digest(ctx, messages)
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("GPT response has no choices")
		return c.fallback.Digest(ctx, messages)
	}

	response := stripCodeFence(resp.Choices[0].Message.Content)

	var digest Digest
	if err := json.Unmarshal([]byte(response), &digest); err != nil {
		c.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", response))
		return c.fallback.Digest(ctx, messages)
	}

	for i, topic := range digest.Topics {
		digest.Topics[i] = strings.ToLower(strings.TrimSpace(topic))
	}
	if len(digest.Topics) > c.fallback.maxTopics {
		digest.Topics = digest.Topics[:c.fallback.maxTopics]
	}
	return digest
}

// stripCodeFence removes a ```json fence models sometimes wrap replies in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
