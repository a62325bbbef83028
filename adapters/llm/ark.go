// Package llm talks to the dialogue model through the OpenAI-compatible
// chat completions API exposed by the model platform.
package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/huohuo-app/voice-gateway/domain/repositories"
	"github.com/huohuo-app/voice-gateway/internal/persona"
)

const (
	defaultBaseURL = "https://ark.cn-beijing.volces.com/api/v3"
	defaultModel   = "doubao-1-5-pro-32k-250115"
)

// Config holds the dialogue upstream settings.
// Required fields:
// - APIKey: platform API key
// Optional fields with defaults:
// - BaseURL: OpenAI-compatible endpoint
// - Model: chat model identifier
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ConfigFromEnv reads the dialogue settings from environment variables.
func ConfigFromEnv() Config {
	return Config{
		APIKey:  os.Getenv("ARK_API_KEY"),
		BaseURL: os.Getenv("ARK_BASE_URL"),
		Model:   os.Getenv("ARK_MODEL"),
	}
}

// ArkDialogue implements DialogueModel over the chat completions API.
// Every exchange sends the persona system prompt plus the user's text and
// parses the emotion marker out of the reply.
type ArkDialogue struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

var _ repositories.DialogueModel = (*ArkDialogue)(nil)

// NewArkDialogue creates a dialogue client, applying defaults for unset
// optional settings.
func NewArkDialogue(config Config, logger *zap.Logger) (*ArkDialogue, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("dialogue API key is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
		logger.Info("Using default dialogue endpoint", zap.String("baseURL", baseURL))
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default dialogue model", zap.String("model", model))
	}

	client := openai.NewClient(
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(baseURL),
	)

	return &ArkDialogue{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Respond sends one two-message exchange to the model. On upstream
// failure the returned reply carries the persona's apology with a worried
// emotion so the caller can still answer the user; the error reports the
// failure alongside it.
func (a *ArkDialogue) Respond(ctx context.Context, userText string) (*repositories.DialogueReply, error) {
	a.logger.Info("Requesting dialogue reply", zap.Int("userTextLength", len(userText)))

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(persona.SystemPrompt()),
			openai.UserMessage(userText),
		},
	})
	if err != nil {
		a.logger.Error("Dialogue upstream failed", zap.Error(err))
		return &repositories.DialogueReply{
			Text:    persona.ApologyReply(),
			Emotion: persona.EmotionWorried,
		}, fmt.Errorf("dialogue completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		a.logger.Error("Dialogue upstream returned no choices")
		return &repositories.DialogueReply{
			Text:    persona.ApologyReply(),
			Emotion: persona.EmotionWorried,
		}, fmt.Errorf("dialogue completion returned no choices")
	}

	raw := completion.Choices[0].Message.Content
	text, emotion := persona.ParseEmotion(raw)

	a.logger.Info("Dialogue reply received",
		zap.Int("replyLength", len(text)),
		zap.Int("emotion", emotion))

	return &repositories.DialogueReply{Text: text, Emotion: emotion}, nil
}
