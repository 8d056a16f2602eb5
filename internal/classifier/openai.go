package classifier

import (
	"context"
	"fmt"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/pkg/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = `You classify a customer's WhatsApp reply to an order confirmation request.
Answer with exactly one word: CONFIRM if the customer confirms the order, DECLINE if they refuse or cancel it, UNCLEAR otherwise.`

// ChatService is the slice of the OpenAI client the classifier needs.
type ChatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type chatCompletions struct {
	client openai.Client
}

func (c *chatCompletions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// OpenAI asks a chat model for the label. Empty or unparseable answers fall
// back to the keyword classifier.
type OpenAI struct {
	chat     ChatService
	model    string
	fallback Classifier
	logger   logger.Logger
}

func NewOpenAI(apiKey, model string, log logger.Logger) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIWithService(&chatCompletions{client: client}, model, log)
}

func NewOpenAIWithService(chat ChatService, model string, log logger.Logger) *OpenAI {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAI{chat: chat, model: model, fallback: NewKeyword(), logger: log}
}

func (o *OpenAI) Classify(ctx context.Context, text string) (Classification, error) {
	resp, err := o.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(5),
	})
	if err != nil {
		return Unclear, &apperr.ExternalAPIError{Provider: "openai", Message: fmt.Sprintf("classification request failed: %v", err)}
	}
	if len(resp.Choices) == 0 {
		o.logger.Warn("OpenAI returned no choices, using keyword classification")
		return o.fallback.Classify(ctx, text)
	}
	label, ok := Parse(resp.Choices[0].Message.Content)
	if !ok {
		o.logger.WithField("answer", resp.Choices[0].Message.Content).Warn("Unrecognized classification, using keyword classification")
		return o.fallback.Classify(ctx, text)
	}
	return label, nil
}
