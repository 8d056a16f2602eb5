package classifier

import (
	"context"
	"errors"
	"testing"

	"whatsapp-automations/internal/apperr"
	"whatsapp-automations/pkg/logger"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyword(t *testing.T) {
	tests := []struct {
		text string
		want Classification
	}{
		{"Yes please", Confirm},
		{"ok!", Confirm},
		{"👍", Confirm},
		{"no thanks", Decline},
		{"Please cancel it", Decline},
		{"Non merci", Decline},
		{"what is the delivery time?", Unclear},
		{"yes... no", Unclear},
		{"", Unclear},
	}
	k := NewKeyword()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := k.Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	got, ok := Parse(" decline.")
	assert.True(t, ok)
	assert.Equal(t, Decline, got)

	_, ok = Parse("maybe")
	assert.False(t, ok)
}

type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(_ context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func TestOpenAI_Classify(t *testing.T) {
	mock := &mockChatService{resp: openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "CONFIRM"}}},
	}}
	c := NewOpenAIWithService(mock, "gpt-4o-mini", logger.NewNopLogger())

	got, err := c.Classify(context.Background(), "wakha")
	require.NoError(t, err)
	assert.Equal(t, Confirm, got)
	assert.Len(t, mock.params.Messages, 2)
}

func TestOpenAI_FallsBackOnEmptyAnswer(t *testing.T) {
	mock := &mockChatService{resp: openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}}
	c := NewOpenAIWithService(mock, "", logger.NewNopLogger())

	got, err := c.Classify(context.Background(), "no thanks")
	require.NoError(t, err)
	assert.Equal(t, Decline, got)
}

func TestOpenAI_ErrorIsTyped(t *testing.T) {
	mock := &mockChatService{err: errors.New("rate limited")}
	c := NewOpenAIWithService(mock, "", logger.NewNopLogger())

	got, err := c.Classify(context.Background(), "yes")
	assert.Equal(t, Unclear, got)

	var apiErr *apperr.ExternalAPIError
	assert.ErrorAs(t, err, &apiErr)
}
