package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billextract/internal/billerr"
	"billextract/internal/retry"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```\n", `{"a":1}`},
		{"prose is kept", "Here is the data:\n{\"a\":{\"b\":2}} thanks", "Here is the data:\n{\"a\":{\"b\":2}} thanks"},
		{"not json", "no braces here", "no braces here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.in))
		})
	}
}

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAI_Complete(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: `{"ok":true}`}}},
	}}
	c := NewOpenAIWithClient(chat, Options{Model: "gpt-4o", Temperature: 0})

	got, err := c.Complete(context.Background(), "prompt text")
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, got)
	assert.Equal(t, "gpt-4o", chat.req.Model)
	require.Len(t, chat.req.Messages, 1)
	assert.Equal(t, openai.ChatMessageRoleUser, chat.req.Messages[0].Role)
	assert.Equal(t, "prompt text", chat.req.Messages[0].Content)
	require.NotNil(t, chat.req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.req.ResponseFormat.Type)
}

func TestOpenAI_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &openai.APIError{HTTPStatusCode: http.StatusBadGateway}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: http.StatusBadRequest}, false},
		{"unauthorized", &openai.RequestError{HTTPStatusCode: http.StatusUnauthorized, Err: errors.New("denied")}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIWithClient(&fakeChat{err: tt.err}, Options{})
			_, err := c.Complete(context.Background(), "p")
			require.Error(t, err)
			assert.Equal(t, tt.transient, billerr.IsRetryable(err))
		})
	}
}

func TestOpenAI_NoChoicesIsTransient(t *testing.T) {
	c := NewOpenAIWithClient(&fakeChat{}, Options{})
	_, err := c.Complete(context.Background(), "p")
	assert.True(t, billerr.IsRetryable(err))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "openai"})
	assert.ErrorIs(t, err, billerr.ErrConfiguration)

	_, err = New(context.Background(), Options{Provider: "azure", APIKey: "k"})
	assert.ErrorIs(t, err, billerr.ErrConfiguration)

	_, err = New(context.Background(), Options{Provider: "llama"})
	assert.ErrorIs(t, err, billerr.ErrConfiguration)
}

func TestWithRetry(t *testing.T) {
	calls := 0
	inner := CompleterFunc(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", billerr.Transient("Complete", errors.New("503"), "")
		}
		return "{}", nil
	})
	policy := retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1}

	got, err := WithRetry(inner, policy).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "{}", got)
	assert.Equal(t, 2, calls)
}
