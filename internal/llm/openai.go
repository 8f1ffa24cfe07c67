package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"billextract/internal/billerr"
	"billextract/internal/logger"
)

const azureAPIVersion = "2024-06-01"

// chatClient is the part of *openai.Client the completer needs.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI completes prompts with OpenAI or Azure OpenAI chat models in JSON mode.
type OpenAI struct {
	client chatClient
	opts   Options
	log    zerolog.Logger
}

// NewOpenAI creates an OpenAI completer. With Provider "azure" it targets
// the Azure deployment in opts.Deployment at opts.Endpoint.
func NewOpenAI(opts Options) (*OpenAI, error) {
	const op = "NewOpenAI"

	if opts.APIKey == "" {
		return nil, billerr.New(op, billerr.ErrConfiguration, "model API key is required")
	}

	var client *openai.Client
	if opts.Provider == "azure" {
		if opts.Endpoint == "" || opts.Deployment == "" {
			return nil, billerr.New(op, billerr.ErrConfiguration, "AZURE_OPENAI_ENDPOINT and DEPLOYMENT_NAME are required for azure")
		}
		cfg := openai.DefaultAzureConfig(opts.APIKey, opts.Endpoint)
		cfg.APIVersion = azureAPIVersion
		deployment := opts.Deployment
		cfg.AzureModelMapperFunc = func(string) string { return deployment }
		client = openai.NewClientWithConfig(cfg)
		if opts.Model == "" {
			opts.Model = deployment
		}
	} else {
		client = openai.NewClient(opts.APIKey)
		if opts.Model == "" {
			opts.Model = openai.GPT4o
		}
	}

	return NewOpenAIWithClient(client, opts), nil
}

// NewOpenAIWithClient creates a completer around an existing client (for testing).
func NewOpenAIWithClient(client chatClient, opts Options) *OpenAI {
	return &OpenAI{
		client: client,
		opts:   opts,
		log:    logger.WithComponent("openai"),
	}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	const op = "OpenAI.Complete"

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	o.log.Debug().
		Int("prompt_length", len(prompt)).
		Str("model", o.opts.Model).
		Float32("temperature", o.opts.Temperature).
		Msg("Sending completion request")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.opts.Model,
		Temperature: o.opts.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: o.opts.MaxTokens,
	})
	if err != nil {
		return "", o.classifyError(op, err)
	}

	if len(resp.Choices) == 0 {
		return "", billerr.Transient(op, errors.New("no choices in response"), "empty completion")
	}

	content := resp.Choices[0].Message.Content
	o.log.Debug().
		Int("response_length", len(content)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("Received completion")

	return content, nil
}

func (o *OpenAI) classifyError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if isTransientStatus(apiErr.HTTPStatusCode) {
			return billerr.Transient(op, err, fmt.Sprintf("status %d", apiErr.HTTPStatusCode))
		}
		return billerr.New(op, err, fmt.Sprintf("status %d", apiErr.HTTPStatusCode))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isTransientStatus(reqErr.HTTPStatusCode) {
			return billerr.Transient(op, err, fmt.Sprintf("status %d", reqErr.HTTPStatusCode))
		}
		return billerr.New(op, err, fmt.Sprintf("status %d", reqErr.HTTPStatusCode))
	}

	if isTransientNetwork(err) {
		return billerr.Transient(op, err, "request failed")
	}
	return billerr.New(op, err, "request failed")
}
