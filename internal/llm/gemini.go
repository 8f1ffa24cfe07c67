package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"billextract/internal/billerr"
	"billextract/internal/logger"
)

// DefaultGeminiModel is used when GEMINI_MODEL is not set.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini completes prompts with Google Gemini models.
type Gemini struct {
	client *genai.Client
	opts   Options
	log    zerolog.Logger
}

// NewGemini creates a Gemini completer. Without an API key the client
// falls back to GOOGLE_API_KEY / Vertex AI settings from the environment.
func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	const op = "NewGemini"

	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if opts.APIKey != "" {
		cfg.APIKey = opts.APIKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, billerr.New(op, billerr.ErrConfiguration, fmt.Sprintf("create genai client: %v", err))
	}

	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}

	return &Gemini{
		client: client,
		opts:   opts,
		log:    logger.WithComponent("gemini"),
	}, nil
}

// Complete implements Completer.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	const op = "Gemini.Complete"

	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.opts.Temperature),
	}
	if g.opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.opts.MaxTokens)
	}

	g.log.Debug().
		Int("prompt_length", len(prompt)).
		Str("model", g.opts.Model).
		Msg("Sending generate content request")

	resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, config)
	if err != nil {
		return "", classifyGeminiError(op, err)
	}

	text := resp.Text()
	if text == "" {
		return "", billerr.Transient(op, errors.New("empty response from model"), "no text in candidates")
	}
	return text, nil
}

func classifyGeminiError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isTransientStatus(apiErr.Code) {
			return billerr.Transient(op, err, fmt.Sprintf("status %d", apiErr.Code))
		}
		return billerr.New(op, err, fmt.Sprintf("status %d", apiErr.Code))
	}
	if isTransientNetwork(err) {
		return billerr.Transient(op, err, "generate content failed")
	}
	return billerr.New(op, err, "generate content failed")
}
