// Package llm sends prompts to a language model and returns the raw reply.
//
// Providers:
//   - openai: OpenAI chat completions (OPENAI_API_KEY, OPENAI_MODEL)
//   - azure:  Azure OpenAI deployments (AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY, DEPLOYMENT_NAME)
//   - gemini: Google Gemini (GEMINI_API_KEY, GEMINI_MODEL)
//
// Replies are untrusted text. Callers parse and validate them.
// Timeouts, rate limits and 5xx responses are reported as
// billerr.ErrTransientService so WithRetry can back off and try again.
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"billextract/internal/billerr"
	"billextract/internal/logger"
	"billextract/internal/retry"
)

// Completer is the model completion capability used by extraction and validation.
type Completer interface {
	// Complete sends prompt as a single user message and returns the reply text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options holds settings shared by all providers.
type Options struct {
	Provider    string
	Model       string
	APIKey      string
	Endpoint    string
	Deployment  string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// New creates the Completer for opts.Provider.
func New(ctx context.Context, opts Options) (Completer, error) {
	const op = "llm.New"

	switch strings.ToLower(opts.Provider) {
	case "", "openai", "azure":
		opts.Provider = strings.ToLower(opts.Provider)
		c, err := NewOpenAI(opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "gemini":
		c, err := NewGemini(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, billerr.New(op, billerr.ErrConfiguration, "unknown model provider: "+opts.Provider)
	}
}

type retrying struct {
	next   Completer
	policy retry.Policy
	log    zerolog.Logger
}

// WithRetry retries transient failures of next with exponential backoff.
func WithRetry(next Completer, policy retry.Policy) Completer {
	return &retrying{
		next:   next,
		policy: policy,
		log:    logger.WithComponent("llm"),
	}
}

// Complete implements Completer.
func (r *retrying) Complete(ctx context.Context, prompt string) (string, error) {
	var reply string
	err := retry.Do(ctx, r.policy, r.log, "Complete", func(ctx context.Context) error {
		var err error
		reply, err = r.next.Complete(ctx, prompt)
		return err
	})
	return reply, err
}

// CleanJSON strips Markdown code fences around a model reply.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return strings.Trim(s, "`")
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// isTransientNetwork reports whether err is a timeout or a network failure.
func isTransientNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
