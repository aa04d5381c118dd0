// Package llm provides the single-shot completion client used by the memory
// pipeline. The extractor and the supersession classifier only ever need one
// call shape: a prompt in, text out. Provider-specific chat protocols stay
// behind CallFunc implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Typed error kinds so callers can distinguish "retry" from "permanently skip".
var (
	// ErrUnavailable indicates the completion backend could not be reached.
	ErrUnavailable = errors.New("llm backend unavailable")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("llm call timed out")

	// ErrMalformed indicates the backend answered but the payload could not
	// be interpreted.
	ErrMalformed = errors.New("llm response malformed")
)

// CallFunc is the signature for a single LLM completion call.
type CallFunc func(ctx context.Context, prompt string) (string, error)

// Caller issues single-shot completions against a configured model.
type Caller interface {
	// Complete sends one prompt and returns the raw completion text.
	Complete(ctx context.Context, prompt string) (string, error)

	// Model returns the configured model name.
	Model() string
}

// Config selects and configures a completion backend.
type Config struct {
	// Provider is one of "ollama", "openai", "anthropic".
	Provider string

	// Model is the completion model, e.g. "llama3.2" or "gpt-4o-mini".
	Model string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// APIKey is the explicit API key. When empty, the provider-specific
	// environment variable is consulted (OPENAI_API_KEY, ANTHROPIC_API_KEY).
	APIKey string

	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration
}

type funcCaller struct {
	call  CallFunc
	model string
}

func (f *funcCaller) Complete(ctx context.Context, prompt string) (string, error) {
	return f.call(ctx, prompt)
}

func (f *funcCaller) Model() string { return f.model }

// NewCaller creates a Caller for the configured provider.
func NewCaller(cfg Config) (Caller, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case "ollama", "":
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return &funcCaller{call: newOllamaCaller(model, baseURL, cfg.Timeout), model: model}, nil

	case "openai":
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return &funcCaller{call: newOpenAICaller(apiKey, model, baseURL, cfg.Timeout), model: model}, nil

	case "anthropic":
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return &funcCaller{call: newAnthropicCaller(apiKey, model, baseURL, cfg.Timeout), model: model}, nil

	default:
		return nil, fmt.Errorf("unknown llm provider: %q (available: ollama, openai, anthropic)", cfg.Provider)
	}
}

// classifyTransportErr maps transport failures onto the typed error kinds.
func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// classifyStatus maps non-200 responses onto the typed error kinds.
func classifyStatus(status int, body []byte) error {
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return fmt.Errorf("%w: status %d: %s", ErrTimeout, status, string(body))
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, string(body))
	}
	return fmt.Errorf("%w: status %d: %s", ErrMalformed, status, string(body))
}
