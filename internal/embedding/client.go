package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client wraps the OpenAI client for embedding generation. Any server
// implementing the OpenAI embeddings endpoint can be targeted by BaseURL.
type Client struct {
	client *openai.Client
}

// ClientConfig selects the provider endpoint.
type ClientConfig struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
}

// NewClient creates a client for the configured provider. The hosted
// provider requires an API key; a self-hosted BaseURL does not.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{
		// Retries are handled by the embedder's backoff.
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey("unused"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &Client{client: &client}, nil
}
