// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"
	"time"

	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/embeddings/ollama"
	"github.com/papercomputeco/stacks/pkg/embeddings/openai"
)

// ProviderNone disables embedding; the runner then works in simulation mode.
const ProviderNone = "none"

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	APIKey       string
	Dimensions   uint
	Timeout      time.Duration
}

// NewEmbedder builds the embedder for o.ProviderType. An empty or "none"
// provider returns a nil embedder and embeddings.ErrNotConfigured, as does a
// provider missing its credentials.
func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "", ProviderNone:
		return nil, embeddings.ErrNotConfigured
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
			Timeout:    o.Timeout,
		})
	case "openai":
		e, err := openai.NewEmbedder(openai.Config{
			APIKey:     o.APIKey,
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
			MaxRetries: 2,
			Timeout:    o.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
