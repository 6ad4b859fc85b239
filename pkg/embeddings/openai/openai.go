// Package openai implements the embeddings.Embedder gateway on top of the
// OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/gateway"
)

const (
	// DefaultEmbeddingModel is the default OpenAI embedding model.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultDimensions is the native vector size of DefaultEmbeddingModel.
	DefaultDimensions = 1536

	opEmbed = "openai.embed"
)

// Config holds configuration for the OpenAI embedder.
type Config struct {
	// APIKey is required. An empty key yields embeddings.ErrNotConfigured.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string

	// Model defaults to DefaultEmbeddingModel.
	Model string

	// Dimensions requests shortened vectors. Zero keeps the model default.
	Dimensions uint

	// MaxRetries is handed to the SDK's retry loop for 429s and 5xx.
	MaxRetries int

	// Timeout bounds a single request including SDK retries.
	Timeout time.Duration
}

// Embedder wraps the OpenAI embeddings endpoint.
type Embedder struct {
	client     openaisdk.Client
	model      string
	dimensions uint
}

// NewEmbedder creates an OpenAI embedder.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, embeddings.ErrNotConfigured
	}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Embedder{
		client:     openaisdk.NewClient(opts...),
		model:      model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds every text with one API call. The response is reordered
// by its index field so vectors line up with texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openaisdk.EmbeddingModel(e.model),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) == 0 {
		return nil, gateway.NewError(opEmbed, gateway.KindUnknown, embeddings.ErrEmptyResponse)
	}
	if len(resp.Data) != len(texts) {
		return nil, gateway.NewError(opEmbed, gateway.KindUnknown, embeddings.ErrCountMismatch)
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) || out[item.Index] != nil {
			return nil, gateway.NewError(opEmbed, gateway.KindUnknown,
				fmt.Errorf("%w: unexpected index %d", embeddings.ErrCountMismatch, item.Index))
		}

		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[item.Index] = vec
	}

	return out, nil
}

// Dimensions returns the requested vector size, or the default model size.
func (e *Embedder) Dimensions() uint {
	if e.dimensions > 0 {
		return e.dimensions
	}
	if e.model == DefaultEmbeddingModel {
		return DefaultDimensions
	}
	return 0
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (e *Embedder) Close() error {
	return nil
}

func classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return gateway.NewError(opEmbed, gateway.FromStatus(apiErr.StatusCode), err)
	}
	return gateway.Classify(opEmbed, err)
}

var _ embeddings.Embedder = (*Embedder)(nil)
