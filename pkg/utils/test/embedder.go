package testutils

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/gateway"
)

// MockEmbedder is a test embedder that returns predictable embeddings.
// Configure it before handing it to the code under test.
type MockEmbedder struct {
	// Embeddings overrides the vector returned for a text.
	Embeddings map[string][]float32

	// FailOn makes Embed return the mapped error for a text, and makes any
	// batch containing that text fail with a non-infrastructure error.
	FailOn map[string]error

	// BatchErr, when set, is returned by every EmbedBatch call.
	BatchErr error

	// Delay is applied to every call and honours context cancellation.
	Delay time.Duration

	// Dims is the size of generated vectors. Defaults to 3.
	Dims uint

	mu         sync.Mutex
	batchCalls int
	embedCalls int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
		FailOn:     make(map[string]error),
		Dims:       3,
	}
}

// Fail registers err for text. A nil err registers a generic failure.
func (m *MockEmbedder) Fail(text string, err error) *MockEmbedder {
	if err == nil {
		err = fmt.Errorf("mock embedding failure for: %s", text)
	}
	m.FailOn[text] = err
	return m
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	if err, ok := m.FailOn[text]; ok {
		return nil, err
	}

	return m.vectorFor(text), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batchCalls++
	m.mu.Unlock()

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	if m.BatchErr != nil {
		return nil, m.BatchErr
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if _, ok := m.FailOn[text]; ok {
			return nil, gateway.NewError("mock.embed_batch", gateway.KindInvalidInput, errors.New("batch contains a rejected input"))
		}
		out[i] = m.vectorFor(text)
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() uint {
	return m.Dims
}

func (m *MockEmbedder) Close() error {
	return nil
}

// BatchCalls returns how many times EmbedBatch was called.
func (m *MockEmbedder) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// EmbedCalls returns how many times Embed was called.
func (m *MockEmbedder) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

func (m *MockEmbedder) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(m.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return gateway.Classify("mock.embed", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// vectorFor derives a stable, text dependent vector so that different
// passages have different similarities.
func (m *MockEmbedder) vectorFor(text string) []float32 {
	if emb, ok := m.Embeddings[text]; ok {
		return emb
	}

	dims := m.Dims
	if dims == 0 {
		dims = 3
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed>>40)/float32(1<<24) + 0.01
	}
	return vec
}

var _ embeddings.Embedder = (*MockEmbedder)(nil)
