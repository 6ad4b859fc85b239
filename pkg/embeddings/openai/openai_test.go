package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/embeddings"
	"github.com/papercomputeco/stacks/pkg/embeddings/openai"
	"github.com/papercomputeco/stacks/pkg/gateway"
)

type embeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

func writeEmbeddings(w http.ResponseWriter, items []embeddingItem) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  openai.DefaultEmbeddingModel,
		"data":   items,
		"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
	})
}

var _ = Describe("Embedder", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		lastReq map[string]any
		authz   string
	)

	newEmbedder := func() *openai.Embedder {
		e, err := openai.NewEmbedder(openai.Config{
			APIKey:  "sk-test",
			BaseURL: server.URL + "/v1/",
		})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	BeforeEach(func() {
		lastReq = nil
		handler = func(w http.ResponseWriter, r *http.Request) {
			authz = r.Header.Get("Authorization")
			json.NewDecoder(r.Body).Decode(&lastReq)

			inputs, _ := lastReq["input"].([]any)
			items := make([]embeddingItem, len(inputs))
			// Answer in reverse to exercise index-based reordering.
			for i := range inputs {
				idx := len(inputs) - 1 - i
				items[i] = embeddingItem{Object: "embedding", Index: idx, Embedding: []float64{float64(idx), 1}}
			}
			writeEmbeddings(w, items)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/embeddings" {
				http.NotFound(w, r)
				return
			}
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an API key", func() {
		_, err := openai.NewEmbedder(openai.Config{})
		Expect(errors.Is(err, embeddings.ErrNotConfigured)).To(BeTrue())
		Expect(gateway.KindOf(err)).To(Equal(gateway.KindNotConfigured))
	})

	It("embeds a batch and orders vectors by index", func() {
		vecs, err := newEmbedder().EmbedBatch(context.Background(), []string{"a", "b", "c"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(Equal([][]float32{{0, 1}, {1, 1}, {2, 1}}))
		Expect(authz).To(Equal("Bearer sk-test"))
		Expect(lastReq["model"]).To(Equal(openai.DefaultEmbeddingModel))
		Expect(lastReq["input"]).To(Equal([]any{"a", "b", "c"}))
	})

	It("embeds a single text", func() {
		vec, err := newEmbedder().Embed(context.Background(), "only")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0, 1}))
	})

	It("sends requested dimensions", func() {
		e, err := openai.NewEmbedder(openai.Config{APIKey: "k", BaseURL: server.URL + "/v1/", Dimensions: 256})
		Expect(err).NotTo(HaveOccurred())
		_, err = e.Embed(context.Background(), "x")
		Expect(err).NotTo(HaveOccurred())
		Expect(lastReq["dimensions"]).To(BeNumerically("==", 256))
		Expect(e.Dimensions()).To(Equal(uint(256)))
	})

	It("reports the default model size", func() {
		Expect(newEmbedder().Dimensions()).To(Equal(uint(openai.DefaultDimensions)))
	})

	DescribeTable("classifies API errors by status",
		func(status int, kind gateway.Kind) {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				w.Write([]byte(`{"error":{"message":"boom","type":"error"}}`))
			}
			_, err := newEmbedder().Embed(context.Background(), "x")
			Expect(err).To(HaveOccurred())
			Expect(gateway.KindOf(err)).To(Equal(kind))
		},
		Entry("invalid key", http.StatusUnauthorized, gateway.KindUnauthorized),
		Entry("bad input", http.StatusBadRequest, gateway.KindInvalidInput),
		Entry("server error", http.StatusInternalServerError, gateway.KindServerError),
	)

	It("rejects a short response", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			writeEmbeddings(w, []embeddingItem{{Object: "embedding", Index: 0, Embedding: []float64{1}}})
		}
		_, err := newEmbedder().EmbedBatch(context.Background(), []string{"a", "b"})
		Expect(errors.Is(err, embeddings.ErrCountMismatch)).To(BeTrue())
	})
})
