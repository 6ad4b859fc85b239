package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/stacks/pkg/embeddings/ollama"
	"github.com/papercomputeco/stacks/pkg/gateway"
)

var _ = Describe("Embedder", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		embedder *ollama.Embedder
		lastReq  map[string]any
	)

	BeforeEach(func() {
		lastReq = nil
		handler = func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/embed"))
			Expect(json.NewDecoder(r.Body).Decode(&lastReq)).To(Succeed())

			inputs := lastReq["input"].([]any)
			vecs := make([][]float32, len(inputs))
			for i := range inputs {
				vecs[i] = []float32{float32(i), 0.5}
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))

		var err error
		embedder, err = ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL, Dimensions: 2})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("defaults the model", func() {
		_, err := embedder.Embed(context.Background(), "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(lastReq["model"]).To(Equal(ollama.DefaultEmbeddingModel))
		Expect(lastReq["dimensions"]).To(BeNumerically("==", 2))
	})

	It("embeds a batch in one call and keeps order", func() {
		vecs, err := embedder.EmbedBatch(context.Background(), []string{"a", "b", "c"})
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(HaveLen(3))
		Expect(vecs[2]).To(Equal([]float32{2, 0.5}))
		Expect(lastReq["input"]).To(Equal([]any{"a", "b", "c"}))
	})

	It("returns nothing for an empty batch without calling the server", func() {
		vecs, err := embedder.EmbedBatch(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(vecs).To(BeEmpty())
		Expect(lastReq).To(BeNil())
	})

	It("reports its configured dimensions", func() {
		Expect(embedder.Dimensions()).To(Equal(uint(2)))
	})

	DescribeTable("classifies error statuses",
		func(status int, kind gateway.Kind) {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", status)
			}
			_, err := embedder.Embed(context.Background(), "x")
			Expect(err).To(HaveOccurred())
			Expect(gateway.KindOf(err)).To(Equal(kind))
		},
		Entry("bad request", http.StatusBadRequest, gateway.KindInvalidInput),
		Entry("model missing", http.StatusNotFound, gateway.KindNotFound),
		Entry("overloaded", http.StatusServiceUnavailable, gateway.KindServerError),
		Entry("input too long", http.StatusInternalServerError, gateway.KindServerError),
		Entry("throttled", http.StatusTooManyRequests, gateway.KindRateLimited),
	)

	It("rejects a response that does not match the batch", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1}}})
		}
		_, err := embedder.EmbedBatch(context.Background(), []string{"a", "b"})
		Expect(err).To(HaveOccurred())
	})

	It("classifies an unreachable server as unavailable", func() {
		e, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: "http://127.0.0.1:1"})
		Expect(err).NotTo(HaveOccurred())
		_, err = e.Embed(context.Background(), "x")
		Expect(gateway.KindOf(err)).To(Equal(gateway.KindUnavailable))
	})

	It("classifies a slow server as a timeout", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := embedder.Embed(ctx, "x")
		Expect(gateway.KindOf(err)).To(Equal(gateway.KindTimeout))
	})
})
