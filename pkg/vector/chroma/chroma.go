// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for storing passage embeddings.
	DefaultCollectionName = "stacks"

	defaultMaxRetries    = 5
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second

	collectionsPath = "/api/v2/tenants/default_tenant/databases/default_database/collections"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	dims           uint
	httpClient     *http.Client
	logger         *slog.Logger

	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration

	init vector.LazyInit
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// Dimensions, when set, is checked against the dimension Chroma reports
	// for an existing collection.
	Dimensions uint

	// MaxRetries bounds collection setup attempts while Chroma starts up.
	MaxRetries int

	// RetryDelay is the first backoff, doubled per attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewDriver creates a new Chroma vector driver. The collection is resolved
// on first use.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: collectionName,
		dims:           c.Dimensions,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:        logger,
		maxRetries:    c.MaxRetries,
		retryDelay:    c.RetryDelay,
		maxRetryDelay: c.MaxRetryDelay,
	}
	if d.maxRetries <= 0 {
		d.maxRetries = defaultMaxRetries
	}
	if d.retryDelay <= 0 {
		d.retryDelay = defaultRetryDelay
	}
	if d.maxRetryDelay <= 0 {
		d.maxRetryDelay = defaultMaxRetryDelay
	}

	return d, nil
}

// EnsureCollection gets or creates the collection with cosine distance,
// retrying with exponential backoff while Chroma is unreachable.
func (d *Driver) EnsureCollection(ctx context.Context) error {
	return d.init.Do(ctx, d.ensureWithRetry)
}

func (d *Driver) ensureWithRetry(ctx context.Context) error {
	delay := d.retryDelay

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		collection, err := d.getOrCreateCollection(ctx)
		if err == nil {
			if d.dims != 0 && collection.Dimension != nil && *collection.Dimension != int(d.dims) {
				return gateway.NewError("chroma.ensure_collection", gateway.KindInvalidInput,
					fmt.Errorf("%w: collection %q has %d dimensions, want %d",
						vector.ErrDimensionMismatch, d.collectionName, *collection.Dimension, d.dims))
			}

			d.collectionID = collection.ID
			d.logger.Info("connected to Chroma",
				"url", d.baseURL,
				"collection", d.collectionName,
				"collection_id", collection.ID,
			)
			return nil
		}

		lastErr = err
		if k := gateway.KindOf(err); k != gateway.KindUnavailable && k != gateway.KindTimeout && k != gateway.KindServerError {
			return err
		}

		if attempt == d.maxRetries {
			break
		}

		d.logger.Warn("chroma not ready, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return gateway.Classify("chroma.ensure_collection", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > d.maxRetryDelay {
			delay = d.maxRetryDelay
		}
	}

	return fmt.Errorf("getting or creating collection %q after %d attempts: %w", d.collectionName, d.maxRetries, lastErr)
}

// getOrCreateCollection relies on get_or_create so concurrent initializers
// converge on the same collection.
func (d *Driver) getOrCreateCollection(ctx context.Context) (*chromaCollection, error) {
	var collection chromaCollection
	err := d.post(ctx, "chroma.create_collection", d.baseURL+collectionsPath, chromaCreateRequest{
		Name:        d.collectionName,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}, &collection)
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// Upsert stores records, replacing any with the same id.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vector.ValidateRecords("chroma.upsert", records, d.dims); err != nil {
		return err
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return err
	}

	reqBody := chromaUpsertRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([][]float32, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
		Documents:  make([]string, len(records)),
	}
	for i, r := range records {
		reqBody.IDs[i] = r.ID
		reqBody.Embeddings[i] = r.Vector
		reqBody.Metadatas[i] = toMetadata(r.Payload)
		reqBody.Documents[i] = r.Payload.Text
	}

	if err := d.post(ctx, "chroma.upsert", d.collectionURL("upsert"), reqBody, nil); err != nil {
		return err
	}

	d.logger.Debug("upserted records to chroma", "count", len(records))
	return nil
}

// Search finds the limit nearest records, optionally restricted by filter.
func (d *Driver) Search(ctx context.Context, vec []float32, limit int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	return vector.TopK(limit, func(n int) ([]vector.QueryResult, error) {
		return d.query(ctx, vec, n, filter)
	})
}

func (d *Driver) query(ctx context.Context, vec []float32, n int, filter *vector.Filter) ([]vector.QueryResult, error) {
	reqBody := chromaQueryRequest{
		QueryEmbeddings: [][]float32{vec},
		NResults:        n,
		Where:           toWhere(filter),
		Include:         []string{"metadatas", "documents", "distances"},
	}

	var queryResp chromaQueryResponse
	if err := d.post(ctx, "chroma.query", d.collectionURL("query"), reqBody, &queryResp); err != nil {
		return nil, err
	}

	var results []vector.QueryResult

	// Process first group (we only query with one embedding)
	if len(queryResp.IDs) == 0 || len(queryResp.IDs[0]) == 0 {
		return results, nil
	}

	ids := queryResp.IDs[0]

	var distances []float32
	if len(queryResp.Distances) > 0 {
		distances = queryResp.Distances[0]
	}

	var metadatas []map[string]any
	if len(queryResp.Metadatas) > 0 {
		metadatas = queryResp.Metadatas[0]
	}

	var documents []*string
	if len(queryResp.Documents) > 0 {
		documents = queryResp.Documents[0]
	}

	for i, id := range ids {
		result := vector.QueryResult{ID: id}

		if i < len(metadatas) {
			result.Payload = fromMetadata(metadatas[i])
		}
		if i < len(documents) && documents[i] != nil {
			result.Payload.Text = *documents[i]
		}

		// Cosine space: distance = 1 - similarity.
		if i < len(distances) {
			result.Score = 1 - distances[i]
		}

		results = append(results, result)
	}

	d.logger.Debug("queried chroma", "window", n, "results", len(results))
	return results, nil
}

// Delete removes every record of the filtered documents.
func (d *Driver) Delete(ctx context.Context, filter vector.Filter) error {
	if err := vector.CheckDelete("chroma.delete", filter); err != nil {
		return err
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return err
	}

	reqBody := chromaDeleteRequest{Where: toWhere(&filter)}
	if err := d.post(ctx, "chroma.delete", d.collectionURL("delete"), reqBody, nil); err != nil {
		return err
	}

	d.logger.Debug("deleted records from chroma", "documents", len(filter.DocumentIDs))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

func (d *Driver) collectionURL(action string) string {
	return fmt.Sprintf("%s%s/%s/%s", d.baseURL, collectionsPath, d.collectionID, action)
}

// post sends body as JSON and decodes a JSON response into out when non-nil.
func (d *Driver) post(ctx context.Context, op, url string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return gateway.NewError(op, gateway.KindInvalidInput, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return gateway.NewError(op, gateway.KindNotConfigured, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return gateway.Classify(op, fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return gateway.NewError(op, gateway.FromStatus(resp.StatusCode),
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gateway.NewError(op, gateway.KindUnknown, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func toMetadata(p vector.Payload) map[string]any {
	m := map[string]any{
		"document_id": p.DocumentID,
		"chunk_index": p.Index,
	}
	if p.Page > 0 {
		m["page_number"] = p.Page
	}
	if p.Title != "" {
		m["title"] = p.Title
	}
	return m
}

// fromMetadata reads a metadata map decoded from JSON, where numbers arrive
// as float64.
func fromMetadata(m map[string]any) vector.Payload {
	var p vector.Payload
	if m == nil {
		return p
	}
	p.DocumentID, _ = m["document_id"].(string)
	p.Title, _ = m["title"].(string)
	if v, ok := m["chunk_index"].(float64); ok {
		p.Index = int(v)
	}
	if v, ok := m["page_number"].(float64); ok {
		p.Page = int(v)
	}
	return p
}

func toWhere(f *vector.Filter) map[string]any {
	if f.Empty() {
		return nil
	}
	return map[string]any{
		"document_id": map[string]any{"$in": f.DocumentIDs},
	}
}

var _ vector.Driver = (*Driver)(nil)
