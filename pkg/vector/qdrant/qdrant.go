// Package qdrant provides a Qdrant vector database driver over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for passage embeddings.
	DefaultCollectionName = "stacks"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	fieldDocumentID = "document_id"
	fieldIndex      = "chunk_index"
	fieldText       = "text"
	fieldPage       = "page_number"
	fieldTitle      = "title"
)

// Config holds configuration for the Qdrant driver.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string

	// Dimensions is the vector size of the collection. Required.
	Dimensions uint
}

// Driver implements vector.Driver on a single Qdrant collection using cosine
// distance.
type Driver struct {
	client     *qdrant.Client
	collection string
	dims       uint
	init       vector.LazyInit
	logger     *slog.Logger
}

// NewDriver creates a Qdrant driver. No request is sent until the first
// operation; the collection is created lazily.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
	}

	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   c.Host,
		Port:                   port,
		APIKey:                 c.APIKey,
		UseTLS:                 c.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, gateway.NewError("qdrant.connect", gateway.KindNotConfigured, err)
	}

	return &Driver{
		client:     client,
		collection: collection,
		dims:       c.Dimensions,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection and its document_id payload index
// when missing, or checks the vector size of an existing one.
func (d *Driver) EnsureCollection(ctx context.Context) error {
	return d.init.Do(ctx, d.ensure)
}

func (d *Driver) ensure(ctx context.Context) error {
	exists, err := d.client.CollectionExists(ctx, d.collection)
	if err != nil {
		return classify("qdrant.collection_exists", err)
	}

	if exists {
		info, err := d.client.GetCollectionInfo(ctx, d.collection)
		if err != nil {
			return classify("qdrant.collection_info", err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != uint64(d.dims) {
			return gateway.NewError("qdrant.ensure_collection", gateway.KindInvalidInput,
				fmt.Errorf("%w: collection %q has %d dimensions, want %d", vector.ErrDimensionMismatch, d.collection, size, d.dims))
		}
		return nil
	}

	err = d.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: d.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(d.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify("qdrant.create_collection", err)
	}

	_, err = d.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: d.collection,
		FieldName:      fieldDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return classify("qdrant.create_index", err)
	}

	d.logger.Info("created qdrant collection",
		"collection", d.collection,
		"dimensions", d.dims,
	)
	return nil
}

// Upsert writes points keyed by passage id and waits for the write to apply.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vector.ValidateRecords("qdrant.upsert", records, d.dims); err != nil {
		return err
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = toPoint(r)
	}

	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return classify("qdrant.upsert", err)
	}

	d.logger.Debug("upserted points to qdrant", "count", len(points))
	return nil
}

// Search runs a nearest-neighbour query.
func (d *Driver) Search(ctx context.Context, vec []float32, limit int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	return vector.TopK(limit, func(n int) ([]vector.QueryResult, error) {
		points, err := d.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: d.collection,
			Query:          qdrant.NewQuery(vec...),
			Filter:         toFilter(filter),
			Limit:          qdrant.PtrOf(uint64(n)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, classify("qdrant.query", err)
		}

		results := make([]vector.QueryResult, 0, len(points))
		for _, p := range points {
			results = append(results, fromScoredPoint(p))
		}

		d.logger.Debug("queried qdrant", "window", n, "results", len(results))
		return results, nil
	})
}

// Delete removes every point of the filtered documents.
func (d *Driver) Delete(ctx context.Context, filter vector.Filter) error {
	if err := vector.CheckDelete("qdrant.delete", filter); err != nil {
		return err
	}
	if err := d.EnsureCollection(ctx); err != nil {
		return err
	}

	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toFilter(&filter)),
	})
	if err != nil {
		return classify("qdrant.delete", err)
	}

	d.logger.Debug("deleted points from qdrant", "documents", len(filter.DocumentIDs))
	return nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

func toPoint(r vector.Record) *qdrant.PointStruct {
	payload := map[string]any{
		fieldDocumentID: r.Payload.DocumentID,
		fieldIndex:      int64(r.Payload.Index),
		fieldText:       r.Payload.Text,
	}
	if r.Payload.Page > 0 {
		payload[fieldPage] = int64(r.Payload.Page)
	}
	if r.Payload.Title != "" {
		payload[fieldTitle] = r.Payload.Title
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(r.ID),
		Vectors: qdrant.NewVectors(r.Vector...),
		Payload: qdrant.NewValueMap(payload),
	}
}

func fromScoredPoint(p *qdrant.ScoredPoint) vector.QueryResult {
	payload := p.GetPayload()
	return vector.QueryResult{
		ID: p.GetId().GetUuid(),
		Payload: vector.Payload{
			DocumentID: payload[fieldDocumentID].GetStringValue(),
			Index:      int(payload[fieldIndex].GetIntegerValue()),
			Text:       payload[fieldText].GetStringValue(),
			Page:       int(payload[fieldPage].GetIntegerValue()),
			Title:      payload[fieldTitle].GetStringValue(),
		},
		Score: p.GetScore(),
	}
}

func toFilter(f *vector.Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeywords(fieldDocumentID, f.DocumentIDs...),
		},
	}
}

// classify maps gRPC status codes onto gateway kinds.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return gateway.Classify(op, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return gateway.Classify(op, err)
	}

	var kind gateway.Kind
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		kind = gateway.KindInvalidInput
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = gateway.KindUnauthorized
	case codes.DeadlineExceeded:
		kind = gateway.KindTimeout
	case codes.Unavailable, codes.Aborted, codes.Internal:
		kind = gateway.KindUnavailable
	case codes.ResourceExhausted:
		kind = gateway.KindRateLimited
	case codes.NotFound:
		kind = gateway.KindNotFound
	case codes.AlreadyExists:
		kind = gateway.KindConflict
	default:
		kind = gateway.KindUnknown
	}
	return gateway.NewError(op, kind, err)
}

var _ vector.Driver = (*Driver)(nil)
