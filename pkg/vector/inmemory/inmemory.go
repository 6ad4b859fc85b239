// Package inmemory provides a brute-force, process-local vector driver. It is
// the default store for tests and for the "memory" provider.
package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/vector"
)

// Config holds configuration for the in-memory driver.
type Config struct {
	// Dimensions pins the vector size. Zero adopts the size of the first
	// upserted record.
	Dimensions uint
}

// Driver implements vector.Driver with a map and linear cosine scans.
type Driver struct {
	mu      sync.RWMutex
	dims    uint
	records map[string]vector.Record
	logger  *slog.Logger
}

// NewDriver creates an empty in-memory driver.
func NewDriver(c Config, logger *slog.Logger) *Driver {
	return &Driver{
		dims:    c.Dimensions,
		records: make(map[string]vector.Record),
		logger:  logger,
	}
}

// EnsureCollection is a no-op; the collection always exists.
func (d *Driver) EnsureCollection(_ context.Context) error {
	return nil
}

// Upsert stores copies of records, replacing any with the same id.
func (d *Driver) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return gateway.Classify("inmemory.upsert", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := vector.ValidateRecords("inmemory.upsert", records, d.dims); err != nil {
		return err
	}
	if d.dims == 0 {
		d.dims = uint(len(records[0].Vector))
	}

	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		d.records[r.ID] = r
	}

	d.logger.Debug("upserted records in memory", "count", len(records))
	return nil
}

// Search scores every stored record against vec.
func (d *Driver) Search(ctx context.Context, vec []float32, limit int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, gateway.Classify("inmemory.search", err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.dims != 0 && uint(len(vec)) != d.dims {
		return nil, gateway.NewError("inmemory.search", gateway.KindInvalidInput,
			fmt.Errorf("%w: query has %d dimensions, want %d", vector.ErrDimensionMismatch, len(vec), d.dims))
	}

	results := make([]vector.QueryResult, 0, len(d.records))
	for _, r := range d.records {
		if !filter.Contains(r.Payload.DocumentID) {
			continue
		}
		results = append(results, vector.QueryResult{
			ID:      r.ID,
			Payload: r.Payload,
			Score:   vector.Cosine(vec, r.Vector),
		})
	}

	return vector.Limit(results, limit), nil
}

// Delete removes every record of the filtered documents.
func (d *Driver) Delete(_ context.Context, filter vector.Filter) error {
	if err := vector.CheckDelete("inmemory.delete", filter); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, r := range d.records {
		if filter.Contains(r.Payload.DocumentID) {
			delete(d.records, id)
			removed++
		}
	}

	d.logger.Debug("deleted records from memory", "count", removed)
	return nil
}

// Len returns the number of stored records.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Get returns a copy of the record with id.
func (d *Driver) Get(id string) (vector.Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.records[id]
	return r, ok
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

var _ vector.Driver = (*Driver)(nil)
