package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/stacks/pkg/gateway"
	"github.com/papercomputeco/stacks/pkg/vector"
)

// MockVectorDriver is a recording test vector driver. Records are kept by id
// so repeated upserts replace each other like a real store.
type MockVectorDriver struct {
	// Results, when set, is returned by Search instead of the stored records.
	Results []vector.QueryResult

	// FailUpserts makes the next n Upsert calls fail with UpsertErr.
	FailUpserts int

	// UpsertErr defaults to an unavailable gateway error.
	UpsertErr error

	// SearchErr is returned by every Search call when set.
	SearchErr error

	mu          sync.Mutex
	records     map[string]vector.Record
	upsertCalls int
	searches    []*vector.Filter
	deletes     []vector.Filter
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		records: make(map[string]vector.Record),
	}
}

func (m *MockVectorDriver) EnsureCollection(_ context.Context) error {
	return nil
}

func (m *MockVectorDriver) Upsert(ctx context.Context, records []vector.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertCalls++
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.FailUpserts > 0 {
		m.FailUpserts--
		if m.UpsertErr != nil {
			return m.UpsertErr
		}
		return gateway.NewError("mock.upsert", gateway.KindUnavailable, errors.New("store offline"))
	}

	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *MockVectorDriver) Search(_ context.Context, _ []float32, limit int, filter *vector.Filter) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.searches = append(m.searches, filter)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	results := make([]vector.QueryResult, 0, len(m.Results))
	for _, r := range m.Results {
		if filter.Contains(r.Payload.DocumentID) {
			results = append(results, r)
		}
	}
	vector.SortResults(results)
	return vector.Limit(results, limit), nil
}

func (m *MockVectorDriver) Delete(_ context.Context, filter vector.Filter) error {
	if err := vector.CheckDelete("mock.delete", filter); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes = append(m.deletes, filter)
	for id, r := range m.records {
		if filter.Contains(r.Payload.DocumentID) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}

// Records returns a copy of the stored records.
func (m *MockVectorDriver) Records() []vector.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]vector.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

// Len returns the number of stored records.
func (m *MockVectorDriver) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// UpsertCalls returns how many times Upsert was called, failures included.
func (m *MockVectorDriver) UpsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCalls
}

// Searches returns the filters passed to Search.
func (m *MockVectorDriver) Searches() []*vector.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*vector.Filter(nil), m.searches...)
}

// Deletes returns the filters passed to Delete.
func (m *MockVectorDriver) Deletes() []vector.Filter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vector.Filter(nil), m.deletes...)
}

var _ vector.Driver = (*MockVectorDriver)(nil)
