package vector

import (
	"cmp"
	"math"
	"slices"
)

// SortResults orders results by descending score. Ties fall back to passage
// index and then document id so that equal-scoring results come back in a
// stable, document-reading order.
func SortResults(results []QueryResult) {
	slices.SortStableFunc(results, func(a, b QueryResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Payload.Index, b.Payload.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.Payload.DocumentID, b.Payload.DocumentID)
	})
}

// Limit sorts results and truncates them to n.
func Limit(results []QueryResult, n int) []QueryResult {
	SortResults(results)
	if n >= 0 && len(results) > n {
		return results[:n]
	}
	return results
}

const (
	// TieMargin is how many results past the limit TopK first asks a backend
	// for.
	TieMargin = 8

	// MaxTopKWindow caps how far TopK widens its request.
	MaxTopKWindow = 4096
)

// TopK returns the best limit results in SortResults order from a backend
// that only hands back its own top n. The first request asks for limit plus
// TieMargin. While the window comes back full and the result at the cut-off
// ties with the last one fetched, rows the backend dropped could belong in
// the answer, so the window doubles and the query runs again.
func TopK(limit int, fetch func(n int) ([]QueryResult, error)) ([]QueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	n := limit + TieMargin
	for {
		results, err := fetch(n)
		if err != nil {
			return nil, err
		}
		SortResults(results)

		if len(results) < n || n >= MaxTopKWindow ||
			results[limit-1].Score > results[len(results)-1].Score {
			return Limit(results, limit), nil
		}
		n = min(n*2, MaxTopKWindow)
	}
}

// Cosine returns the cosine similarity of a and b, 0 when either is a zero
// vector or their lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Contains reports whether the filter admits documentID.
func (f *Filter) Contains(documentID string) bool {
	if f.Empty() {
		return true
	}
	return slices.Contains(f.DocumentIDs, documentID)
}
