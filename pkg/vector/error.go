package vector

import (
	"errors"
	"fmt"

	"github.com/papercomputeco/stacks/pkg/gateway"
)

var (
	// ErrEmptyFilter is returned by Delete when the filter would match the
	// whole collection.
	ErrEmptyFilter = errors.New("delete requires a document filter")

	// ErrDimensionMismatch is returned when a vector or an existing
	// collection does not have the configured dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidRecord is returned for records without an id or vector.
	ErrInvalidRecord = errors.New("invalid vector record")
)

// ValidateRecords checks that every record has an id and a vector of dims
// entries. dims of zero only checks that vectors agree with each other.
func ValidateRecords(op string, records []Record, dims uint) error {
	for i, r := range records {
		if r.ID == "" || len(r.Vector) == 0 {
			return gateway.NewError(op, gateway.KindInvalidInput,
				fmt.Errorf("%w: record %d has no id or vector", ErrInvalidRecord, i))
		}

		want := int(dims)
		if want == 0 {
			want = len(records[0].Vector)
		}
		if len(r.Vector) != want {
			return gateway.NewError(op, gateway.KindInvalidInput,
				fmt.Errorf("%w: record %s has %d dimensions, want %d", ErrDimensionMismatch, r.ID, len(r.Vector), want))
		}
	}
	return nil
}

// CheckDelete rejects filters that would delete everything.
func CheckDelete(op string, filter Filter) error {
	if filter.Empty() {
		return gateway.NewError(op, gateway.KindInvalidInput, ErrEmptyFilter)
	}
	return nil
}
