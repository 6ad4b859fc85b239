package retrieval

import "errors"

// ErrInvalidOptions is returned synchronously for non-positive limits.
var ErrInvalidOptions = errors.New("invalid retrieval options")
