package batch

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is returned for a run request that cannot be executed.
var ErrInvalidRequest = errors.New("invalid run request")

// RunRequest selects the items of one run and the limits it runs under.
// Indices are 0-based. When Indices is non-empty it replaces the
// inclusive Start..Stop range. Stop -1 means the last item.
type RunRequest struct {
	Start             int
	Stop              int
	Indices           []int
	Model             string
	RequestsPerMinute float64
	MaxConcurrency    int
}

// Validate checks the request for configuration errors.
func (r RunRequest) Validate() error {
	switch {
	case r.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	case r.RequestsPerMinute <= 0:
		return fmt.Errorf("%w: requests per minute must be > 0 (got %v)", ErrInvalidRequest, r.RequestsPerMinute)
	case r.MaxConcurrency <= 0:
		return fmt.Errorf("%w: max concurrency must be > 0 (got %d)", ErrInvalidRequest, r.MaxConcurrency)
	case len(r.Indices) == 0 && r.Start < 0:
		return fmt.Errorf("%w: start must be >= 0 (got %d)", ErrInvalidRequest, r.Start)
	case len(r.Indices) == 0 && r.Stop < -1:
		return fmt.Errorf("%w: stop must be >= -1 (got %d)", ErrInvalidRequest, r.Stop)
	}
	return nil
}

// Requested returns the candidate indices for an input of n items.
// Out-of-range indices in an explicit list are kept; the ledger drops them.
func (r RunRequest) Requested(n int) []int {
	if len(r.Indices) > 0 {
		out := make([]int, len(r.Indices))
		copy(out, r.Indices)
		return out
	}

	stop := r.Stop
	if stop < 0 || stop > n-1 {
		stop = n - 1
	}
	if r.Start > stop {
		return nil
	}
	out := make([]int, 0, stop-r.Start+1)
	for i := r.Start; i <= stop; i++ {
		out = append(out, i)
	}
	return out
}
