package research

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced on the wire via the error event's errorType field.
const (
	ErrorKindDecomposition = "decomposition_error"
	ErrorKindUpstream      = "upstream_error"
	ErrorKindAuth          = "auth_error"
	ErrorKindInternal      = "internal_error"
)

// ErrMissingCredential indicates no API key is available for an upstream
// service. Adapters wrap it with the service name.
var ErrMissingCredential = errors.New("api key not configured")

// UpstreamError is a non-success response from an upstream generation
// service. The status code is preserved for diagnostics.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream error (%d): %s", e.Service, e.StatusCode, e.Message)
}

// ClassifyError maps an adapter error onto the wire error taxonomy.
func ClassifyError(err error) string {
	var ue *UpstreamError
	switch {
	case errors.Is(err, ErrMissingCredential):
		return ErrorKindAuth
	case errors.As(err, &ue):
		return ErrorKindUpstream
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindInternal
	default:
		return ErrorKindInternal
	}
}
