// Package failure defines the error taxonomy shared by the retrieval and
// generation core. Every external-call boundary decides a Kind once and
// passes it along as a value; callers never parse it back out of text.
package failure

import (
	"context"
	"errors"
)

// Kind tags a failure observed at a component boundary.
type Kind string

const (
	// None is the zero Kind, used when an operation succeeded.
	None Kind = ""

	// ConnectivityError means the generation backend failed its health check.
	ConnectivityError Kind = "ConnectivityError"

	// TimeoutError means a latency budget elapsed on a search or generation call.
	TimeoutError Kind = "TimeoutError"

	// UpstreamError means a backend answered with a non-success status or a
	// payload that could not be decoded.
	UpstreamError Kind = "UpstreamError"

	// UnsupportedFileType means an uploaded file had an unrecognized extension.
	UnsupportedFileType Kind = "UnsupportedFileType"

	// ExtractionError means a recognized document could not be parsed.
	ExtractionError Kind = "ExtractionError"

	// SearchUnavailable means the search backend failed. It is never fatal.
	SearchUnavailable Kind = "SearchUnavailable"
)

// Sentinel errors wrapped by the boundary packages.
var (
	ErrConnectivity        = errors.New("backend unreachable")
	ErrTimeout             = errors.New("request timed out")
	ErrUpstream            = errors.New("upstream error")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrExtraction          = errors.New("document extraction failed")
	ErrSearchUnavailable   = errors.New("search service unavailable")
)

// Classify maps an error to its Kind. A nil error yields None. Deadline
// errors win over any other wrapped sentinel so a timed-out upstream call
// is reported as a timeout. Unknown errors are treated as upstream failures.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return None
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return TimeoutError
	case errors.Is(err, ErrConnectivity):
		return ConnectivityError
	case errors.Is(err, ErrUnsupportedFileType):
		return UnsupportedFileType
	case errors.Is(err, ErrExtraction):
		return ExtractionError
	case errors.Is(err, ErrSearchUnavailable):
		return SearchUnavailable
	default:
		return UpstreamError
	}
}

// Sentinel returns the sentinel error for k, or nil for None.
func (k Kind) Sentinel() error {
	switch k {
	case ConnectivityError:
		return ErrConnectivity
	case TimeoutError:
		return ErrTimeout
	case UpstreamError:
		return ErrUpstream
	case UnsupportedFileType:
		return ErrUnsupportedFileType
	case ExtractionError:
		return ErrExtraction
	case SearchUnavailable:
		return ErrSearchUnavailable
	default:
		return nil
	}
}

func (k Kind) String() string { return string(k) }
