package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, None},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), TimeoutError},
		{"timeout sentinel", fmt.Errorf("%w: 30s", ErrTimeout), TimeoutError},
		{"deadline beats upstream", fmt.Errorf("%w: %w", ErrUpstream, context.DeadlineExceeded), TimeoutError},
		{"connectivity", fmt.Errorf("ping: %w", ErrConnectivity), ConnectivityError},
		{"unsupported", fmt.Errorf("%w: .exe", ErrUnsupportedFileType), UnsupportedFileType},
		{"extraction", fmt.Errorf("%w: bad xref", ErrExtraction), ExtractionError},
		{"search", fmt.Errorf("%w: 502", ErrSearchUnavailable), SearchUnavailable},
		{"upstream", fmt.Errorf("%w: status 500", ErrUpstream), UpstreamError},
		{"unknown", errors.New("boom"), UpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindSentinelRoundTrip(t *testing.T) {
	kinds := []Kind{ConnectivityError, TimeoutError, UpstreamError, UnsupportedFileType, ExtractionError, SearchUnavailable}
	for _, k := range kinds {
		if got := Classify(k.Sentinel()); got != k {
			t.Errorf("Classify(%q.Sentinel()) = %q", k, got)
		}
	}
	if None.Sentinel() != nil {
		t.Error("None.Sentinel() should be nil")
	}
}
