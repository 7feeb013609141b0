//go:build !onnx

package embedding

import "errors"

// ErrONNXUnavailable is returned when the binary was built without the onnx tag.
var ErrONNXUnavailable = errors.New("onnx encoder not compiled in; rebuild with -tags onnx")

// NewONNXEncoder is unavailable in this build.
func NewONNXEncoder(ONNXConfig) (Encoder, error) {
	return nil, ErrONNXUnavailable
}
