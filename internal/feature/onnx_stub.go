//go:build !cgo
// +build !cgo

package feature

import (
	"context"
	"errors"
)

var errNoCgo = errors.New("ONNX models require CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXExtractor stub type when built without CGO (see onnx.go for real implementation).
type ONNXExtractor struct{}

// NewONNXExtractor returns an error when built without CGO.
func NewONNXExtractor(_ ONNXConfig) (*ONNXExtractor, error) {
	return nil, errNoCgo
}

func (e *ONNXExtractor) Embed(context.Context, []byte) ([]float32, error) { return nil, errNoCgo }
func (e *ONNXExtractor) Dimensions() int                                  { return 0 }
func (e *ONNXExtractor) Close() error                                     { return nil }

// ONNXDetector stub type when built without CGO (see detector.go for real implementation).
type ONNXDetector struct{}

// NewONNXDetector returns an error when built without CGO.
func NewONNXDetector(_ DetectorConfig) (*ONNXDetector, error) {
	return nil, errNoCgo
}

func (d *ONNXDetector) Locate(context.Context, []byte) ([]byte, bool, error) {
	return nil, false, errNoCgo
}

func (d *ONNXDetector) Close() error { return nil }
