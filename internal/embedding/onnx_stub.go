//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// ONNXBackbone stub type when built without CGO (see onnx.go for real implementation).
type ONNXBackbone struct{}

// NewONNXBackbone returns an error when built without CGO (ONNX not available).
func NewONNXBackbone(_, _, _ string, _, _ int) (*ONNXBackbone, error) {
	return nil, errors.New("ONNX backbone requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Embed is never reached; NewONNXBackbone always fails without CGO.
func (b *ONNXBackbone) Embed(context.Context, []float32) ([]float32, error) {
	return nil, errors.New("ONNX backbone unavailable")
}

// Dimensions returns 0.
func (b *ONNXBackbone) Dimensions() int { return 0 }

// Close is a no-op.
func (b *ONNXBackbone) Close() error { return nil }
