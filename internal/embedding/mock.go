package embedding

import "context"

// MockBackbone is a deterministic backbone for tests and for running without a model.
// Each output value is the mean of one contiguous slice of the input tensor, so
// visually similar images get similar embeddings.
type MockBackbone struct {
	dimensions int
}

// NewMockBackbone returns a backbone producing embeddings of the given dimensions.
func NewMockBackbone(dimensions int) *MockBackbone {
	if dimensions <= 0 {
		dimensions = 2048
	}
	return &MockBackbone{dimensions: dimensions}
}

// Embed pools tensor into Dimensions() bins. Values are shifted to be positive
// so a uniformly dark image does not produce a zero vector.
func (m *MockBackbone) Embed(ctx context.Context, tensor []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, m.dimensions)
	n := len(tensor)
	if n == 0 {
		return out, nil
	}
	for i := range out {
		lo := i * n / m.dimensions
		hi := (i + 1) * n / m.dimensions
		if hi <= lo {
			hi = lo + 1
		}
		if hi > n {
			hi = n
			lo = hi - 1
		}
		var sum float32
		for _, v := range tensor[lo:hi] {
			sum += v
		}
		out[i] = sum/float32(hi-lo) + 3
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (m *MockBackbone) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MockBackbone.
func (m *MockBackbone) Close() error {
	return nil
}
