//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXBackbone runs a feature-extraction CNN (e.g. ResNet50 without its classifier head)
// through ONNX Runtime. It requires CGO and the onnxruntime shared library.
type ONNXBackbone struct {
	session    *ort.AdvancedSession
	dimensions int
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXBackbone loads the model at modelPath. The model takes a (1, 3, size, size)
// input named inputName and produces (1, dimensions) named outputName.
// InitializeEnvironment is called here.
func NewONNXBackbone(modelPath, inputName, outputName string, size, dimensions int) (*ONNXBackbone, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	inputData := make([]float32, 3*size*size)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), inputData)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputData := make([]float32, dimensions)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), outputData)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXBackbone{
		session:      session,
		dimensions:   dimensions,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed runs one forward pass. Calls are serialized over the shared tensors.
func (b *ONNXBackbone) Embed(ctx context.Context, tensor []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	in := b.inputTensor.GetData()
	if len(tensor) != len(in) {
		return nil, fmt.Errorf("input tensor has %d values, model expects %d", len(tensor), len(in))
	}
	copy(in, tensor)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	emb := make([]float32, b.dimensions)
	copy(emb, b.outputTensor.GetData()[:b.dimensions])
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (b *ONNXBackbone) Dimensions() int {
	return b.dimensions
}

// Close destroys the session and tensors.
func (b *ONNXBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.session != nil {
		err = b.session.Destroy()
		b.session = nil
	}
	if b.inputTensor != nil {
		_ = b.inputTensor.Destroy()
		b.inputTensor = nil
	}
	if b.outputTensor != nil {
		_ = b.outputTensor.Destroy()
		b.outputTensor = nil
	}
	return err
}
