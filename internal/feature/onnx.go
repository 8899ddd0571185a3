//go:build cgo
// +build cgo

package feature

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/kagami/internal/vector"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime initializes the ONNX Runtime environment once per process.
func initRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	})
	return ortErr
}

// ONNXExtractor runs an image embedding model (DINOv2 style) through ONNX Runtime.
type ONNXExtractor struct {
	cfg          ONNXConfig
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXExtractor loads the model and allocates its input and output tensors.
func NewONNXExtractor(cfg ONNXConfig) (*ONNXExtractor, error) {
	cfg.applyDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	size := int64(cfg.ImageSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outShape := ort.NewShape(1, int64(cfg.Dimensions))
	if cfg.OutputTokens > 1 {
		outShape = ort.NewShape(1, int64(cfg.OutputTokens), int64(cfg.Dimensions))
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &ONNXExtractor{
		cfg:          cfg,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed decodes img, shrinks it, normalizes it and returns the unit-length CLS embedding.
func (e *ONNXExtractor) Embed(ctx context.Context, img []byte) ([]float32, error) {
	decoded, _, err := DecodeImage(img)
	if err != nil {
		return nil, err
	}
	pixels := ToTensor(Thumbnail(decoded, ThumbnailSize), e.cfg.ImageSize, ImageNetMean, ImageNetStd)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("extractor closed")
	}
	copy(e.inputTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	// CLS token is the first row of the output in both pooled and token layouts.
	emb := make([]float32, e.cfg.Dimensions)
	copy(emb, e.outputTensor.GetData()[:e.cfg.Dimensions])
	vector.Normalize(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXExtractor) Dimensions() int {
	return e.cfg.Dimensions
}

// Close destroys the session and tensors.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
