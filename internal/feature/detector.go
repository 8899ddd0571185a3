//go:build cgo
// +build cgo

package feature

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXDetector locates the garment in a photo with a DETR-style detector and crops to it.
type ONNXDetector struct {
	cfg          DetectorConfig
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	logitsTensor *ort.Tensor[float32]
	boxesTensor  *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXDetector loads the detection model.
func NewONNXDetector(cfg DetectorConfig) (*ONNXDetector, error) {
	cfg.applyDefaults()
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("detector model path is required")
	}
	if err := initRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	size := int64(cfg.ImageSize)
	queries := int64(cfg.Queries)
	classes := int64(len(cfg.Detection.ClassNames) + 1)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	logitsTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, queries, classes))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}
	boxesTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, queries, 4))
	if err != nil {
		inputTensor.Destroy()
		logitsTensor.Destroy()
		return nil, fmt.Errorf("failed to create boxes tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.LogitsName, cfg.BoxesName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{logitsTensor, boxesTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		logitsTensor.Destroy()
		boxesTensor.Destroy()
		return nil, fmt.Errorf("failed to create detector session: %w", err)
	}
	return &ONNXDetector{
		cfg:          cfg,
		session:      session,
		inputTensor:  inputTensor,
		logitsTensor: logitsTensor,
		boxesTensor:  boxesTensor,
	}, nil
}

// Locate returns the best matching detection cropped to CropSize, or found=false.
func (d *ONNXDetector) Locate(ctx context.Context, img []byte) ([]byte, bool, error) {
	decoded, _, err := DecodeImage(img)
	if err != nil {
		return nil, false, err
	}
	decoded = Thumbnail(decoded, ThumbnailSize)
	pixels := ToTensor(decoded, d.cfg.ImageSize, ImageNetMean, ImageNetStd)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	d.mu.Lock()
	if d.session == nil {
		d.mu.Unlock()
		return nil, false, fmt.Errorf("detector closed")
	}
	copy(d.inputTensor.GetData(), pixels)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, false, fmt.Errorf("detection failed: %w", err)
	}
	logits := append([]float32(nil), d.logitsTensor.GetData()...)
	boxes := append([]float32(nil), d.boxesTensor.GetData()...)
	d.mu.Unlock()

	det, ok := SelectSubject(logits, boxes, d.cfg.Queries, d.cfg.Detection)
	if !ok {
		return nil, false, nil
	}
	cropped, err := CropSubject(decoded, det, d.cfg.CropSize)
	if err != nil {
		return nil, false, err
	}
	return cropped, true, nil
}

// Close destroys the session and tensors.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.session != nil {
		err = d.session.Destroy()
		d.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{d.inputTensor, d.logitsTensor, d.boxesTensor} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	d.inputTensor, d.logitsTensor, d.boxesTensor = nil, nil, nil
	return err
}
