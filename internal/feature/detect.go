package feature

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// Box is a detection in normalized center format, as DETR-style models emit it.
type Box struct {
	CX, CY, W, H float32
}

// Rect converts the box to pixel coordinates for an image of the given size.
func (b Box) Rect(width, height int) image.Rectangle {
	x0 := int(math.Round(float64((b.CX - b.W/2) * float32(width))))
	y0 := int(math.Round(float64((b.CY - b.H/2) * float32(height))))
	x1 := int(math.Round(float64((b.CX + b.W/2) * float32(width))))
	y1 := int(math.Round(float64((b.CY + b.H/2) * float32(height))))
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, width, height))
}

// Detection is one query's best class after softmax.
type Detection struct {
	Label string
	Score float32
	Box   Box
}

// DetectionConfig selects which detections count as the subject.
type DetectionConfig struct {
	// ClassNames maps class index to label; the model's last logit is "no object".
	ClassNames []string
	// Keep lists label substrings of interest, e.g. "dress", "skirt".
	Keep      []string
	Threshold float32
}

// SelectSubject decodes DETR outputs and returns the highest scoring detection whose label
// matches cfg.Keep with probability above cfg.Threshold. logits is [queries][classes+1] flattened,
// boxes is [queries][4].
func SelectSubject(logits, boxes []float32, queries int, cfg DetectionConfig) (Detection, bool) {
	classes := len(cfg.ClassNames) + 1
	if queries <= 0 || len(logits) < queries*classes || len(boxes) < queries*4 {
		return Detection{}, false
	}
	var best Detection
	found := false
	probs := make([]float32, classes)
	for q := 0; q < queries; q++ {
		softmax(logits[q*classes:(q+1)*classes], probs)
		cls, score := 0, float32(-1)
		for c := 0; c < classes-1; c++ {
			if probs[c] > score {
				cls, score = c, probs[c]
			}
		}
		if score <= cfg.Threshold || !matchesLabel(cfg.ClassNames[cls], cfg.Keep) {
			continue
		}
		if !found || score > best.Score {
			b := boxes[q*4 : q*4+4]
			best = Detection{Label: cfg.ClassNames[cls], Score: score, Box: Box{CX: b[0], CY: b[1], W: b[2], H: b[3]}}
			found = true
		}
	}
	return best, found
}

func matchesLabel(label string, keep []string) bool {
	label = strings.ToLower(label)
	for _, k := range keep {
		if strings.Contains(label, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func softmax(in, out []float32) {
	maxV := in[0]
	for _, v := range in[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
}

// CropSubject cuts the detection out of img, resizes it to size×size and re-encodes it as JPEG.
func CropSubject(img image.Image, det Detection, size int) ([]byte, error) {
	b := img.Bounds()
	r := det.Box.Rect(b.Dx(), b.Dy()).Add(b.Min)
	if r.Empty() {
		return nil, fmt.Errorf("detection box %v is empty", det.Box)
	}
	return EncodeJPEG(Resize(Crop(img, r), size, size), 95)
}
