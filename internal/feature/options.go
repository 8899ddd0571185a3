package feature

// ONNXConfig describes an image embedding model exported to ONNX.
type ONNXConfig struct {
	ModelPath string
	// SharedLibraryPath points at libonnxruntime; empty uses the platform default.
	SharedLibraryPath string
	Dimensions        int
	ImageSize         int
	InputName         string
	OutputName        string
	// OutputTokens is the sequence length of the output. The first token (CLS) is used.
	// 1 means the model already emits a pooled [1, D] output.
	OutputTokens int
}

func (c *ONNXConfig) applyDefaults() {
	if c.Dimensions <= 0 {
		c.Dimensions = 768
	}
	if c.ImageSize <= 0 {
		c.ImageSize = 224
	}
	if c.InputName == "" {
		c.InputName = "pixel_values"
	}
	if c.OutputName == "" {
		c.OutputName = "last_hidden_state"
	}
	if c.OutputTokens <= 0 {
		c.OutputTokens = 1
	}
}

// DetectorConfig describes a DETR-style object detection model exported to ONNX.
type DetectorConfig struct {
	ModelPath         string
	SharedLibraryPath string
	ImageSize         int
	Queries           int
	CropSize          int
	InputName         string
	LogitsName        string
	BoxesName         string
	Detection         DetectionConfig
}

func (c *DetectorConfig) applyDefaults() {
	if c.ImageSize <= 0 {
		c.ImageSize = 800
	}
	if c.Queries <= 0 {
		c.Queries = 300
	}
	if c.CropSize <= 0 {
		c.CropSize = 224
	}
	if c.InputName == "" {
		c.InputName = "pixel_values"
	}
	if c.LogitsName == "" {
		c.LogitsName = "logits"
	}
	if c.BoxesName == "" {
		c.BoxesName = "pred_boxes"
	}
	if len(c.Detection.ClassNames) == 0 {
		c.Detection.ClassNames = []string{"bag", "bottom", "dress", "hat", "shoes", "outer", "top"}
	}
	if len(c.Detection.Keep) == 0 {
		c.Detection.Keep = []string{"dress", "skirt"}
	}
	if c.Detection.Threshold <= 0 {
		c.Detection.Threshold = 0.7
	}
}
