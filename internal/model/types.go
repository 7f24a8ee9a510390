package model

import (
	"context"
	"encoding/json"
	"fmt"
)

// Engine runs one forward pass over a preprocessed NCHW tensor and returns
// one raw score per label.
type Engine interface {
	Run(ctx context.Context, input []float32) ([]float32, error)
	Close()
}

// Size accepts both the object form ({"height":224,"width":224} or
// {"shortest_edge":256}) and the legacy bare integer form of the
// preprocessor size fields.
type Size struct {
	Height       int `json:"height,omitempty"`
	Width        int `json:"width,omitempty"`
	ShortestEdge int `json:"shortest_edge,omitempty"`
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Size{Height: n, Width: n}
		return nil
	}
	type plain Size
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("size: %w", err)
	}
	*s = Size(p)
	return nil
}

// Resample filters, numbered as in preprocessor_config.json.
const (
	ResampleNearest  = 0
	ResampleLanczos  = 1
	ResampleBilinear = 2
	ResampleBicubic  = 3
)

// PreprocessConfig mirrors preprocessor_config.json.
type PreprocessConfig struct {
	DoResize      bool      `json:"do_resize"`
	Size          Size      `json:"size"`
	Resample      int       `json:"resample"`
	DoCenterCrop  bool      `json:"do_center_crop"`
	CropSize      Size      `json:"crop_size"`
	DoRescale     bool      `json:"do_rescale"`
	RescaleFactor float64   `json:"rescale_factor"`
	DoNormalize   bool      `json:"do_normalize"`
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
}

// DefaultPreprocess matches the ViT image processor defaults.
func DefaultPreprocess() PreprocessConfig {
	return PreprocessConfig{
		DoResize:      true,
		Size:          Size{Height: 224, Width: 224},
		Resample:      ResampleBilinear,
		DoRescale:     true,
		RescaleFactor: 1.0 / 255.0,
		DoNormalize:   true,
		ImageMean:     []float32{0.5, 0.5, 0.5},
		ImageStd:      []float32{0.5, 0.5, 0.5},
	}
}

// OutputSize is the spatial size of the tensor the preprocessing produces.
func (p PreprocessConfig) OutputSize() (height, width int) {
	if p.DoCenterCrop {
		return p.CropSize.Height, p.CropSize.Width
	}
	return p.Size.Height, p.Size.Width
}

func (p PreprocessConfig) clone() PreprocessConfig {
	p.ImageMean = append([]float32(nil), p.ImageMean...)
	p.ImageStd = append([]float32(nil), p.ImageStd...)
	return p
}

// modelConfig is the subset of config.json the service needs.
type modelConfig struct {
	ID2Label map[string]string `json:"id2label"`
}
