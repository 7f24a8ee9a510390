package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
)

const (
	configFile       = "config.json"
	preprocessorFile = "preprocessor_config.json"
)

// Provider holds the immutable model artefacts loaded at startup: label
// mapping, preprocessing configuration and the path of the ONNX graph.
// All accessors return copies, so a Provider can be shared across
// goroutines without locking.
type Provider struct {
	name       string
	modelPath  string
	labels     []string
	preprocess PreprocessConfig
}

// LoadProvider reads config.json and preprocessor_config.json from dir.
func LoadProvider(dir, file, name string) (*Provider, error) {
	const op = "model.LoadProvider"

	modelPath := filepath.Join(dir, file)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, apperr.Wrap(apperr.KindStartup, op, "model file", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStartup, op, "read "+configFile, err)
	}
	var mc modelConfig
	if err := json.Unmarshal(raw, &mc); err != nil {
		return nil, apperr.Wrap(apperr.KindStartup, op, "parse "+configFile, err)
	}
	labels, err := labelsFromMap(mc.ID2Label)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStartup, op, "id2label", err)
	}

	pp := DefaultPreprocess()
	raw, err = os.ReadFile(filepath.Join(dir, preprocessorFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &pp); err != nil {
			return nil, apperr.Wrap(apperr.KindStartup, op, "parse "+preprocessorFile, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, apperr.Wrap(apperr.KindStartup, op, "read "+preprocessorFile, err)
	}

	return NewProvider(name, modelPath, labels, pp)
}

// NewProvider validates and freezes the given artefacts.
func NewProvider(name, modelPath string, labels []string, pp PreprocessConfig) (*Provider, error) {
	const op = "model.NewProvider"

	if len(labels) == 0 {
		return nil, apperr.New(apperr.KindStartup, op, "model has no labels")
	}
	if pp.DoResize && pp.Size.ShortestEdge == 0 && (pp.Size.Height <= 0 || pp.Size.Width <= 0) {
		return nil, apperr.New(apperr.KindStartup, op, "resize size must be positive")
	}
	if pp.DoResize && pp.Size.ShortestEdge > 0 && !pp.DoCenterCrop {
		return nil, apperr.New(apperr.KindStartup, op, "shortest_edge resize needs a center crop for a fixed input shape")
	}
	if pp.DoCenterCrop && (pp.CropSize.Height <= 0 || pp.CropSize.Width <= 0) {
		return nil, apperr.New(apperr.KindStartup, op, "crop size must be positive")
	}
	if !pp.DoResize && !pp.DoCenterCrop {
		return nil, apperr.New(apperr.KindStartup, op, "preprocessing must resize or crop to a fixed input shape")
	}
	switch pp.Resample {
	case ResampleNearest, ResampleLanczos, ResampleBilinear, ResampleBicubic:
	default:
		return nil, apperr.New(apperr.KindStartup, op, fmt.Sprintf("unsupported resample filter %d", pp.Resample))
	}
	if pp.DoRescale && pp.RescaleFactor <= 0 {
		return nil, apperr.New(apperr.KindStartup, op, "rescale_factor must be positive")
	}
	if pp.DoNormalize {
		if len(pp.ImageMean) != 3 || len(pp.ImageStd) != 3 {
			return nil, apperr.New(apperr.KindStartup, op, "image_mean and image_std need 3 channels")
		}
		for _, s := range pp.ImageStd {
			if s == 0 {
				return nil, apperr.New(apperr.KindStartup, op, "image_std must be non-zero")
			}
		}
	}

	return &Provider{
		name:       name,
		modelPath:  modelPath,
		labels:     append([]string(nil), labels...),
		preprocess: pp.clone(),
	}, nil
}

func labelsFromMap(id2label map[string]string) ([]string, error) {
	if len(id2label) == 0 {
		return nil, fmt.Errorf("empty mapping")
	}
	labels := make([]string, len(id2label))
	seen := make([]bool, len(id2label))
	for k, v := range id2label {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("non-numeric index %q", k)
		}
		if idx < 0 || idx >= len(labels) {
			return nil, fmt.Errorf("index %d out of range for %d labels", idx, len(labels))
		}
		if seen[idx] {
			return nil, fmt.Errorf("duplicate index %d", idx)
		}
		seen[idx] = true
		labels[idx] = v
	}
	return labels, nil
}

func (p *Provider) Name() string      { return p.name }
func (p *Provider) ModelPath() string { return p.modelPath }
func (p *Provider) NumLabels() int    { return len(p.labels) }

// Labels returns the class labels ordered by index.
func (p *Provider) Labels() []string {
	return append([]string(nil), p.labels...)
}

// Label maps a class index to its label.
func (p *Provider) Label(idx int) (string, bool) {
	if idx < 0 || idx >= len(p.labels) {
		return "", false
	}
	return p.labels[idx], true
}

func (p *Provider) Preprocess() PreprocessConfig {
	return p.preprocess.clone()
}

// InputShape is the NCHW shape the model is fed with.
func (p *Provider) InputShape() []int64 {
	h, w := p.preprocess.OutputSize()
	return []int64{1, 3, int64(h), int64(w)}
}

// OutputShape is the shape of the score tensor.
func (p *Provider) OutputShape() []int64 {
	return []int64{1, int64(len(p.labels))}
}
