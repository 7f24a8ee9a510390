package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
)

func writeArtifacts(t *testing.T, config, preprocessor string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("graph"), 0o600))
	if config != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, configFile), []byte(config), 0o600))
	}
	if preprocessor != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, preprocessorFile), []byte(preprocessor), 0o600))
	}
	return dir
}

func TestLoadProvider(t *testing.T) {
	dir := writeArtifacts(t,
		`{"id2label":{"1":"Scratch","0":"Dent","2":"None"}}`,
		`{"do_resize":true,"size":{"height":384,"width":384},"resample":3,
		  "do_normalize":true,"image_mean":[0.485,0.456,0.406],"image_std":[0.229,0.224,0.225]}`)

	p, err := LoadProvider(dir, "model.onnx", "test/damage")
	require.NoError(t, err)
	require.Equal(t, "test/damage", p.Name())
	require.Equal(t, filepath.Join(dir, "model.onnx"), p.ModelPath())
	require.Equal(t, []string{"Dent", "Scratch", "None"}, p.Labels())
	require.Equal(t, []int64{1, 3, 384, 384}, p.InputShape())
	require.Equal(t, []int64{1, 3}, p.OutputShape())

	pp := p.Preprocess()
	require.Equal(t, ResampleBicubic, pp.Resample)
	require.True(t, pp.DoRescale)
	require.InDelta(t, 1.0/255.0, pp.RescaleFactor, 1e-12)

	label, ok := p.Label(1)
	require.True(t, ok)
	require.Equal(t, "Scratch", label)
	_, ok = p.Label(3)
	require.False(t, ok)
}

func TestLoadProviderDefaultsWithoutPreprocessor(t *testing.T) {
	dir := writeArtifacts(t, `{"id2label":{"0":"a","1":"b"}}`, "")

	p, err := LoadProvider(dir, "model.onnx", "m")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 224, 224}, p.InputShape())
	require.Equal(t, []float32{0.5, 0.5, 0.5}, p.Preprocess().ImageMean)
}

func TestLoadProviderLegacyIntSize(t *testing.T) {
	dir := writeArtifacts(t, `{"id2label":{"0":"a"}}`,
		`{"size":256,"do_center_crop":true,"crop_size":224}`)

	p, err := LoadProvider(dir, "model.onnx", "m")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 224, 224}, p.InputShape())
}

func TestLoadProviderFailures(t *testing.T) {
	tests := []struct {
		name         string
		config       string
		preprocessor string
	}{
		{"missing config", "", ""},
		{"bad json", `{"id2label":`, ""},
		{"no labels", `{"id2label":{}}`, ""},
		{"gap in labels", `{"id2label":{"0":"a","2":"b"}}`, ""},
		{"non numeric index", `{"id2label":{"x":"a"}}`, ""},
		{"zero std", `{"id2label":{"0":"a"}}`, `{"image_std":[0.5,0,0.5]}`},
		{"short mean", `{"id2label":{"0":"a"}}`, `{"image_mean":[0.5]}`},
		{"shortest edge without crop", `{"id2label":{"0":"a"}}`, `{"size":{"shortest_edge":224}}`},
		{"unknown resample", `{"id2label":{"0":"a"}}`, `{"resample":9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeArtifacts(t, tt.config, tt.preprocessor)
			_, err := LoadProvider(dir, "model.onnx", "m")
			require.Error(t, err)
			require.True(t, apperr.IsKind(err, apperr.KindStartup))
		})
	}
}

func TestLoadProviderMissingModelFile(t *testing.T) {
	dir := writeArtifacts(t, `{"id2label":{"0":"a"}}`, "")
	_, err := LoadProvider(dir, "other.onnx", "m")
	require.True(t, apperr.IsKind(err, apperr.KindStartup))
}

func TestProviderIsImmutable(t *testing.T) {
	labels := []string{"Dent", "Scratch"}
	p, err := NewProvider("m", "model.onnx", labels, DefaultPreprocess())
	require.NoError(t, err)

	labels[0] = "changed"
	got := p.Labels()
	got[1] = "changed"
	pp := p.Preprocess()
	pp.ImageMean[0] = 9

	require.Equal(t, []string{"Dent", "Scratch"}, p.Labels())
	require.Equal(t, float32(0.5), p.Preprocess().ImageMean[0])
}
