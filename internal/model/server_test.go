package model

import (
	"testing"

	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestMatchInfo(t *testing.T) {
	infos := []ort.InputOutputInfo{
		{Name: "pixel_values", Dimensions: ort.NewShape(-1, 3, 224, 224)},
		{Name: "logits", Dimensions: ort.NewShape(1, 4)},
		{Name: "attention", Dimensions: ort.NewShape(1, 3, 224)},
	}

	tests := []struct {
		name    string
		tensor  string
		want    []int64
		wantErr string
	}{
		{name: "exact", tensor: "logits", want: []int64{1, 4}},
		{name: "dynamic batch", tensor: "pixel_values", want: []int64{1, 3, 224, 224}},
		{name: "wrong rank", tensor: "attention", want: []int64{1, 3, 224, 224}, wantErr: "rank 3"},
		{name: "wrong fixed dimension", tensor: "pixel_values", want: []int64{1, 3, 384, 384}, wantErr: "shape"},
		{name: "wrong label count", tensor: "logits", want: []int64{1, 5}, wantErr: "shape"},
		{name: "missing tensor", tensor: "input", want: []int64{1, 3, 224, 224}, wantErr: `no tensor named "input"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := matchInfo(infos, tc.tensor, tc.want)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestMatchInfoAllDynamic(t *testing.T) {
	infos := []ort.InputOutputInfo{{Name: "logits", Dimensions: ort.NewShape(-1, -1)}}
	require.NoError(t, matchInfo(infos, "logits", []int64{1, 4}))
}
