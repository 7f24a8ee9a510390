package testutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/damage-detector/internal/model"
)

// Labels is the label set used by test providers.
var Labels = []string{"Dent", "Scratch", "None", "crack"}

// Provider returns a provider with a small input size for fast tests.
func Provider(t *testing.T) *model.Provider {
	t.Helper()

	pp := model.DefaultPreprocess()
	pp.Size = model.Size{Height: 8, Width: 8}
	p, err := model.NewProvider("test/damage", "model.onnx", Labels, pp)
	if err != nil {
		t.Fatalf("failed to build provider: %v", err)
	}
	return p
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// JPEG encodes a solid colour image.
func JPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h, c), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PNG encodes a solid colour image, keeping its alpha.
func PNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, c)); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEGOfSize returns a valid JPEG of exactly size bytes by inserting a
// comment segment after the SOI marker.
func JPEGOfSize(t *testing.T, size int) []byte {
	t.Helper()

	base := JPEG(t, 32, 32, color.RGBA{R: 180, G: 30, B: 40, A: 255})
	pad := size - len(base)
	if pad < 4 || pad > 0xffff+2 {
		t.Fatalf("cannot pad %d byte jpeg to %d bytes", len(base), size)
	}

	out := make([]byte, 0, size)
	out = append(out, base[:2]...)
	out = append(out, 0xff, 0xfe)
	out = binary.BigEndian.AppendUint16(out, uint16(pad-2))
	out = append(out, bytes.Repeat([]byte{'x'}, pad-4)...)
	out = append(out, base[2:]...)
	return out
}

// PNGHeader returns the signature and IHDR chunk of an 8-bit grayscale PNG
// claiming the given dimensions. It carries no pixel data, so only
// image.DecodeConfig can read it.
func PNGHeader(w, h uint32) []byte {
	out := []byte("\x89PNG\r\n\x1a\n")
	ihdr := []byte("IHDR")
	ihdr = binary.BigEndian.AppendUint32(ihdr, w)
	ihdr = binary.BigEndian.AppendUint32(ihdr, h)
	// bit depth 8, colour type 0, deflate, no filter, no interlace
	ihdr = append(ihdr, 8, 0, 0, 0, 0)

	out = binary.BigEndian.AppendUint32(out, uint32(len(ihdr)-4))
	out = append(out, ihdr...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
}

// FakeEngine is a model.Engine that needs no ONNX runtime. Without fixed
// Scores it derives one score per label from the input, so equal inputs
// give equal scores.
type FakeEngine struct {
	NumLabels int
	Scores    []float32
	Err       error

	mu     sync.Mutex
	inputs [][]float32
	calls  atomic.Int32
	closed atomic.Bool
}

func (f *FakeEngine) Run(ctx context.Context, input []float32) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, append([]float32(nil), input...))
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Scores != nil {
		return append([]float32(nil), f.Scores...), nil
	}

	scores := make([]float32, f.NumLabels)
	for i := range input {
		scores[i%f.NumLabels] += input[i]
	}
	return scores, nil
}

func (f *FakeEngine) Close() { f.closed.Store(true) }

func (f *FakeEngine) Calls() int { return int(f.calls.Load()) }

func (f *FakeEngine) Closed() bool { return f.closed.Load() }

// LastInput returns the most recent tensor passed to Run.
func (f *FakeEngine) LastInput() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

var _ model.Engine = (*FakeEngine)(nil)
