package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
)

// DefaultMaxPixels is the decompression bomb threshold: twice the
// 89,478,485 pixel warning limit of common imaging stacks.
const DefaultMaxPixels int64 = 178956970

var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// Payload is an uploaded file as received from the caller.
type Payload struct {
	Data        []byte
	ContentType string
}

// RGB is a decoded opaque image. It is backed by an NRGBA buffer whose
// alpha samples are fixed at 0xff, so only the three colour channels carry
// information.
type RGB struct {
	img    *image.NRGBA
	Width  int
	Height int
}

// NewRGB allocates a black image. Both dimensions must be positive.
func NewRGB(width, height int) (*RGB, error) {
	if width <= 0 || height <= 0 {
		return nil, apperr.New(apperr.KindInvalidImage, "vision.NewRGB", "image has no pixels")
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return &RGB{img: img, Width: width, Height: height}, nil
}

func (m *RGB) RGBAt(x, y int) (r, g, b uint8) {
	i := m.img.PixOffset(x, y)
	return m.img.Pix[i], m.img.Pix[i+1], m.img.Pix[i+2]
}

func (m *RGB) SetRGB(x, y int, r, g, b uint8) {
	i := m.img.PixOffset(x, y)
	m.img.Pix[i], m.img.Pix[i+1], m.img.Pix[i+2] = r, g, b
}

// Image exposes the backing buffer for read-only use.
func (m *RGB) Image() *image.NRGBA { return m.img }

// IsImageContentType reports whether a declared content type belongs to the
// image/* family.
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// Decoder turns payloads into RGB images. MaxPixels bounds width*height;
// zero means DefaultMaxPixels.
type Decoder struct {
	MaxPixels int64
}

// Decode uses a Decoder with the default pixel limit.
func Decode(p Payload) (*RGB, error) {
	return Decoder{}.Decode(p)
}

// Decode checks the declared content type and the header dimensions, then
// decodes the bytes into an RGB image. Alpha is discarded without
// compositing.
func (d Decoder) Decode(p Payload) (*RGB, error) {
	const op = "vision.Decode"

	if !IsImageContentType(p.ContentType) {
		return nil, apperr.New(apperr.KindInvalidContentType, op, "declared content type "+p.ContentType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidImage, op, "decode header failed", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperr.New(apperr.KindInvalidImage, op, "image has no pixels")
	}
	limit := d.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > limit {
		return nil, apperr.Wrap(apperr.KindInvalidImage, op,
			fmt.Sprintf("%dx%d is %d pixels (max %d)", cfg.Width, cfg.Height, pixels, limit), ErrTooManyPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(p.Data))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidImage, op, "decode failed", err)
	}

	// Clone yields non-premultiplied samples; forcing alpha opaque drops it.
	src := imaging.Clone(img)
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperr.New(apperr.KindInvalidImage, op, "image has no pixels")
	}
	for i := 3; i < len(src.Pix); i += 4 {
		src.Pix[i] = 0xff
	}
	return &RGB{img: src, Width: b.Dx(), Height: b.Dy()}, nil
}
