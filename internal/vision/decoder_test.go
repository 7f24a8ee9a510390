package vision

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
	"github.com/Brownie44l1/damage-detector/internal/testutil"
)

func TestIsImageContentType(t *testing.T) {
	require.True(t, IsImageContentType("image/jpeg"))
	require.True(t, IsImageContentType(" Image/PNG"))
	require.False(t, IsImageContentType("application/octet-stream"))
	require.False(t, IsImageContentType("text/plain; image/png"))
	require.False(t, IsImageContentType(""))
}

func TestDecodeRejectsContentTypeBeforeDecoding(t *testing.T) {
	data := testutil.JPEG(t, 4, 4, color.White)

	_, err := Decode(Payload{Data: data, ContentType: "application/pdf"})
	require.True(t, apperr.IsKind(err, apperr.KindInvalidContentType))
}

func TestDecodeInvalidBytes(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"random":    []byte{0x13, 0x37, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x42},
		"truncated": testutil.JPEG(t, 16, 16, color.White)[:20],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(Payload{Data: data, ContentType: "image/jpeg"})
			require.True(t, apperr.IsKind(err, apperr.KindInvalidImage))
		})
	}
}

func TestDecodeJPEG(t *testing.T) {
	data := testutil.JPEG(t, 20, 10, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	img, err := Decode(Payload{Data: data, ContentType: "image/jpeg"})
	require.NoError(t, err)
	require.Equal(t, 20, img.Width)
	require.Equal(t, 10, img.Height)
	require.Equal(t, 20, img.Image().Bounds().Dx())
	r, _, _ := img.RGBAt(0, 0)
	require.InDelta(t, 200, int(r), 3)
}

func TestDecodeDropsAlpha(t *testing.T) {
	data := testutil.PNG(t, 3, 3, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	img, err := Decode(Payload{Data: data, ContentType: "image/png"})
	require.NoError(t, err)
	r, g, b := img.RGBAt(0, 0)
	require.Equal(t, []uint8{200, 100, 50}, []uint8{r, g, b})
	require.Equal(t, uint8(0xff), img.Image().Pix[3])
}

func TestDecodeIgnoresDeclaredSubtype(t *testing.T) {
	data := testutil.PNG(t, 2, 2, color.White)

	img, err := Decode(Payload{Data: data, ContentType: "image/jpeg"})
	require.NoError(t, err)
	require.Equal(t, 2, img.Width)
}

func TestNewRGBRejectsEmpty(t *testing.T) {
	_, err := NewRGB(0, 5)
	require.True(t, apperr.IsKind(err, apperr.KindInvalidImage))
	_, err = NewRGB(5, 0)
	require.Error(t, err)
}

func TestRGBSetAndGet(t *testing.T) {
	img, err := NewRGB(2, 1)
	require.NoError(t, err)
	img.SetRGB(1, 0, 4, 5, 6)

	r, g, b := img.RGBAt(1, 0)
	require.Equal(t, []uint8{4, 5, 6}, []uint8{r, g, b})
	r, g, b = img.RGBAt(0, 0)
	require.Equal(t, []uint8{0, 0, 0}, []uint8{r, g, b})
	require.Equal(t, color.NRGBA{R: 4, G: 5, B: 6, A: 255}, img.Image().NRGBAAt(1, 0))
}

func TestDecodeRejectsTooManyPixels(t *testing.T) {
	// 14000x14000 is 196,000,000 pixels, over the default limit.
	data := testutil.PNGHeader(14000, 14000)

	_, err := Decode(Payload{Data: data, ContentType: "image/png"})
	require.True(t, apperr.IsKind(err, apperr.KindInvalidImage))
	require.ErrorIs(t, err, ErrTooManyPixels)
}

func TestDecoderMaxPixels(t *testing.T) {
	dec := Decoder{MaxPixels: 64}

	img, err := dec.Decode(Payload{Data: testutil.PNG(t, 8, 8, color.White), ContentType: "image/png"})
	require.NoError(t, err)
	require.Equal(t, 8, img.Width)

	_, err = dec.Decode(Payload{Data: testutil.PNG(t, 9, 8, color.White), ContentType: "image/png"})
	require.True(t, apperr.IsKind(err, apperr.KindInvalidImage))
	require.ErrorIs(t, err, ErrTooManyPixels)
}

func TestDecodeHeaderOnlyWithinLimit(t *testing.T) {
	// Passes the pixel check but has no image data to decode.
	_, err := Decode(Payload{Data: testutil.PNGHeader(4, 4), ContentType: "image/png"})
	require.True(t, apperr.IsKind(err, apperr.KindInvalidImage))
	require.NotErrorIs(t, err, ErrTooManyPixels)
}
