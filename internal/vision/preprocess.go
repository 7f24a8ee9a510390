package vision

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/damage-detector/internal/model"
)

// Tensor is a float32 NCHW batch of one image.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Preprocessor turns decoded images into model input. It holds no mutable
// state and is safe for concurrent use.
type Preprocessor struct {
	cfg    model.PreprocessConfig
	filter resize.InterpolationFunction
}

func NewPreprocessor(cfg model.PreprocessConfig) *Preprocessor {
	return &Preprocessor{cfg: cfg, filter: filterFor(cfg.Resample)}
}

func filterFor(resample int) resize.InterpolationFunction {
	switch resample {
	case model.ResampleNearest:
		return resize.NearestNeighbor
	case model.ResampleLanczos:
		return resize.Lanczos3
	case model.ResampleBicubic:
		return resize.Bicubic
	default:
		return resize.Bilinear
	}
}

// Process resizes, crops, rescales and normalizes img into a [1,3,H,W]
// tensor.
func (p *Preprocessor) Process(img *RGB) Tensor {
	var out image.Image = img.Image()

	if p.cfg.DoResize {
		w, h := p.resizeTarget(img.Width, img.Height)
		out = resize.Resize(uint(w), uint(h), out, p.filter)
	}

	if p.cfg.DoCenterCrop {
		out = centerCrop(out, p.cfg.CropSize.Width, p.cfg.CropSize.Height)
	}

	px, ok := out.(*image.NRGBA)
	if !ok {
		px = imaging.Clone(out)
	}
	width, height := px.Bounds().Dx(), px.Bounds().Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := px.PixOffset(x, y)
			idx := y*width + x
			for c := 0; c < 3; c++ {
				data[c*plane+idx] = p.normalize(px.Pix[i+c], c)
			}
		}
	}

	return Tensor{
		Data:  data,
		Shape: []int64{1, 3, int64(height), int64(width)},
	}
}

func (p *Preprocessor) normalize(v uint8, channel int) float32 {
	f := float64(v)
	if p.cfg.DoRescale {
		f *= p.cfg.RescaleFactor
	}
	if p.cfg.DoNormalize {
		f = (f - float64(p.cfg.ImageMean[channel])) / float64(p.cfg.ImageStd[channel])
	}
	return float32(f)
}

func (p *Preprocessor) resizeTarget(width, height int) (int, int) {
	edge := p.cfg.Size.ShortestEdge
	if edge <= 0 {
		return p.cfg.Size.Width, p.cfg.Size.Height
	}
	if width <= height {
		return edge, int(int64(edge) * int64(height) / int64(width))
	}
	return int(int64(edge) * int64(width) / int64(height)), edge
}

// centerCrop pads with black when the image is smaller than the crop so the
// result always has the requested size.
func centerCrop(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() < width || b.Dy() < height {
		bg := imaging.New(max(b.Dx(), width), max(b.Dy(), height), color.Black)
		img = imaging.PasteCenter(bg, img)
	}
	return imaging.CropCenter(img, width, height)
}
