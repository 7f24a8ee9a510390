package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
	"github.com/Brownie44l1/damage-detector/internal/model"
	"github.com/Brownie44l1/damage-detector/internal/vision"
	"github.com/Brownie44l1/damage-detector/internal/worker"
)

// Options wires a Service. Provider, Engine and Pool are required.
// MaxPixels bounds decoded images; zero means vision.DefaultMaxPixels.
type Options struct {
	Provider  *model.Provider
	Engine    model.Engine
	Pool      *worker.Pool
	Logger    *slog.Logger
	MaxPixels int64
}

// Service runs the detection pipeline for single uploads. It keeps no
// per-request state and is safe for concurrent use.
type Service struct {
	provider     *model.Provider
	engine       model.Engine
	pool         *worker.Pool
	decoder      vision.Decoder
	preprocessor *vision.Preprocessor
	inputShape   []int64
	logger       *slog.Logger
}

func NewService(opts Options) (*Service, error) {
	if opts.Provider == nil || opts.Engine == nil || opts.Pool == nil {
		return nil, errors.New("detect: provider, engine and pool are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		provider:     opts.Provider,
		engine:       opts.Engine,
		pool:         opts.Pool,
		decoder:      vision.Decoder{MaxPixels: opts.MaxPixels},
		preprocessor: vision.NewPreprocessor(opts.Provider.Preprocess()),
		inputShape:   opts.Provider.InputShape(),
		logger:       opts.Logger.With("component", "detect"),
	}, nil
}

func (s *Service) Provider() *model.Provider { return s.provider }

// Close releases the engine. Callers must stop dispatching first.
func (s *Service) Close() {
	s.engine.Close()
}

// InputSize is the number of float values one input tensor holds.
func (s *Service) InputSize() int {
	n := 1
	for _, d := range s.inputShape {
		n *= int(d)
	}
	return n
}

// Detect decodes the payload, classifies it and composes the response.
func (s *Service) Detect(ctx context.Context, p vision.Payload) (*Response, error) {
	start := time.Now()

	img, err := s.decoder.Decode(p)
	if err != nil {
		s.logger.Debug("rejected upload", "content_type", p.ContentType, "bytes", len(p.Data), "error", err)
		return nil, err
	}

	c, err := s.Classify(ctx, s.preprocessor.Process(img))
	if err != nil {
		return nil, err
	}

	resp := Compose(c, Location(len(p.Data)))
	s.logger.Info("detection completed",
		"damage_type", resp.DamageType,
		"confidence", resp.Confidence,
		"location", resp.Location,
		"bytes", len(p.Data),
		"width", img.Width,
		"height", img.Height,
		"duration", time.Since(start),
	)
	return &resp, nil
}

// Classify runs one preprocessed tensor through the model on the worker
// pool and interprets the scores.
func (s *Service) Classify(ctx context.Context, t vision.Tensor) (Classification, error) {
	const op = "detect.Classify"

	if want := s.InputSize(); len(t.Data) != want {
		return Classification{}, apperr.New(apperr.KindPayload, op,
			fmt.Sprintf("expected %d values, got %d", want, len(t.Data)))
	}
	if t.Shape != nil && !slices.Equal(t.Shape, s.inputShape) {
		return Classification{}, apperr.New(apperr.KindPayload, op,
			fmt.Sprintf("expected shape %v, got %v", s.inputShape, t.Shape))
	}

	var scores []float32
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		out, err := s.engine.Run(ctx, t.Data)
		if err != nil {
			return err
		}
		scores = out
		return nil
	})
	if err != nil {
		s.logger.Error("inference failed", "error", err)
		return Classification{}, apperr.Wrap(apperr.KindInference, op, "forward pass", err)
	}

	if len(scores) != s.provider.NumLabels() {
		return Classification{}, apperr.New(apperr.KindInference, op,
			fmt.Sprintf("model returned %d scores for %d labels", len(scores), s.provider.NumLabels()))
	}
	return Interpret(scores, s.provider.Label)
}
