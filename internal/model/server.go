package model

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
)

// ServerOptions configures the ONNX Runtime backed Engine.
type ServerOptions struct {
	LibraryPath string
	InputName   string
	OutputName  string
	// Sessions is the number of independent sessions, and therefore the
	// number of forward passes that may run at the same time.
	Sessions int
}

// Server is an Engine backed by a fixed pool of ONNX Runtime sessions.
// Each session owns its input and output tensors, so a session is used by
// at most one request at a time.
type Server struct {
	idle     chan *session
	sessions []*session
	inSize   int
	outSize  int
}

type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func (s *session) destroy() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

// NewServer initializes the ONNX environment, checks the graph's declared
// input and output against the provider's shapes and opens the session
// pool. Any failure here is a startup failure.
func NewServer(p *Provider, opts ServerOptions) (*Server, error) {
	const op = "model.NewServer"

	if opts.Sessions <= 0 {
		opts.Sessions = 1
	}
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, apperr.Wrap(apperr.KindStartup, op, "failed to initialize ONNX environment", err)
	}

	inputShape := p.InputShape()
	outputShape := p.OutputShape()
	if err := checkGraph(p.ModelPath(), opts, inputShape, outputShape); err != nil {
		ort.DestroyEnvironment()
		return nil, apperr.Wrap(apperr.KindStartup, op, "model graph does not match preprocessing config", err)
	}

	srv := &Server{
		idle:    make(chan *session, opts.Sessions),
		inSize:  int(ort.NewShape(inputShape...).FlattenedSize()),
		outSize: int(ort.NewShape(outputShape...).FlattenedSize()),
	}
	for i := 0; i < opts.Sessions; i++ {
		s, err := newSession(p.ModelPath(), opts, inputShape, outputShape)
		if err != nil {
			srv.Close()
			return nil, apperr.Wrap(apperr.KindStartup, op, fmt.Sprintf("failed to create session %d", i), err)
		}
		srv.sessions = append(srv.sessions, s)
		srv.idle <- s
	}
	return srv, nil
}

func checkGraph(modelPath string, opts ServerOptions, inputShape, outputShape []int64) error {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("failed to inspect model: %w", err)
	}
	if err := matchInfo(inputs, opts.InputName, inputShape); err != nil {
		return err
	}
	return matchInfo(outputs, opts.OutputName, outputShape)
}

// matchInfo accepts dynamic (non-positive) dimensions in the graph.
func matchInfo(infos []ort.InputOutputInfo, name string, want []int64) error {
	for _, info := range infos {
		if info.Name != name {
			continue
		}
		got := info.Dimensions
		if len(got) != len(want) {
			return fmt.Errorf("%s: rank %d, expected %v", name, len(got), want)
		}
		for i := range got {
			if got[i] > 0 && got[i] != want[i] {
				return fmt.Errorf("%s: shape %v, expected %v", name, got, want)
			}
		}
		return nil
	}
	return fmt.Errorf("model has no tensor named %q", name)
}

func newSession(modelPath string, opts ServerOptions, inputShape, outputShape []int64) (*session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()
	// Parallelism comes from the session pool.
	if err := sessionOpts.SetIntraOpNumThreads(1); err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to set thread count: %w", err)
	}

	s, err := ort.NewAdvancedSession(modelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOpts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      s,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Run copies input into an idle session, runs it and returns a copy of the
// scores.
func (srv *Server) Run(ctx context.Context, input []float32) ([]float32, error) {
	const op = "model.Run"

	if len(input) != srv.inSize {
		return nil, apperr.New(apperr.KindInference, op,
			fmt.Sprintf("expected %d input values, got %d", srv.inSize, len(input)))
	}

	var s *session
	select {
	case s = <-srv.idle:
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindInference, op, "waiting for session", ctx.Err())
	}
	defer func() { srv.idle <- s }()

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, apperr.Wrap(apperr.KindInference, op, "inference failed", err)
	}

	scores := make([]float32, srv.outSize)
	copy(scores, s.outputTensor.GetData())
	return scores, nil
}

func (srv *Server) Close() {
	for _, s := range srv.sessions {
		s.destroy()
	}
	srv.sessions = nil
	ort.DestroyEnvironment()
}
