package inject

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/identify/scanengine/frame"
)

// FrameSource is an injected frame source. It remembers the handler passed to Start so tests
// can push deliveries with Deliver and Fail.
type FrameSource struct {
	frame.Source
	StartFunc func(ctx context.Context, h frame.Handler) error
	ResetFunc func(ctx context.Context, opts frame.ResetOptions) error
	CloseFunc func(ctx context.Context) error

	mu      sync.Mutex
	handler frame.Handler
}

// Start records h and calls the injected Start or the real version.
func (s *FrameSource) Start(ctx context.Context, h frame.Handler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	if s.StartFunc == nil {
		if s.Source == nil {
			return nil
		}
		return s.Source.Start(ctx, h)
	}
	return s.StartFunc(ctx, h)
}

// Reset calls the injected Reset or the real version.
func (s *FrameSource) Reset(ctx context.Context, opts frame.ResetOptions) error {
	if s.ResetFunc == nil {
		if s.Source == nil {
			return nil
		}
		return s.Source.Reset(ctx, opts)
	}
	return s.ResetFunc(ctx, opts)
}

// Close calls the injected Close or the real version.
func (s *FrameSource) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		if s.Source == nil {
			return nil
		}
		return s.Source.Close(ctx)
	}
	return s.CloseFunc(ctx)
}

func (s *FrameSource) started() (frame.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil, errors.New("frame source not started")
	}
	return s.handler, nil
}

// Deliver pushes f to the handler given to Start.
func (s *FrameSource) Deliver(ctx context.Context, f *frame.Frame) error {
	h, err := s.started()
	if err != nil {
		return err
	}
	h.HandleFrame(ctx, f)
	return nil
}

// Fail reports err to the handler given to Start.
func (s *FrameSource) Fail(err error) error {
	h, herr := s.started()
	if herr != nil {
		return herr
	}
	h.HandleFailure(err)
	return nil
}
