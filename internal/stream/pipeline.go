package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"agentviewport/internal/capture"
	"agentviewport/internal/encode"
	"agentviewport/internal/types"
)

const (
	// DefaultBackoff is the pause after a failed iteration.
	DefaultBackoff = time.Second
	// DefaultDegradedAfter is the number of consecutive failures that marks
	// the stream degraded.
	DefaultDegradedAfter = 3
)

// Sink receives every frame and status change produced by the pipeline.
type Sink interface {
	Broadcast(f *types.Frame)
	BroadcastStatus(s types.StreamStatus)
}

// Config holds the encode target and cadence.
type Config struct {
	FPS         int
	TargetWidth int
	Quality     int
}

// Pipeline runs at most one capture/encode/broadcast loop at a time.
type Pipeline struct {
	capturer capture.Capturer
	encoder  encode.Encoder
	sink     Sink
	logger   *slog.Logger

	interval      time.Duration
	width         int
	quality       int
	backoff       time.Duration
	degradedAfter int

	// captureMu keeps loop iterations and snapshots from capturing at the
	// same time.
	captureMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	seq    uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBackoff overrides DefaultBackoff.
func WithBackoff(d time.Duration) Option {
	return func(p *Pipeline) { p.backoff = d }
}

// WithDegradedAfter overrides DefaultDegradedAfter.
func WithDegradedAfter(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.degradedAfter = n
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a stopped pipeline.
func New(c capture.Capturer, e encode.Encoder, sink Sink, cfg Config, opts ...Option) *Pipeline {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	p := &Pipeline{
		capturer:      c,
		encoder:       e,
		sink:          sink,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval:      time.Second / time.Duration(fps),
		width:         cfg.TargetWidth,
		quality:       cfg.Quality,
		backoff:       DefaultBackoff,
		degradedAfter: DefaultDegradedAfter,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Interval returns the target spacing between iterations.
func (p *Pipeline) Interval() time.Duration { return p.interval }

// Start launches the loop. It is a no-op while the loop is running.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	prev := p.done
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.run(ctx, prev, done, p.sink)
	p.logger.Info("stream started", "interval", p.interval)
}

// Stop halts scheduling. An in-flight iteration finishes and its frame is
// discarded. Stop is idempotent and never blocks.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.logger.Info("stream stopped")
}

// Running reports whether the loop is scheduled.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Wait blocks until the most recently started loop has exited or ctx ends.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot captures and encodes one frame outside the loop's cadence. It
// waits for an in-flight loop capture to finish first.
func (p *Pipeline) Snapshot(ctx context.Context) (*types.Frame, error) {
	img, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	return p.encodeFrame(img, time.Now())
}

func (p *Pipeline) capture(ctx context.Context) (image.Image, error) {
	p.captureMu.Lock()
	defer p.captureMu.Unlock()
	img, err := p.capturer.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return img, nil
}

func (p *Pipeline) run(ctx context.Context, prev <-chan struct{}, done chan struct{}, sink Sink) {
	defer close(done)

	// A previous loop may still be finishing its last capture. It was
	// cancelled before this one started, so this waits at most one iteration.
	if prev != nil {
		<-prev
	}

	var failures int
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := time.Now()
		frame, err := p.iterate(ctx, started)
		if ctx.Err() != nil {
			return
		}

		delay := p.interval - time.Since(started)
		if err != nil {
			failures++
			delay = p.backoff
			p.logger.Warn("stream iteration failed", "error", err, "consecutive", failures)
			if failures == p.degradedAfter && sink != nil {
				sink.BroadcastStatus(types.StreamStatus{Degraded: true, ConsecutiveFailures: failures, LastError: err.Error()})
			}
		} else {
			if failures >= p.degradedAfter && sink != nil {
				p.logger.Info("stream recovered", "after", failures)
				sink.BroadcastStatus(types.StreamStatus{})
			}
			failures = 0
			if sink != nil {
				sink.Broadcast(frame)
			}
		}
		if delay < 0 {
			delay = 0
		}
		timer.Reset(delay)
	}
}

func (p *Pipeline) iterate(ctx context.Context, at time.Time) (*types.Frame, error) {
	img, err := p.capture(ctx)
	if err != nil {
		return nil, err
	}
	return p.encodeFrame(img, at)
}

func (p *Pipeline) encodeFrame(img image.Image, at time.Time) (*types.Frame, error) {
	if img == nil {
		return nil, errors.New("capture returned no image")
	}
	data, err := p.encoder.Encode(img, p.width, p.quality)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	b := img.Bounds()
	w, h := encode.ScaledSize(b.Dx(), b.Dy(), p.width)

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	return types.NewFrame(seq, data, w, h, at), nil
}
