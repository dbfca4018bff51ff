// -- internal/humanoid/humanoid.go --
package humanoid

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/formrunner/internal/config"
	"go.uber.org/zap"
)

// Humanoid performs human-paced input against a single page.
type Humanoid struct {
	cfg      config.HumanoidConfig
	gen      *Generator
	exec     Executor
	logger   *zap.Logger
	sleep    SleepFunc
	viewport Viewport

	mu         sync.Mutex
	currentPos Vector2D
}

// Option configures a Humanoid.
type Option func(*Humanoid)

// WithSleepFunc replaces the sleep implementation. Tests use it to skip waits.
func WithSleepFunc(fn SleepFunc) Option {
	return func(h *Humanoid) { h.sleep = fn }
}

// WithViewport bounds idle mouse wandering to the given window size.
func WithViewport(v Viewport) Option {
	return func(h *Humanoid) { h.viewport = v }
}

// New creates a Humanoid bound to exec.
func New(cfg config.HumanoidConfig, gen *Generator, exec Executor, logger *zap.Logger, opts ...Option) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MouseSteps <= 0 {
		cfg.MouseSteps = 25
	}
	h := &Humanoid{
		cfg:      cfg,
		gen:      gen,
		exec:     exec,
		logger:   logger.Named("humanoid"),
		sleep:    ContextSleep,
		viewport: Viewport{Width: 1366, Height: 768},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.currentPos = Vector2D{X: float64(h.viewport.Width) / 2, Y: float64(h.viewport.Height) / 2}
	return h
}

// Position returns the last known cursor position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// Pause sleeps a random duration in [minMs, maxMs].
func (h *Humanoid) Pause(ctx context.Context, minMs, maxMs int) error {
	return h.sleep(ctx, h.gen.RandomDelay(minMs, maxMs))
}

// FieldPause is the pause taken before interacting with a field.
func (h *Humanoid) FieldPause(ctx context.Context) error {
	return h.Pause(ctx, h.cfg.FieldPauseMinMs, h.cfg.FieldPauseMaxMs)
}

// MoveTo moves the cursor along a Bezier path to (x, y).
func (h *Humanoid) MoveTo(ctx context.Context, x, y float64) error {
	target := Vector2D{X: x, Y: y}
	path := h.gen.BezierPath(h.Position(), target, h.cfg.MouseSteps)

	for _, p := range path {
		if err := h.exec.MouseMove(ctx, p.X, p.Y); err != nil {
			return fmt.Errorf("mouse move to (%.0f, %.0f): %w", p.X, p.Y, err)
		}
		h.mu.Lock()
		h.currentPos = p
		h.mu.Unlock()
		if err := h.Pause(ctx, h.cfg.PointDelayMinMs, h.cfg.PointDelayMaxMs); err != nil {
			return err
		}
	}
	return nil
}

// MoveToSelector moves the cursor to the centre of the element.
func (h *Humanoid) MoveToSelector(ctx context.Context, selector string) error {
	x, y, err := h.exec.ElementCenter(ctx, selector)
	if err != nil {
		return fmt.Errorf("locate %q: %w", selector, err)
	}
	return h.MoveTo(ctx, x, y)
}

// Type sends text one keystroke at a time with human inter-key delays.
func (h *Humanoid) Type(ctx context.Context, text string) error {
	for _, r := range text {
		if err := h.exec.KeyPress(ctx, r); err != nil {
			return fmt.Errorf("key press: %w", err)
		}
		if err := h.sleep(ctx, h.gen.KeystrokeDelay(r)); err != nil {
			return err
		}
	}
	return nil
}

// IdleInteraction performs one of: a short scroll, a wander of the cursor,
// or a plain wait.
func (h *Humanoid) IdleInteraction(ctx context.Context) error {
	switch h.gen.intn(3) {
	case 0:
		dy := float64(h.gen.uniformMs(100, 300))
		h.logger.Debug("Idle scroll", zap.Float64("dy", dy))
		if err := h.exec.Scroll(ctx, 0, dy); err != nil {
			return fmt.Errorf("idle scroll: %w", err)
		}
		return h.Pause(ctx, 300, 800)
	case 1:
		x := float64(h.gen.intn(max(h.viewport.Width, 1)))
		y := float64(h.gen.intn(max(h.viewport.Height, 1)))
		h.logger.Debug("Idle mouse wander", zap.Float64("x", x), zap.Float64("y", y))
		return h.MoveTo(ctx, x, y)
	default:
		h.logger.Debug("Idle wait")
		return h.Pause(ctx, 500, 1500)
	}
}
