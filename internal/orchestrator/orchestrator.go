// File: internal/orchestrator/orchestrator.go
// Description: Runs one submission job end to end: acquire an isolated browser
// session, navigate, pick the checkout or generic flow, record the result and
// always release the session and its profile.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/browser"
	"github.com/xkilldash9x/formrunner/internal/checkout"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/forms"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

// ErrCaptchaDetected aborts the generic flow before any field is touched.
var ErrCaptchaDetected = errors.New("captcha detected")

const errorScreenshotTimeout = 15 * time.Second

// SessionLauncher is the browser session manager as seen by a job.
type SessionLauncher interface {
	Launch(ctx context.Context, sessionID string, o browser.Overrides) (*browser.Session, error)
	Screenshot(ctx context.Context, page browser.Page, sessionID, tag string) string
	Close(sessionID string)
}

// ProfileRemover deletes a session's on-disk profile.
type ProfileRemover interface {
	Delete(sessionID string) error
}

// ProgressReporter receives job progress in percent.
type ProgressReporter interface {
	ReportProgress(pct int)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(pct int)

func (f ProgressFunc) ReportProgress(pct int) { f(pct) }

type noProgress struct{}

func (noProgress) ReportProgress(int) {}

// Orchestrator runs jobs. It holds no per-job state and is safe to share
// between workers.
type Orchestrator struct {
	cfg      config.Interface
	sessions SessionLauncher
	profiles ProfileRemover
	gen      *humanoid.Generator
	logger   *zap.Logger
	sleep    humanoid.SleepFunc
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleepFunc replaces every settle and poll sleep the job takes.
func WithSleepFunc(fn humanoid.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces the clock used for durations and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(cfg config.Interface, sessions SessionLauncher, profiles ProfileRemover, gen *humanoid.Generator, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || sessions == nil || profiles == nil || gen == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:      cfg,
		sessions: sessions,
		profiles: profiles,
		gen:      gen,
		logger:   logger.Named("orchestrator"),
		sleep:    humanoid.ContextSleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// job carries the state of one Process call.
type job struct {
	task     schemas.Task
	session  *browser.Session
	progress ProgressReporter
	log      *zap.Logger
}

func (j *job) report(pct int) {
	j.progress.ReportProgress(pct)
	j.log.Debug("Job progress", zap.Int("progress", pct))
}

// Process runs task to a terminal result. A returned error means the job
// failed and may be retried by the queue. A returned result may still carry
// Success=false for a decline or an undetermined outcome.
//
// The session is closed and its profile deleted on every exit path.
func (o *Orchestrator) Process(ctx context.Context, task schemas.Task, progress ProgressReporter) (*schemas.JobResult, error) {
	if progress == nil {
		progress = noProgress{}
	}
	start := o.now()
	j := &job{
		task:     task,
		progress: progress,
		log: o.logger.With(
			zap.String("session_id", task.SessionID),
			zap.String("account_id", task.AccountID)),
	}
	j.log.Info("Processing job", zap.String("target_url", task.TargetURL))

	defer o.release(j)

	result, err := o.run(ctx, j)
	if err != nil {
		o.errorScreenshot(ctx, j)
		j.log.Error("Job failed", zap.Error(err), zap.Duration("elapsed", o.now().Sub(start)))
		return nil, err
	}

	result.SessionID = task.SessionID
	result.DurationMS = o.now().Sub(start).Milliseconds()
	result.Timestamp = o.now().UTC()
	j.report(100)
	j.log.Info("Job finished",
		zap.Bool("success", result.Success),
		zap.String("checkout_type", string(result.CheckoutType)),
		zap.Int64("duration_ms", result.DurationMS))
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, j *job) (*schemas.JobResult, error) {
	bcfg := o.cfg.Browser()

	sess, err := o.sessions.Launch(ctx, j.task.SessionID, browser.Overrides{UserAgent: j.task.Options.UserAgent})
	if err != nil {
		return nil, fmt.Errorf("launch session: %w", err)
	}
	j.session = sess
	j.report(10)

	if err := sess.Page.Navigate(ctx, j.task.TargetURL, bcfg.NavigationTimeout); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := o.sleep(ctx, bcfg.SettleDelay); err != nil {
		return nil, err
	}
	o.screenshot(ctx, j, "initial")
	j.report(30)

	isCheckout, err := checkout.IsCheckoutPage(ctx, sess.Page)
	if err != nil {
		return nil, fmt.Errorf("detect checkout type: %w", err)
	}
	j.report(40)

	if isCheckout {
		j.log.Info("CartPanda checkout detected")
		return o.runCheckout(ctx, j)
	}
	return o.runGeneric(ctx, j)
}

func (o *Orchestrator) simulateHuman(j *job) bool {
	return j.task.Options.SimulateHuman && o.cfg.Browser().Humanoid.Enabled
}

func (o *Orchestrator) runGeneric(ctx context.Context, j *job) (*schemas.JobResult, error) {
	page := j.session.Page
	filler := forms.NewFiller(page, j.session.Humanoid, o.gen, o.cfg.Forms(), j.log, forms.WithSleepFunc(o.sleep))

	found, err := filler.DetectCaptcha(ctx)
	if err != nil {
		return nil, fmt.Errorf("captcha check: %w", err)
	}
	if found {
		return nil, ErrCaptchaDetected
	}
	j.report(50)

	fill, err := filler.FillForm(ctx, j.task.FormData, forms.FillOptions{SimulateHuman: o.simulateHuman(j)})
	if err != nil {
		return nil, fmt.Errorf("fill form: %w", err)
	}
	o.screenshot(ctx, j, "filled")
	j.report(70)

	if err := filler.SubmitForm(ctx, j.task.SubmitSelector); err != nil {
		return nil, fmt.Errorf("submit form: %w", err)
	}
	j.report(85)

	v, err := filler.VerifySubmission(ctx, j.task.SuccessIndicators)
	if err != nil {
		return nil, fmt.Errorf("verify submission: %w", err)
	}
	o.screenshot(ctx, j, "result")
	j.report(95)

	return &schemas.JobResult{
		Success:      v.Success,
		CheckoutType: schemas.CheckoutGeneric,
		FillResults:  fill,
		Verification: &v,
	}, nil
}

func (o *Orchestrator) runCheckout(ctx context.Context, j *job) (*schemas.JobResult, error) {
	co := checkout.New(j.session.Page, j.session.Humanoid, o.cfg.Checkout(), j.log, checkout.WithSleepFunc(o.sleep))

	blocked, phrase, err := co.CheckIfBlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("block check: %w", err)
	}
	if blocked {
		return nil, fmt.Errorf("%w: page shows %q", checkout.ErrBlocked, phrase)
	}
	j.report(50)

	fill, err := co.FillCheckoutForm(ctx, j.task.FormData)
	if err != nil {
		return nil, fmt.Errorf("fill checkout: %w", err)
	}
	o.screenshot(ctx, j, "filled")
	j.report(60)

	if err := co.SubmitCheckout(ctx); err != nil {
		return nil, fmt.Errorf("submit checkout: %w", err)
	}
	j.report(75)

	v, err := co.VerifyCheckoutSuccess(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify checkout: %w", err)
	}
	o.screenshot(ctx, j, "result")
	j.report(95)

	return &schemas.JobResult{
		Success:      v.Success,
		CheckoutType: schemas.CheckoutCartPanda,
		FillResults:  fill,
		Verification: &v,
		OrderNumber:  v.OrderNumber,
	}, nil
}

func (o *Orchestrator) screenshot(ctx context.Context, j *job, tag string) {
	if !j.task.Options.TakeScreenshots || !o.cfg.Browser().Screenshots {
		return
	}
	o.sessions.Screenshot(ctx, j.session.Page, j.task.SessionID, tag)
}

// errorScreenshot captures the page after a failure on a context detached
// from the job's, which may already be cancelled.
func (o *Orchestrator) errorScreenshot(ctx context.Context, j *job) {
	if j.session == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), errorScreenshotTimeout)
	defer cancel()
	if path := o.sessions.Screenshot(sctx, j.session.Page, j.task.SessionID, "error"); path != "" {
		j.log.Info("Error screenshot saved", zap.String("path", path))
	}
}

// release closes the browser before deleting the profile it writes to.
func (o *Orchestrator) release(j *job) {
	o.sessions.Close(j.task.SessionID)
	if err := o.profiles.Delete(j.task.SessionID); err != nil {
		j.log.Warn("Profile cleanup failed", zap.Error(err))
		return
	}
	j.log.Debug("Session released")
}
