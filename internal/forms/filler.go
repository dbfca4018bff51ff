// internal/forms/filler.go
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/browser"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

// ErrSelectorNotFound is returned when a required element is missing.
var ErrSelectorNotFound = browser.ErrSelectorNotFound

// State is a step of the generic fill, submit and verify flow.
type State string

const (
	StateIdle        State = "idle"
	StateInteracting State = "interacting"
	StateFilling     State = "filling"
	StateSubmitting  State = "submitting"
	StateVerifying   State = "verifying"
	StateSuccess     State = "success"
	StateFailure     State = "failure"
)

const (
	submitWaitTimeout = 10 * time.Second
	unableToDetermine = "unable to determine"
)

// captchaSelectors cover reCAPTCHA, hCaptcha and Cloudflare Turnstile.
var captchaSelectors = []string{
	`iframe[src*="recaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`iframe[src*="challenges.cloudflare.com"]`,
	".g-recaptcha",
	".h-captcha",
	".cf-turnstile",
	"#captcha",
	"[data-sitekey]",
}

var (
	successKeywords = []string{"success", "thank you", "submitted", "received", "complete"}
	errorKeywords   = []string{"error", "invalid", "required", "failed", "incorrect"}
)

// FillOptions tunes a single fill pass.
type FillOptions struct {
	SimulateHuman bool
}

// Filler drives one page through fill, submit and verify.
type Filler struct {
	page   browser.Page
	human  *humanoid.Humanoid
	cfg    config.FormsConfig
	logger *zap.Logger
	sleep  humanoid.SleepFunc
	gen    *humanoid.Generator

	mu    sync.Mutex
	state State
}

// Option configures a Filler.
type Option func(*Filler)

// WithSleepFunc replaces the settle sleep. Tests use it to skip waits.
func WithSleepFunc(fn humanoid.SleepFunc) Option {
	return func(f *Filler) { f.sleep = fn }
}

// NewFiller binds a Filler to page and its humanoid.
func NewFiller(page browser.Page, human *humanoid.Humanoid, gen *humanoid.Generator, cfg config.FormsConfig, logger *zap.Logger, opts ...Option) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filler{
		page:   page,
		human:  human,
		gen:    gen,
		cfg:    cfg,
		logger: logger.Named("form_filler"),
		sleep:  humanoid.ContextSleep,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current state.
func (f *Filler) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Filler) transition(to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	if from != to {
		f.logger.Debug("Form state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
}

// fail moves to the failure state and passes err through.
func (f *Filler) fail(err error) error {
	f.transition(StateFailure)
	return err
}

// FillForm detects the fields on the page and fills every field that has a
// resolvable value. Individual field errors are collected, not returned.
func (f *Filler) FillForm(ctx context.Context, data *schemas.FormData, opts FillOptions) (*schemas.FillResult, error) {
	if err := f.page.WaitNetworkIdle(ctx, f.cfg.NetworkIdleTimeout); err != nil {
		if ctx.Err() != nil {
			return nil, f.fail(ctx.Err())
		}
		f.logger.Debug("Network did not go idle, continuing", zap.Error(err))
	}

	if opts.SimulateHuman {
		f.transition(StateInteracting)
		n := f.gen.Between(1, 2)
		for i := 0; i < n; i++ {
			if err := f.human.IdleInteraction(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, f.fail(ctx.Err())
				}
				f.logger.Debug("Idle interaction failed", zap.Error(err))
			}
		}
	}

	f.transition(StateFilling)
	fields, err := Detect(ctx, f.page)
	if err != nil {
		return nil, f.fail(fmt.Errorf("detect fields: %w", err))
	}
	f.logger.Info("Detected form fields", zap.Int("count", len(fields)))

	result := schemas.NewFillResult()
	for _, field := range fields {
		label := field.Label()
		value, ok := ResolveValue(field, data)
		if !ok {
			result.Skipped = append(result.Skipped, schemas.SkippedField{Field: label, Reason: "no matching data"})
			continue
		}
		if err := f.FillField(ctx, field, value, opts); err != nil {
			if ctx.Err() != nil {
				return result, f.fail(ctx.Err())
			}
			f.logger.Warn("Field fill failed", zap.String("field", label), zap.Error(err))
			result.Failed = append(result.Failed, schemas.FailedField{Field: label, Error: err.Error()})
			continue
		}
		result.Filled = append(result.Filled, schemas.FilledField{Field: label, Type: field.Type})
	}

	f.logger.Info("Form fill pass finished",
		zap.Int("filled", len(result.Filled)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

// FillField writes value into one field according to its type.
func (f *Filler) FillField(ctx context.Context, field schemas.DetectedField, value schemas.FormValue, opts FillOptions) error {
	sel := field.Selector
	if err := f.page.ScrollIntoView(ctx, sel); err != nil {
		return err
	}
	if err := f.human.FieldPause(ctx); err != nil {
		return err
	}

	switch {
	case field.Tag == "select":
		return f.page.SelectOption(ctx, sel, value.String())

	case field.Type == "checkbox":
		checked, err := f.page.IsChecked(ctx, sel)
		if err != nil {
			return err
		}
		if checked != value.Truthy() {
			return f.page.Click(ctx, sel)
		}
		return nil

	case field.Type == "radio":
		if value.Truthy() {
			return f.page.Click(ctx, sel)
		}
		return nil
	}

	if err := f.page.Click(ctx, sel); err != nil {
		return err
	}
	if err := f.page.Clear(ctx, sel); err != nil {
		return err
	}
	if opts.SimulateHuman {
		return f.human.Type(ctx, value.String())
	}
	return f.page.SetValue(ctx, sel, value.String())
}

// SubmitForm clicks the submit control the way a person would. An empty
// selector falls back to the configured default.
func (f *Filler) SubmitForm(ctx context.Context, selector string) error {
	if selector == "" {
		selector = f.cfg.DefaultSubmitSelector
	}
	f.transition(StateSubmitting)
	log := f.logger.With(zap.String("selector", selector))

	if err := f.page.WaitVisible(ctx, selector, submitWaitTimeout); err != nil {
		return f.fail(fmt.Errorf("submit button: %w", err))
	}
	if err := f.page.ScrollIntoView(ctx, selector); err != nil {
		return f.fail(fmt.Errorf("scroll to submit: %w", err))
	}
	if err := f.human.MoveToSelector(ctx, selector); err != nil {
		return f.fail(fmt.Errorf("move to submit: %w", err))
	}
	if err := f.human.Pause(ctx, 100, 300); err != nil {
		return f.fail(err)
	}
	if err := f.page.Click(ctx, selector); err != nil {
		return f.fail(fmt.Errorf("click submit: %w", err))
	}
	log.Info("Form submitted")
	return nil
}

// DetectCaptcha reports whether any known CAPTCHA widget is on the page.
func (f *Filler) DetectCaptcha(ctx context.Context) (bool, error) {
	return DetectCaptcha(ctx, f.page)
}

// DetectCaptcha reports whether any known CAPTCHA widget is on page.
func DetectCaptcha(ctx context.Context, page browser.Page) (bool, error) {
	for _, sel := range captchaSelectors {
		n, err := page.Count(ctx, sel)
		if err != nil {
			return false, fmt.Errorf("count %s: %w", sel, err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// VerifySubmission judges the outcome of a submit. The first matching check
// wins: success url, success message, success selector, success keywords,
// then error keywords.
func (f *Filler) VerifySubmission(ctx context.Context, ind schemas.SuccessIndicators) (schemas.VerificationResult, error) {
	f.transition(StateVerifying)
	if err := f.sleep(ctx, f.cfg.VerifySettleDelay); err != nil {
		return schemas.VerificationResult{}, f.fail(err)
	}

	res, err := f.verify(ctx, ind)
	if err != nil {
		return schemas.VerificationResult{}, f.fail(err)
	}
	if res.Success {
		f.transition(StateSuccess)
	} else {
		f.transition(StateFailure)
	}
	f.logger.Info("Submission verified",
		zap.Bool("success", res.Success),
		zap.String("method", string(res.Method)),
		zap.String("message", res.Message))
	return res, nil
}

func (f *Filler) verify(ctx context.Context, ind schemas.SuccessIndicators) (schemas.VerificationResult, error) {
	url, err := f.page.URL(ctx)
	if err != nil {
		return schemas.VerificationResult{}, fmt.Errorf("read url: %w", err)
	}
	if ind.URL != "" && strings.Contains(url, ind.URL) {
		return schemas.VerificationResult{Success: true, Method: schemas.MethodURL, Message: "success url matched", URL: url}, nil
	}

	body, err := f.page.BodyText(ctx)
	if err != nil {
		return schemas.VerificationResult{}, fmt.Errorf("read body: %w", err)
	}
	if ind.IsZero() {
		f.logger.Debug("No success indicators supplied, relying on keywords")
	}
	if ind.Message != "" {
		matched := strings.Contains(body, ind.Message)
		if !matched {
			// Rendered text misses hidden nodes and attribute values.
			html, err := f.page.HTML(ctx)
			if err != nil {
				return schemas.VerificationResult{}, fmt.Errorf("read html: %w", err)
			}
			matched = strings.Contains(html, ind.Message)
		}
		if matched {
			return schemas.VerificationResult{Success: true, Method: schemas.MethodMessage, Message: ind.Message, URL: url}, nil
		}
	}

	if ind.Selector != "" {
		n, err := f.page.Count(ctx, ind.Selector)
		if err != nil && !errors.Is(err, ErrSelectorNotFound) {
			return schemas.VerificationResult{}, fmt.Errorf("count %s: %w", ind.Selector, err)
		}
		if n > 0 {
			return schemas.VerificationResult{Success: true, Method: schemas.MethodElement, Message: "success element present", URL: url}, nil
		}
	}

	lower := strings.ToLower(body)
	for _, kw := range successKeywords {
		if strings.Contains(lower, kw) {
			return schemas.VerificationResult{Success: true, Method: schemas.MethodKeyword, Message: kw, URL: url}, nil
		}
	}
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return schemas.VerificationResult{Success: false, Method: schemas.MethodError, Message: kw, URL: url}, nil
		}
	}
	return schemas.VerificationResult{Success: false, Method: schemas.MethodNone, Message: unableToDetermine, URL: url}, nil
}
