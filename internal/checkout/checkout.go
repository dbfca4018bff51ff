// Package checkout drives the fixed CartPanda checkout flow: contact details,
// payment details, submit, then a polled verification of the outcome.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/browser"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

// ErrBlocked is returned when the page shows a block or CAPTCHA wall.
var ErrBlocked = errors.New("checkout blocked")

const (
	fieldWaitTimeout   = 10 * time.Second
	advanceWaitTimeout = 5 * time.Second
)

var orderNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)order\s*(?:number|no\.?|#)\s*(?:is\s*)?[:#]?\s*([a-z0-9-]*\d[a-z0-9-]*)`),
	regexp.MustCompile(`(?i)pedido\s*(?:n[º°o]\.?|número|numero|#)\s*(?:é\s*)?[:#]?\s*([a-z0-9-]*\d[a-z0-9-]*)`),
	regexp.MustCompile(`(?i)(?:order|pedido)\s+([a-z0-9-]*\d[a-z0-9-]*)`),
}

// Checkout runs the CartPanda flow on one page.
type Checkout struct {
	page   browser.Page
	human  *humanoid.Humanoid
	cfg    config.CheckoutConfig
	sel    Selectors
	logger *zap.Logger
	sleep  humanoid.SleepFunc
}

// Option configures a Checkout.
type Option func(*Checkout)

// WithSelectors overrides the default page selectors.
func WithSelectors(s Selectors) Option {
	return func(c *Checkout) { c.sel = s }
}

// WithSleepFunc replaces settle and poll sleeps.
func WithSleepFunc(fn humanoid.SleepFunc) Option {
	return func(c *Checkout) { c.sleep = fn }
}

// New binds a Checkout to page.
func New(page browser.Page, human *humanoid.Humanoid, cfg config.CheckoutConfig, logger *zap.Logger, opts ...Option) *Checkout {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checkout{
		page:   page,
		human:  human,
		cfg:    cfg,
		sel:    DefaultSelectors(),
		logger: logger.Named("checkout"),
		sleep:  humanoid.ContextSleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsCheckoutPage reports whether page is a CartPanda checkout.
func IsCheckoutPage(ctx context.Context, page browser.Page) (bool, error) {
	url, err := page.URL(ctx)
	if err != nil {
		return false, fmt.Errorf("read url: %w", err)
	}
	if strings.Contains(strings.ToLower(url), urlMarker) {
		return true, nil
	}
	for _, sel := range markerSelectors {
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

// CheckIfBlocked reports whether the page body shows a block or CAPTCHA
// phrase, and which one.
func (c *Checkout) CheckIfBlocked(ctx context.Context) (bool, string, error) {
	body, err := c.page.BodyText(ctx)
	if err != nil {
		return false, "", fmt.Errorf("read body: %w", err)
	}
	lower := strings.ToLower(body)
	for _, p := range blockPhrases {
		if strings.Contains(lower, p) {
			c.logger.Warn("Checkout page is blocked", zap.String("phrase", p))
			return true, p, nil
		}
	}
	return false, "", nil
}

func firstValue(data *schemas.FormData, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := data.Get(k); ok && v.String() != "" {
			return v.String(), true
		}
	}
	return "", false
}

type checkoutField struct {
	label    string
	selector string
	value    string
	present  bool
}

// FillCheckoutForm enters contact details, advances to payment, then enters
// payment details. A missing field is fatal. A missing advance control is not.
func (c *Checkout) FillCheckoutForm(ctx context.Context, data *schemas.FormData) (*schemas.FillResult, error) {
	result := schemas.NewFillResult()

	fullName, hasName := firstValue(data, "fullName", "nome")
	email, hasEmail := firstValue(data, "email", "e-mail")
	phone, hasPhone := firstValue(data, "phone", "telefone")

	contact := []checkoutField{
		{"email", c.sel.Email, email, hasEmail},
		{"fullName", c.sel.FullName, fullName, hasName},
		{"phone", c.sel.Phone, phone, hasPhone},
	}
	if err := c.fillSection(ctx, contact, result); err != nil {
		return result, err
	}

	c.advanceToPayment(ctx)

	cardNumber, hasNumber := firstValue(data, "cardNumber", "numeroCartao")
	cardName, hasCardName := firstValue(data, "cardName", "nomeCartao")
	if !hasCardName {
		cardName, hasCardName = fullName, hasName
	}
	expiry, hasExpiry := firstValue(data, "cardExpiry", "validade")
	cvc, hasCvc := firstValue(data, "cardCvc", "cvv")

	payment := []checkoutField{
		{"cardNumber", c.sel.CardNumber, cardNumber, hasNumber},
		{"cardName", c.sel.CardName, cardName, hasCardName},
		{"cardExpiry", c.sel.CardExpiry, expiry, hasExpiry},
		{"cardCvc", c.sel.CardCvc, cvc, hasCvc},
	}
	if err := c.fillSection(ctx, payment, result); err != nil {
		return result, err
	}

	c.triggerValidation(ctx)
	return result, nil
}

// triggerValidation blurs the last payment field, then clicks away from it.
// Both steps are best effort.
func (c *Checkout) triggerValidation(ctx context.Context) {
	if err := c.page.Blur(ctx, c.sel.CardCvc); err != nil {
		c.logger.Debug("Blur of payment field failed", zap.Error(err))
	}
	if err := c.page.Click(ctx, c.sel.Blur); err != nil {
		c.logger.Debug("Validation click failed", zap.Error(err))
	}
}

func (c *Checkout) fillSection(ctx context.Context, fields []checkoutField, result *schemas.FillResult) error {
	for _, f := range fields {
		if !f.present {
			result.Skipped = append(result.Skipped, schemas.SkippedField{Field: f.label, Reason: "no matching data"})
			continue
		}
		if err := c.fillField(ctx, f.selector, f.value); err != nil {
			result.Failed = append(result.Failed, schemas.FailedField{Field: f.label, Error: err.Error()})
			return fmt.Errorf("fill %s: %w", f.label, err)
		}
		result.Filled = append(result.Filled, schemas.FilledField{Field: f.label, Type: "text"})
	}
	return nil
}

func (c *Checkout) fillField(ctx context.Context, selector, value string) error {
	if err := c.page.WaitVisible(ctx, selector, fieldWaitTimeout); err != nil {
		return err
	}
	if err := c.page.Click(ctx, selector); err != nil {
		return err
	}
	if err := c.page.Clear(ctx, selector); err != nil {
		return err
	}
	return c.human.Type(ctx, value)
}

func (c *Checkout) advanceToPayment(ctx context.Context) {
	log := c.logger.With(zap.String("selector", c.sel.AdvanceToPayment))
	if err := c.page.WaitVisible(ctx, c.sel.AdvanceToPayment, advanceWaitTimeout); err != nil {
		log.Warn("Advance to payment control not found, continuing", zap.Error(err))
		return
	}
	if err := c.page.Click(ctx, c.sel.AdvanceToPayment); err != nil {
		log.Warn("Advance to payment click failed, continuing", zap.Error(err))
		return
	}
	log.Debug("Advanced to payment step")
}

// SubmitCheckout clicks the pay button and waits for payment processing to
// settle.
func (c *Checkout) SubmitCheckout(ctx context.Context) error {
	if err := c.page.WaitVisible(ctx, c.sel.Submit, fieldWaitTimeout); err != nil {
		return fmt.Errorf("submit button: %w", err)
	}
	if err := c.page.Click(ctx, c.sel.Submit); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	c.logger.Info("Checkout submitted, waiting for payment", zap.Duration("settle", c.cfg.SettleDelay))
	return c.sleep(ctx, c.cfg.SettleDelay)
}

// VerifyCheckoutSuccess polls the page until it shows success or decline, or
// the poll budget runs out. Running out is reported as MethodTimeout, not as
// an error.
func (c *Checkout) VerifyCheckoutSuccess(ctx context.Context) (schemas.VerificationResult, error) {
	polls := 1
	if c.cfg.PollInterval > 0 {
		polls = int(c.cfg.PollBudget / c.cfg.PollInterval)
		if polls < 1 {
			polls = 1
		}
	}

	var lastURL string
	for i := 0; i < polls; i++ {
		url, err := c.page.URL(ctx)
		if err != nil {
			return schemas.VerificationResult{}, fmt.Errorf("read url: %w", err)
		}
		body, err := c.page.BodyText(ctx)
		if err != nil {
			return schemas.VerificationResult{}, fmt.Errorf("read body: %w", err)
		}
		lastURL = url

		if res, ok := judge(url, body); ok {
			c.logger.Info("Checkout verified",
				zap.Bool("success", res.Success),
				zap.String("method", string(res.Method)),
				zap.String("order_number", res.OrderNumber),
				zap.Int("poll", i+1))
			return res, nil
		}
		if i < polls-1 {
			if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
				return schemas.VerificationResult{}, err
			}
		}
	}

	c.logger.Warn("Checkout verification timed out", zap.Duration("budget", c.cfg.PollBudget))
	return schemas.VerificationResult{Success: false, Method: schemas.MethodTimeout, Message: "timeout", URL: lastURL}, nil
}

// judge classifies one observation of the page.
func judge(url, body string) (schemas.VerificationResult, bool) {
	lowerURL := strings.ToLower(url)
	for _, p := range successPaths {
		if strings.Contains(lowerURL, p) {
			return schemas.VerificationResult{
				Success: true, Method: schemas.MethodCheckoutURL, Message: p,
				URL: url, OrderNumber: ExtractOrderNumber(body),
			}, true
		}
	}
	lower := strings.ToLower(body)
	for _, p := range successPhrases {
		if strings.Contains(lower, p) {
			return schemas.VerificationResult{
				Success: true, Method: schemas.MethodCheckoutText, Message: p,
				URL: url, OrderNumber: ExtractOrderNumber(body),
			}, true
		}
	}
	for _, p := range declinePhrases {
		if strings.Contains(lower, p) {
			return schemas.VerificationResult{Success: false, Method: schemas.MethodCheckoutError, Message: p, URL: url}, true
		}
	}
	return schemas.VerificationResult{}, false
}

// ExtractOrderNumber returns the first labelled order number in text, or "".
func ExtractOrderNumber(text string) string {
	for _, re := range orderNumberPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
