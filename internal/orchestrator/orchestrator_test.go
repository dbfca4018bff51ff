// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/browser"
	"github.com/xkilldash9x/formrunner/internal/browser/browsertest"
	"github.com/xkilldash9x/formrunner/internal/checkout"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
	"github.com/xkilldash9x/formrunner/internal/profile"
)

// -- Test Doubles --

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// fakeLauncher hands out a prepared FakePage and records what the job did
// with the session.
type fakeLauncher struct {
	t         *testing.T
	page      *browsertest.FakePage
	profiles  *profile.Store
	launchErr error

	mu          sync.Mutex
	launched    []string
	overrides   browser.Overrides
	screenshots []string
	closed      []string
}

func (f *fakeLauncher) Launch(ctx context.Context, id string, o browser.Overrides) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, id)
	f.overrides = o
	if _, err := f.profiles.GetOrCreateProfilePath(id); err != nil {
		return nil, err
	}
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	h := humanoid.New(config.HumanoidConfig{MouseSteps: 3}, humanoid.NewGenerator(3), f.page,
		zaptest.NewLogger(f.t), humanoid.WithSleepFunc(noSleep))
	return browser.NewSession(id, f.page, h, humanoid.Persona{}), nil
}

func (f *fakeLauncher) Screenshot(ctx context.Context, page browser.Page, id, tag string) string {
	if _, err := page.Screenshot(ctx); err != nil {
		return ""
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots = append(f.screenshots, tag)
	return "/shots/" + id + "_" + tag + ".png"
}

func (f *fakeLauncher) Close(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

type progressRecorder struct {
	mu   sync.Mutex
	seen []int
}

func (p *progressRecorder) ReportProgress(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, pct)
}

func testConfig() *config.Config {
	return &config.Config{
		BrowserCfg: config.BrowserConfig{
			NavigationTimeout: time.Minute,
			SettleDelay:       3 * time.Second,
			Screenshots:       true,
			Humanoid:          config.HumanoidConfig{Enabled: true},
		},
		FormsCfg: config.FormsConfig{
			NetworkIdleTimeout:    time.Second,
			DefaultSubmitSelector: `button[type="submit"]`,
			VerifySettleDelay:     time.Second,
		},
		CheckoutCfg: config.CheckoutConfig{
			SettleDelay:  30 * time.Second,
			PollInterval: 3 * time.Second,
			PollBudget:   60 * time.Second,
		},
	}
}

type fixture struct {
	orch     *Orchestrator
	launcher *fakeLauncher
	store    *profile.Store
	page     *browsertest.FakePage
}

func newFixture(t *testing.T, html string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := profile.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	page := browsertest.NewFakePage(html)
	launcher := &fakeLauncher{t: t, page: page, profiles: store}
	orch, err := New(testConfig(), launcher, store, humanoid.NewGenerator(9), logger, WithSleepFunc(noSleep))
	require.NoError(t, err)
	return &fixture{orch: orch, launcher: launcher, store: store, page: page}
}

func newTask(sessionID string, data *schemas.FormData) schemas.Task {
	return schemas.Task{
		AccountID: "acct",
		SessionID: sessionID,
		FormData:  data,
		TargetURL: "https://shop.example/contact",
		Options:   schemas.DefaultTaskOptions(),
	}
}

// assertReleased checks the session was closed and its profile removed.
func (fx *fixture) assertReleased(t *testing.T, sessionID string) {
	t.Helper()
	assert.Equal(t, []string{sessionID}, fx.launcher.closed)
	ids, err := fx.store.List()
	require.NoError(t, err)
	assert.NotContains(t, ids, sessionID)
	_, statErr := os.Stat(fx.store.Root() + string(os.PathSeparator) + sessionID)
	assert.True(t, os.IsNotExist(statErr))
}

// -- Test Cases --

const contactPage = `<html><body>
<form>
  <input name="firstName">
  <input name="email" type="email">
  <button type="submit">Send</button>
</form>
</body></html>`

func TestNew_RejectsNilDependencies(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestProcess_GenericSuccess(t *testing.T) {
	fx := newFixture(t, contactPage)
	fx.page.OnClick(`button[type="submit"]`, func(p *browsertest.FakePage) {
		p.SetURLs("https://shop.example/thank-you")
	})

	task := newTask("acct-1-abc", schemas.FormDataFromPairs("firstName", "John", "email", "john@x.com"))
	task.SuccessIndicators = schemas.SuccessIndicators{URL: "/thank-you"}
	task.Options.UserAgent = "custom-agent"
	progress := &progressRecorder{}

	res, err := fx.orch.Process(context.Background(), task, progress)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, schemas.CheckoutGeneric, res.CheckoutType)
	assert.Equal(t, "acct-1-abc", res.SessionID)
	require.NotNil(t, res.Verification)
	assert.Equal(t, schemas.MethodURL, res.Verification.Method)
	assert.Len(t, res.FillResults.Filled, 2)
	assert.False(t, res.Timestamp.IsZero())

	assert.Equal(t, []int{10, 30, 40, 50, 70, 85, 95, 100}, progress.seen)
	assert.Equal(t, []string{"initial", "filled", "result"}, fx.launcher.screenshots)
	assert.Equal(t, "custom-agent", fx.launcher.overrides.UserAgent)
	fx.assertReleased(t, "acct-1-abc")
}

func TestProcess_CaptchaShortCircuit(t *testing.T) {
	fx := newFixture(t, `<html><body>
<form>
  <input name="email" type="email">
  <div class="g-recaptcha" data-sitekey="k"></div>
  <button type="submit">Send</button>
</form></body></html>`)

	res, err := fx.orch.Process(context.Background(), newTask("acct-2-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaptchaDetected)
	assert.Nil(t, res)

	for _, a := range fx.page.Actions() {
		assert.False(t, strings.HasPrefix(a, "click") || strings.HasPrefix(a, "set") || strings.HasPrefix(a, "clear"),
			"unexpected page action %q", a)
	}
	assert.Empty(t, fx.page.Value(`input[name="email"]`))
	assert.Contains(t, fx.launcher.screenshots, "error")
	fx.assertReleased(t, "acct-2-abc")
}

func TestProcess_LaunchFailureStillCleansUp(t *testing.T) {
	fx := newFixture(t, contactPage)
	fx.launcher.launchErr = browser.ErrLaunch

	_, err := fx.orch.Process(context.Background(), newTask("acct-3-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrLaunch)
	assert.Empty(t, fx.launcher.screenshots)
	fx.assertReleased(t, "acct-3-abc")
}

func TestProcess_NavigationFailureTakesErrorScreenshot(t *testing.T) {
	fx := newFixture(t, contactPage)
	fx.page.NavigateErr = errors.New("net::ERR_TIMED_OUT")

	_, err := fx.orch.Process(context.Background(), newTask("acct-4-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_TIMED_OUT")
	assert.Equal(t, []string{"error"}, fx.launcher.screenshots)
	fx.assertReleased(t, "acct-4-abc")
}

func TestProcess_ScreenshotFailureDoesNotMaskError(t *testing.T) {
	fx := newFixture(t, contactPage)
	fx.page.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	fx.page.ScreenshotErr = errors.New("target crashed")

	_, err := fx.orch.Process(context.Background(), newTask("acct-5-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
	fx.assertReleased(t, "acct-5-abc")
}

func TestProcess_CancelledJobStillCleansUp(t *testing.T) {
	fx := newFixture(t, contactPage)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.orch.Process(ctx, newTask("acct-6-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	fx.assertReleased(t, "acct-6-abc")
}

const cartPandaPage = `<html><body>
<div class="cartpanda-checkout">
  <input name="email"><input name="name"><input name="phone">
  <button data-step="payment">Continue</button>
  <input name="card_number"><input name="card_holder_name">
  <input name="card_expiration"><input name="card_cvv">
  <button type="submit">Pay</button>
</div></body></html>`

func TestProcess_CartPandaSuccess(t *testing.T) {
	fx := newFixture(t, cartPandaPage)
	fx.page.SetURLs("https://pay.example.com/c/77")
	fx.page.SetBodies("Finalizar compra", "Processando", "Pagamento aprovado! Pedido nº 9981")

	data := schemas.FormDataFromPairs(
		"email", "ana@x.com", "fullName", "Ana Souza", "phone", "11999990000",
		"cardNumber", "4111111111111111", "cardExpiry", "12/29", "cardCvc", "123",
	)
	res, err := fx.orch.Process(context.Background(), newTask("acct-7-abc", data), nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, schemas.CheckoutCartPanda, res.CheckoutType)
	assert.Equal(t, "9981", res.OrderNumber)
	assert.Equal(t, schemas.MethodCheckoutText, res.Verification.Method)
	assert.Equal(t, "Ana Souza", fx.page.Value(`input[name="card_holder_name"]`))
	fx.assertReleased(t, "acct-7-abc")
}

func TestProcess_CartPandaDeclineIsAResultNotAnError(t *testing.T) {
	fx := newFixture(t, cartPandaPage)
	fx.page.SetBodies("Finalizar compra", "Pagamento recusado pelo banco")

	res, err := fx.orch.Process(context.Background(), newTask("acct-8-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, schemas.MethodCheckoutError, res.Verification.Method)
	fx.assertReleased(t, "acct-8-abc")
}

func TestProcess_CartPandaBlocked(t *testing.T) {
	fx := newFixture(t, cartPandaPage)
	fx.page.SetBodies("Access denied - you have been blocked")

	_, err := fx.orch.Process(context.Background(), newTask("acct-9-abc", schemas.FormDataFromPairs("email", "a@b.c")), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, checkout.ErrBlocked)
	assert.Empty(t, fx.page.Value(`input[name="email"]`))
	fx.assertReleased(t, "acct-9-abc")
}

func TestProcess_ScreenshotsDisabled(t *testing.T) {
	fx := newFixture(t, contactPage)
	task := newTask("acct-10-abc", schemas.FormDataFromPairs("email", "a@b.c"))
	task.Options.TakeScreenshots = false

	_, err := fx.orch.Process(context.Background(), task, ProgressFunc(func(int) {}))
	require.NoError(t, err)
	assert.Empty(t, fx.launcher.screenshots)
}
