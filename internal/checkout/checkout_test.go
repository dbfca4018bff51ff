// internal/checkout/checkout_test.go
package checkout

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/browser"
	"github.com/xkilldash9x/formrunner/internal/browser/browsertest"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

const checkoutPage = `<html><body>
<div id="cartpanda-checkout">
  <input name="email"><input name="name"><input name="phone">
  <button data-step="payment">Continue</button>
  <input name="card_number"><input name="card_holder_name">
  <input name="card_expiration"><input name="card_cvv">
  <button type="submit">Pay now</button>
</div>
</body></html>`

type sleepCounter struct{ n atomic.Int32 }

func (s *sleepCounter) sleep(ctx context.Context, _ time.Duration) error {
	s.n.Add(1)
	return ctx.Err()
}

func newTestCheckout(t *testing.T, page *browsertest.FakePage) (*Checkout, *sleepCounter, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	sc := &sleepCounter{}
	h := humanoid.New(config.HumanoidConfig{MouseSteps: 3}, humanoid.NewGenerator(7), page, logger,
		humanoid.WithSleepFunc(sc.sleep))
	cfg := config.CheckoutConfig{SettleDelay: 30 * time.Second, PollInterval: 3 * time.Second, PollBudget: 60 * time.Second}
	return New(page, h, cfg, logger, WithSleepFunc(sc.sleep)), sc, logs
}

func TestIsCheckoutPage(t *testing.T) {
	ctx := context.Background()

	byURL := browsertest.NewFakePage(`<form></form>`)
	byURL.SetURLs("https://store.mycartpanda.com/checkout/123")
	ok, err := IsCheckoutPage(ctx, byURL)
	require.NoError(t, err)
	assert.True(t, ok)

	byMarker := browsertest.NewFakePage(`<div data-cartpanda="1"></div>`)
	byMarker.SetURLs("https://pay.example.com/c/1")
	ok, err = IsCheckoutPage(ctx, byMarker)
	require.NoError(t, err)
	assert.True(t, ok)

	generic := browsertest.NewFakePage(`<form><input name="email"></form>`)
	generic.SetURLs("https://example.com/contact")
	ok, err = IsCheckoutPage(ctx, generic)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckIfBlocked(t *testing.T) {
	page := browsertest.NewFakePage("")
	c, _, logs := newTestCheckout(t, page)

	page.SetBodies("Please VERIFY YOU ARE HUMAN to continue")
	blocked, phrase, err := c.CheckIfBlocked(context.Background())
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, "verify you are human", phrase)
	assert.Equal(t, 1, logs.FilterMessage("Checkout page is blocked").Len())

	page.SetBodies("Finalizar compra")
	blocked, _, err = c.CheckIfBlocked(context.Background())
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestFillCheckoutForm(t *testing.T) {
	t.Run("localized keys and cardholder fallback", func(t *testing.T) {
		page := browsertest.NewFakePage(checkoutPage)
		c, _, _ := newTestCheckout(t, page)

		data := schemas.FormDataFromPairs(
			"e-mail", "ana@x.com",
			"nome", "Ana Souza",
			"telefone", "11999990000",
			"numeroCartao", "4111111111111111",
			"validade", "12/29",
			"cvv", "123",
		)
		res, err := c.FillCheckoutForm(context.Background(), data)
		require.NoError(t, err)

		assert.Equal(t, "ana@x.com", page.Value(`input[name="email"]`))
		assert.Equal(t, "Ana Souza", page.Value(`input[name="name"]`))
		assert.Equal(t, "11999990000", page.Value(`input[name="phone"]`))
		assert.Equal(t, "4111111111111111", page.Value(`input[name="card_number"]`))
		assert.Equal(t, "Ana Souza", page.Value(`input[name="card_holder_name"]`))
		assert.Equal(t, "12/29", page.Value(`input[name="card_expiration"]`))
		assert.Equal(t, "123", page.Value(`input[name="card_cvv"]`))
		assert.Len(t, res.Filled, 7)
		assert.Empty(t, res.Failed)
		assert.Contains(t, page.Actions(), `click button[data-step="payment"]`)

		actions := page.Actions()
		blurAt := indexOf(actions, `blur input[name="card_cvv"]`)
		clickAt := indexOf(actions, "click body")
		require.NotEqual(t, -1, blurAt, "payment field was not blurred")
		require.NotEqual(t, -1, clickAt, "validation click missing")
		assert.Greater(t, clickAt, blurAt)
	})

	t.Run("missing advance control is only logged", func(t *testing.T) {
		page := browsertest.NewFakePage(`<body>
		  <input name="email"><input name="name"><input name="phone">
		  <input name="card_number"><input name="card_holder_name">
		  <input name="card_expiration"><input name="card_cvv"></body>`)
		c, _, logs := newTestCheckout(t, page)

		_, err := c.FillCheckoutForm(context.Background(), schemas.FormDataFromPairs("email", "a@b.c", "cardNumber", "4242"))
		require.NoError(t, err)
		assert.Equal(t, 1, logs.FilterMessage("Advance to payment control not found, continuing").Len())
		assert.Equal(t, "4242", page.Value(`input[name="card_number"]`))
	})

	t.Run("missing payment field is fatal", func(t *testing.T) {
		page := browsertest.NewFakePage(`<body><input name="email"><button data-step="payment">Go</button></body>`)
		c, _, _ := newTestCheckout(t, page)

		res, err := c.FillCheckoutForm(context.Background(), schemas.FormDataFromPairs("email", "a@b.c", "cardNumber", "4242"))
		require.Error(t, err)
		assert.ErrorIs(t, err, browser.ErrSelectorNotFound)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, "cardNumber", res.Failed[0].Field)
	})
}

func TestSubmitCheckout(t *testing.T) {
	page := browsertest.NewFakePage(checkoutPage)
	c, sc, _ := newTestCheckout(t, page)

	require.NoError(t, c.SubmitCheckout(context.Background()))
	assert.Contains(t, page.Actions(), `click button[type="submit"]`)
	assert.Equal(t, int32(1), sc.n.Load())

	empty := browsertest.NewFakePage(`<body></body>`)
	c2, _, _ := newTestCheckout(t, empty)
	assert.ErrorIs(t, c2.SubmitCheckout(context.Background()), browser.ErrSelectorNotFound)
}

func TestVerifyCheckoutSuccess(t *testing.T) {
	t.Run("decline returns before the budget", func(t *testing.T) {
		page := browsertest.NewFakePage("")
		page.SetURLs("https://store.cartpanda.com/checkout")
		page.SetBodies("Processando...", "Processando...", "Your card was declined")
		c, sc, _ := newTestCheckout(t, page)

		v, err := c.VerifyCheckoutSuccess(context.Background())
		require.NoError(t, err)
		assert.False(t, v.Success)
		assert.Equal(t, schemas.MethodCheckoutError, v.Method)
		assert.Equal(t, "declined", v.Message)
		assert.Equal(t, int32(2), sc.n.Load())
	})

	t.Run("timeout when nothing appears", func(t *testing.T) {
		page := browsertest.NewFakePage("")
		page.SetURLs("https://store.cartpanda.com/checkout")
		page.SetBodies("Processando pagamento")
		c, sc, logs := newTestCheckout(t, page)

		v, err := c.VerifyCheckoutSuccess(context.Background())
		require.NoError(t, err)
		assert.False(t, v.Success)
		assert.Equal(t, schemas.MethodTimeout, v.Method)
		assert.True(t, v.Indeterminate())
		assert.Equal(t, int32(19), sc.n.Load())
		assert.Equal(t, 1, logs.FilterMessage("Checkout verification timed out").Len())
	})

	t.Run("success url with order number", func(t *testing.T) {
		page := browsertest.NewFakePage("")
		page.SetURLs("https://store.cartpanda.com/checkout", "https://store.cartpanda.com/thank-you?o=1")
		page.SetBodies("Processando", "Obrigado! Pedido nº 48213 confirmado")
		c, _, _ := newTestCheckout(t, page)

		v, err := c.VerifyCheckoutSuccess(context.Background())
		require.NoError(t, err)
		assert.True(t, v.Success)
		assert.Equal(t, schemas.MethodCheckoutURL, v.Method)
		assert.Equal(t, "48213", v.OrderNumber)
	})

	t.Run("success text", func(t *testing.T) {
		page := browsertest.NewFakePage("")
		page.SetURLs("https://store.cartpanda.com/checkout")
		page.SetBodies("Payment approved. Your order number is CP-77120.")
		c, _, _ := newTestCheckout(t, page)

		v, err := c.VerifyCheckoutSuccess(context.Background())
		require.NoError(t, err)
		assert.True(t, v.Success)
		assert.Equal(t, schemas.MethodCheckoutText, v.Method)
		assert.Equal(t, "CP-77120", v.OrderNumber)
	})

	t.Run("cancellation is an error", func(t *testing.T) {
		page := browsertest.NewFakePage("")
		page.SetBodies("waiting")
		c, _, _ := newTestCheckout(t, page)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.VerifyCheckoutSuccess(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExtractOrderNumber(t *testing.T) {
	tests := map[string]string{
		"Order #100234":                             "100234",
		"Order number: A1B2C3":                      "A1B2C3",
		"Order confirmed. Order no. 5512":           "5512",
		"Seu pedido número 7781 foi aprovado":       "7781",
		"Pedido #PD-2291":                           "PD-2291",
		"Pedido 3321 recebido":                      "3321",
		"Thank you for your order, we'll email you": "",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ExtractOrderNumber(in))
		})
	}
}

func indexOf(items []string, want string) int {
	for i, it := range items {
		if it == want {
			return i
		}
	}
	return -1
}
