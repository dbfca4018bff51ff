// internal/checkout/selectors.go
package checkout

// Selectors locate the fixed controls of a CartPanda checkout page.
type Selectors struct {
	Email    string
	FullName string
	Phone    string

	// AdvanceToPayment moves the page from the contact to the payment step.
	AdvanceToPayment string

	CardNumber string
	CardName   string
	CardExpiry string
	CardCvc    string

	// Blur is clicked after the last payment field loses focus, so the
	// page runs its field validation.
	Blur   string
	Submit string
}

// DefaultSelectors returns the selectors for the current CartPanda layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Email:            `input[name="email"]`,
		FullName:         `input[name="name"]`,
		Phone:            `input[name="phone"]`,
		AdvanceToPayment: `button[data-step="payment"]`,
		CardNumber:       `input[name="card_number"]`,
		CardName:         `input[name="card_holder_name"]`,
		CardExpiry:       `input[name="card_expiration"]`,
		CardCvc:          `input[name="card_cvv"]`,
		Blur:             "body",
		Submit:           `button[type="submit"]`,
	}
}

// markerSelectors identify a CartPanda checkout independent of its URL.
var markerSelectors = []string{
	"[data-cartpanda]",
	"#cartpanda-checkout",
	".cartpanda-checkout",
}

const urlMarker = "cartpanda"

var blockPhrases = []string{
	"access denied",
	"you have been blocked",
	"unusual traffic",
	"verify you are human",
	"are you a robot",
	"captcha",
	"acesso negado",
	"você foi bloqueado",
	"tráfego incomum",
	"verifique se você é humano",
}

var successPaths = []string{
	"/thank-you",
	"/thankyou",
	"/obrigado",
	"/order-confirmation",
	"/pedido-confirmado",
	"/success",
}

var successPhrases = []string{
	"thank you for your order",
	"thank you for your purchase",
	"order confirmed",
	"payment approved",
	"your order has been placed",
	"obrigado pela sua compra",
	"obrigado pelo seu pedido",
	"pedido confirmado",
	"pagamento aprovado",
	"compra realizada",
}

var declinePhrases = []string{
	"declined",
	"payment failed",
	"transaction failed",
	"insufficient funds",
	"recusado",
	"recusada",
	"transação negada",
	"falha no pagamento",
	"pagamento não aprovado",
}
