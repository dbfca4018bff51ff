package schemas

import "time"

// -- Fill Results --

// FilledField records a field that received a value.
type FilledField struct {
	Field string `json:"field"`
	Type  string `json:"type"`
}

// FailedField records a field whose fill attempt errored.
type FailedField struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// SkippedField records a field left untouched.
type SkippedField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// FillResult is produced once per form-fill pass.
type FillResult struct {
	Filled  []FilledField  `json:"filled"`
	Failed  []FailedField  `json:"failed"`
	Skipped []SkippedField `json:"skipped"`
}

// NewFillResult returns a FillResult with empty, non-nil lists so it
// serializes as arrays.
func NewFillResult() *FillResult {
	return &FillResult{
		Filled:  []FilledField{},
		Failed:  []FailedField{},
		Skipped: []SkippedField{},
	}
}

// -- Verification --

// VerificationMethod names the check that produced a verification verdict.
type VerificationMethod string

const (
	MethodNone    VerificationMethod = ""
	MethodURL     VerificationMethod = "url"
	MethodMessage VerificationMethod = "message"
	MethodElement VerificationMethod = "element"
	MethodKeyword VerificationMethod = "keyword"
	MethodError   VerificationMethod = "error"
	MethodTimeout VerificationMethod = "timeout"

	MethodCheckoutURL   VerificationMethod = "cartpanda_url_detection"
	MethodCheckoutText  VerificationMethod = "cartpanda_text_detection"
	MethodCheckoutError VerificationMethod = "cartpanda_error_detection"
)

// VerificationResult is the terminal judgment on a submission.
type VerificationResult struct {
	Success     bool               `json:"success"`
	Method      VerificationMethod `json:"method"`
	Message     string             `json:"message"`
	URL         string             `json:"url,omitempty"`
	OrderNumber string             `json:"orderNumber,omitempty"`
}

// Indeterminate reports whether the outcome is genuinely unknown, which is
// distinct from an explicit failure.
func (v VerificationResult) Indeterminate() bool {
	return v.Method == MethodTimeout || v.Method == MethodNone
}

// -- Job Results --

// CheckoutType identifies which state machine handled a job.
type CheckoutType string

const (
	CheckoutGeneric   CheckoutType = "generic"
	CheckoutCartPanda CheckoutType = "cartpanda"
)

// JobResult is returned from the orchestrator and stored by the queue.
type JobResult struct {
	Success      bool                `json:"success"`
	SessionID    string              `json:"sessionId"`
	CheckoutType CheckoutType        `json:"checkoutType"`
	FillResults  *FillResult         `json:"fillResults,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	OrderNumber  string              `json:"orderNumber,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
	Timestamp    time.Time           `json:"timestamp"`
}
