package schemas

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -- Task Schemas --

// SuccessIndicators are optional caller hints used to judge whether a
// generic form submission succeeded.
type SuccessIndicators struct {
	URL      string `json:"successUrl,omitempty"`
	Message  string `json:"successMessage,omitempty"`
	Selector string `json:"successSelector,omitempty"`
}

// IsZero reports whether no indicator was supplied.
func (s SuccessIndicators) IsZero() bool {
	return s.URL == "" && s.Message == "" && s.Selector == ""
}

// TaskOptions tunes how a single task is executed.
type TaskOptions struct {
	SimulateHuman   bool   `json:"simulateHuman"`
	TakeScreenshots bool   `json:"takeScreenshots"`
	UserAgent       string `json:"userAgent,omitempty"`
}

// DefaultTaskOptions mirrors the behavior of a submission that omits options.
func DefaultTaskOptions() TaskOptions {
	return TaskOptions{SimulateHuman: true, TakeScreenshots: true}
}

// Task is a unit of work submitted for browser automation. It is immutable
// once created and is consumed by exactly one worker at a time.
type Task struct {
	AccountID         string            `json:"accountId"`
	SessionID         string            `json:"sessionId"`
	FormData          *FormData         `json:"formData"`
	TargetURL         string            `json:"targetUrl"`
	SubmitSelector    string            `json:"submitSelector,omitempty"`
	SuccessIndicators SuccessIndicators `json:"successIndicators,omitempty"`
	Priority          int               `json:"priority"`
	Options           TaskOptions       `json:"options"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// Validate checks the fields every task must carry before it is queued.
func (t Task) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return fmt.Errorf("accountId is required")
	}
	if strings.ContainsAny(t.AccountID, `/\`) {
		return fmt.Errorf("accountId must not contain path separators")
	}
	if t.FormData == nil || t.FormData.Len() == 0 {
		return fmt.Errorf("formData is required")
	}
	if strings.TrimSpace(t.TargetURL) == "" {
		return fmt.Errorf("targetUrl is required")
	}
	if strings.TrimSpace(t.SessionID) == "" {
		return fmt.Errorf("sessionId is required")
	}
	return nil
}

// NewSessionID builds a globally unique session identifier of the form
// {accountId}-{unixMillis}-{random}.
func NewSessionID(accountID string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s-%d-%s", accountID, now.UnixMilli(), random)
}
