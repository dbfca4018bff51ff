// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrSelectorNotFound is returned when no element matches a selector, or when
// the element does not become visible in time.
var ErrSelectorNotFound = errors.New("selector not found")

// Page is the boundary between job logic and the page sandbox. Every call is
// a round trip into the browser that returns plain data; callers never hold
// live element handles.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	Count(ctx context.Context, selector string) (int, error)

	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Clear(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	IsChecked(ctx context.Context, selector string) (bool, error)
	Blur(ctx context.Context, selector string) error

	ElementCenter(ctx context.Context, selector string) (x, y float64, err error)
	MouseMove(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, dx, dy float64) error
	KeyPress(ctx context.Context, r rune) error

	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
}
