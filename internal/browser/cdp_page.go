// internal/browser/cdp_page.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	networkIdlePoll   = 250 * time.Millisecond
	networkIdleQuiet  = 2
	defaultActionWait = 10 * time.Second
)

// CDPPage implements Page on top of a chromedp tab context.
type CDPPage struct {
	tabCtx context.Context
	logger *zap.Logger

	mu    sync.Mutex
	mouse struct{ x, y float64 }
}

var _ Page = (*CDPPage)(nil)

// NewCDPPage wraps a chromedp tab context.
func NewCDPPage(tabCtx context.Context, logger *zap.Logger) *CDPPage {
	return &CDPPage{tabCtx: tabCtx, logger: logger.Named("page")}
}

// run executes actions against the tab while honouring cancellation of the
// caller's ctx, which is not itself a chromedp context.
func (p *CDPPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(runCtx, timeout)
		defer tcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// onElement evaluates body with `el` bound to the first match for selector
// and reports ErrSelectorNotFound when nothing matches.
func (p *CDPPage) onElement(ctx context.Context, selector, body string, out interface{}) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return {found: false};
		%s
	})()`, quote(selector), body)

	var raw []byte
	if err := p.run(ctx, defaultActionWait, chromedp.Evaluate(script, &raw)); err != nil {
		return fmt.Errorf("evaluate on %q: %w", selector, err)
	}
	var probe struct {
		Found *bool `json:"found"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Found != nil && !*probe.Found {
		return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (p *CDPPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *CDPPage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, defaultActionWait, chromedp.Location(&u))
	return u, err
}

func (p *CDPPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, defaultActionWait, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &html))
	return html, err
}

func (p *CDPPage) BodyText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, defaultActionWait, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return text, err
}

func (p *CDPPage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`(() => { try { return document.querySelectorAll(%s).length; } catch (e) { return 0; } })()`, quote(selector))
	err := p.run(ctx, defaultActionWait, chromedp.Evaluate(script, &n))
	return n, err
}

func (p *CDPPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s (waited %s)", ErrSelectorNotFound, selector, timeout)
	}
	return err
}

func (p *CDPPage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.onElement(ctx, selector, `el.scrollIntoView({block: 'center', behavior: 'smooth'}); return {found: true};`, nil)
}

func (p *CDPPage) Click(ctx context.Context, selector string) error {
	if err := p.onElement(ctx, selector, `return {found: true};`, nil); err != nil {
		return err
	}
	return p.run(ctx, defaultActionWait, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *CDPPage) Clear(ctx context.Context, selector string) error {
	return p.onElement(ctx, selector, `
		if ('value' in el) {
			el.value = '';
			el.dispatchEvent(new Event('input', {bubbles: true}));
		}
		return {found: true};`, nil)
}

func (p *CDPPage) SetValue(ctx context.Context, selector, value string) error {
	return p.onElement(ctx, selector, fmt.Sprintf(`
		el.value = %s;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return {found: true};`, quote(value)), nil)
}

func (p *CDPPage) SelectOption(ctx context.Context, selector, value string) error {
	var res struct {
		Matched bool `json:"matched"`
	}
	err := p.onElement(ctx, selector, fmt.Sprintf(`
		const want = %s;
		const opt = Array.from(el.options || []).find(o => o.value === want || o.text.trim() === want);
		if (!opt) return {found: true, matched: false};
		el.value = opt.value;
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return {found: true, matched: true};`, quote(value)), &res)
	if err != nil {
		return err
	}
	if !res.Matched {
		return fmt.Errorf("no option %q in %s", value, selector)
	}
	return nil
}

func (p *CDPPage) IsChecked(ctx context.Context, selector string) (bool, error) {
	var res struct {
		Checked bool `json:"checked"`
	}
	err := p.onElement(ctx, selector, `return {found: true, checked: !!el.checked};`, &res)
	return res.Checked, err
}

func (p *CDPPage) Blur(ctx context.Context, selector string) error {
	return p.onElement(ctx, selector, `el.blur(); el.dispatchEvent(new Event('blur')); return {found: true};`, nil)
}

func (p *CDPPage) ElementCenter(ctx context.Context, selector string) (float64, float64, error) {
	var res struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	err := p.onElement(ctx, selector, `
		const r = el.getBoundingClientRect();
		return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};`, &res)
	return res.X, res.Y, err
}

func (p *CDPPage) MouseMove(ctx context.Context, x, y float64) error {
	err := p.run(ctx, defaultActionWait, input.DispatchMouseEvent(input.MouseMoved, x, y))
	if err == nil {
		p.mu.Lock()
		p.mouse.x, p.mouse.y = x, y
		p.mu.Unlock()
	}
	return err
}

// Scroll dispatches a wheel event at the current cursor position.
func (p *CDPPage) Scroll(ctx context.Context, dx, dy float64) error {
	p.mu.Lock()
	x, y := p.mouse.x, p.mouse.y
	p.mu.Unlock()
	return p.run(ctx, defaultActionWait,
		input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy))
}

func (p *CDPPage) KeyPress(ctx context.Context, r rune) error {
	return p.run(ctx, defaultActionWait, chromedp.KeyEvent(string(r)))
}

// WaitNetworkIdle polls until the document is complete and the resource count
// has been stable for a short quiet period.
func (p *CDPPage) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	last, stable := -1, 0
	for {
		var state struct {
			Ready     string `json:"ready"`
			Resources int    `json:"resources"`
		}
		err := p.run(ctx, defaultActionWait, chromedp.Evaluate(
			`({ready: document.readyState, resources: performance.getEntriesByType('resource').length})`, &state))
		if err != nil {
			return err
		}
		if state.Ready == "complete" && state.Resources == last {
			stable++
			if stable >= networkIdleQuiet {
				return nil
			}
		} else {
			stable = 0
		}
		last = state.Resources

		if time.Now().After(deadline) {
			return fmt.Errorf("network idle: %w", context.DeadlineExceeded)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(networkIdlePoll):
		}
	}
}

// Screenshot captures the full page as PNG.
func (p *CDPPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, 30*time.Second, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}
