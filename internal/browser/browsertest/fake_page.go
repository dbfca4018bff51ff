// internal/browser/browsertest/fake_page.go
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/formrunner/internal/browser"
)

// FakePage is an in-memory browser.Page. Selectors are matched against a
// static HTML document with goquery; URL and body text can be scripted as
// sequences that advance on every read and stick on their last entry.
type FakePage struct {
	mu sync.Mutex

	html string
	doc  *goquery.Document

	urls      []string
	urlIdx    int
	bodies    []string
	bodyIdx   int
	extra     map[string]bool
	selectorE map[string]error
	onClick   map[string]func(*FakePage)

	NavigateErr   error
	IdleErr       error
	ScreenshotErr error

	focused string
	values  map[string]string
	checked map[string]bool
	actions []string
	moves   int
	scrolls int
}

var _ browser.Page = (*FakePage)(nil)

// NewFakePage returns a page rendering html.
func NewFakePage(html string) *FakePage {
	p := &FakePage{
		extra:     make(map[string]bool),
		selectorE: make(map[string]error),
		onClick:   make(map[string]func(*FakePage)),
		values:    make(map[string]string),
		checked:   make(map[string]bool),
	}
	p.SetHTML(html)
	return p
}

// SetHTML replaces the document.
func (p *FakePage) SetHTML(html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(fmt.Sprintf("browsertest: parse html: %v", err))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
	p.doc = doc
	doc.Find("input[checked]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok {
			p.checked["#"+id] = true
		}
	})
}

// SetURLs scripts successive URL() results.
func (p *FakePage) SetURLs(urls ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls, p.urlIdx = urls, 0
}

// SetBodies scripts successive BodyText() results.
func (p *FakePage) SetBodies(bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies, p.bodyIdx = bodies, 0
}

// AddSelector makes selector resolve even though the document lacks it.
func (p *FakePage) AddSelector(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extra[selector] = true
}

// FailOn makes every element action on selector return err.
func (p *FakePage) FailOn(selector string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectorE[selector] = err
}

// OnClick runs fn after a successful click on selector.
func (p *FakePage) OnClick(selector string, fn func(*FakePage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[selector] = fn
}

// Actions returns the recorded element and navigation actions in order.
func (p *FakePage) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

// Value returns what was set or typed into selector.
func (p *FakePage) Value(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[selector]
}

// Checked reports the fake checked state of selector.
func (p *FakePage) Checked(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checked[selector]
}

// MouseMoves returns the number of MouseMove calls.
func (p *FakePage) MouseMoves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.moves
}

// Scrolls returns the number of Scroll calls.
func (p *FakePage) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *FakePage) record(format string, args ...interface{}) {
	p.actions = append(p.actions, fmt.Sprintf(format, args...))
}

func (p *FakePage) count(selector string) int {
	n := p.doc.Find(selector).Length()
	if n == 0 && p.extra[selector] {
		n = 1
	}
	return n
}

// element checks that selector resolves and has no injected failure.
// Callers hold p.mu.
func (p *FakePage) element(selector string) error {
	if err := p.selectorE[selector]; err != nil {
		return err
	}
	if p.count(selector) == 0 {
		return fmt.Errorf("%w: %s", browser.ErrSelectorNotFound, selector)
	}
	return nil
}

func (p *FakePage) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	if len(p.urls) == 0 {
		p.urls = []string{url}
	}
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.urls) == 0 {
		return "about:blank", nil
	}
	u := p.urls[p.urlIdx]
	if p.urlIdx < len(p.urls)-1 {
		p.urlIdx++
	}
	return u, nil
}

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

// BodyText returns the scripted body, or the document's text when none is set.
func (p *FakePage) BodyText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bodies) == 0 {
		return p.doc.Find("body").Text(), nil
	}
	b := p.bodies[p.bodyIdx]
	if p.bodyIdx < len(p.bodies)-1 {
		p.bodyIdx++
	}
	return b, nil
}

func (p *FakePage) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count(selector), nil
}

func (p *FakePage) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.element(selector)
}

func (p *FakePage) ScrollIntoView(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return err
	}
	p.record("scroll-into-view %s", selector)
	return nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if err := p.element(selector); err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("click %s", selector)
	p.focused = selector
	typ, _ := p.doc.Find(selector).First().Attr("type")
	switch strings.ToLower(typ) {
	case "checkbox":
		p.checked[selector] = !p.checked[selector]
	case "radio":
		p.checked[selector] = true
	}
	hook := p.onClick[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *FakePage) Clear(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return err
	}
	p.record("clear %s", selector)
	p.values[selector] = ""
	p.focused = selector
	return nil
}

func (p *FakePage) SetValue(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return err
	}
	p.record("set %s=%s", selector, value)
	p.values[selector] = value
	return nil
}

// SelectOption accepts an option matching by value or visible text.
func (p *FakePage) SelectOption(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return err
	}
	matched := false
	p.doc.Find(selector).First().Find("option").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("value")
		if v == value || strings.TrimSpace(s.Text()) == value {
			p.values[selector] = v
			matched = true
			return false
		}
		return true
	})
	if !matched {
		return fmt.Errorf("no option %q in %s", value, selector)
	}
	p.record("select %s=%s", selector, p.values[selector])
	return nil
}

func (p *FakePage) IsChecked(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return false, err
	}
	return p.checked[selector], nil
}

func (p *FakePage) Blur(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return err
	}
	p.record("blur %s", selector)
	return nil
}

func (p *FakePage) ElementCenter(ctx context.Context, selector string) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.element(selector); err != nil {
		return 0, 0, err
	}
	return 200, 150, nil
}

func (p *FakePage) MouseMove(ctx context.Context, _, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves++
	return nil
}

func (p *FakePage) Scroll(ctx context.Context, _, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

// KeyPress appends r to the value of the last clicked or cleared element.
func (p *FakePage) KeyPress(ctx context.Context, r rune) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.focused != "" {
		p.values[p.focused] += string(r)
	}
	return nil
}

func (p *FakePage) WaitNetworkIdle(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.IdleErr
}

// Screenshot returns a tiny fixed payload.
func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot")
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}
