package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

//go:embed evasions.js
var EvasionsJS string

// Platform is the navigator.platform value presented to pages.
const Platform = "Win32"

// AcceptLanguage builds an Accept-Language header for a locale tag,
// e.g. "pt-BR" becomes "pt-BR,pt;q=0.9".
func AcceptLanguage(locale string) string {
	if locale == "" {
		return "en-US,en;q=0.9"
	}
	base, _, found := strings.Cut(locale, "-")
	if !found || base == "" {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, base)
}

// Apply constructs the CDP actions that make a headless browser present as a
// regular desktop browser with the given persona. The evasion script is
// registered for every new document, in every frame, ahead of page scripts.
func Apply(p humanoid.Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("timezone", p.Timezone),
		zap.String("locale", p.Locale),
		zap.Int("width", p.Viewport.Width),
		zap.Int("height", p.Viewport.Height),
	)

	acceptLanguage := AcceptLanguage(p.Locale)
	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(acceptLanguage).
			WithPlatform(Platform),

		// AddScriptToEvaluateOnNewDocument returns an identifier, so it is not
		// a plain chromedp.Action.
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(EvasionsJS).Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		emulation.SetDeviceMetricsOverride(int64(p.Viewport.Width), int64(p.Viewport.Height), 1, false),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage,
		}),
	}
}
