// internal/browser/flags.go
package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

// LaunchFlag is a Chrome command line switch. Boolean false removes a switch
// that the chromedp defaults would otherwise add.
type LaunchFlag struct {
	Name  string
	Value interface{}
}

// antiAutomationFlags hide the usual automation tells and keep Chrome stable
// inside containers.
var antiAutomationFlags = []LaunchFlag{
	{Name: "disable-blink-features", Value: "AutomationControlled"},
	{Name: "enable-automation", Value: false},
	{Name: "disable-infobars", Value: true},
	{Name: "no-sandbox", Value: true},
	{Name: "disable-setuid-sandbox", Value: true},
	{Name: "disable-dev-shm-usage", Value: true},
}

// LaunchFlags builds the switches for one session.
func LaunchFlags(cfg config.BrowserConfig, vp humanoid.Viewport, proxy *ProxyCredentials) []LaunchFlag {
	flags := make([]LaunchFlag, 0, len(antiAutomationFlags)+4+len(cfg.Args))
	flags = append(flags, antiAutomationFlags...)
	flags = append(flags, LaunchFlag{Name: "headless", Value: cfg.Headless})
	flags = append(flags, LaunchFlag{Name: "window-size", Value: fmt.Sprintf("%d,%d", vp.Width, vp.Height)})
	if proxy != nil {
		flags = append(flags, LaunchFlag{Name: "proxy-server", Value: proxy.Server})
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, LaunchFlag{Name: name, Value: value})
		} else {
			flags = append(flags, LaunchFlag{Name: name, Value: true})
		}
	}
	return flags
}

// AllocatorOptions converts flags into chromedp allocator options layered on
// the chromedp defaults, with the profile directory as user data dir.
func AllocatorOptions(cfg config.BrowserConfig, flags []LaunchFlag, profilePath, userAgent string) []chromedp.ExecAllocatorOption {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(chromedp.DefaultExecAllocatorOptions)+len(flags)+4)
	opts = append(opts, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.UserDataDir(profilePath))
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	launchTimeout := cfg.LaunchTimeout
	if launchTimeout <= 0 {
		launchTimeout = 30 * time.Second
	}
	opts = append(opts, chromedp.WSURLReadTimeout(launchTimeout))
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	return opts
}
