// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/formrunner/internal/browser/stealth"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/humanoid"
)

// ErrLaunch wraps any failure to start a browser session.
var ErrLaunch = errors.New("browser launch failed")

// ProfileStore is the part of the profile store the manager needs.
type ProfileStore interface {
	GetOrCreateProfilePath(sessionID string) (string, error)
	ScreenshotDir() string
}

// Overrides pins parts of the session fingerprint. Zero values are generated.
type Overrides struct {
	UserAgent string
	Viewport  *humanoid.Viewport
	Timezone  string
	Locale    string
}

// Session is a live browser bound to a single session id. It is never
// shared between tasks.
type Session struct {
	ID          string
	Page        Page
	Humanoid    *humanoid.Humanoid
	Persona     humanoid.Persona
	ProfilePath string
	Proxy       *ProxyCredentials

	// teardown runs in order on close: browser context first, then the
	// allocator that owns the process.
	teardown  []func() error
	closeOnce sync.Once
}

// NewSession assembles a session from already running parts. Launch uses it;
// tests use it to register sessions without a browser.
func NewSession(id string, page Page, h *humanoid.Humanoid, persona humanoid.Persona, teardown ...func() error) *Session {
	return &Session{ID: id, Page: page, Humanoid: h, Persona: persona, teardown: teardown}
}

func (s *Session) close(logger *zap.Logger) {
	s.closeOnce.Do(func() {
		for i, fn := range s.teardown {
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Session teardown step failed",
					zap.String("session_id", s.ID), zap.Int("step", i), zap.Error(err))
			}
		}
	})
}

// registry tracks live sessions by id.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

func (r *registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *registry) remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Manager launches, tracks and tears down browser sessions.
type Manager struct {
	cfg      config.BrowserConfig
	proxyCfg config.ProxyConfig
	profiles ProfileStore
	gen      *humanoid.Generator
	logger   *zap.Logger
	registry *registry
	now      func() time.Time
}

// NewManager creates a Manager. Browsers start lazily, one per Launch.
func NewManager(cfg config.BrowserConfig, proxyCfg config.ProxyConfig, profiles ProfileStore, gen *humanoid.Generator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		proxyCfg: proxyCfg,
		profiles: profiles,
		gen:      gen,
		logger:   logger.Named("browser_manager"),
		registry: newRegistry(),
		now:      time.Now,
	}
}

// Register adds an externally assembled session to the registry.
func (m *Manager) Register(s *Session) { m.registry.add(s) }

// Active returns the ids of all registered sessions.
func (m *Manager) Active() []string { return m.registry.ids() }

// Launch starts a dedicated browser for sessionID. Failures are returned
// wrapped in ErrLaunch and are not retried here.
func (m *Manager) Launch(ctx context.Context, sessionID string, o Overrides) (*Session, error) {
	log := m.logger.With(zap.String("session_id", sessionID))

	profilePath, err := m.profiles.GetOrCreateProfilePath(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	persona := m.gen.Persona(humanoid.PersonaOverrides{
		Viewport:  o.Viewport,
		UserAgent: o.UserAgent,
		Timezone:  o.Timezone,
		Locale:    o.Locale,
	})
	proxy := ResolveProxy(m.proxyCfg, sessionID)

	flags := LaunchFlags(m.cfg, persona.Viewport, proxy)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		AllocatorOptions(m.cfg, flags, profilePath, persona.UserAgent)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)
	abort := func() {
		browserCancel()
		allocCancel()
	}

	if proxy != nil {
		listenForProxyAuth(browserCtx, proxy, log)
	}

	// The first Run starts the browser and must use the long lived context.
	if err := chromedp.Run(browserCtx); err != nil {
		abort()
		return nil, fmt.Errorf("%w: start: %v", ErrLaunch, err)
	}

	setupCtx, setupCancel := context.WithTimeout(browserCtx, m.launchTimeout())
	defer setupCancel()
	stop := context.AfterFunc(ctx, setupCancel)
	defer stop()

	tasks := chromedp.Tasks{}
	if proxy != nil {
		tasks = append(tasks, fetch.Enable().WithHandleAuthRequests(true))
	}
	tasks = append(tasks, stealth.Apply(persona, log))
	tasks = append(tasks,
		emulation.SetTouchEmulationEnabled(false),
		emulation.SetGeolocationOverride().
			WithLatitude(persona.Geolocation.Latitude).
			WithLongitude(persona.Geolocation.Longitude).
			WithAccuracy(100),
		cdpbrowser.ResetPermissions(),
	)
	if err := chromedp.Run(setupCtx, tasks); err != nil {
		abort()
		return nil, fmt.Errorf("%w: configure context: %v", ErrLaunch, err)
	}

	page := NewCDPPage(browserCtx, log)
	h := humanoid.New(m.cfg.Humanoid, m.gen, page, log, humanoid.WithViewport(persona.Viewport))
	s := NewSession(sessionID, page, h, persona,
		func() error { return chromedp.Cancel(browserCtx) },
		func() error { allocCancel(); return nil },
	)
	s.ProfilePath = profilePath
	s.Proxy = proxy
	m.registry.add(s)

	log.Info("Browser session launched",
		zap.String("user_agent", persona.UserAgent),
		zap.String("timezone", persona.Timezone),
		zap.String("locale", persona.Locale),
		zap.Int("width", persona.Viewport.Width),
		zap.Int("height", persona.Viewport.Height),
		zap.Bool("proxied", proxy != nil))
	return s, nil
}

func (m *Manager) launchTimeout() time.Duration {
	if m.cfg.LaunchTimeout > 0 {
		return m.cfg.LaunchTimeout
	}
	return 30 * time.Second
}

// listenForProxyAuth answers proxy auth challenges with the session's
// credentials and releases every other paused request unchanged.
func listenForProxyAuth(browserCtx context.Context, proxy *ProxyCredentials, log *zap.Logger) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(browserCtx)
				execCtx := cdp.WithExecutor(browserCtx, c.Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}
				if err := fetch.ContinueWithAuth(e.RequestID, resp).Do(execCtx); err != nil {
					log.Debug("Proxy auth reply failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(browserCtx)
				execCtx := cdp.WithExecutor(browserCtx, c.Target)
				if err := fetch.ContinueRequest(e.RequestID).Do(execCtx); err != nil {
					log.Debug("Continue paused request failed", zap.Error(err))
				}
			}()
		}
	})
}

// screenshotTimestamp renders t as an ISO 8601 UTC timestamp that is safe in
// file names.
func screenshotTimestamp(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(ts)
}

// Screenshot captures the page into {root}/screenshots and returns the file
// path. Failures are logged and yield an empty path.
func (m *Manager) Screenshot(ctx context.Context, page Page, sessionID, tag string) string {
	log := m.logger.With(zap.String("session_id", sessionID), zap.String("tag", tag))

	buf, err := page.Screenshot(ctx)
	if err != nil {
		log.Warn("Screenshot capture failed", zap.Error(err))
		return ""
	}
	dir := m.profiles.ScreenshotDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("Screenshot directory unavailable", zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.png", sessionID, tag, screenshotTimestamp(m.now())))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		log.Warn("Screenshot write failed", zap.Error(err))
		return ""
	}
	log.Debug("Screenshot saved", zap.String("path", path))
	return path
}

// Close tears down the session: browser context first, then the process.
// Closing an unknown or already closed session is a no-op.
func (m *Manager) Close(sessionID string) {
	s := m.registry.remove(sessionID)
	if s == nil {
		return
	}
	s.close(m.logger)
	m.logger.Debug("Browser session closed", zap.String("session_id", sessionID))
}

// CloseAll closes every registered session concurrently and waits for them,
// or for ctx to end.
func (m *Manager) CloseAll(ctx context.Context) error {
	ids := m.registry.ids()
	if len(ids) == 0 {
		return nil
	}
	m.logger.Info("Closing all browser sessions", zap.Int("count", len(ids)))

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			m.Close(id)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for browser sessions to close", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
