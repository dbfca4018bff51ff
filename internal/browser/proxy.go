// internal/browser/proxy.go
package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/formrunner/internal/config"
)

// subdomainRouted matches hosts such as "us.provider.com", where the
// provider selects the exit country from the hostname.
var subdomainRouted = regexp.MustCompile(`^[a-z]{2}\.`)

// ProxyCredentials is what a session needs to route through the proxy.
type ProxyCredentials struct {
	Server   string
	Username string
	Password string
}

// BuildProxyUsername returns the upstream username for a session. Subdomain
// routed hosts take the configured username verbatim. Gateway hosts get the
// non-empty location parts appended, then a session tag that pins one sticky
// exit IP to the session.
func BuildProxyUsername(cfg config.ProxyConfig, sessionID string) string {
	if subdomainRouted.MatchString(strings.ToLower(cfg.Host)) {
		return cfg.Username
	}
	var b strings.Builder
	b.WriteString(cfg.Username)
	if cfg.Country != "" {
		b.WriteString("-country-" + cfg.Country)
	}
	if cfg.State != "" {
		b.WriteString("-state-" + cfg.State)
	}
	if cfg.City != "" {
		b.WriteString("-city-" + cfg.City)
	}
	b.WriteString("-session-" + sessionID)
	return b.String()
}

// ResolveProxy returns the credentials for sessionID, or nil when proxying is
// disabled.
func ResolveProxy(cfg config.ProxyConfig, sessionID string) *ProxyCredentials {
	if !cfg.Enabled || cfg.Host == "" {
		return nil
	}
	return &ProxyCredentials{
		Server:   fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		Username: BuildProxyUsername(cfg, sessionID),
		Password: cfg.Password,
	}
}
