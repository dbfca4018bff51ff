// internal/humanoid/fingerprint.go
package humanoid

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Geolocation is a fixed coordinate reported to the page.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Persona is the full fingerprint tuple a browser session presents.
type Persona struct {
	Viewport    Viewport    `json:"viewport"`
	UserAgent   string      `json:"userAgent"`
	Timezone    string      `json:"timezone"`
	Locale      string      `json:"locale"`
	Geolocation Geolocation `json:"geolocation"`
}

// PersonaOverrides pins parts of a persona. Zero values are generated.
type PersonaOverrides struct {
	Viewport  *Viewport
	UserAgent string
	Timezone  string
	Locale    string
}

var viewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
	{Width: 1280, Height: 720},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"America/Phoenix",
	"America/Sao_Paulo",
	"Europe/London",
	"Europe/Lisbon",
}

var locales = []string{"en-US", "en-GB", "en-CA", "pt-BR", "pt-PT", "es-ES", "fr-FR"}

var geolocations = map[string]Geolocation{
	"America/New_York":    {Latitude: 40.7128, Longitude: -74.0060},
	"America/Chicago":     {Latitude: 41.8781, Longitude: -87.6298},
	"America/Denver":      {Latitude: 39.7392, Longitude: -104.9903},
	"America/Los_Angeles": {Latitude: 34.0522, Longitude: -118.2437},
	"America/Phoenix":     {Latitude: 33.4484, Longitude: -112.0740},
	"America/Sao_Paulo":   {Latitude: -23.5505, Longitude: -46.6333},
	"Europe/London":       {Latitude: 51.5074, Longitude: -0.1278},
	"Europe/Lisbon":       {Latitude: 38.7223, Longitude: -9.1393},
}

// Viewport picks one of the common desktop resolutions.
func (g *Generator) Viewport() Viewport { return viewports[g.intn(len(viewports))] }

// UserAgent picks one of the desktop user agent strings.
func (g *Generator) UserAgent() string { return userAgents[g.intn(len(userAgents))] }

// Timezone picks an IANA timezone.
func (g *Generator) Timezone() string { return timezones[g.intn(len(timezones))] }

// Locale picks a BCP 47 locale tag.
func (g *Generator) Locale() string { return locales[g.intn(len(locales))] }

// GeolocationFor returns the fixed coordinate for tz.
func GeolocationFor(tz string) (Geolocation, bool) {
	geo, ok := geolocations[tz]
	return geo, ok
}

// Persona resolves a complete fingerprint. Timezones outside the table fall
// back to New York coordinates.
func (g *Generator) Persona(o PersonaOverrides) Persona {
	p := Persona{
		UserAgent: o.UserAgent,
		Timezone:  o.Timezone,
		Locale:    o.Locale,
	}
	if o.Viewport != nil {
		p.Viewport = *o.Viewport
	} else {
		p.Viewport = g.Viewport()
	}
	if p.UserAgent == "" {
		p.UserAgent = g.UserAgent()
	}
	if p.Timezone == "" {
		p.Timezone = g.Timezone()
	}
	if p.Locale == "" {
		p.Locale = g.Locale()
	}
	geo, ok := GeolocationFor(p.Timezone)
	if !ok {
		geo = geolocations["America/New_York"]
	}
	p.Geolocation = geo
	return p
}
