// Filename: internal/humanoid/generator_test.go
package humanoid

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samples = 2000

func TestRandomDelay_WithinInclusiveBounds(t *testing.T) {
	g := NewGenerator(42)
	seen := map[time.Duration]bool{}
	for i := 0; i < samples; i++ {
		d := g.RandomDelay(1, 3)
		require.GreaterOrEqual(t, d, 1*time.Millisecond)
		require.LessOrEqual(t, d, 3*time.Millisecond)
		seen[d] = true
	}
	assert.Len(t, seen, 3, "both ends of the range must be reachable")

	assert.Equal(t, 5*time.Millisecond, g.RandomDelay(5, 5))
	d := g.RandomDelay(10, 2)
	assert.True(t, d >= 2*time.Millisecond && d <= 10*time.Millisecond, "swapped bounds are normalized")
}

func TestBezierPath(t *testing.T) {
	g := NewGenerator(7)
	from := Vector2D{X: 100, Y: 100}
	to := Vector2D{X: 600, Y: 400}

	for run := 0; run < 50; run++ {
		path := g.BezierPath(from, to, 20)
		require.Len(t, path, 20)
		assert.Equal(t, to, path[len(path)-1], "path must end exactly on target")

		// The curve stays inside the convex hull of its control points.
		for _, p := range path {
			assert.GreaterOrEqual(t, p.X, from.X-controlPointJitter)
			assert.LessOrEqual(t, p.X, to.X+controlPointJitter)
			assert.GreaterOrEqual(t, p.Y, from.Y-controlPointJitter)
			assert.LessOrEqual(t, p.Y, to.Y+controlPointJitter)
		}
	}

	t.Run("first point is not the origin", func(t *testing.T) {
		path := g.BezierPath(from, to, 10)
		assert.NotEqual(t, from, path[0])
	})

	t.Run("degenerate step count", func(t *testing.T) {
		path := g.BezierPath(from, to, 0)
		require.Len(t, path, 1)
		assert.Equal(t, to, path[0])
	})
}

func TestKeystrokeDelay_Classes(t *testing.T) {
	g := NewGenerator(3)
	g.SetThinkChance(0)

	check := func(r rune, lo, hi int) {
		for i := 0; i < samples/4; i++ {
			d := g.KeystrokeDelay(r)
			require.GreaterOrEqual(t, d, time.Duration(lo)*time.Millisecond, "rune %q", r)
			require.LessOrEqual(t, d, time.Duration(hi)*time.Millisecond, "rune %q", r)
		}
	}
	check('a', 50, 150)
	check('7', 50, 150)
	check(' ', 100, 200)
	check('@', 150, 300)
}

func TestKeystrokeDelay_ThinkingPause(t *testing.T) {
	g := NewGenerator(11)
	g.SetThinkChance(1)
	for i := 0; i < samples/4; i++ {
		d := g.KeystrokeDelay('a')
		require.GreaterOrEqual(t, d, 350*time.Millisecond)
		require.LessOrEqual(t, d, 950*time.Millisecond)
	}

	// At the default rate roughly one keystroke in ten carries a pause.
	g = NewGenerator(13)
	long := 0
	for i := 0; i < samples; i++ {
		if g.KeystrokeDelay('a') > 150*time.Millisecond {
			long++
		}
	}
	ratio := float64(long) / samples
	assert.True(t, math.Abs(ratio-DefaultThinkChance) < 0.04, "observed think ratio %.3f", ratio)
}

func TestPersona(t *testing.T) {
	g := NewGenerator(5)

	t.Run("generated values come from the tables", func(t *testing.T) {
		p := g.Persona(PersonaOverrides{})
		assert.Contains(t, viewports, p.Viewport)
		assert.Contains(t, userAgents, p.UserAgent)
		assert.Contains(t, timezones, p.Timezone)
		assert.Contains(t, locales, p.Locale)
		geo, ok := GeolocationFor(p.Timezone)
		require.True(t, ok)
		assert.Equal(t, geo, p.Geolocation)
	})

	t.Run("overrides win", func(t *testing.T) {
		vp := Viewport{Width: 800, Height: 600}
		p := g.Persona(PersonaOverrides{
			Viewport:  &vp,
			UserAgent: "custom-agent",
			Timezone:  "America/Sao_Paulo",
			Locale:    "pt-BR",
		})
		assert.Equal(t, vp, p.Viewport)
		assert.Equal(t, "custom-agent", p.UserAgent)
		assert.Equal(t, "pt-BR", p.Locale)
		assert.Equal(t, geolocations["America/Sao_Paulo"], p.Geolocation)
	})

	t.Run("unknown timezone falls back", func(t *testing.T) {
		p := g.Persona(PersonaOverrides{Timezone: "Asia/Tokyo"})
		assert.Equal(t, "Asia/Tokyo", p.Timezone)
		assert.Equal(t, geolocations["America/New_York"], p.Geolocation)
	})

	t.Run("every timezone has a coordinate", func(t *testing.T) {
		for _, tz := range timezones {
			_, ok := GeolocationFor(tz)
			assert.True(t, ok, tz)
		}
	})
}
