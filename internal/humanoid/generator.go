// internal/humanoid/generator.go
package humanoid

import (
	"math/rand"
	"sync"
	"time"
	"unicode"
)

// controlPointJitter bounds the random offset applied to each Bezier control
// point on each axis, in pixels.
const controlPointJitter = 50.0

// DefaultThinkChance is the per-keystroke probability of a long pause.
const DefaultThinkChance = 0.1

// Generator produces randomized human timing, paths and fingerprint values.
// It is safe for concurrent use.
type Generator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	thinkChance float64
}

// NewGenerator creates a Generator. A zero seed selects a time-based seed.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rng:         rand.New(rand.NewSource(seed)),
		thinkChance: DefaultThinkChance,
	}
}

// SetThinkChance overrides the per-keystroke long pause probability.
func (g *Generator) SetThinkChance(p float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thinkChance = p
}

// ThinkChance returns the current long pause probability.
func (g *Generator) ThinkChance() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.thinkChance
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// uniformMs returns a uniform integer in [min, max].
func (g *Generator) uniformMs(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + g.intn(max-min+1)
}

// Between returns a uniform integer in [min, max].
func (g *Generator) Between(min, max int) int { return g.uniformMs(min, max) }

// RandomDelay returns a uniformly distributed whole number of milliseconds
// in [minMs, maxMs].
func (g *Generator) RandomDelay(minMs, maxMs int) time.Duration {
	return time.Duration(g.uniformMs(minMs, maxMs)) * time.Millisecond
}

// BezierPath samples a cubic Bezier curve from `from` to `to`. Control points
// sit at 25% and 75% of the straight line, each jittered independently on both
// axes. The returned slice holds `steps` points and ends exactly at `to`.
func (g *Generator) BezierPath(from, to Vector2D, steps int) []Vector2D {
	if steps < 1 {
		steps = 1
	}
	jitter := func() Vector2D {
		return Vector2D{
			X: (g.float64()*2 - 1) * controlPointJitter,
			Y: (g.float64()*2 - 1) * controlPointJitter,
		}
	}
	cp1 := from.Lerp(to, 0.25).Add(jitter())
	cp2 := from.Lerp(to, 0.75).Add(jitter())

	points := make([]Vector2D, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		u := 1 - t
		p := from.Mul(u * u * u).
			Add(cp1.Mul(3 * u * u * t)).
			Add(cp2.Mul(3 * u * t * t)).
			Add(to.Mul(t * t * t))
		points = append(points, p)
	}
	points[len(points)-1] = to
	return points
}

// KeystrokeDelay returns the pause after typing r. Letters and digits are
// fastest, spaces slower and punctuation slowest; any keystroke may also
// carry an extra thinking pause.
func (g *Generator) KeystrokeDelay(r rune) time.Duration {
	var ms int
	switch {
	case unicode.IsLetter(r) || unicode.IsDigit(r):
		ms = g.uniformMs(50, 150)
	case r == ' ':
		ms = g.uniformMs(100, 200)
	default:
		ms = g.uniformMs(150, 300)
	}

	g.mu.Lock()
	chance := g.thinkChance
	g.mu.Unlock()
	if g.float64() < chance {
		ms += g.uniformMs(300, 800)
	}
	return time.Duration(ms) * time.Millisecond
}
