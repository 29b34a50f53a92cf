// Package clothaux provides auxiliary tooling for cloth simulations: TOML scene files,
// STL and PNG export and an interactive viewer. Applications may vary widely so users
// are encouraged to write their own tooling over the cloth query API.
package clothaux

import (
	"context"
	"image/color"
	"time"

	math "github.com/chewxy/math32"
	"github.com/soypat/cloth"
)

// UIConfig configures the interactive viewer.
type UIConfig struct {
	Width, Height int
	// Stepper drives the simulation. If nil a stepper with a 1/120s step is used.
	Stepper *cloth.FixedStepper
	// TimeScale multiplies frame time before it is simulated. Zero means 1.
	TimeScale float32
	// Colormap colors links by strain. Defaults to DefaultStrainColormap(0.1).
	Colormap func(strain float32) color.Color
	// Running starts the simulation without waiting for the run key.
	Running bool
	Context context.Context
	// Silent disables printing of controls and periodic statistics.
	Silent bool
}

// UI opens a window showing sim and blocks until it is closed. It must be called from the
// main OS thread. Controls:
//
//   - R: start or pause the simulation.
//   - P: pause and reset the simulation to its initial state.
//   - H, Y, J, U: release the bottom-left, top-left, bottom-right and top-right lattice corners.
//   - Mouse drag and scroll: orbit and zoom.
func UI(sim *cloth.Simulation, cfg UIConfig) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 800, 600
	}
	if cfg.Stepper == nil {
		cfg.Stepper = &cloth.FixedStepper{Sim: sim, TimeStep: 1.0 / 120, MaxSubsteps: 8}
	}
	if cfg.TimeScale == 0 {
		cfg.TimeScale = 1
	}
	if cfg.Colormap == nil {
		cfg.Colormap = DefaultStrainColormap(0.1)
	}
	return ui(sim, cfg)
}

// resetSimulation restores the initial state and drops the time the stepper had not yet simulated.
func resetSimulation(sim *cloth.Simulation, stepper *cloth.FixedStepper) {
	sim.Reset()
	stepper.Reset()
}

// cornerKeys maps a viewer key to the lattice corner it releases.
var cornerKeys = map[byte][2]bool{
	'H': {false, false}, // left bottom
	'Y': {false, true},  // left top
	'J': {true, false},  // right bottom
	'U': {true, true},   // right top
}

// releaseCorner unpins the lattice corner bound to key. Reports whether key is a corner key.
func releaseCorner(sim *cloth.Simulation, key byte) bool {
	corner, ok := cornerKeys[key]
	if !ok {
		return false
	}
	w, h := sim.Dims()
	i, j := 0, 0
	if corner[0] {
		i = w - 1
	}
	if corner[1] {
		j = h - 1
	}
	if idx := sim.Index(i, j); idx >= 0 {
		sim.SetPinned(idx, false)
	}
	return true
}

// appendLineVertices appends interleaved position and color vertices for every enabled
// link and a wire outline of each sphere collider.
func appendLineVertices(dst []float32, sim *cloth.Simulation, colormap func(float32) color.Color) []float32 {
	ps := sim.Particles()
	for li, l := range sim.Links() {
		if l.Disabled {
			continue
		}
		a, b, ok := sim.LinkEndpoints(li)
		if !ok {
			continue
		}
		r, g, bl := rgbf(colormap(l.Strain(ps)))
		dst = append(dst, a.X, a.Y, a.Z, r, g, bl, b.X, b.Y, b.Z, r, g, bl)
	}
	const segments = 48
	for _, c := range sim.Colliders() {
		if c.Kind != cloth.ColliderSphere {
			continue
		}
		for axis := 0; axis < 3; axis++ {
			for k := 0; k < segments; k++ {
				p0 := greatCircle(c, axis, float32(k)/segments)
				p1 := greatCircle(c, axis, float32(k+1)/segments)
				dst = append(dst, p0[0], p0[1], p0[2], 0.6, 0.6, 0.65, p1[0], p1[1], p1[2], 0.6, 0.6, 0.65)
			}
		}
	}
	return dst
}

func greatCircle(c cloth.Collider, axis int, t float32) [3]float32 {
	s, co := math.Sincos(2 * math.Pi * t)
	s, co = s*c.Radius, co*c.Radius
	p := [3]float32{c.Center.X, c.Center.Y, c.Center.Z}
	switch axis {
	case 0:
		p[1] += co
		p[2] += s
	case 1:
		p[0] += co
		p[2] += s
	default:
		p[0] += co
		p[1] += s
	}
	return p
}

func rgbf(c color.Color) (r, g, b float32) {
	r0, g0, b0, _ := c.RGBA()
	return float32(r0) / 0xffff, float32(g0) / 0xffff, float32(b0) / 0xffff
}

func stopwatch() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
