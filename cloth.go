package cloth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

const (
	// AirDensity is the density of air at sea level in kg/m³.
	AirDensity = 1.225
	// DefaultDragCoefficient is the drag coefficient given to particles that do not set one.
	DefaultDragCoefficient = 1.5
	// DefaultProjectedArea is the projected area in m² given to particles that do not set one.
	DefaultProjectedArea = 0.01
	// DefaultRelaxIterations is the number of rigid-link relaxation sweeps per step.
	DefaultRelaxIterations = 2
	// DefaultRestEpsilon is the relative tolerance under which a link is considered to be at rest length.
	DefaultRestEpsilon = 1e-6

	// epstol is used to check for badly conditioned denominators
	// such as link lengths used for normalization.
	epstol = 6e-7
)

var (
	errOutOfRange    = errors.New("index out of range")
	errNilSimulation = errors.New("nil simulation")
)

// Relaxation selects how rigid-link corrections are applied during a sweep.
type Relaxation uint8

const (
	// GaussSeidel applies link corrections sequentially in link order. Each correction sees
	// the positions written by the previous one. This is the reference behaviour.
	GaussSeidel Relaxation = iota
	// Jacobi computes every particle's correction from a snapshot of the positions at the start
	// of the sweep and averages the corrections of its incident links. Safe to run in parallel.
	Jacobi
)

func (r Relaxation) String() string {
	switch r {
	case GaussSeidel:
		return "gauss-seidel"
	case Jacobi:
		return "jacobi"
	}
	return fmt.Sprintf("Relaxation(%d)", uint8(r))
}

// Config holds the physical constants and execution strategy of a [Simulation].
// Use [DefaultConfig] as a starting point.
type Config struct {
	// Gravity is the gravitational acceleration applied to every particle.
	Gravity ms3.Vec
	// AirDensity is used by the drag model. Typically [AirDensity].
	AirDensity float32
	// Wind is the velocity of the air. Drag acts on the particle velocity relative to it.
	Wind ms3.Vec
	// Drag enables the aerodynamic drag pass.
	Drag bool
	// RelaxIterations is the number of rigid-link relaxation sweeps per step.
	RelaxIterations int
	Relaxation      Relaxation
	// RestEpsilon is the tolerance, relative to rest length, under which a rigid link
	// is considered satisfied and left untouched.
	RestEpsilon float32
	// MinTimeStep and MaxTimeStep clamp the time step passed to Step when non-zero.
	MinTimeStep float32
	MaxTimeStep float32
	// Executor fans out per-particle work. Defaults to [Serial].
	Executor Executor
	// Integrator advances particle positions. Defaults to a [CPUIntegrator] using Executor.
	Integrator Integrator
	// Logger receives diagnostics for recovered numerical conditions. Defaults to discarding.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration observed in the fabric demos: earth gravity,
// sea level air density, drag enabled and two Gauss-Seidel relaxation sweeps per step.
func DefaultConfig() Config {
	return Config{
		Gravity:         ms3.Vec{Y: -9.8},
		AirDensity:      AirDensity,
		Drag:            true,
		RelaxIterations: DefaultRelaxIterations,
		Relaxation:      GaussSeidel,
		RestEpsilon:     DefaultRestEpsilon,
	}
}

func (cfg *Config) validate() error {
	var errs []error
	if !finitev(cfg.Gravity) {
		errs = append(errs, errors.New("non-finite gravity"))
	}
	if !finitev(cfg.Wind) {
		errs = append(errs, errors.New("non-finite wind"))
	}
	if cfg.AirDensity < 0 || !finitef(cfg.AirDensity) {
		errs = append(errs, fmt.Errorf("invalid air density %v", cfg.AirDensity))
	}
	if cfg.RelaxIterations < 0 {
		errs = append(errs, fmt.Errorf("negative relaxation iterations %d", cfg.RelaxIterations))
	}
	if cfg.Relaxation > Jacobi {
		errs = append(errs, fmt.Errorf("unknown relaxation %s", cfg.Relaxation))
	}
	if cfg.RestEpsilon < 0 || !finitef(cfg.RestEpsilon) {
		errs = append(errs, fmt.Errorf("invalid rest epsilon %v", cfg.RestEpsilon))
	}
	if cfg.MinTimeStep < 0 || cfg.MaxTimeStep < 0 || !finitef(cfg.MinTimeStep) || !finitef(cfg.MaxTimeStep) {
		errs = append(errs, errors.New("time step bounds must be finite and non-negative"))
	} else if cfg.MaxTimeStep > 0 && cfg.MinTimeStep > cfg.MaxTimeStep {
		errs = append(errs, fmt.Errorf("min time step %v exceeds max time step %v", cfg.MinTimeStep, cfg.MaxTimeStep))
	}
	return errors.Join(errs...)
}

// Builder accumulates particles and links and builds a [Simulation] from them.
// Provides error handling strategies with panics or error accumulation during construction.
type Builder struct {
	NoDimensionPanic bool
	accumErrs        []error
	particles        []Particle
	links            []Link
}

func (bld *Builder) Err() error {
	if len(bld.accumErrs) == 0 {
		return nil
	}
	return errors.Join(bld.accumErrs...)
}

func (bld *Builder) dimensionErrorf(msg string, args ...any) {
	if !bld.NoDimensionPanic {
		panic(fmt.Sprintf(msg, args...))
	}
	bld.accumErrs = append(bld.accumErrs, fmt.Errorf(msg, args...))
}

// AddParticle adds p to the particle set and returns its index.
// Zero drag coefficient and projected area are replaced by the package defaults.
func (bld *Builder) AddParticle(p Particle) int {
	if p.Mass < 0 || !finitef(p.Mass) {
		bld.dimensionErrorf("invalid particle mass %v", p.Mass)
	}
	if !finitev(p.Position) || !finitev(p.PrevPosition) {
		bld.dimensionErrorf("non-finite particle position %v", p.Position)
	}
	if p.DragCoefficient == 0 {
		p.DragCoefficient = DefaultDragCoefficient
	}
	if p.ProjectedArea == 0 {
		p.ProjectedArea = DefaultProjectedArea
	}
	p.dt = 0
	bld.particles = append(bld.particles, p)
	return len(bld.particles) - 1
}

// AddRigidLink connects particles p1 and p2 with a position-based link whose rest length
// is their current separation. Returns the link index.
func (bld *Builder) AddRigidLink(p1, p2 int) int {
	return bld.addLink(Link{P1: p1, P2: p2, Discipline: RigidLink})
}

// AddSpring connects particles p1 and p2 with a damped spring whose rest length
// is their current separation. Returns the link index.
func (bld *Builder) AddSpring(p1, p2 int, stiffness, damping float32) int {
	if stiffness < 0 || damping < 0 {
		bld.dimensionErrorf("negative spring stiffness %v or damping %v", stiffness, damping)
	}
	return bld.addLink(Link{P1: p1, P2: p2, Discipline: Spring, Stiffness: stiffness, Damping: damping})
}

// SetRestLength overrides the rest length of a link previously added to the builder.
func (bld *Builder) SetRestLength(link int, restLength float32) {
	if link < 0 || link >= len(bld.links) {
		bld.dimensionErrorf("link %d out of range [0,%d)", link, len(bld.links))
		return
	}
	if restLength < 0 || !finitef(restLength) {
		bld.dimensionErrorf("invalid rest length %v", restLength)
		return
	}
	bld.links[link].RestLength = restLength
}

func (bld *Builder) addLink(l Link) int {
	n := len(bld.particles)
	if l.P1 < 0 || l.P1 >= n || l.P2 < 0 || l.P2 >= n {
		bld.dimensionErrorf("link endpoints (%d,%d) out of range [0,%d)", l.P1, l.P2, n)
		return -1
	} else if l.P1 == l.P2 {
		bld.dimensionErrorf("degenerate link: both ends are particle %d", l.P1)
		return -1
	}
	l.RestLength = ms3.Norm(ms3.Sub(bld.particles[l.P2].Position, bld.particles[l.P1].Position))
	bld.links = append(bld.links, l)
	return len(bld.links) - 1
}

// Build creates a Simulation owning copies of the particles and links added so far.
func (bld *Builder) Build(cfg Config) (*Simulation, error) {
	if err := bld.Err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newSimulation(cfg, bld.particles, bld.links), nil
}

func finitef(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}

func finitev(v ms3.Vec) bool {
	return finitef(v.X) && finitef(v.Y) && finitef(v.Z)
}
