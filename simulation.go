package cloth

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Stats counts recovered numerical conditions over the lifetime of a [Simulation].
type Stats struct {
	// Steps is the amount of steps executed.
	Steps uint64
	// RejectedSteps counts calls to Step with a non-finite or non-positive time step.
	RejectedSteps uint64
	// ClampedSteps counts steps whose time step was clamped to the configured range.
	ClampedSteps uint64
	// DegenerateLinks counts link updates skipped due to coincident endpoints.
	DegenerateLinks uint64
	// LastDegenerate is the amount of degenerate link updates in the last executed step.
	LastDegenerate int
}

// Simulation owns a set of particles and the links between them and advances them in time.
// A Simulation is not safe for concurrent use. Pins, link toggles and colliders may be
// changed between calls to Step.
type Simulation struct {
	cfg       Config
	log       *slog.Logger
	particles []Particle
	links     []Link
	// adj holds the incident link indices of every particle in link insertion order.
	adj       [][]int
	colliders []Collider
	lattice   *LatticeConfig
	// Initial state kept for Reset.
	initParticles []Particle
	initLinks     []Link

	hasRigid   bool
	hasSprings bool
	snapshot   []ms3.Vec
	degenerate atomic.Int64
	stats      Stats
}

func newSimulation(cfg Config, particles []Particle, links []Link) *Simulation {
	if cfg.Executor == nil {
		cfg.Executor = Serial{}
	}
	if cfg.Integrator == nil {
		cfg.Integrator = &CPUIntegrator{Executor: cfg.Executor}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Simulation{
		cfg:           cfg,
		log:           log,
		initParticles: slices.Clone(particles),
		initLinks:     slices.Clone(links),
	}
	for i := range s.initParticles {
		// Immovable or not, particles start out accelerated by gravity alone.
		s.initParticles[i].Acceleration = cfg.Gravity
	}
	s.restore()
	return s
}

// restore rebuilds the live state from the initial particles and links.
func (s *Simulation) restore() {
	s.particles = append(s.particles[:0], s.initParticles...)
	s.links = append(s.links[:0], s.initLinks...)
	s.adj = make([][]int, len(s.particles))
	s.hasRigid, s.hasSprings = false, false
	for li, l := range s.links {
		if l.valid(len(s.particles)) {
			s.adj[l.P1] = append(s.adj[l.P1], li)
			s.adj[l.P2] = append(s.adj[l.P2], li)
		}
		switch l.Discipline {
		case RigidLink:
			s.hasRigid = true
		case Spring:
			s.hasSprings = true
		}
	}
	s.snapshot = slices.Grow(s.snapshot[:0], len(s.particles))[:len(s.particles)]
	s.stats = Stats{}
}

// Reset discards the current state and restores the particles and links the simulation
// was built with. Colliders are kept.
func (s *Simulation) Reset() {
	s.restore()
}

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() Config { return s.cfg }

// Stats returns counters of recovered numerical conditions.
func (s *Simulation) Stats() Stats { return s.stats }

// Step advances the simulation by one time step of dt seconds:
//
//  1. Reset force accumulators to gravity.
//  2. Integrate particles using the acceleration refreshed at the end of the previous step.
//  3. Relax rigid links RelaxIterations times and accumulate spring forces.
//  4. Accumulate aerodynamic drag, if enabled.
//  5. Refresh accelerations from the accumulated forces for the next step.
//
// Numerical trouble never produces an error: non-finite or non-positive dt is ignored and
// coincident link endpoints are skipped, both counted in [Stats]. A non-nil error is only
// returned when the Executor or Integrator fail.
func (s *Simulation) Step(dt float32) error {
	dt, ok := s.timestep(dt)
	if !ok {
		return nil
	}
	s.degenerate.Store(0)
	exec := s.cfg.Executor
	n := len(s.particles)
	gravity := s.cfg.Gravity
	err := exec.Run(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			p := &s.particles[i]
			p.TotalForce = ms3.Scale(p.Mass, gravity)
		}
	})
	if err != nil {
		return fmt.Errorf("resetting forces: %w", err)
	}
	err = s.cfg.Integrator.Integrate(s.particles, s.colliders, dt)
	if err != nil {
		return fmt.Errorf("integrating particles: %w", err)
	}
	// Integrators other than the CPU one cannot reach the unexported step record.
	for i := range s.particles {
		if !s.particles[i].Immovable() {
			s.particles[i].dt = dt
		}
	}
	if s.hasRigid {
		err = s.relax()
		if err != nil {
			return fmt.Errorf("relaxing links: %w", err)
		}
	}
	if s.hasSprings {
		err = exec.Run(n, s.gatherSpringForces)
		if err != nil {
			return fmt.Errorf("accumulating spring forces: %w", err)
		}
	}
	if s.cfg.Drag {
		err = exec.Run(n, s.applyDrag)
		if err != nil {
			return fmt.Errorf("applying drag: %w", err)
		}
	}
	err = exec.Run(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s.particles[i].refreshAcceleration()
		}
	})
	if err != nil {
		return fmt.Errorf("refreshing accelerations: %w", err)
	}
	degenerate := int(s.degenerate.Load())
	s.stats.Steps++
	s.stats.LastDegenerate = degenerate
	s.stats.DegenerateLinks += uint64(degenerate)
	if degenerate > 0 {
		s.log.Debug("skipped degenerate links", slog.Int("count", degenerate), slog.Uint64("step", s.stats.Steps))
	}
	return nil
}

func (s *Simulation) timestep(dt float32) (float32, bool) {
	if dt <= 0 || math32.IsNaN(dt) || math32.IsInf(dt, 0) {
		s.stats.RejectedSteps++
		s.log.Warn("ignoring step with invalid time step", slog.Float64("dt", float64(dt)))
		return 0, false
	}
	clamped := dt
	if s.cfg.MaxTimeStep > 0 && clamped > s.cfg.MaxTimeStep {
		clamped = s.cfg.MaxTimeStep
	}
	if clamped < s.cfg.MinTimeStep {
		clamped = s.cfg.MinTimeStep
	}
	if clamped != dt {
		s.stats.ClampedSteps++
		s.log.Debug("clamped time step", slog.Float64("dt", float64(dt)), slog.Float64("clamped", float64(clamped)))
	}
	return clamped, true
}

func (s *Simulation) relax() error {
	eps := s.cfg.RestEpsilon
	for range s.cfg.RelaxIterations {
		switch s.cfg.Relaxation {
		case GaussSeidel:
			// Links sharing a particle write the same position: strictly sequential.
			for li := range s.links {
				l := &s.links[li]
				if l.Discipline != RigidLink || l.Disabled || !l.valid(len(s.particles)) {
					continue
				}
				if l.relax(s.particles, eps) {
					s.degenerate.Add(1)
				}
			}
		case Jacobi:
			for i := range s.particles {
				s.snapshot[i] = s.particles[i].Position
			}
			err := s.cfg.Executor.Run(len(s.particles), s.relaxJacobi)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// relaxJacobi moves every particle in [lo,hi) by the average of the corrections of its
// incident rigid links, computed from the snapshot. Only writes to particles in range.
func (s *Simulation) relaxJacobi(lo, hi int) {
	eps := s.cfg.RestEpsilon
	for i := lo; i < hi; i++ {
		p := &s.particles[i]
		if p.Immovable() {
			continue
		}
		var sum ms3.Vec
		var count int
		for _, li := range s.adj[i] {
			l := &s.links[li]
			if l.Discipline != RigidLink || l.Disabled {
				continue
			}
			a, b := &s.particles[l.P1], &s.particles[l.P2]
			d, degenerate, ok := l.correction(s.snapshot[l.P1], s.snapshot[l.P2], eps)
			// Counted once per link, by its first movable endpoint.
			counter := l.P1
			if a.Immovable() {
				counter = l.P2
			}
			if degenerate && counter == i {
				s.degenerate.Add(1)
			}
			if !ok {
				continue
			}
			wa, wb := massWeights(a, b)
			if l.P1 == i {
				sum = ms3.Sub(sum, ms3.Scale(wa, d))
			} else {
				sum = ms3.Add(sum, ms3.Scale(wb, d))
			}
			count++
		}
		if count > 0 {
			p.Position = ms3.Add(s.snapshot[i], ms3.Scale(1/float32(count), sum))
		}
	}
}

// gatherSpringForces adds the forces of incident springs to every particle in [lo,hi).
// Incident links are visited in insertion order so the sums match a sequential pass over all springs.
func (s *Simulation) gatherSpringForces(lo, hi int) {
	for i := lo; i < hi; i++ {
		p := &s.particles[i]
		for _, li := range s.adj[i] {
			l := &s.links[li]
			if l.Discipline != Spring || l.Disabled {
				continue
			}
			f, degenerate := l.springForce(s.particles)
			if degenerate {
				if l.P1 == i {
					s.degenerate.Add(1)
				}
				continue
			}
			if l.P1 == i {
				p.TotalForce = ms3.Add(p.TotalForce, f)
			} else {
				p.TotalForce = ms3.Sub(p.TotalForce, f)
			}
		}
	}
}

func (s *Simulation) applyDrag(lo, hi int) {
	rho, wind := s.cfg.AirDensity, s.cfg.Wind
	for i := lo; i < hi; i++ {
		p := &s.particles[i]
		if p.Immovable() {
			continue
		}
		f := DragForce(p, s.Normal(i), rho, wind)
		p.TotalForce = ms3.Add(p.TotalForce, f)
	}
}

// Len returns the amount of particles.
func (s *Simulation) Len() int { return len(s.particles) }

// Particles returns the particles of the simulation. The slice must not be modified
// and is only valid until the next call to Step or Reset.
func (s *Simulation) Particles() []Particle { return s.particles }

// Particle returns a copy of particle i.
func (s *Simulation) Particle(i int) (Particle, error) {
	if i < 0 || i >= len(s.particles) {
		return Particle{}, errOutOfRange
	}
	return s.particles[i], nil
}

// Links returns the links of the simulation. The slice must not be modified.
func (s *Simulation) Links() []Link { return s.links }

// LinkEndpoints returns the current positions of the endpoints of link li.
func (s *Simulation) LinkEndpoints(li int) (p1, p2 ms3.Vec, ok bool) {
	if li < 0 || li >= len(s.links) || !s.links[li].valid(len(s.particles)) {
		return p1, p2, false
	}
	l := &s.links[li]
	return s.particles[l.P1].Position, s.particles[l.P2].Position, true
}

// AppendPositions appends the position of every particle to dst.
func (s *Simulation) AppendPositions(dst []ms3.Vec) []ms3.Vec {
	for i := range s.particles {
		dst = append(dst, s.particles[i].Position)
	}
	return dst
}

// AppendNormals appends the estimated normal of every particle to dst. See [Simulation.Normal].
func (s *Simulation) AppendNormals(dst []ms3.Vec) []ms3.Vec {
	for i := range s.particles {
		dst = append(dst, s.Normal(i))
	}
	return dst
}

// AppendLineSegments appends the endpoints of every enabled link to dst.
func (s *Simulation) AppendLineSegments(dst [][2]ms3.Vec) [][2]ms3.Vec {
	for li := range s.links {
		if s.links[li].Disabled {
			continue
		}
		p1, p2, ok := s.LinkEndpoints(li)
		if ok {
			dst = append(dst, [2]ms3.Vec{p1, p2})
		}
	}
	return dst
}

// Bounds returns the axis aligned box containing all particles.
func (s *Simulation) Bounds() ms3.Box {
	if len(s.particles) == 0 {
		return ms3.Box{}
	}
	bb := ms3.Box{Min: s.particles[0].Position, Max: s.particles[0].Position}
	for i := range s.particles[1:] {
		p := s.particles[i+1].Position
		bb.Min = ms3.MinElem(bb.Min, p)
		bb.Max = ms3.MaxElem(bb.Max, p)
	}
	return bb
}

// SetPinned pins or releases particle i.
func (s *Simulation) SetPinned(i int, pinned bool) error {
	if i < 0 || i >= len(s.particles) {
		return fmt.Errorf("pinning particle %d: %w", i, errOutOfRange)
	}
	s.particles[i].Pinned = pinned
	return nil
}

// SetLinkDisabled disables or re-enables link li without removing it.
func (s *Simulation) SetLinkDisabled(li int, disabled bool) error {
	if li < 0 || li >= len(s.links) {
		return fmt.Errorf("disabling link %d: %w", li, errOutOfRange)
	}
	s.links[li].Disabled = disabled
	return nil
}

// SetColliders replaces the colliders applied after integration.
func (s *Simulation) SetColliders(colliders ...Collider) error {
	for i := range colliders {
		if err := colliders[i].validate(); err != nil {
			return fmt.Errorf("collider %d: %w", i, err)
		}
	}
	s.colliders = append(s.colliders[:0], colliders...)
	return nil
}

// Colliders returns the colliders applied after integration.
func (s *Simulation) Colliders() []Collider { return s.colliders }
