package cloth

import (
	"github.com/soypat/geometry/ms3"
)

// Particle is a point mass integrated with the Verlet scheme.
// A particle with zero mass or Pinned set is immovable.
type Particle struct {
	Position     ms3.Vec
	PrevPosition ms3.Vec
	// TotalForce is the force accumulator. Reset and refilled every step.
	TotalForce ms3.Vec
	// Acceleration is consumed by the next integration. Refreshed from TotalForce at the end of every step.
	Acceleration    ms3.Vec
	Mass            float32
	Pinned          bool
	DragCoefficient float32
	ProjectedArea   float32
	// dt is the time step of the most recent integration.
	dt float32
}

// NewParticle returns a particle at rest at pos with default aerodynamic parameters.
func NewParticle(pos ms3.Vec, mass float32) Particle {
	return Particle{
		Position:        pos,
		PrevPosition:    pos,
		Mass:            mass,
		DragCoefficient: DefaultDragCoefficient,
		ProjectedArea:   DefaultProjectedArea,
	}
}

// Immovable reports whether the particle is pinned or has zero mass.
func (p *Particle) Immovable() bool {
	return p.Pinned || p.Mass == 0
}

// Velocity returns the velocity implied by the last two positions using the time step of
// the most recent integration. Immovable particles and particles never integrated report zero.
func (p *Particle) Velocity() ms3.Vec {
	if p.Immovable() || p.dt == 0 {
		return ms3.Vec{}
	}
	return ms3.Scale(1/(2*p.dt), ms3.Sub(p.Position, p.PrevPosition))
}

// TimeStep returns the time step of the most recent integration of the particle.
func (p *Particle) TimeStep() float32 { return p.dt }

// integrate performs one Verlet step. Colliders may rewrite the proposed position before it is committed.
func (p *Particle) integrate(dt float32, colliders []Collider) {
	if p.Immovable() {
		return
	}
	// next = 2*pos - prev + acc*dt²
	next := ms3.Add(ms3.Sub(ms3.Scale(2, p.Position), p.PrevPosition), ms3.Scale(dt*dt, p.Acceleration))
	if len(colliders) > 0 {
		vel := ms3.Scale(1/(2*dt), ms3.Sub(next, p.Position))
		for i := range colliders {
			colliders[i].apply(p.Position, &next, vel, dt)
		}
	}
	p.PrevPosition = p.Position
	p.Position = next
	p.dt = dt
}

func (p *Particle) refreshAcceleration() {
	if p.Immovable() {
		return
	}
	p.Acceleration = ms3.Scale(1/p.Mass, p.TotalForce)
}
