package cloth

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// DragForce returns the quadratic aerodynamic drag acting on p given its surface normal.
//
//	|F| = 0.5 * Cd * rho * A * |v|² / m * |dot(normal, unit(v))|
//
// where v is the particle velocity relative to wind. The force opposes v. Heavier particles
// feel less drag and a surface edge-on to the airflow feels none.
// Immovable particles and particles at rest relative to the air return the zero vector.
func DragForce(p *Particle, normal ms3.Vec, airDensity float32, wind ms3.Vec) ms3.Vec {
	if p.Immovable() {
		return ms3.Vec{}
	}
	v := ms3.Sub(p.Velocity(), wind)
	speed := ms3.Norm(v)
	if speed == 0 {
		return ms3.Vec{}
	}
	dir := ms3.Scale(1/speed, v)
	mag := 0.5 * p.DragCoefficient * airDensity * p.ProjectedArea * speed * speed / p.Mass
	mag *= math32.Abs(ms3.Dot(normal, dir))
	return ms3.Scale(-mag, dir)
}

// Normal estimates the surface normal at particle i from its incident links: the cross products
// of consecutive neighbour edges (cyclic, in link insertion order) are summed and normalized.
// Returns the zero vector for particles with fewer than two links or when the sum vanishes.
// This is an approximation good enough for drag, not a geometric normal.
func (s *Simulation) Normal(i int) ms3.Vec {
	if i < 0 || i >= len(s.particles) {
		return ms3.Vec{}
	}
	adj := s.adj[i]
	if len(adj) < 2 {
		return ms3.Vec{}
	}
	pos := s.particles[i].Position
	var n ms3.Vec
	for k := range adj {
		e1 := ms3.Sub(s.other(adj[k], i), pos)
		e2 := ms3.Sub(s.other(adj[(k+1)%len(adj)], i), pos)
		n = ms3.Add(n, ms3.Cross(e1, e2))
	}
	norm := ms3.Norm(n)
	if norm == 0 {
		return ms3.Vec{}
	}
	return ms3.Scale(1/norm, n)
}

// other returns the position of the endpoint of link li that is not particle i.
func (s *Simulation) other(li, i int) ms3.Vec {
	l := &s.links[li]
	if l.P1 == i {
		return s.particles[l.P2].Position
	}
	return s.particles[l.P1].Position
}
