package cloth

import (
	"fmt"

	"github.com/soypat/geometry/ms3"
)

// Discipline is the strategy with which a [Link] enforces its rest length.
type Discipline uint8

const (
	// RigidLink corrects endpoint positions directly, splitting the correction
	// inversely proportional to endpoint mass.
	RigidLink Discipline = iota
	// Spring applies a damped Hooke force pair to the endpoint force accumulators.
	Spring
)

func (d Discipline) String() string {
	switch d {
	case RigidLink:
		return "rigid"
	case Spring:
		return "spring"
	}
	return fmt.Sprintf("Discipline(%d)", uint8(d))
}

// LinkKind records the role of a link in a lattice.
type LinkKind uint8

const (
	Structural LinkKind = iota
	Shear
	Border
)

func (k LinkKind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Shear:
		return "shear"
	case Border:
		return "border"
	}
	return fmt.Sprintf("LinkKind(%d)", uint8(k))
}

// Link is a distance constraint between two particles, referenced by index.
// A negative index means the endpoint is absent and the link is ignored.
type Link struct {
	P1, P2     int
	RestLength float32
	// Stiffness and Damping are only used by the Spring discipline.
	Stiffness  float32
	Damping    float32
	Discipline Discipline
	Kind       LinkKind
	// Disabled links are skipped. Used to tear fabric.
	Disabled bool
}

func (l *Link) valid(n int) bool {
	return l.P1 >= 0 && l.P1 < n && l.P2 >= 0 && l.P2 < n && l.P1 != l.P2
}

// Update applies the link's discipline to particles: a single relaxation pass for rigid links
// or a force pair added to the accumulators for springs. It reports whether the endpoints were
// coincident, in which case nothing is applied.
func (l *Link) Update(particles []Particle, restEpsilon float32) (degenerate bool) {
	if l.Disabled || !l.valid(len(particles)) {
		return false
	}
	switch l.Discipline {
	case RigidLink:
		return l.relax(particles, restEpsilon)
	case Spring:
		f, degenerate := l.springForce(particles)
		if degenerate {
			return true
		}
		a, b := &particles[l.P1], &particles[l.P2]
		a.TotalForce = ms3.Add(a.TotalForce, f)
		b.TotalForce = ms3.Sub(b.TotalForce, f)
	}
	return false
}

// relax moves the endpoints toward the rest length. An immovable endpoint absorbs none of the correction.
func (l *Link) relax(particles []Particle, restEpsilon float32) (degenerate bool) {
	a, b := &particles[l.P1], &particles[l.P2]
	ia, ib := a.Immovable(), b.Immovable()
	if ia && ib {
		return false
	}
	d, degenerate, ok := l.correction(a.Position, b.Position, restEpsilon)
	if !ok {
		return degenerate
	}
	w1, w2 := massWeights(a, b)
	if !ia {
		a.Position = ms3.Sub(a.Position, ms3.Scale(w1, d))
	}
	if !ib {
		b.Position = ms3.Add(b.Position, ms3.Scale(w2, d))
	}
	return false
}

// correction returns d = (length-rest)*unit(p1-p2). ok is false when no correction is needed.
func (l *Link) correction(p1, p2 ms3.Vec, restEpsilon float32) (d ms3.Vec, degenerate, ok bool) {
	delta := ms3.Sub(p1, p2)
	length := ms3.Norm(delta)
	if length < epstol {
		return d, true, false
	}
	if atRest(length, l.RestLength, restEpsilon) {
		return d, false, false
	}
	return ms3.Scale((length-l.RestLength)/length, delta), false, true
}

// springForce returns the force applied to P1. The opposite force acts on P2.
func (l *Link) springForce(particles []Particle) (f ms3.Vec, degenerate bool) {
	a, b := &particles[l.P1], &particles[l.P2]
	delta := ms3.Sub(b.Position, a.Position)
	length := ms3.Norm(delta)
	if length < epstol {
		return f, true
	}
	dir := ms3.Scale(1/length, delta)
	f = ms3.Scale(l.Stiffness*(length-l.RestLength), dir)
	rate := ms3.Dot(ms3.Sub(b.Velocity(), a.Velocity()), dir)
	return ms3.Add(f, ms3.Scale(l.Damping*rate, dir)), false
}

// Length returns the current distance between the link endpoints.
func (l *Link) Length(particles []Particle) float32 {
	if !l.valid(len(particles)) {
		return 0
	}
	return ms3.Norm(ms3.Sub(particles[l.P2].Position, particles[l.P1].Position))
}

// Strain returns the relative elongation (length-rest)/rest of the link.
func (l *Link) Strain(particles []Particle) float32 {
	if l.RestLength < epstol {
		return 0
	}
	return (l.Length(particles) - l.RestLength) / l.RestLength
}

// massWeights returns the fraction of the correction taken by a and b respectively.
// An immovable particle behaves as infinitely heavy.
func massWeights(a, b *Particle) (wa, wb float32) {
	switch {
	case a.Immovable():
		return 0, 1
	case b.Immovable():
		return 1, 0
	}
	m := a.Mass + b.Mass
	return b.Mass / m, a.Mass / m
}

func atRest(length, rest, restEpsilon float32) bool {
	tol := restEpsilon * rest
	if tol < epstol {
		tol = epstol
	}
	diff := length - rest
	return diff <= tol && diff >= -tol
}
