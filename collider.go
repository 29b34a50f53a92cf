package cloth

import (
	"fmt"

	"github.com/soypat/geometry/ms3"
)

// ColliderKind tags the variant held by a [Collider].
type ColliderKind uint8

const (
	ColliderNone ColliderKind = iota
	ColliderSphere
)

// Collider is an external constraint evaluated on every proposed particle position
// right after integration.
type Collider struct {
	Kind   ColliderKind
	Center ms3.Vec
	Radius float32
}

// Sphere returns a solid sphere collider.
func Sphere(center ms3.Vec, radius float32) Collider {
	return Collider{Kind: ColliderSphere, Center: center, Radius: radius}
}

func (c Collider) validate() error {
	switch c.Kind {
	case ColliderNone:
		return nil
	case ColliderSphere:
		if !finitev(c.Center) {
			return fmt.Errorf("non-finite sphere center %v", c.Center)
		} else if c.Radius <= 0 || !finitef(c.Radius) {
			return fmt.Errorf("invalid sphere radius %v", c.Radius)
		}
		return nil
	}
	return fmt.Errorf("unknown collider kind %d", c.Kind)
}

// apply rewrites next in place. pos is the pre-step position and vel the velocity implied
// by the proposed step.
func (c Collider) apply(pos ms3.Vec, next *ms3.Vec, vel ms3.Vec, dt float32) {
	if c.Kind != ColliderSphere {
		return
	}
	// Points inside the sphere are projected to the surface. If they keep moving inward
	// only the tangential velocity survives and the point slides along the surface
	// starting from where it was before the step. Not an impulse solver.
	n, inside := c.surfaceNormal(*next)
	if !inside {
		return
	}
	*next = ms3.Add(c.Center, ms3.Scale(c.Radius, n))
	vn := ms3.Dot(vel, n)
	if vn > 0 {
		return
	}
	tangent := ms3.Sub(vel, ms3.Scale(vn, n))
	n0, _ := c.surfaceNormal(pos)
	*next = ms3.Add(ms3.Add(c.Center, ms3.Scale(c.Radius, n0)), ms3.Scale(dt, tangent))
	if n, inside := c.surfaceNormal(*next); inside {
		*next = ms3.Add(c.Center, ms3.Scale(c.Radius, n))
	}
}

// surfaceNormal returns the outward direction from the sphere center to p and whether p is
// inside the sphere. A point at the center gets +Y.
func (c Collider) surfaceNormal(p ms3.Vec) (n ms3.Vec, inside bool) {
	dir := ms3.Sub(p, c.Center)
	dist := ms3.Norm(dir)
	if dist < epstol {
		return ms3.Vec{Y: 1}, true
	}
	return ms3.Scale(1/dist, dir), dist < c.Radius
}
