// Package clotheval implements Verlet integration of cloth particles on the GPU
// via OpenGL compute shaders. The [VerletCompute] type satisfies [cloth.Integrator].
package clotheval

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/soypat/cloth"
	"github.com/soypat/geometry/ms3"
)

var errZeroInvoc = errors.New("zero or negative invocation size")

// ComputeConfig configures the compute shader dispatch.
type ComputeConfig struct {
	// InvocX is the local workgroup size in the X dimension. Typically 32 or 64.
	InvocX int
}

// gpuParticle is the std430 layout of a particle: three vec4 with the immovable
// flag stored in pos.w. Fields are plain arrays so the layout does not depend on
// the padding of ms3.Vec.
type gpuParticle struct {
	Pos [3]float32
	// Immovable is non-zero for pinned or massless particles.
	Immovable float32
	Prev      [4]float32
	Acc       [4]float32
}

func toVec3(v ms3.Vec) [3]float32 { return [3]float32{v.X, v.Y, v.Z} }

func toVec4(v ms3.Vec) [4]float32 { return [4]float32{v.X, v.Y, v.Z, 0} }

func fromVec(v []float32) ms3.Vec { return ms3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func packParticles(dst []gpuParticle, particles []cloth.Particle) []gpuParticle {
	dst = dst[:0]
	for i := range particles {
		p := &particles[i]
		var immovable float32
		if p.Immovable() {
			immovable = 1
		}
		dst = append(dst, gpuParticle{
			Pos:       toVec3(p.Position),
			Immovable: immovable,
			Prev:      toVec4(p.PrevPosition),
			Acc:       toVec4(p.Acceleration),
		})
	}
	return dst
}

// unpackParticles writes integrated positions back. Immovable particles are left untouched.
func unpackParticles(particles []cloth.Particle, src []gpuParticle) error {
	if len(particles) != len(src) {
		return errors.New("particle buffer length mismatch")
	}
	for i := range particles {
		p := &particles[i]
		if p.Immovable() {
			continue
		}
		p.PrevPosition = fromVec(src[i].Prev[:])
		p.Position = fromVec(src[i].Pos[:])
	}
	return nil
}

// packSpheres packs sphere colliders as vec4(center, radius). The result is never empty:
// a sphere of negative radius is skipped by the shader and stands in when there are no colliders.
func packSpheres(dst [][4]float32, colliders []cloth.Collider) [][4]float32 {
	dst = dst[:0]
	for _, c := range colliders {
		if c.Kind != cloth.ColliderSphere {
			continue
		}
		dst = append(dst, [4]float32{c.Center.X, c.Center.Y, c.Center.Z, c.Radius})
	}
	if len(dst) == 0 {
		dst = append(dst, [4]float32{0, 0, 0, -1})
	}
	return dst
}

func elemSize[T any]() int {
	var z T
	return int(unsafe.Sizeof(z))
}

func verletShader(cfg ComputeConfig) (string, error) {
	if cfg.InvocX < 1 {
		return "", errZeroInvoc
	}
	return fmt.Sprintf(verletShaderSource, cfg.InvocX) + "\x00", nil
}

const verletShaderSource = `#version 430
layout(local_size_x = %d, local_size_y = 1, local_size_z = 1) in;

struct Particle {
	vec4 pos; // w: immovable
	vec4 prev;
	vec4 acc;
};

layout(std430, binding = 0) buffer ParticleBuffer {
	Particle particles[];
};

layout(std430, binding = 1) readonly buffer SphereBuffer {
	vec4 spheres[]; // xyz: center, w: radius
};

uniform float TimeStep;

const float epstol = 6e-7;

bool surfaceNormal(vec3 p, vec3 center, float radius, out vec3 n) {
	vec3 dir = p - center;
	float dist = length(dir);
	if (dist < epstol) {
		n = vec3(0.0, 1.0, 0.0);
		return true;
	}
	n = dir / dist;
	return dist < radius;
}

vec3 collideSphere(vec3 center, float radius, vec3 pos, vec3 next, vec3 vel, float dt) {
	vec3 n;
	if (!surfaceNormal(next, center, radius, n)) {
		return next;
	}
	next = center + radius*n;
	float vn = dot(vel, n);
	if (vn > 0.0) {
		return next;
	}
	vec3 tangent = vel - vn*n;
	vec3 n0;
	surfaceNormal(pos, center, radius, n0);
	next = center + radius*n0 + dt*tangent;
	if (surfaceNormal(next, center, radius, n)) {
		next = center + radius*n;
	}
	return next;
}

void main() {
	uint gid = gl_GlobalInvocationID.x;
	if (gid >= uint(particles.length())) {
		return;
	}
	Particle p = particles[gid];
	if (p.pos.w != 0.0) {
		return;
	}
	float dt = TimeStep;
	vec3 pos = p.pos.xyz;
	vec3 next = 2.0*pos - p.prev.xyz + p.acc.xyz*dt*dt;
	vec3 vel = (next - pos) / (2.0*dt);
	for (int i = 0; i < spheres.length(); i++) {
		vec4 s = spheres[i];
		if (s.w <= 0.0) {
			continue;
		}
		next = collideSphere(s.xyz, s.w, pos, next, vel, dt);
	}
	particles[gid].prev = vec4(pos, 0.0);
	particles[gid].pos = vec4(next, 0.0);
}
`
