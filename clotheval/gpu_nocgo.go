//go:build tinygo || !cgo

package clotheval

import (
	"errors"

	"github.com/soypat/cloth"
)

var errNoCGO = errors.New("GPU integration requires CGo and is not supported on TinyGo")

// Init1x1GLFW starts a 1x1 sized GLFW so that user can start working with GPU.
func Init1x1GLFW() (terminate func(), err error) {
	return nil, errNoCGO
}

// VerletCompute integrates particles with a compute shader.
type VerletCompute struct{}

var _ cloth.Integrator = (*VerletCompute)(nil)

// NewVerletCompute compiles the integration shader.
func NewVerletCompute(cfg ComputeConfig) (*VerletCompute, error) {
	if _, err := verletShader(cfg); err != nil {
		return nil, err
	}
	return nil, errNoCGO
}

func (vc *VerletCompute) Dispatches() uint64 { return 0 }

func (vc *VerletCompute) Integrate(particles []cloth.Particle, colliders []cloth.Collider, dt float32) error {
	return errNoCGO
}

func (vc *VerletCompute) Delete() {}
