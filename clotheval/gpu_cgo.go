//go:build !tinygo && cgo

package clotheval

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/soypat/cloth"
	"github.com/soypat/glgl/v4.6-core/glgl"
)

// Init1x1GLFW starts a 1x1 sized GLFW so that user can start working with GPU.
// It returns a termination function that should be called when user is done running loads on GPU.
// Must be called from the main OS thread, see [runtime.LockOSThread].
func Init1x1GLFW() (terminate func(), err error) {
	_, terminate, err = glgl.InitWithCurrentWindow33(glgl.WindowConfig{
		Title:   "compute",
		Version: [2]int{4, 6},
		Width:   1,
		Height:  1,
	})
	return terminate, err
}

// VerletCompute integrates particles with a compute shader. A GL context must be current
// on the calling thread for every method, including NewVerletCompute.
type VerletCompute struct {
	prog       glgl.Program
	invocX     int
	particles  []gpuParticle
	spheres    [][4]float32
	dispatches uint64
}

var _ cloth.Integrator = (*VerletCompute)(nil)

// NewVerletCompute compiles the integration shader.
func NewVerletCompute(cfg ComputeConfig) (*VerletCompute, error) {
	src, err := verletShader(cfg)
	if err != nil {
		return nil, err
	}
	prog, err := glgl.CompileProgram(glgl.ShaderSource{Compute: src})
	if err != nil {
		return nil, fmt.Errorf("compiling verlet shader: %w", err)
	}
	return &VerletCompute{prog: prog, invocX: cfg.InvocX}, nil
}

// Dispatches returns the amount of compute dispatches issued.
func (vc *VerletCompute) Dispatches() uint64 { return vc.dispatches }

// Integrate implements [cloth.Integrator].
func (vc *VerletCompute) Integrate(particles []cloth.Particle, colliders []cloth.Collider, dt float32) error {
	if vc.prog.ID() == 0 {
		return errors.New("program id is 0, did you use NewVerletCompute?")
	} else if len(particles) == 0 {
		return nil
	}
	vc.particles = packParticles(vc.particles, particles)
	vc.spheres = packSpheres(vc.spheres, colliders)

	prog := vc.prog
	prog.Bind()
	defer prog.Unbind()
	prog.SetUniform1f("TimeStep\x00", dt)
	err := glgl.Err()
	if err != nil {
		return fmt.Errorf("setting time step uniform: %w", err)
	}

	var p runtime.Pinner
	var particleSSBO, sphereSSBO uint32
	p.Pin(&particleSSBO)
	p.Pin(&sphereSSBO)
	defer p.Unpin()
	particleSSBO = loadSSBO(vc.particles, 0, gl.DYNAMIC_COPY)
	if particleSSBO == 0 {
		return glErrOrMessage("loading particle SSBO got zero id")
	}
	defer gl.DeleteBuffers(1, &particleSSBO)
	sphereSSBO = loadSSBO(vc.spheres, 1, gl.STATIC_DRAW)
	if sphereSSBO == 0 {
		return glErrOrMessage("loading sphere SSBO got zero id")
	}
	defer gl.DeleteBuffers(1, &sphereSSBO)

	nWorkX := (len(particles) + vc.invocX - 1) / vc.invocX
	gl.DispatchCompute(uint32(nWorkX), 1, 1)
	gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT)
	err = glgl.Err()
	if err != nil {
		return fmt.Errorf("dispatching verlet shader: %w", err)
	}
	vc.dispatches++
	err = copySSBO(vc.particles, particleSSBO)
	if err != nil {
		return err
	}
	return unpackParticles(particles, vc.particles)
}

// Delete releases the GL program.
func (vc *VerletCompute) Delete() {
	vc.prog.Delete()
}

func loadSSBO[T any](slice []T, base, usage uint32) (ssbo uint32) {
	var p runtime.Pinner
	p.Pin(&ssbo)
	gl.GenBuffers(1, &ssbo)
	p.Unpin()
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, ssbo)
	size := len(slice) * elemSize[T]()
	gl.BufferData(gl.SHADER_STORAGE_BUFFER, size, unsafe.Pointer(&slice[0]), usage)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, base, ssbo)
	return ssbo
}

func copySSBO[T any](dst []T, ssbo uint32) error {
	bufSize := elemSize[T]() * len(dst)
	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, ssbo)
	ptr := gl.MapBufferRange(gl.SHADER_STORAGE_BUFFER, 0, bufSize, gl.MAP_READ_BIT)
	if ptr == nil {
		return glErrOrMessage("failed to map SSBO buffer during copy")
	}
	defer gl.UnmapBuffer(gl.SHADER_STORAGE_BUFFER)
	gpuBytes := unsafe.Slice((*byte)(ptr), bufSize)
	bufBytes := unsafe.Slice((*byte)(unsafe.Pointer(&dst[0])), bufSize)
	copy(bufBytes, gpuBytes)
	return nil
}

func glErrOrMessage(defaultMsg string) (err error) {
	err = glgl.Err()
	if err == nil {
		err = errors.New(defaultMsg)
	} else {
		err = fmt.Errorf("%s: %w", defaultMsg, err)
	}
	return err
}
