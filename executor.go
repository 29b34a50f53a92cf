package cloth

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Executor fans out independent per-particle work over the index range [0,n).
// Run must not return before every call to fn has returned.
type Executor interface {
	Run(n int, fn func(lo, hi int)) error
}

// Integrator advances every movable particle by one Verlet step of dt, applying colliders
// to the proposed positions. Implementations may run on the CPU or on a GPU.
type Integrator interface {
	Integrate(particles []Particle, colliders []Collider, dt float32) error
}

// Serial runs all work on the calling goroutine.
type Serial struct{}

func (Serial) Run(n int, fn func(lo, hi int)) error {
	if n > 0 {
		fn(0, n)
	}
	return nil
}

// WorkerPool splits work into contiguous chunks run on a bounded number of goroutines.
type WorkerPool struct {
	workers  int
	minChunk int
}

// NewWorkerPool returns a pool using at most workers goroutines. Non-positive workers
// means runtime.GOMAXPROCS(0).
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{workers: workers, minChunk: 64}
}

// Workers returns the maximum amount of goroutines used by Run.
func (wp *WorkerPool) Workers() int { return wp.workers }

func (wp *WorkerPool) Run(n int, fn func(lo, hi int)) error {
	if n <= 0 {
		return nil
	}
	chunk := (n + wp.workers - 1) / wp.workers
	if chunk < wp.minChunk {
		chunk = wp.minChunk
	}
	if chunk >= n {
		fn(0, n)
		return nil
	}
	var g errgroup.Group
	g.SetLimit(wp.workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

// CPUIntegrator integrates particles on the CPU using Executor to parallelize.
type CPUIntegrator struct {
	Executor Executor
}

func (ci *CPUIntegrator) Integrate(particles []Particle, colliders []Collider, dt float32) error {
	exec := ci.Executor
	if exec == nil {
		exec = Serial{}
	}
	return exec.Run(len(particles), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			particles[i].integrate(dt, colliders)
		}
	})
}
