package cloth_test

import (
	"errors"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/cloth"
	"github.com/soypat/geometry/ms3"
)

// quietConfig has no external forces so only links move particles.
func quietConfig() cloth.Config {
	cfg := cloth.DefaultConfig()
	cfg.Gravity = ms3.Vec{}
	cfg.Drag = false
	return cfg
}

func TestRigidLinkEqualMassesSplitExcess(t *testing.T) {
	const rest = 2
	ps := []cloth.Particle{
		cloth.NewParticle(ms3.Vec{X: 0, Y: 1, Z: 0}, 1),
		cloth.NewParticle(ms3.Vec{X: 3, Y: 1, Z: 0}, 1),
	}
	l := cloth.Link{P1: 0, P2: 1, RestLength: rest, Discipline: cloth.RigidLink}
	degenerate := l.Update(ps, cloth.DefaultRestEpsilon)
	if degenerate {
		t.Fatal("unexpected degenerate link")
	}
	const tol = 1e-6
	// Excess length is 1: each endpoint moves 0.5 toward the other along X.
	want0 := ms3.Vec{X: 0.5, Y: 1}
	want1 := ms3.Vec{X: 2.5, Y: 1}
	if !vecEqualTol(ps[0].Position, want0, tol) || !vecEqualTol(ps[1].Position, want1, tol) {
		t.Errorf("got positions %v %v, want %v %v", ps[0].Position, ps[1].Position, want0, want1)
	}
	if got := l.Length(ps); math32.Abs(got-rest) > tol {
		t.Errorf("link length after relaxation %v, want %v", got, rest)
	}
}

func TestRigidLinkMassWeighting(t *testing.T) {
	ps := []cloth.Particle{
		cloth.NewParticle(ms3.Vec{}, 3),
		cloth.NewParticle(ms3.Vec{Y: 2}, 1),
	}
	l := cloth.Link{P1: 0, P2: 1, RestLength: 1}
	l.Update(ps, 0)
	const tol = 1e-6
	// Heavier particle takes a quarter of the unit excess.
	if !vecEqualTol(ps[0].Position, ms3.Vec{Y: 0.25}, tol) {
		t.Errorf("heavy particle at %v", ps[0].Position)
	}
	if !vecEqualTol(ps[1].Position, ms3.Vec{Y: 1.25}, tol) {
		t.Errorf("light particle at %v", ps[1].Position)
	}
}

func TestPinnedEndpointAbsorbsNoCorrection(t *testing.T) {
	// 2x2 lattice with spacing 1 and a single stretched link between (0,0) and (1,0).
	newBuilder := func() (*cloth.Builder, int) {
		var bld cloth.Builder
		for _, pos := range []ms3.Vec{{}, {X: 1}, {Z: -1}, {X: 1, Z: -1}} {
			bld.AddParticle(cloth.NewParticle(pos, 1))
		}
		li := bld.AddRigidLink(0, 1)
		bld.SetRestLength(li, 2)
		return &bld, li
	}
	want := ms3.Vec{X: 2}

	t.Run("link", func(t *testing.T) {
		ps := []cloth.Particle{cloth.NewParticle(ms3.Vec{}, 1), cloth.NewParticle(ms3.Vec{X: 1}, 1)}
		ps[0].Pinned = true
		l := cloth.Link{P1: 0, P2: 1, RestLength: 2}
		l.Update(ps, cloth.DefaultRestEpsilon)
		if ps[1].Position != want {
			t.Errorf("free endpoint at %v, want %v", ps[1].Position, want)
		}
		if ps[0].Position != (ms3.Vec{}) {
			t.Errorf("pinned endpoint moved to %v", ps[0].Position)
		}
	})
	for _, relax := range []cloth.Relaxation{cloth.GaussSeidel, cloth.Jacobi} {
		t.Run(relax.String(), func(t *testing.T) {
			bld, _ := newBuilder()
			cfg := quietConfig()
			cfg.RelaxIterations = 1
			cfg.Relaxation = relax
			sim, err := bld.Build(cfg)
			if err != nil {
				t.Fatal(err)
			}
			if err := sim.SetPinned(0, true); err != nil {
				t.Fatal(err)
			}
			if err := sim.Step(1.0 / 60); err != nil {
				t.Fatal(err)
			}
			got := sim.Particles()[1].Position
			if got != want {
				t.Errorf("free endpoint at %v, want %v", got, want)
			}
		})
	}
}

func TestLinkBothImmovableNoop(t *testing.T) {
	ps := []cloth.Particle{cloth.NewParticle(ms3.Vec{}, 0), cloth.NewParticle(ms3.Vec{X: 5}, 1)}
	ps[1].Pinned = true
	l := cloth.Link{P1: 0, P2: 1, RestLength: 1}
	l.Update(ps, 0)
	if ps[0].Position != (ms3.Vec{}) || ps[1].Position != (ms3.Vec{X: 5}) {
		t.Errorf("immovable endpoints moved: %v %v", ps[0].Position, ps[1].Position)
	}
}

func TestDegenerateLinkSkipped(t *testing.T) {
	for _, d := range []cloth.Discipline{cloth.RigidLink, cloth.Spring} {
		ps := []cloth.Particle{cloth.NewParticle(ms3.Vec{X: 1}, 1), cloth.NewParticle(ms3.Vec{X: 1}, 1)}
		l := cloth.Link{P1: 0, P2: 1, RestLength: 1, Discipline: d, Stiffness: 10, Damping: 1}
		if !l.Update(ps, 0) {
			t.Errorf("%s: expected coincident endpoints to be reported", d)
		}
		for i := range ps {
			if !finite(ps[i].Position) || !finite(ps[i].TotalForce) {
				t.Errorf("%s: non-finite state %+v", d, ps[i])
			}
		}
	}
	// Inside a simulation the skipped update is counted.
	var bld cloth.Builder
	bld.AddParticle(cloth.NewParticle(ms3.Vec{}, 1))
	bld.AddParticle(cloth.NewParticle(ms3.Vec{}, 1))
	li := bld.AddRigidLink(0, 1)
	bld.SetRestLength(li, 1)
	sim, err := bld.Build(quietConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.Step(0.01); err != nil {
		t.Fatal(err)
	}
	st := sim.Stats()
	if st.LastDegenerate != cloth.DefaultRelaxIterations || st.DegenerateLinks != cloth.DefaultRelaxIterations {
		t.Errorf("degenerate link updates not counted: %+v", st)
	}
}

func TestDegenerateCountMatchesAcrossRelaxations(t *testing.T) {
	for _, pinned := range []int{-1, 0, 1} {
		var got []int
		for _, relax := range []cloth.Relaxation{cloth.GaussSeidel, cloth.Jacobi} {
			var bld cloth.Builder
			for k := range 2 {
				p := cloth.NewParticle(ms3.Vec{}, 1)
				p.Pinned = k == pinned
				bld.AddParticle(p)
			}
			li := bld.AddRigidLink(0, 1)
			bld.SetRestLength(li, 1)
			cfg := quietConfig()
			cfg.Relaxation = relax
			sim, err := bld.Build(cfg)
			if err != nil {
				t.Fatal(err)
			}
			if err := sim.Step(0.01); err != nil {
				t.Fatal(err)
			}
			got = append(got, sim.Stats().LastDegenerate)
		}
		if got[0] != got[1] || got[0] != cloth.DefaultRelaxIterations {
			t.Errorf("pinned endpoint %d: gauss-seidel counted %d, jacobi counted %d, want %d", pinned, got[0], got[1], cloth.DefaultRelaxIterations)
		}
	}
}

func TestLinkInvalidEndpointsNoop(t *testing.T) {
	ps := []cloth.Particle{cloth.NewParticle(ms3.Vec{}, 1), cloth.NewParticle(ms3.Vec{X: 3}, 1)}
	for _, l := range []cloth.Link{{P1: -1, P2: 1}, {P1: 0, P2: 7}, {P1: 1, P2: 1}} {
		l.RestLength = 1
		l.Update(ps, 0)
	}
	if ps[0].Position != (ms3.Vec{}) || ps[1].Position != (ms3.Vec{X: 3}) {
		t.Error("link with invalid endpoint moved particles")
	}
}

func TestDisabledLinkNoop(t *testing.T) {
	cfg := cloth.DefaultConfig()
	cfg.Drag = false
	sim := newHangingLattice(t, 4, 4, cfg)
	for li := range sim.Links() {
		if err := sim.SetLinkDisabled(li, true); err != nil {
			t.Fatal(err)
		}
	}
	before := sim.AppendPositions(nil)
	for range 10 {
		if err := sim.Step(0.01); err != nil {
			t.Fatal(err)
		}
	}
	// With every link disabled free particles fall freely and the pinned row stays put.
	after := sim.AppendPositions(nil)
	fall := ms3.Sub(after[0], before[0])
	if fall.Y >= 0 {
		t.Fatalf("free particle did not fall: %v", fall)
	}
	ps := sim.Particles()
	for i := range before {
		got := ms3.Sub(after[i], before[i])
		if ps[i].Immovable() {
			if got != (ms3.Vec{}) {
				t.Errorf("pinned particle %d moved %v", i, got)
			}
		} else if !vecEqualTol(got, fall, 1e-5) {
			t.Errorf("particle %d displaced %v, want free fall %v", i, got, fall)
		}
	}
	if len(sim.AppendLineSegments(nil)) != 0 {
		t.Error("disabled links should not be listed as line segments")
	}
	if err := sim.SetLinkDisabled(len(sim.Links()), true); err == nil {
		t.Error("expected out of range error")
	}
}

func TestSpringAtRestLengthStaysAtRest(t *testing.T) {
	var bld cloth.Builder
	a := bld.AddParticle(cloth.NewParticle(ms3.Vec{X: 1, Y: 2, Z: 3}, 1))
	b := bld.AddParticle(cloth.NewParticle(ms3.Vec{X: 2, Y: 2, Z: 3}, 1))
	li := bld.AddSpring(a, b, 250, 2)
	sim, err := bld.Build(quietConfig())
	if err != nil {
		t.Fatal(err)
	}
	if rest := sim.Links()[li].RestLength; rest != 1 {
		t.Fatalf("rest length %v, want 1", rest)
	}
	ps := append([]cloth.Particle(nil), sim.Particles()...)
	l := sim.Links()[li]
	l.Update(ps, 0)
	for i := range ps {
		if ps[i].TotalForce != (ms3.Vec{}) {
			t.Fatalf("spring at rest length produced force %v on particle %d", ps[i].TotalForce, i)
		}
	}
	initial := sim.AppendPositions(nil)
	for range 100 {
		if err := sim.Step(1.0 / 240); err != nil {
			t.Fatal(err)
		}
	}
	for i, p := range sim.AppendPositions(nil) {
		if p != initial[i] {
			t.Errorf("particle %d drifted from rest %v -> %v", i, initial[i], p)
		}
	}
}

func TestSpringForcePair(t *testing.T) {
	ps := []cloth.Particle{cloth.NewParticle(ms3.Vec{}, 1), cloth.NewParticle(ms3.Vec{X: 2}, 1)}
	l := cloth.Link{P1: 0, P2: 1, RestLength: 1, Stiffness: 10, Discipline: cloth.Spring}
	l.Update(ps, 0)
	if ps[0].TotalForce != (ms3.Vec{X: 10}) || ps[1].TotalForce != (ms3.Vec{X: -10}) {
		t.Errorf("stretched spring forces %v %v, want (10,0,0) (-10,0,0)", ps[0].TotalForce, ps[1].TotalForce)
	}
	// Pinned endpoints still receive force, the integrator keeps them in place.
	ps[0].TotalForce, ps[1].TotalForce = ms3.Vec{}, ms3.Vec{}
	ps[0].Pinned = true
	l.Update(ps, 0)
	if ps[0].TotalForce == (ms3.Vec{}) {
		t.Error("pinned spring endpoint should still accumulate force")
	}
}

func TestImmovableInvariant(t *testing.T) {
	const w, h = 8, 6
	cfg := cloth.DefaultConfig()
	lcfg := cloth.LatticeConfig{
		Width: w, Height: h, Spacing: 0.1, Mass: 0.01,
		Pin:         cloth.PinCorners(w, h),
		Shear:       true,
		CloseBorder: true,
	}
	for _, disc := range []cloth.Discipline{cloth.RigidLink, cloth.Spring} {
		lcfg.Discipline = disc
		lcfg.Stiffness, lcfg.Damping = 10, 0.01
		sim, err := cloth.NewLattice(lcfg, cfg)
		if err != nil {
			t.Fatal(err)
		}
		// Pin an interior particle as well.
		mid := sim.Index(w/2, h/2)
		if err := sim.SetPinned(mid, true); err != nil {
			t.Fatal(err)
		}
		if err := sim.SetColliders(cloth.Sphere(ms3.Vec{X: 0.35, Y: -0.2, Z: -0.25}, 0.15)); err != nil {
			t.Fatal(err)
		}
		initial := sim.AppendPositions(nil)
		for range 300 {
			if err := sim.Step(1.0 / 240); err != nil {
				t.Fatal(err)
			}
		}
		ps := sim.Particles()
		for i := range ps {
			if ps[i].Immovable() && ps[i].Position != initial[i] {
				t.Errorf("%s: immovable particle %d moved %v -> %v", disc, i, initial[i], ps[i].Position)
			}
		}
		if ps[sim.Index(1, 1)].Position == initial[sim.Index(1, 1)] {
			t.Errorf("%s: free particle did not move", disc)
		}
	}
}

func TestZeroMassParticleImmovable(t *testing.T) {
	var bld cloth.Builder
	anchor := bld.AddParticle(cloth.NewParticle(ms3.Vec{Y: 1}, 0))
	bob := bld.AddParticle(cloth.NewParticle(ms3.Vec{X: 0.5, Y: 1}, 1))
	bld.AddRigidLink(anchor, bob)
	sim, err := bld.Build(cloth.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for range 500 {
		if err := sim.Step(1.0 / 240); err != nil {
			t.Fatal(err)
		}
	}
	ps := sim.Particles()
	if ps[anchor].Position != (ms3.Vec{Y: 1}) {
		t.Errorf("zero mass anchor moved to %v", ps[anchor].Position)
	}
	if ps[anchor].Velocity() != (ms3.Vec{}) {
		t.Error("immovable particle should report zero velocity")
	}
	// Pendulum keeps its length.
	if got := sim.Links()[0].Length(ps); math32.Abs(got-0.5) > 1e-3 {
		t.Errorf("pendulum length %v, want 0.5", got)
	}
}

func TestEnergyNoExplosion(t *testing.T) {
	const w, h, spacing = 12, 12, 0.1
	const extent = spacing * (w - 1)
	for _, tc := range []struct {
		name  string
		lcfg  cloth.LatticeConfig
		relax cloth.Relaxation
	}{
		{name: "rigid", lcfg: cloth.LatticeConfig{Discipline: cloth.RigidLink}},
		{name: "rigid-jacobi", lcfg: cloth.LatticeConfig{Discipline: cloth.RigidLink}, relax: cloth.Jacobi},
		{name: "spring", lcfg: cloth.LatticeConfig{Discipline: cloth.Spring, Stiffness: 20, Damping: 0.02}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lcfg := tc.lcfg
			lcfg.Width, lcfg.Height, lcfg.Spacing, lcfg.Mass = w, h, spacing, 0.01
			lcfg.Pin = cloth.PinCorners(w, h)
			lcfg.Shear = true
			lcfg.CloseBorder = true
			cfg := cloth.DefaultConfig()
			cfg.Relaxation = tc.relax
			sim, err := cloth.NewLattice(lcfg, cfg)
			if err != nil {
				t.Fatal(err)
			}
			for range 1000 {
				if err := sim.Step(1.0 / 240); err != nil {
					t.Fatal(err)
				}
			}
			for i, p := range sim.AppendPositions(nil) {
				if !finite(p) || ms3.Norm(p) > 100*extent {
					t.Fatalf("particle %d blew up to %v", i, p)
				}
			}
		})
	}
}

func TestResetIdempotence(t *testing.T) {
	lcfg := cloth.LatticeConfig{
		Width: 7, Height: 5, Spacing: 0.13, Mass: 0.02,
		Origin: ms3.Vec{X: -1, Y: 3},
		Pin:    cloth.PinRow(5, -1),
		Plane:  cloth.PlaneXY,
		Shear:  true, CloseBorder: true,
	}
	sim1, err := cloth.NewLattice(lcfg, cloth.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	sim2, err := cloth.NewLattice(lcfg, cloth.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	assertSameState(t, sim1, sim2)
	initial := sim1.AppendPositions(nil)
	for range 30 {
		if err := sim1.Step(1.0 / 120); err != nil {
			t.Fatal(err)
		}
	}
	if err := sim1.SetPinned(0, true); err != nil {
		t.Fatal(err)
	}
	sim1.Reset()
	sim1.Reset()
	assertSameState(t, sim1, sim2)
	for i, p := range sim1.AppendPositions(nil) {
		if p != initial[i] {
			t.Fatalf("particle %d not restored: %v != %v", i, p, initial[i])
		}
	}
	if sim1.Stats().Steps != 0 {
		t.Error("reset should clear step statistics")
	}
}

func TestExecutorsBitIdentical(t *testing.T) {
	const w, h = 24, 20
	for _, tc := range []struct {
		name  string
		disc  cloth.Discipline
		relax cloth.Relaxation
	}{
		{"spring", cloth.Spring, cloth.GaussSeidel},
		{"rigid", cloth.RigidLink, cloth.GaussSeidel},
		{"jacobi", cloth.RigidLink, cloth.Jacobi},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lcfg := cloth.LatticeConfig{
				Width: w, Height: h, Spacing: 0.05, Mass: 0.005,
				Pin:        cloth.PinCorners(w, h),
				Discipline: tc.disc, Stiffness: 5, Damping: 0.01,
				Shear: true, CloseBorder: true,
			}
			serialCfg := cloth.DefaultConfig()
			serialCfg.Relaxation = tc.relax
			parallelCfg := serialCfg
			parallelCfg.Executor = cloth.NewWorkerPool(4)
			serial, err := cloth.NewLattice(lcfg, serialCfg)
			if err != nil {
				t.Fatal(err)
			}
			parallel, err := cloth.NewLattice(lcfg, parallelCfg)
			if err != nil {
				t.Fatal(err)
			}
			for range 120 {
				if err := serial.Step(1.0 / 240); err != nil {
					t.Fatal(err)
				}
				if err := parallel.Step(1.0 / 240); err != nil {
					t.Fatal(err)
				}
			}
			assertSameState(t, serial, parallel)
		})
	}
}

func TestSphereColliderKeepsParticleOutside(t *testing.T) {
	const radius = 0.5
	center := ms3.Vec{X: 0.05}
	var bld cloth.Builder
	bld.AddParticle(cloth.NewParticle(ms3.Vec{Y: 1}, 1))
	cfg := cloth.DefaultConfig()
	cfg.Drag = false
	sim, err := bld.Build(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := sim.SetColliders(cloth.Sphere(center, radius)); err != nil {
		t.Fatal(err)
	}
	for range 600 {
		if err := sim.Step(1.0 / 240); err != nil {
			t.Fatal(err)
		}
		p := sim.Particles()[0].Position
		if d := ms3.Norm(ms3.Sub(p, center)); d < radius*(1-1e-5) {
			t.Fatalf("particle penetrated sphere: distance %v < %v", d, radius)
		}
	}
	// Particle comes to rest on the surface instead of bouncing away.
	p := sim.Particles()[0].Position
	if d := ms3.Norm(ms3.Sub(p, center)); d > radius+0.01 || p.Y < 0 {
		t.Errorf("particle should rest on top of the sphere, at %v (distance %v)", p, d)
	}
	if err := sim.SetColliders(cloth.Sphere(ms3.Vec{}, -1)); err == nil {
		t.Error("expected error for negative sphere radius")
	}
}

func TestInvalidTimeStepIgnored(t *testing.T) {
	sim := newHangingLattice(t, 3, 3, cloth.DefaultConfig())
	initial := sim.AppendPositions(nil)
	for _, dt := range []float32{0, -1, math32.NaN(), math32.Inf(1)} {
		if err := sim.Step(dt); err != nil {
			t.Fatal(err)
		}
	}
	for i, p := range sim.AppendPositions(nil) {
		if p != initial[i] {
			t.Fatalf("particle %d moved on invalid step", i)
		}
	}
	st := sim.Stats()
	if st.RejectedSteps != 4 || st.Steps != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestTimeStepClamped(t *testing.T) {
	cfg := cloth.DefaultConfig()
	cfg.MaxTimeStep = 1.0 / 60
	sim := newHangingLattice(t, 3, 3, cfg)
	if err := sim.Step(5); err != nil {
		t.Fatal(err)
	}
	free := sim.Particles()[sim.Index(1, 0)]
	if free.TimeStep() != cfg.MaxTimeStep {
		t.Errorf("time step %v, want clamped %v", free.TimeStep(), cfg.MaxTimeStep)
	}
	if sim.Stats().ClampedSteps != 1 {
		t.Errorf("clamp not counted: %+v", sim.Stats())
	}
}

func TestFixedStepper(t *testing.T) {
	sim := newHangingLattice(t, 3, 3, cloth.DefaultConfig())
	fs := cloth.FixedStepper{Sim: sim, TimeStep: 0.25}
	steps := []struct {
		frame float32
		want  int
	}{
		{0.6, 2},
		{0.2, 1},
		{0.1, 0},
		{0, 0},
	}
	for _, step := range steps {
		n, err := fs.Advance(step.frame)
		if err != nil {
			t.Fatal(err)
		} else if n != step.want {
			t.Errorf("Advance(%v) took %d steps, want %d", step.frame, n, step.want)
		}
	}
	if sim.Stats().Steps != 3 {
		t.Errorf("simulation stepped %d times, want 3", sim.Stats().Steps)
	}
	fs.MaxSubsteps = 2
	n, _ := fs.Advance(10)
	if n != 2 || fs.Pending() != 0 {
		t.Errorf("capped advance took %d steps with %v pending", n, fs.Pending())
	}
	if n, _ = fs.Advance(0.2); n != 0 || fs.Pending() == 0 {
		t.Fatalf("short frame took %d steps with %v pending", n, fs.Pending())
	}
	fs.Reset()
	if fs.Pending() != 0 {
		t.Errorf("reset left %v pending", fs.Pending())
	}
	if n, _ = fs.Advance(0.1); n != 0 {
		t.Errorf("advance after reset took %d steps from a discarded backlog", n)
	}
	var empty cloth.FixedStepper
	if _, err := empty.Advance(1); err == nil {
		t.Error("expected error for stepper without simulation")
	}
}

func TestNormalEstimation(t *testing.T) {
	const w, h = 5, 5
	sim, err := cloth.NewLattice(cloth.LatticeConfig{Width: w, Height: h, Spacing: 0.5, Mass: 1}, cloth.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	const tol = 1e-6
	// Edge particle has three neighbours in insertion order: previous row, next row, next column.
	if n := sim.Normal(sim.Index(0, 2)); !vecEqualTol(n, ms3.Vec{Y: -1}, tol) {
		t.Errorf("edge normal %v, want (0,-1,0)", n)
	}
	// Two neighbours always cancel and symmetric interiors sum to zero.
	if n := sim.Normal(sim.Index(0, 0)); n != (ms3.Vec{}) {
		t.Errorf("corner normal %v, want zero", n)
	}
	if n := sim.Normal(sim.Index(2, 2)); n != (ms3.Vec{}) {
		t.Errorf("interior normal %v, want zero", n)
	}
	if n := sim.Normal(-1); n != (ms3.Vec{}) {
		t.Error("out of range normal should be zero")
	}
	normals := sim.AppendNormals(nil)
	if len(normals) != sim.Len() {
		t.Errorf("got %d normals for %d particles", len(normals), sim.Len())
	}
}

func TestLatticeTopology(t *testing.T) {
	const w, h, spacing = 4, 3, 0.25
	count := func(links []cloth.Link, kind cloth.LinkKind) (n int) {
		for _, l := range links {
			if l.Kind == kind {
				n++
			}
		}
		return n
	}
	sim, err := cloth.NewLattice(cloth.LatticeConfig{
		Width: w, Height: h, Spacing: spacing, Mass: 1,
		Shear: true, CloseBorder: true,
	}, cloth.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	cells := (w - 1) * (h - 1)
	links := sim.Links()
	if got := count(links, cloth.Structural); got != 2*cells {
		t.Errorf("structural links %d, want %d", got, 2*cells)
	}
	if got := count(links, cloth.Border); got != (w-1)+(h-1) {
		t.Errorf("border links %d, want %d", got, (w-1)+(h-1))
	}
	if got := count(links, cloth.Shear); got != 2*cells {
		t.Errorf("shear links %d, want %d", got, 2*cells)
	}
	for _, l := range links {
		want := float32(spacing)
		if l.Kind == cloth.Shear {
			want = cloth.ShearRestLength(spacing)
		}
		if math32.Abs(l.RestLength-want) > 1e-6 {
			t.Errorf("%s link rest length %v, want %v", l.Kind, l.RestLength, want)
		}
	}
	a, b, ok := sim.LinkEndpoints(0)
	if !ok || a != sim.Particles()[sim.Index(0, 0)].Position || b != sim.Particles()[sim.Index(0, 1)].Position {
		t.Errorf("first link endpoints %v %v", a, b)
	}
	if _, _, ok := sim.LinkEndpoints(len(links)); ok {
		t.Error("out of range link reported endpoints")
	}
	idx := sim.AppendMeshIndices(nil)
	if len(idx) != 6*cells {
		t.Fatalf("got %d mesh indices, want %d", len(idx), 6*cells)
	}
	for _, i := range idx {
		if int(i) >= sim.Len() {
			t.Fatalf("mesh index %d out of range", i)
		}
	}
	bb := sim.Bounds()
	if bb.Size() != (ms3.Vec{X: spacing * (w - 1), Z: spacing * (h - 1)}) {
		t.Errorf("unexpected lattice bounds %+v", bb)
	}

	// A single row is chained.
	row, err := cloth.NewLattice(cloth.LatticeConfig{Width: 5, Height: 1, Spacing: 1, Mass: 1}, cloth.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(row.Links()) != 4 {
		t.Errorf("chain has %d links, want 4", len(row.Links()))
	}
}

func TestBuilderErrors(t *testing.T) {
	bld := cloth.Builder{NoDimensionPanic: true}
	bld.AddParticle(cloth.NewParticle(ms3.Vec{}, -1))
	bld.AddRigidLink(0, 0)
	bld.AddRigidLink(0, 3)
	bld.SetRestLength(10, 1)
	if _, err := bld.Build(cloth.DefaultConfig()); err == nil {
		t.Error("expected accumulated builder errors")
	}

	var panicking cloth.Builder
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on invalid link without NoDimensionPanic")
			}
		}()
		panicking.AddRigidLink(0, 1)
	}()

	for _, lcfg := range []cloth.LatticeConfig{
		{Width: 0, Height: 2, Spacing: 1},
		{Width: 2, Height: 2, Spacing: 0},
		{Width: 2, Height: 2, Spacing: 1, Mass: float32(math.NaN())},
	} {
		if _, err := cloth.NewLattice(lcfg, cloth.DefaultConfig()); err == nil {
			t.Errorf("expected error for lattice %+v", lcfg)
		}
	}
	cfg := cloth.DefaultConfig()
	cfg.RelaxIterations = -1
	cfg.MinTimeStep, cfg.MaxTimeStep = 1, 0.5
	_, err := cloth.NewLattice(cloth.LatticeConfig{Width: 2, Height: 2, Spacing: 1, Mass: 1}, cfg)
	if err == nil {
		t.Error("expected config validation error")
	}
	sim := newHangingLattice(t, 2, 2, cloth.DefaultConfig())
	if _, err := sim.Particle(99); err == nil {
		t.Error("expected out of range particle error")
	}
	if err := sim.SetPinned(-1, true); err == nil {
		t.Error("expected out of range pin error")
	}
}

type failingExecutor struct{}

var errExecutor = errors.New("executor failed")

func (failingExecutor) Run(n int, fn func(lo, hi int)) error { return errExecutor }

func TestStepPropagatesBackendError(t *testing.T) {
	cfg := cloth.DefaultConfig()
	cfg.Executor = failingExecutor{}
	sim := newHangingLattice(t, 2, 2, cfg)
	if err := sim.Step(0.01); !errors.Is(err, errExecutor) {
		t.Errorf("got error %v, want %v", err, errExecutor)
	}
}

func newHangingLattice(t *testing.T, w, h int, cfg cloth.Config) *cloth.Simulation {
	t.Helper()
	sim, err := cloth.NewLattice(cloth.LatticeConfig{
		Width: w, Height: h, Spacing: 0.1, Mass: 0.01,
		Plane: cloth.PlaneXY,
		Pin:   cloth.PinRow(h, -1),
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return sim
}

func assertSameState(t *testing.T, a, b *cloth.Simulation) {
	t.Helper()
	pa, pb := a.Particles(), b.Particles()
	if len(pa) != len(pb) {
		t.Fatalf("particle count mismatch %d != %d", len(pa), len(pb))
	}
	for i := range pa {
		if pa[i].Position != pb[i].Position || pa[i].PrevPosition != pb[i].PrevPosition {
			t.Fatalf("particle %d differs: %v != %v", i, pa[i].Position, pb[i].Position)
		}
	}
	la, lb := a.Links(), b.Links()
	if len(la) != len(lb) {
		t.Fatalf("link count mismatch %d != %d", len(la), len(lb))
	}
	for i := range la {
		if la[i] != lb[i] {
			t.Fatalf("link %d differs: %+v != %+v", i, la[i], lb[i])
		}
	}
}

func vecEqualTol(a, b ms3.Vec, tol float32) bool {
	return ms3.Norm(ms3.Sub(a, b)) <= tol
}

func finite(v ms3.Vec) bool {
	return !math32.IsNaN(v.X+v.Y+v.Z) && !math32.IsInf(v.X+v.Y+v.Z, 0)
}
