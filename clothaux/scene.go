package clothaux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pelletier/go-toml/v2"
	"github.com/soypat/cloth"
	"github.com/soypat/geometry/ms3"
)

// Scene describes a lattice simulation and how to drive it. Scenes are stored as TOML.
type Scene struct {
	Lattice LatticeScene  `toml:"lattice"`
	Physics PhysicsScene  `toml:"physics"`
	Spheres []SphereScene `toml:"sphere"`
	Run     RunScene      `toml:"run"`
}

type LatticeScene struct {
	Width   int        `toml:"width"`
	Height  int        `toml:"height"`
	Spacing float32    `toml:"spacing"`
	Mass    float32    `toml:"mass"`
	Origin  [3]float32 `toml:"origin"`
	// Plane is "xz" or "xy".
	Plane string `toml:"plane"`
	// Pin is "corners", "top" or "none".
	Pin string `toml:"pin"`
	// Discipline is "rigid" or "spring".
	Discipline      string  `toml:"discipline"`
	Stiffness       float32 `toml:"stiffness"`
	Damping         float32 `toml:"damping"`
	Shear           bool    `toml:"shear"`
	CloseBorder     bool    `toml:"close_border"`
	DragCoefficient float32 `toml:"drag_coefficient"`
	ProjectedArea   float32 `toml:"projected_area"`
	AreaFromSpacing bool    `toml:"area_from_spacing"`
}

type PhysicsScene struct {
	Gravity         [3]float32 `toml:"gravity"`
	AirDensity      float32    `toml:"air_density"`
	Wind            [3]float32 `toml:"wind"`
	Drag            bool       `toml:"drag"`
	RelaxIterations int        `toml:"relax_iterations"`
	// Relaxation is "gauss-seidel" or "jacobi".
	Relaxation  string  `toml:"relaxation"`
	RestEpsilon float32 `toml:"rest_epsilon"`
	MinTimeStep float32 `toml:"min_time_step"`
	MaxTimeStep float32 `toml:"max_time_step"`
}

type SphereScene struct {
	Center [3]float32 `toml:"center"`
	Radius float32    `toml:"radius"`
}

type RunScene struct {
	// TimeStep is the fixed simulation step in seconds.
	TimeStep    float32 `toml:"time_step"`
	MaxSubsteps int     `toml:"max_substeps"`
	// TimeScale multiplies wall clock frame time before it is simulated.
	TimeScale float32 `toml:"time_scale"`
	// Workers is the size of the CPU worker pool. 1 runs serially, 0 uses GOMAXPROCS.
	Workers int `toml:"workers"`
	// Steps is the amount of steps run by headless programs.
	Steps int `toml:"steps"`
}

// DefaultScene returns the rigid-link fabric scene: a 50x50 lattice with spacing 0.1 hung
// from its corners above a unit sphere.
func DefaultScene() Scene {
	cfg := cloth.DefaultConfig()
	return Scene{
		Lattice: LatticeScene{
			Width: 50, Height: 50, Spacing: 0.1, Mass: 0.01,
			Plane:       "xz",
			Pin:         "corners",
			Discipline:  "rigid",
			CloseBorder: true,
		},
		Physics: physicsFromConfig(cfg),
		Spheres: []SphereScene{{Center: [3]float32{3, -1.5, -3}, Radius: 1}},
		Run: RunScene{
			TimeStep:    1.0 / 120,
			MaxSubsteps: 8,
			TimeScale:   1 / 1.5,
			Workers:     1,
			Steps:       600,
		},
	}
}

// MassSpringScene returns the spring discipline scene: a coarse heavy lattice of damped
// springs falling onto a large sphere.
func MassSpringScene() Scene {
	s := DefaultScene()
	s.Lattice.Spacing = 0.5
	s.Lattice.Mass = 0.5
	s.Lattice.Discipline = "spring"
	s.Lattice.Stiffness = 800
	s.Lattice.Damping = 15
	s.Spheres = []SphereScene{{Center: [3]float32{13.5, -10, -13.5}, Radius: 8}}
	return s
}

func physicsFromConfig(cfg cloth.Config) PhysicsScene {
	return PhysicsScene{
		Gravity:         vecToArray(cfg.Gravity),
		AirDensity:      cfg.AirDensity,
		Wind:            vecToArray(cfg.Wind),
		Drag:            cfg.Drag,
		RelaxIterations: cfg.RelaxIterations,
		Relaxation:      cfg.Relaxation.String(),
		RestEpsilon:     cfg.RestEpsilon,
		MinTimeStep:     cfg.MinTimeStep,
		MaxTimeStep:     cfg.MaxTimeStep,
	}
}

// LoadScene decodes a TOML scene. Keys absent from the document keep the values of
// [DefaultScene], except spheres which are exactly those listed. Unknown keys are an error.
func LoadScene(r io.Reader) (Scene, error) {
	s := DefaultScene()
	s.Spheres = nil
	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&s)
	if err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return Scene{}, fmt.Errorf("decoding scene: %s", serr.String())
		}
		return Scene{}, fmt.Errorf("decoding scene: %w", err)
	}
	return s, s.Validate()
}

// WriteScene encodes s as TOML.
func WriteScene(w io.Writer, s Scene) error {
	return toml.NewEncoder(w).Encode(s)
}

// Validate checks the enumerated string fields of the scene.
func (s Scene) Validate() error {
	var errs []error
	if _, err := parsePlane(s.Lattice.Plane); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDiscipline(s.Lattice.Discipline); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseRelaxation(s.Physics.Relaxation); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.pinFunc(); err != nil {
		errs = append(errs, err)
	}
	if s.Run.TimeStep <= 0 {
		errs = append(errs, fmt.Errorf("non-positive time step %v", s.Run.TimeStep))
	}
	if s.Run.Workers < 0 {
		errs = append(errs, fmt.Errorf("negative worker count %d", s.Run.Workers))
	}
	return errors.Join(errs...)
}

// LatticeConfig returns the lattice parameters of the scene.
func (s Scene) LatticeConfig() (cloth.LatticeConfig, error) {
	l := s.Lattice
	plane, err := parsePlane(l.Plane)
	if err != nil {
		return cloth.LatticeConfig{}, err
	}
	disc, err := parseDiscipline(l.Discipline)
	if err != nil {
		return cloth.LatticeConfig{}, err
	}
	pin, err := s.pinFunc()
	if err != nil {
		return cloth.LatticeConfig{}, err
	}
	return cloth.LatticeConfig{
		Width:           l.Width,
		Height:          l.Height,
		Spacing:         l.Spacing,
		Mass:            l.Mass,
		Origin:          arrayToVec(l.Origin),
		Plane:           plane,
		Pin:             pin,
		Discipline:      disc,
		Stiffness:       l.Stiffness,
		Damping:         l.Damping,
		Shear:           l.Shear,
		CloseBorder:     l.CloseBorder,
		DragCoefficient: l.DragCoefficient,
		ProjectedArea:   l.ProjectedArea,
		AreaFromSpacing: l.AreaFromSpacing,
	}, nil
}

// Config returns the simulation configuration of the scene. The executor is chosen
// from Run.Workers and log is used as the simulation logger.
func (s Scene) Config(log *slog.Logger) (cloth.Config, error) {
	p := s.Physics
	relax, err := parseRelaxation(p.Relaxation)
	if err != nil {
		return cloth.Config{}, err
	}
	cfg := cloth.Config{
		Gravity:         arrayToVec(p.Gravity),
		AirDensity:      p.AirDensity,
		Wind:            arrayToVec(p.Wind),
		Drag:            p.Drag,
		RelaxIterations: p.RelaxIterations,
		Relaxation:      relax,
		RestEpsilon:     p.RestEpsilon,
		MinTimeStep:     p.MinTimeStep,
		MaxTimeStep:     p.MaxTimeStep,
		Logger:          log,
	}
	if s.Run.Workers != 1 {
		cfg.Executor = cloth.NewWorkerPool(s.Run.Workers)
	}
	return cfg, nil
}

// Colliders returns the sphere colliders of the scene.
func (s Scene) Colliders() []cloth.Collider {
	colliders := make([]cloth.Collider, len(s.Spheres))
	for i, sph := range s.Spheres {
		colliders[i] = cloth.Sphere(arrayToVec(sph.Center), sph.Radius)
	}
	return colliders
}

// Build creates the scene's lattice simulation with its colliders set. cfg overrides may be
// applied by modifying the result of [Scene.Config] and calling [Scene.BuildWithConfig].
func (s Scene) Build(log *slog.Logger) (*cloth.Simulation, error) {
	cfg, err := s.Config(log)
	if err != nil {
		return nil, err
	}
	return s.BuildWithConfig(cfg)
}

// BuildWithConfig creates the scene's lattice simulation using cfg instead of the scene physics.
func (s Scene) BuildWithConfig(cfg cloth.Config) (*cloth.Simulation, error) {
	lcfg, err := s.LatticeConfig()
	if err != nil {
		return nil, err
	}
	sim, err := cloth.NewLattice(lcfg, cfg)
	if err != nil {
		return nil, fmt.Errorf("building lattice: %w", err)
	}
	err = sim.SetColliders(s.Colliders()...)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// Stepper returns a fixed step driver for sim using the scene's run parameters.
func (s Scene) Stepper(sim *cloth.Simulation) *cloth.FixedStepper {
	return &cloth.FixedStepper{
		Sim:         sim,
		TimeStep:    s.Run.TimeStep,
		MaxSubsteps: s.Run.MaxSubsteps,
	}
}

func (s Scene) pinFunc() (func(i, j int) bool, error) {
	w, h := s.Lattice.Width, s.Lattice.Height
	switch s.Lattice.Pin {
	case "corners":
		return cloth.PinCorners(w, h), nil
	case "top":
		return cloth.PinRow(h, -1), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown pin mode %q", s.Lattice.Pin)
}

func parsePlane(s string) (cloth.Plane, error) {
	switch s {
	case "xz", "":
		return cloth.PlaneXZ, nil
	case "xy":
		return cloth.PlaneXY, nil
	}
	return 0, fmt.Errorf("unknown lattice plane %q", s)
}

func parseDiscipline(s string) (cloth.Discipline, error) {
	for _, d := range []cloth.Discipline{cloth.RigidLink, cloth.Spring} {
		if s == d.String() {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown link discipline %q", s)
}

func parseRelaxation(s string) (cloth.Relaxation, error) {
	for _, r := range []cloth.Relaxation{cloth.GaussSeidel, cloth.Jacobi} {
		if s == r.String() {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown relaxation %q", s)
}

func arrayToVec(a [3]float32) ms3.Vec { return ms3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func vecToArray(v ms3.Vec) [3]float32 { return [3]float32{v.X, v.Y, v.Z} }
