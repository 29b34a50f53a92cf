package cloth

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms3"
)

// Plane is the plane a lattice is laid out in.
type Plane uint8

const (
	// PlaneXZ lays the lattice flat: particle (i,j) starts at Origin+(i*s, 0, -j*s).
	PlaneXZ Plane = iota
	// PlaneXY hangs the lattice upright: particle (i,j) starts at Origin+(i*s, j*s, 0).
	PlaneXY
)

// LatticeConfig describes a rectangular Width x Height lattice of particles.
type LatticeConfig struct {
	Width, Height int
	// Spacing is the distance between axis aligned neighbours.
	Spacing float32
	// Mass of every particle. Zero mass particles are immovable.
	Mass   float32
	Origin ms3.Vec
	Plane  Plane
	// Pin reports whether particle (i,j) starts pinned. May be nil.
	Pin        func(i, j int) bool
	Discipline Discipline
	// Stiffness and Damping of spring links.
	Stiffness float32
	Damping   float32
	// Shear adds both diagonals of every cell.
	Shear bool
	// CloseBorder adds the structural links along the last row and column, which
	// the per-cell construction does not generate.
	CloseBorder bool
	// DragCoefficient and ProjectedArea of every particle. Zero means the package defaults.
	DragCoefficient float32
	ProjectedArea   float32
	// AreaFromSpacing sets the projected area of each particle to Spacing².
	AreaFromSpacing bool
}

// PinCorners returns a pin predicate for the four corners of a width x height lattice.
func PinCorners(width, height int) func(i, j int) bool {
	return func(i, j int) bool {
		return (i == 0 || i == width-1) && (j == 0 || j == height-1)
	}
}

// PinRow returns a pin predicate pinning every particle in row j. Negative j counts from the last row.
func PinRow(height, row int) func(i, j int) bool {
	if row < 0 {
		row += height
	}
	return func(i, j int) bool { return j == row }
}

// NewLattice builds a lattice simulation. Structural links are generated per cell, joining (i,j)
// with (i,j+1) and (i+1,j). Border links close the last column and row and shear links join the
// cell diagonals. Rest lengths are the initial separations.
func NewLattice(lcfg LatticeConfig, cfg Config) (*Simulation, error) {
	bld := Builder{NoDimensionPanic: true}
	bld.lattice(lcfg)
	sim, err := bld.Build(cfg)
	if err != nil {
		return nil, err
	}
	sim.lattice = &lcfg
	return sim, nil
}

func (bld *Builder) lattice(lcfg LatticeConfig) {
	w, h := lcfg.Width, lcfg.Height
	if w < 1 || h < 1 {
		bld.dimensionErrorf("invalid lattice dimensions %dx%d", w, h)
		return
	} else if lcfg.Spacing <= 0 || !finitef(lcfg.Spacing) {
		bld.dimensionErrorf("invalid lattice spacing %v", lcfg.Spacing)
		return
	} else if lcfg.Plane > PlaneXY {
		bld.dimensionErrorf("unknown lattice plane %d", lcfg.Plane)
		return
	} else if lcfg.Discipline > Spring {
		bld.dimensionErrorf("unknown discipline %s", lcfg.Discipline)
		return
	}
	area := lcfg.ProjectedArea
	if lcfg.AreaFromSpacing {
		area = lcfg.Spacing * lcfg.Spacing
	}
	s := lcfg.Spacing
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			var off ms3.Vec
			switch lcfg.Plane {
			case PlaneXZ:
				off = ms3.Vec{X: float32(i) * s, Z: -float32(j) * s}
			case PlaneXY:
				off = ms3.Vec{X: float32(i) * s, Y: float32(j) * s}
			}
			p := NewParticle(ms3.Add(lcfg.Origin, off), lcfg.Mass)
			p.Pinned = lcfg.Pin != nil && lcfg.Pin(i, j)
			p.DragCoefficient = lcfg.DragCoefficient
			p.ProjectedArea = area
			bld.AddParticle(p)
		}
	}
	link := func(p1, p2 int, kind LinkKind) {
		var li int
		switch lcfg.Discipline {
		case RigidLink:
			li = bld.AddRigidLink(p1, p2)
		case Spring:
			li = bld.AddSpring(p1, p2, lcfg.Stiffness, lcfg.Damping)
		}
		if li >= 0 {
			bld.links[li].Kind = kind
		}
	}
	idx := func(i, j int) int { return j*w + i }
	if w == 1 || h == 1 {
		// A single row or column has no cells: chain it.
		for k := 1; k < w*h; k++ {
			link(k-1, k, Structural)
		}
		return
	}
	for i := 0; i < w-1; i++ {
		for j := 0; j < h-1; j++ {
			p1, p2, p3, p4 := idx(i, j), idx(i, j+1), idx(i+1, j), idx(i+1, j+1)
			link(p1, p2, Structural)
			link(p1, p3, Structural)
			if lcfg.Shear {
				link(p1, p4, Shear)
				link(p2, p3, Shear)
			}
			if lcfg.CloseBorder && i == w-2 {
				link(p3, p4, Border)
			}
			if lcfg.CloseBorder && j == h-2 {
				link(p2, p4, Border)
			}
		}
	}
}

// Dims returns the lattice dimensions. Simulations not built by [NewLattice] return zeros.
func (s *Simulation) Dims() (width, height int) {
	if s.lattice == nil {
		return 0, 0
	}
	return s.lattice.Width, s.lattice.Height
}

// Index returns the particle index of lattice node (i,j) or -1 if it does not exist.
func (s *Simulation) Index(i, j int) int {
	w, h := s.Dims()
	if i < 0 || j < 0 || i >= w || j >= h {
		return -1
	}
	return j*w + i
}

// Lattice returns the configuration the lattice was built with and true, or false if
// the simulation was not built by [NewLattice].
func (s *Simulation) Lattice() (LatticeConfig, bool) {
	if s.lattice == nil {
		return LatticeConfig{}, false
	}
	return *s.lattice, true
}

// AppendMeshIndices appends two counter-clockwise triangles per lattice cell to dst, indexing
// into the particle slice. Simulations not built by [NewLattice] append nothing.
func (s *Simulation) AppendMeshIndices(dst []uint32) []uint32 {
	w, h := s.Dims()
	for j := 0; j < h-1; j++ {
		for i := 0; i < w-1; i++ {
			cur := uint32(s.Index(i, j))
			up := cur + uint32(w)
			right := cur + 1
			dst = append(dst, cur, right, up, right, up+1, up)
		}
	}
	return dst
}

// ShearRestLength returns the rest length of a cell diagonal for the given spacing.
func ShearRestLength(spacing float32) float32 {
	return math32.Sqrt(2 * spacing * spacing)
}
