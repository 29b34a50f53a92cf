package clothaux

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/soypat/cloth"
	"github.com/soypat/geometry/ms3"
)

// Triangles appends the lattice mesh of sim as triangles to dst. Triangles whose
// vertices have collapsed onto each other are kept; STL readers tolerate them.
func Triangles(dst []ms3.Triangle, sim *cloth.Simulation) []ms3.Triangle {
	idx := sim.AppendMeshIndices(nil)
	ps := sim.Particles()
	for k := 0; k+2 < len(idx); k += 3 {
		dst = append(dst, ms3.Triangle{
			ps[idx[k]].Position,
			ps[idx[k+1]].Position,
			ps[idx[k+2]].Position,
		})
	}
	return dst
}

const (
	stlHeaderSize   = 80
	stlTriangleSize = 50
)

// WriteBinarySTL writes triangles in binary STL format: an 80 byte header, a little endian
// triangle count and 50 bytes per triangle. It returns the amount of bytes written.
func WriteBinarySTL(w io.Writer, triangles []ms3.Triangle) (int, error) {
	if uint64(len(triangles)) > math.MaxUint32 {
		return 0, errors.New("too many triangles for STL")
	}
	var header [stlHeaderSize + 4]byte
	copy(header[:], "binary STL cloth mesh")
	binary.LittleEndian.PutUint32(header[stlHeaderSize:], uint32(len(triangles)))
	n, err := w.Write(header[:])
	if err != nil {
		return n, err
	}
	var buf [stlTriangleSize]byte
	for _, t := range triangles {
		nrm := triangleNormal(t)
		putVec(buf[0:], nrm)
		putVec(buf[12:], t[0])
		putVec(buf[24:], t[1])
		putVec(buf[36:], t[2])
		// Attribute byte count.
		buf[48], buf[49] = 0, 0
		ngot, err := w.Write(buf[:])
		n += ngot
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func triangleNormal(t ms3.Triangle) ms3.Vec {
	n := t.Normal()
	if ms3.Norm(n) == 0 {
		// Collapsed triangle.
		return ms3.Vec{}
	}
	return ms3.Unit(n)
}

func putVec(b []byte, v ms3.Vec) {
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(v.Z))
}
