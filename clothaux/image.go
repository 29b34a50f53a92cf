package clothaux

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	math "github.com/chewxy/math32"
	"github.com/soypat/cloth"
	"github.com/soypat/geometry/ms2"
	"github.com/soypat/geometry/ms3"
	"golang.org/x/image/vector"
)

// ImageConfig configures wireframe rendering of a simulation.
type ImageConfig struct {
	Width, Height int
	// Yaw and Pitch orient the orthographic camera in radians. Zero looks down -Z.
	Yaw, Pitch float32
	// LineWidth in pixels. Defaults to 1.
	LineWidth float32
	// Margin in pixels left around the drawing.
	Margin int
	// Background defaults to dark gray.
	Background color.Color
	// Colormap colors links by strain. Defaults to DefaultStrainColormap(0.1).
	Colormap func(strain float32) color.Color
	// HideColliders omits sphere colliders from the drawing.
	HideColliders bool
}

var (
	colliderColor     = color.RGBA{R: 90, G: 90, B: 100, A: 255}
	defaultBackground = color.RGBA{R: 20, G: 20, B: 26, A: 255}
)

// RenderImage draws the enabled links of sim as an orthographic wireframe colored by strain.
func RenderImage(sim *cloth.Simulation, cfg ImageConfig) (*image.RGBA, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("image dimensions must be positive")
	} else if 2*cfg.Margin >= cfg.Width || 2*cfg.Margin >= cfg.Height {
		return nil, errors.New("margin leaves no room for drawing")
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = 1
	}
	if cfg.Background == nil {
		cfg.Background = defaultBackground
	}
	if cfg.Colormap == nil {
		cfg.Colormap = DefaultStrainColormap(0.1)
	}
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(cfg.Background), image.Point{}, draw.Src)

	cam := newOrthoCamera(cfg.Yaw, cfg.Pitch)
	ps := sim.Particles()
	proj := make([]ms2.Vec, len(ps))
	bb := ms2.Box{
		Min: ms2.Vec{X: math.Inf(1), Y: math.Inf(1)},
		Max: ms2.Vec{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for i := range ps {
		proj[i] = cam.project(ps[i].Position)
		bb.Min = ms2.MinElem(bb.Min, proj[i])
		bb.Max = ms2.MaxElem(bb.Max, proj[i])
	}
	var spheres []cloth.Collider
	if !cfg.HideColliders {
		for _, c := range sim.Colliders() {
			if c.Kind != cloth.ColliderSphere {
				continue
			}
			spheres = append(spheres, c)
			center := cam.project(c.Center)
			r := ms2.Vec{X: c.Radius, Y: c.Radius}
			bb.Min = ms2.MinElem(bb.Min, ms2.Sub(center, r))
			bb.Max = ms2.MaxElem(bb.Max, ms2.Add(center, r))
		}
	}
	if len(ps) == 0 && len(spheres) == 0 {
		return img, nil
	}
	vp := newViewport(bb, cfg)
	z := vector.NewRasterizer(cfg.Width, cfg.Height)
	z.DrawOp = draw.Over

	for _, c := range spheres {
		z.Reset(cfg.Width, cfg.Height)
		circle(z, vp.toPixel(cam.project(c.Center)), c.Radius*vp.scale, 64)
		z.Draw(img, img.Bounds(), image.NewUniform(colliderColor), image.Point{})
	}

	// Links sharing a color are rasterized together.
	links := sim.Links()
	var order []color.RGBA
	buckets := make(map[color.RGBA][]int)
	for li := range links {
		l := &links[li]
		if l.Disabled || l.P1 < 0 || l.P2 < 0 || l.P1 >= len(ps) || l.P2 >= len(ps) {
			continue
		}
		c := color.RGBAModel.Convert(cfg.Colormap(l.Strain(ps))).(color.RGBA)
		if _, ok := buckets[c]; !ok {
			order = append(order, c)
		}
		buckets[c] = append(buckets[c], li)
	}
	for _, c := range order {
		z.Reset(cfg.Width, cfg.Height)
		for _, li := range buckets[c] {
			l := &links[li]
			segment(z, vp.toPixel(proj[l.P1]), vp.toPixel(proj[l.P2]), cfg.LineWidth)
		}
		z.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})
	}
	return img, nil
}

// RenderPNG renders sim with [RenderImage] and encodes the result as PNG to w.
func RenderPNG(w io.Writer, sim *cloth.Simulation, cfg ImageConfig) error {
	img, err := RenderImage(sim, cfg)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

type orthoCamera struct {
	right, up ms3.Vec
}

func newOrthoCamera(yaw, pitch float32) orthoCamera {
	sy, cy := math.Sincos(yaw)
	sp, cp := math.Sincos(pitch)
	// Forward is (-sy*cp, -sp, -cy*cp). Right stays horizontal.
	right := ms3.Vec{X: cy, Z: -sy}
	up := ms3.Vec{X: -sy * sp, Y: cp, Z: -cy * sp}
	return orthoCamera{right: right, up: up}
}

func (cam orthoCamera) project(p ms3.Vec) ms2.Vec {
	return ms2.Vec{X: ms3.Dot(p, cam.right), Y: ms3.Dot(p, cam.up)}
}

// viewport maps projected scene coordinates to pixels preserving aspect ratio.
type viewport struct {
	scale  float32
	offset ms2.Vec
	height float32
}

func newViewport(bb ms2.Box, cfg ImageConfig) viewport {
	sz := bb.Size()
	availW := float32(cfg.Width - 2*cfg.Margin)
	availH := float32(cfg.Height - 2*cfg.Margin)
	scale := float32(1)
	switch {
	case sz.X > 0 && sz.Y > 0:
		scale = min(availW/sz.X, availH/sz.Y)
	case sz.X > 0:
		scale = availW / sz.X
	case sz.Y > 0:
		scale = availH / sz.Y
	}
	// Center the drawing.
	used := ms2.Scale(scale, sz)
	offset := ms2.Vec{
		X: float32(cfg.Margin) + (availW-used.X)/2 - bb.Min.X*scale,
		Y: float32(cfg.Margin) + (availH-used.Y)/2 - bb.Min.Y*scale,
	}
	return viewport{scale: scale, offset: offset, height: float32(cfg.Height)}
}

func (vp viewport) toPixel(p ms2.Vec) ms2.Vec {
	q := ms2.Add(ms2.Scale(vp.scale, p), vp.offset)
	q.Y = vp.height - q.Y // Image Y grows downward.
	return q
}

func segment(z *vector.Rasterizer, a, b ms2.Vec, width float32) {
	d := ms2.Sub(b, a)
	length := ms2.Norm(d)
	var n ms2.Vec
	if length < 1e-6 {
		n = ms2.Vec{Y: width / 2}
		d = ms2.Vec{X: width / 2}
		a, b = ms2.Sub(a, d), ms2.Add(b, d)
	} else {
		n = ms2.Scale(width/(2*length), ms2.Vec{X: -d.Y, Y: d.X})
	}
	p1, p2 := ms2.Add(a, n), ms2.Add(b, n)
	p3, p4 := ms2.Sub(b, n), ms2.Sub(a, n)
	z.MoveTo(p1.X, p1.Y)
	z.LineTo(p2.X, p2.Y)
	z.LineTo(p3.X, p3.Y)
	z.LineTo(p4.X, p4.Y)
	z.ClosePath()
}

func circle(z *vector.Rasterizer, center ms2.Vec, radius float32, segments int) {
	for k := 0; k <= segments; k++ {
		s, c := math.Sincos(2 * math.Pi * float32(k) / float32(segments))
		x, y := center.X+radius*c, center.Y+radius*s
		if k == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}
