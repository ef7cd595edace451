package liveness

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"
)

const (
	// minLevelSize is the smallest side a coarser pyramid level may have.
	minLevelSize = 32
	// pyramidSigma is the gaussian pre-blur before halving, (1/scale-1)/2 at scale 0.5.
	pyramidSigma = 0.5
)

// FlowField is a dense per-pixel displacement field, row-major.
type FlowField struct {
	Width  int
	Height int
	DX     []float64
	DY     []float64
}

// NewFlowField allocates a zero field of the given size.
func NewFlowField(w, h int) *FlowField {
	return &FlowField{Width: w, Height: h, DX: make([]float64, w*h), DY: make([]float64, w*h)}
}

// FlowEstimator computes dense optical flow between two images of equal size.
type FlowEstimator interface {
	Flow(prev, next *image.Gray) *FlowField
}

// FarnebackParams mirrors the usual dense-flow tuning knobs.
type FarnebackParams struct {
	Levels     int     // pyramid levels including full resolution
	WinSize    int     // averaging window for the flow solve
	Iterations int     // update iterations per level
	PolyN      int     // polynomial expansion half-width
	PolySigma  float64 // gaussian weight sigma for the expansion
}

// DefaultFarnebackParams returns (levels=3, winsize=15, iterations=3, poly_n=5, poly_sigma=1.2).
func DefaultFarnebackParams() FarnebackParams {
	return FarnebackParams{
		Levels:     3,
		WinSize:    15,
		Iterations: 3,
		PolyN:      5,
		PolySigma:  1.2,
	}
}

// Farneback estimates dense flow using Gunnar Farneback's polynomial
// expansion method over a 2x image pyramid.
type Farneback struct {
	params  FarnebackParams
	kernels [6][]float64 // per-coefficient filters over the (2n+1)^2 window
}

// NewFarneback precomputes the polynomial expansion filters.
func NewFarneback(p FarnebackParams) *Farneback {
	if p.Levels < 1 {
		p.Levels = 1
	}
	if p.Iterations < 1 {
		p.Iterations = 1
	}
	if p.WinSize < 1 {
		p.WinSize = 1
	}
	if p.PolyN < 1 {
		p.PolyN = 1
	}
	return &Farneback{params: p, kernels: expansionKernels(p.PolyN, p.PolySigma)}
}

// expansionKernels solves the weighted least squares fit of
// f(x,y) ~ r0 + r1 x + r2 y + r3 x^2 + r4 y^2 + r5 xy once, so each
// coefficient becomes a plain correlation with a fixed kernel.
func expansionKernels(n int, sigma float64) [6][]float64 {
	side := 2*n + 1
	count := side * side

	basis := mat.NewDense(count, 6, nil)
	weights := make([]float64, count)
	i := 0
	for y := -n; y <= n; y++ {
		for x := -n; x <= n; x++ {
			fx, fy := float64(x), float64(y)
			basis.SetRow(i, []float64{1, fx, fy, fx * fx, fy * fy, fx * fy})
			weights[i] = math.Exp(-(fx*fx + fy*fy) / (2 * sigma * sigma))
			i++
		}
	}

	// BtW is B transposed with each column scaled by its weight.
	btw := mat.NewDense(6, count, nil)
	for r := 0; r < 6; r++ {
		for c := 0; c < count; c++ {
			btw.Set(r, c, basis.At(c, r)*weights[c])
		}
	}

	var g mat.Dense
	g.Mul(btw, basis)
	var ginv mat.Dense
	if err := ginv.Inverse(&g); err != nil {
		// The normal matrix of a full polynomial basis on a square window is never singular.
		panic("liveness: polynomial expansion matrix is singular: " + err.Error())
	}

	var k mat.Dense
	k.Mul(&ginv, btw)

	var out [6][]float64
	for r := 0; r < 6; r++ {
		out[r] = mat.Row(nil, r, &k)
	}
	return out
}

// plane is a float image used internally by the solver.
type plane struct {
	w, h int
	pix  []float64
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float64, w*h)}
}

func planeFromGray(g *image.Gray) *plane {
	b := g.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		row := g.Pix[(y)*g.Stride : (y)*g.Stride+p.w]
		for x, v := range row {
			p.pix[y*p.w+x] = float64(v)
		}
	}
	return p
}

func (p *plane) at(x, y int) float64 {
	return p.pix[clampIdx(y, p.h)*p.w+clampIdx(x, p.w)]
}

// bilinear samples p at a fractional position with edge replication.
func (p *plane) bilinear(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	a := p.at(ix, iy)*(1-fx) + p.at(ix+1, iy)*fx
	b := p.at(ix, iy+1)*(1-fx) + p.at(ix+1, iy+1)*fx
	return a*(1-fy) + b*fy
}

func clampIdx(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// polyExpand holds the six expansion coefficient planes of one image.
type polyExpand [6]*plane

func (f *Farneback) expand(src *plane) polyExpand {
	n := f.params.PolyN
	var out polyExpand
	for k := range out {
		out[k] = newPlane(src.w, src.h)
	}
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			var r [6]float64
			i := 0
			for dy := -n; dy <= n; dy++ {
				for dx := -n; dx <= n; dx++ {
					v := src.at(x+dx, y+dy)
					for k := 0; k < 6; k++ {
						r[k] += f.kernels[k][i] * v
					}
					i++
				}
			}
			idx := y*src.w + x
			for k := 0; k < 6; k++ {
				out[k].pix[idx] = r[k]
			}
		}
	}
	return out
}

// Flow implements FlowEstimator. Mismatched sizes yield a nil field.
func (f *Farneback) Flow(prev, next *image.Gray) *FlowField {
	if prev.Bounds().Size() != next.Bounds().Size() {
		return nil
	}
	if b := prev.Bounds(); b.Empty() {
		return NewFlowField(b.Dx(), b.Dy())
	}

	pyr0, pyr1 := f.pyramid(prev), f.pyramid(next)

	var flow *FlowField
	for l := len(pyr0) - 1; l >= 0; l-- {
		a, b := pyr0[l], pyr1[l]
		if flow == nil {
			flow = NewFlowField(a.w, a.h)
		} else {
			flow = upsample(flow, a.w, a.h)
		}
		e0, e1 := f.expand(a), f.expand(b)
		for it := 0; it < f.params.Iterations; it++ {
			f.refine(e0, e1, flow)
		}
	}
	return flow
}

// pyramid builds full resolution first, then blurred halvings down to
// minLevelSize.
func (f *Farneback) pyramid(g *image.Gray) []*plane {
	floor := minLevelSize
	if side := 2*f.params.PolyN + 1; side > floor {
		floor = side
	}

	levels := []*plane{planeFromGray(g)}
	cur := g
	for l := 1; l < f.params.Levels; l++ {
		b := cur.Bounds()
		w, h := (b.Dx()+1)/2, (b.Dy()+1)/2
		if w < floor || h < floor {
			break
		}
		cur = toGray(imaging.Resize(imaging.Blur(cur, pyramidSigma), w, h, imaging.Linear))
		levels = append(levels, planeFromGray(cur))
	}
	return levels
}

// toGray takes the red channel of a grayscale NRGBA image.
func toGray(src *image.NRGBA) *image.Gray {
	out := image.NewGray(src.Bounds())
	for i := range out.Pix {
		out.Pix[i] = src.Pix[i*4]
	}
	return out
}

// refine runs one update of the displacement estimate in place.
func (f *Farneback) refine(e0, e1 polyExpand, flow *FlowField) {
	w, h := flow.Width, flow.Height
	// G11, G12, G22, h1, h2 per pixel before window averaging
	var m [5]*plane
	for k := range m {
		m[k] = newPlane(w, h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			dx, dy := flow.DX[idx], flow.DY[idx]
			sx, sy := float64(x)+dx, float64(y)+dy

			r1, r2 := e1[1].bilinear(sx, sy), e1[2].bilinear(sx, sy)
			r3, r4, r5 := e1[3].bilinear(sx, sy), e1[4].bilinear(sx, sy), e1[5].bilinear(sx, sy)

			a11 := (e0[3].pix[idx] + r3) / 2
			a22 := (e0[4].pix[idx] + r4) / 2
			a12 := (e0[5].pix[idx] + r5) / 4

			db1 := -0.5*(r1-e0[1].pix[idx]) + a11*dx + a12*dy
			db2 := -0.5*(r2-e0[2].pix[idx]) + a12*dx + a22*dy

			m[0].pix[idx] = a11*a11 + a12*a12
			m[1].pix[idx] = a12 * (a11 + a22)
			m[2].pix[idx] = a12*a12 + a22*a22
			m[3].pix[idx] = a11*db1 + a12*db2
			m[4].pix[idx] = a12*db1 + a22*db2
		}
	}

	radius := f.params.WinSize / 2
	for k := range m {
		m[k] = boxBlur(m[k], radius)
	}

	for i := range flow.DX {
		g11, g12, g22 := m[0].pix[i], m[1].pix[i], m[2].pix[i]
		h1, h2 := m[3].pix[i], m[4].pix[i]
		idet := 1 / (g11*g22 - g12*g12 + 1e-3)
		flow.DX[i] = (g22*h1 - g12*h2) * idet
		flow.DY[i] = (g11*h2 - g12*h1) * idet
	}
}

// boxBlur is a separable mean filter with edge replication.
func boxBlur(p *plane, r int) *plane {
	if r <= 0 {
		return p
	}
	norm := float64(2*r + 1)
	tmp := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var s float64
			for k := -r; k <= r; k++ {
				s += p.at(x+k, y)
			}
			tmp.pix[y*p.w+x] = s / norm
		}
	}
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var s float64
			for k := -r; k <= r; k++ {
				s += tmp.at(x, y+k)
			}
			out.pix[y*p.w+x] = s / norm
		}
	}
	return out
}

// upsample scales a coarse field to w x h, doubling the vectors.
func upsample(src *FlowField, w, h int) *FlowField {
	out := NewFlowField(w, h)
	sx := float64(src.Width) / float64(w)
	sy := float64(src.Height) / float64(h)
	for y := 0; y < h; y++ {
		cy := clampIdx(int(float64(y)*sy), src.Height)
		for x := 0; x < w; x++ {
			cx := clampIdx(int(float64(x)*sx), src.Width)
			i := cy*src.Width + cx
			out.DX[y*w+x] = src.DX[i] / sx
			out.DY[y*w+x] = src.DY[i] / sy
		}
	}
	return out
}
