package vision

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/transform"
)

const (
	edgeBlurRadius = 1.5
	// minimum gradient, in grey levels of contrast, for an edge pixel
	edgeThreshold = 24.0
)

// mask is a binary image with origin at (0,0).
type mask struct {
	w, h int
	on   []bool
}

func (m mask) at(x, y int) bool {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return false
	}
	return m.on[y*m.w+x]
}

// near reports whether any pixel within one step of (x, y) is set.
func (m mask) near(x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if m.at(x+dx, y+dy) {
				return true
			}
		}
	}
	return false
}

// dilate grows every set pixel into its 3x3 neighbourhood.
func (m mask) dilate() mask {
	out := mask{w: m.w, h: m.h, on: make([]bool, len(m.on))}
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			out.on[y*m.w+x] = m.near(x, y)
		}
	}
	return out
}

// luma is a grey-level matrix with origin at (0,0).
type luma struct {
	w, h int
	v    []float64
}

func (g luma) at(x, y int) float64 {
	x = min(max(x, 0), g.w-1)
	y = min(max(y, 0), g.h-1)
	return g.v[y*g.w+x]
}

// grayscale converts img with bild and repacks the result, whose RGB
// channels are equal, as an 8-bit grey image.
func grayscale(img image.Image) *image.Gray {
	rgba := effect.Grayscale(img)
	b := rgba.Bounds()
	gray := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		src := rgba.Pix[y*rgba.Stride:]
		dst := gray.Pix[y*gray.Stride:]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[4*x]
		}
	}
	return gray
}

// regionLuma crops roi out of frame, shrinks it to at most maxWidth wide
// when maxWidth > 0, optionally blurs it, and returns its luminance and the
// applied scale.
func regionLuma(frame image.Image, roi image.Rectangle, maxWidth int, blurRadius float64) (luma, float64) {
	sub := image.Image(transform.Crop(frame, roi))
	scale := 1.0
	if maxWidth > 0 && roi.Dx() > maxWidth {
		scale = float64(maxWidth) / float64(roi.Dx())
		sub = transform.Resize(sub, maxWidth, max(1, int(float64(roi.Dy())*scale+0.5)), transform.Linear)
	}
	if blurRadius > 0 {
		sub = blur.Gaussian(sub, blurRadius)
	}
	gray := grayscale(sub)
	b := gray.Bounds()
	g := luma{w: b.Dx(), h: b.Dy(), v: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			g.v[y*g.w+x] = float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
		}
	}
	return g, scale
}

// edgeMap returns the Sobel edges of roi together with the scale that was
// applied to fit maxWidth.
func edgeMap(frame image.Image, roi image.Rectangle, maxWidth int, dilate bool) (mask, float64) {
	g, scale := regionLuma(frame, roi, maxWidth, edgeBlurRadius)
	m := mask{w: g.w, h: g.h, on: make([]bool, g.w*g.h)}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			gx := g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1) -
				g.at(x-1, y-1) - 2*g.at(x-1, y) - g.at(x-1, y+1)
			gy := g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1) -
				g.at(x-1, y-1) - 2*g.at(x, y-1) - g.at(x+1, y-1)
			// a step of contrast c yields a magnitude of 4c
			m.on[y*g.w+x] = math.Hypot(gx, gy)/4 >= edgeThreshold
		}
	}
	if dilate {
		m = m.dilate()
	}
	return m, scale
}

// component is one 8-connected blob of set pixels.
type component struct {
	bounds image.Rectangle
	pixels int
}

// components labels the 8-connected regions of m, ignoring those smaller than
// minPixels.
func components(m mask, minPixels int) []component {
	seen := make([]bool, len(m.on))
	var out []component
	stack := make([]int, 0, 256)

	for start, on := range m.on {
		if !on || seen[start] {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		c := component{bounds: image.Rectangle{Min: image.Pt(m.w, m.h), Max: image.Pt(-1, -1)}}

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%m.w, idx/m.w
			c.pixels++
			c.bounds.Min.X = min(c.bounds.Min.X, x)
			c.bounds.Min.Y = min(c.bounds.Min.Y, y)
			c.bounds.Max.X = max(c.bounds.Max.X, x+1)
			c.bounds.Max.Y = max(c.bounds.Max.Y, y+1)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						continue
					}
					n := ny*m.w + nx
					if m.on[n] && !seen[n] {
						seen[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
		if c.pixels >= minPixels {
			out = append(out, c)
		}
	}
	return out
}
