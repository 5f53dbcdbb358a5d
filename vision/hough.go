package vision

import (
	"image"
	"math"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

const (
	houghMaxWidth    = 240
	houghAngleSteps  = 48
	houghVerifySteps = 64
	houghMinSupport  = 0.6
)

type circle struct {
	cx, cy, r float64 // frame coordinates
	score     float64
}

func (c circle) bbox() models.BBox {
	return models.BBox{
		X: int(c.cx - c.r + 0.5),
		Y: int(c.cy - c.r + 0.5),
		W: int(2*c.r + 0.5),
		H: int(2*c.r + 0.5),
	}
}

// findCircle runs a circle Hough transform over the edges of roi and scores
// each verified circle by how close it sits to the expected button position
// and how close its size is to the expected radius.
func findCircle(frame image.Image, roi image.Rectangle, expected models.BBox) (circle, bool) {
	edges, scale := edgeMap(frame, roi, houghMaxWidth, false)
	fw := float64(frame.Bounds().Dx())
	rMin := int(0.02 * fw * scale)
	rMax := int(0.06*fw*scale + 0.5)
	if rMin < 3 {
		rMin = 3
	}

	var points [][2]int
	for y := 0; y < edges.h; y++ {
		for x := 0; x < edges.w; x++ {
			if edges.on[y*edges.w+x] {
				points = append(points, [2]int{x, y})
			}
		}
	}
	if len(points) == 0 {
		return circle{}, false
	}

	cosT := make([]float64, houghAngleSteps)
	sinT := make([]float64, houghAngleSteps)
	for i := range cosT {
		theta := 2 * math.Pi * float64(i) / houghAngleSteps
		cosT[i], sinT[i] = math.Cos(theta), math.Sin(theta)
	}

	ex, ey := expected.Center()
	expR := float64(expected.W) / 2
	diag := math.Hypot(float64(roi.Dx()), float64(roi.Dy()))
	acc := make([]int32, edges.w*edges.h)

	var best circle
	found := false
	for r := rMin; r <= rMax; r++ {
		clear(acc)
		for _, p := range points {
			for i := range cosT {
				cx := p[0] - int(float64(r)*cosT[i]+0.5)
				cy := p[1] - int(float64(r)*sinT[i]+0.5)
				if cx >= 0 && cy >= 0 && cx < edges.w && cy < edges.h {
					acc[cy*edges.w+cx]++
				}
			}
		}
		peak, peakIdx := int32(0), -1
		for i, v := range acc {
			if v > peak {
				peak, peakIdx = v, i
			}
		}
		if peakIdx < 0 {
			continue
		}
		px, py := peakIdx%edges.w, peakIdx/edges.w
		if circleSupport(edges, px, py, r) < houghMinSupport {
			continue
		}

		c := circle{
			cx: float64(roi.Min.X) + float64(px)/scale,
			cy: float64(roi.Min.Y) + float64(py)/scale,
			r:  float64(r) / scale,
		}
		position := math.Max(0, 1-math.Hypot(c.cx-float64(ex), c.cy-float64(ey))/diag)
		size := math.Max(0, 1-math.Abs(c.r-expR)/expR)
		c.score = position * size
		if c.score > sendButtonMinScore && (!found || c.score > best.score) {
			best, found = c, true
		}
	}
	return best, found
}

// circleSupport is the fraction of points on the circle that land on an edge.
func circleSupport(edges mask, cx, cy, r int) float64 {
	hits := 0
	for i := 0; i < houghVerifySteps; i++ {
		theta := 2 * math.Pi * float64(i) / houghVerifySteps
		x := cx + int(float64(r)*math.Cos(theta)+0.5)
		y := cy + int(float64(r)*math.Sin(theta)+0.5)
		if edges.near(x, y) {
			hits++
		}
	}
	return float64(hits) / houghVerifySteps
}
