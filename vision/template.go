package vision

import (
	"image"
	"math"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

const templateMaxWidth = 80

// discTemplate renders a dark disc of radius r on a light square.
func discTemplate(r float64) ([]float64, int) {
	size := 2*int(math.Ceil(r*1.2)) + 1
	c := float64(size-1) / 2
	t := make([]float64, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if math.Hypot(float64(x)-c, float64(y)-c) <= r {
				t[y*size+x] = 0
			} else {
				t[y*size+x] = 255
			}
		}
	}
	return t, size
}

// matchDiscTemplate slides a disc template sized like the expected button
// over roi and returns the best normalized cross-correlation. Polarity is
// ignored so light-on-dark buttons match too.
func matchDiscTemplate(frame image.Image, roi image.Rectangle, expected models.BBox) (models.BBox, float64) {
	g, scale := regionLuma(frame, roi, templateMaxWidth, 0)
	img, w, h := g.v, g.w, g.h
	r := float64(expected.W) / 2 * scale
	if r < 2 {
		return models.BBox{}, 0
	}
	tpl, ts := discTemplate(r)
	if ts > w || ts > h {
		return models.BBox{}, 0
	}

	n := float64(ts * ts)
	var tMean float64
	for _, v := range tpl {
		tMean += v
	}
	tMean /= n
	var tVar float64
	for i := range tpl {
		tpl[i] -= tMean
		tVar += tpl[i] * tpl[i]
	}
	if tVar == 0 {
		return models.BBox{}, 0
	}

	bestScore, bestX, bestY := 0.0, 0, 0
	for oy := 0; oy+ts <= h; oy++ {
		for ox := 0; ox+ts <= w; ox++ {
			var sum, sumSq, cross float64
			for ty := 0; ty < ts; ty++ {
				row := (oy+ty)*w + ox
				for tx := 0; tx < ts; tx++ {
					v := img[row+tx]
					sum += v
					sumSq += v * v
					cross += v * tpl[ty*ts+tx]
				}
			}
			iVar := sumSq - sum*sum/n
			if iVar <= 1e-6 {
				continue
			}
			ncc := math.Abs(cross / math.Sqrt(iVar*tVar))
			if ncc > bestScore {
				bestScore, bestX, bestY = ncc, ox, oy
			}
		}
	}

	box := models.BBox{
		X: roi.Min.X + int(float64(bestX)/scale+0.5),
		Y: roi.Min.Y + int(float64(bestY)/scale+0.5),
		W: int(float64(ts)/scale + 0.5),
		H: int(float64(ts)/scale + 0.5),
	}
	return box, bestScore
}
