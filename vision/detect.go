package vision

import (
	"image"
	"math"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Fallback rectangles on the reference resolution.
var (
	refInputArea  = models.BBox{X: 50, Y: 2150, W: 900, H: 120}
	refSendButton = models.BBox{X: 960, Y: 2160, W: 100, H: 100}
)

const (
	inputAreaMinScore   = 0.3
	inputAreaFallback   = 0.5
	inputAreaTargetRelY = 0.85
	sendButtonMinScore  = 0.2
	templateMinMatch    = 0.6
	sendButtonFallback  = 0.4
	responseAreaConf    = 0.7
	responseTopBar      = 0.08
	responseHeight      = 0.65
)

// DetectInputArea looks for the prompt box in the bottom quarter of the
// frame. It always returns an element; without a qualifying contour it is the
// scaled reference rectangle tagged as a fallback.
func (l *Locator) DetectInputArea(frame image.Image) *models.UIElement {
	fb := frame.Bounds()
	roi := image.Rect(fb.Min.X, fb.Min.Y+fb.Dy()*3/4, fb.Max.X, fb.Max.Y)
	if el := l.findInputContour(frame, roi); el != nil {
		return el
	}
	return l.element(models.ElementInputArea, scaleReference(fb, refInputArea), inputAreaFallback, models.MethodFallback)
}

func (l *Locator) findInputContour(frame image.Image, roi image.Rectangle) *models.UIElement {
	if roi.Empty() {
		return nil
	}
	fb := frame.Bounds()
	frameArea := float64(fb.Dx() * fb.Dy())
	edges, _ := edgeMap(frame, roi, 0, true)

	var best *models.UIElement
	for _, c := range components(edges, 40) {
		r := c.bounds.Add(roi.Min)
		w, h := float64(r.Dx()), float64(r.Dy())
		if h < float64(fb.Dy())*0.015 || w < float64(fb.Dx())*0.3 || w/h < 2 {
			continue
		}
		relY := float64((r.Min.Y+r.Max.Y)/2-fb.Min.Y) / float64(fb.Dy())
		aspect := math.Min(w/h/8, 1)
		area := math.Min(w*h/(0.05*frameArea), 1)
		score := aspect * area * (1 - math.Abs(relY-inputAreaTargetRelY))
		if score <= inputAreaMinScore {
			continue
		}
		if best == nil || score > best.Confidence {
			best = l.element(models.ElementInputArea, models.BBoxFromRect(r), math.Min(score, 1), models.MethodContour)
		}
	}
	return best
}

// DetectSendButton searches the bottom-right corner for a round control,
// then for a disc-shaped template, then falls back to the reference spot.
func (l *Locator) DetectSendButton(frame image.Image) *models.UIElement {
	fb := frame.Bounds()
	roi := image.Rect(fb.Min.X+fb.Dx()*7/10, fb.Min.Y+fb.Dy()*3/4, fb.Max.X, fb.Max.Y)
	expected := scaleReference(fb, refSendButton)

	if !roi.Empty() {
		if c, ok := findCircle(frame, roi, expected); ok {
			return l.element(models.ElementSendButton, clampBBox(fb, c.bbox()), math.Min(c.score, 1), models.MethodHough)
		}
		if box, match := matchDiscTemplate(frame, roi, expected); match > templateMinMatch {
			return l.element(models.ElementSendButton, clampBBox(fb, box), math.Min(match, 1), models.MethodTemplate)
		}
	}
	return l.element(models.ElementSendButton, expected, sendButtonFallback, models.MethodFallback)
}

// DetectResponseArea derives the answer region by exclusion: the upper part
// of the screen below the top bar, cut short above the input row.
func (l *Locator) DetectResponseArea(frame image.Image, input, send *models.UIElement) *models.UIElement {
	fb := frame.Bounds()
	top := fb.Min.Y + int(float64(fb.Dy())*responseTopBar)
	box := models.BBox{
		X: fb.Min.X + fb.Dx()*3/100,
		Y: top,
		W: fb.Dx() * 94 / 100,
		H: int(float64(fb.Dy()) * responseHeight),
	}
	margin := fb.Dy() / 100
	minHeight := fb.Dy() / 10
	for _, el := range []*models.UIElement{input, send} {
		if el == nil || el.BBox.Empty() {
			continue
		}
		if box.Y+box.H > el.BBox.Y-margin {
			box.H = max(el.BBox.Y-margin-box.Y, minHeight)
		}
	}
	return l.element(models.ElementResponseArea, clampBBox(fb, box), responseAreaConf, models.MethodExclusion)
}

func (l *Locator) element(kind models.ElementKind, box models.BBox, confidence float64, method string) *models.UIElement {
	return &models.UIElement{
		Kind:            kind,
		BBox:            box,
		Confidence:      confidence,
		DetectionMethod: method,
		DetectedAt:      l.opts.Now(),
	}
}

// ExtractTextRegion crops box, clamped to the frame. It returns nil when
// nothing of the box lies inside the frame.
func (l *Locator) ExtractTextRegion(frame image.Image, box models.BBox) image.Image {
	return cropRegion(frame, box)
}
