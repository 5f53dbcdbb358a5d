package models

import (
	"fmt"
	"image"
	"time"
)

// ScreenCapture is one raster frame pulled from a device. Not cached; the
// caller that asked for it owns it.
type ScreenCapture struct {
	Raster     []byte      `json:"-"`
	Image      image.Image `json:"-"`
	DeviceID   string      `json:"device_id"`
	CapturedAt time.Time   `json:"captured_at"`
	FilePath   string      `json:"file_path,omitempty"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
}

// ElementKind names the three regions the locator knows about.
type ElementKind string

const (
	ElementInputArea    ElementKind = "input_area"
	ElementSendButton   ElementKind = "send_button"
	ElementResponseArea ElementKind = "response_area"
)

// Detection methods reported on UIElement.
const (
	MethodContour   = "contour"
	MethodHough     = "hough_circle"
	MethodTemplate  = "template"
	MethodExclusion = "exclusion"
	MethodFallback  = "fallback"
)

// BBox is an axis aligned rectangle in frame pixels.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

func (b BBox) Center() (int, int) {
	return b.X + b.W/2, b.Y + b.H/2
}

func (b BBox) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

func (b BBox) String() string {
	return fmt.Sprintf("%d,%d %dx%d", b.X, b.Y, b.W, b.H)
}

// BBoxFromRect converts an image rectangle.
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// UIElement is a detected or inferred control region. Confidence below ~0.5
// means usable but uncertain, not absent.
type UIElement struct {
	Kind            ElementKind `json:"element_kind"`
	BBox            BBox        `json:"bbox"`
	Confidence      float64     `json:"confidence"`
	DetectionMethod string      `json:"detection_method"`
	DetectedAt      time.Time   `json:"detected_at"`
}

func (e *UIElement) IsFallback() bool {
	return e != nil && e.DetectionMethod == MethodFallback
}

// ScreenAnalysis bundles a capture with what was located and read on it.
type ScreenAnalysis struct {
	Capture       *ScreenCapture             `json:"capture"`
	Elements      map[ElementKind]*UIElement `json:"elements"`
	ExtractedText string                     `json:"extracted_text"`
}
