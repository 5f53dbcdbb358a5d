package vision

import (
	"image"
	"strings"

	"github.com/anthonynsimon/bild/transform"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

const signatureGrid = 16

// RegionSignature summarises the pixels of box as a 16x16 grid of luminance
// quantised to 32 levels. Two reads of a region whose text is still changing
// almost always differ; identical signatures mean the content settled.
func RegionSignature(frame image.Image, box models.BBox) string {
	sub := cropRegion(frame, box)
	if sub == nil {
		return ""
	}
	small := grayscale(transform.Resize(sub, signatureGrid, signatureGrid, transform.Linear))
	b := small.Bounds()
	const digits = "0123456789abcdefghijklmnopqrstuv"
	var sb strings.Builder
	sb.Grow(signatureGrid * signatureGrid)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sb.WriteByte(digits[small.GrayAt(x, y).Y>>3])
		}
	}
	return sb.String()
}
