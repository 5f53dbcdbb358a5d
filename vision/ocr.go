package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/anthonynsimon/bild/transform"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// OCREngine turns an image into text.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// TesseractEngine shells out to the tesseract CLI, piping a PNG through stdin.
type TesseractEngine struct {
	Path     string
	Language string
	// PSM 6 treats the crop as one uniform block of text.
	PSM int
}

func NewTesseractEngine(path, language string) *TesseractEngine {
	if path == "" {
		path = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &TesseractEngine{Path: path, Language: language, PSM: 6}
}

func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) (string, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return "", fmt.Errorf("encode ocr input: %w", err)
	}
	cmd := exec.CommandContext(ctx, t.Path, "stdin", "stdout", "--psm", strconv.Itoa(t.PSM), "-l", t.Language)
	cmd.Stdin = &in
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}

const ocrMinHeight = 200

// PreprocessForOCR grayscales, binarizes at the Otsu level and removes
// speckle. Short crops are upscaled first.
func PreprocessForOCR(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dy() > 0 && b.Dy() < ocrMinHeight {
		f := float64(ocrMinHeight) / float64(b.Dy())
		img = transform.Resize(img, int(float64(b.Dx())*f+0.5), ocrMinHeight, transform.Linear)
	}
	gray := grayscale(img)
	binary := segment.Threshold(gray, otsuLevel(gray))
	return effect.Median(binary, 1)
}

// otsuLevel picks the global threshold that maximises between-class variance.
func otsuLevel(gray *image.Gray) uint8 {
	var hist [256]int
	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 128
	}
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var sumB, bestVar float64
	var wB int
	level := 128
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar, level = between, t
		}
	}
	// Threshold keeps pixels >= level, the class boundary is level+1
	return uint8(min(level+1, 255))
}

// ReadText OCRs box of frame and keeps the engine's line layout.
func (l *Locator) ReadText(ctx context.Context, frame image.Image, box models.BBox, preprocess bool) (string, error) {
	sub := cropRegion(frame, box)
	if sub == nil {
		return "", nil
	}
	return l.recognize(ctx, sub, preprocess)
}

// OCRExtractText OCRs an already cropped region and collapses line breaks.
func (l *Locator) OCRExtractText(ctx context.Context, sub image.Image, preprocess bool) (string, error) {
	if sub == nil {
		return "", nil
	}
	text, err := l.recognize(ctx, sub, preprocess)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(text), " "), nil
}

func (l *Locator) recognize(ctx context.Context, sub image.Image, preprocess bool) (string, error) {
	if l.opts.OCR == nil {
		return "", models.Errorf(models.KindEngineFault, "ocr", "no OCR engine configured")
	}
	if preprocess {
		sub = PreprocessForOCR(sub)
	}
	text, err := l.opts.OCR.Recognize(ctx, sub)
	if err != nil {
		return "", models.NewError(models.KindCommandFailed, "ocr", err)
	}
	return strings.TrimSpace(text), nil
}

func cropRegion(frame image.Image, box models.BBox) image.Image {
	if frame == nil {
		return nil
	}
	r := box.Rect().Intersect(frame.Bounds())
	if r.Empty() {
		return nil
	}
	return transform.Crop(frame, r)
}
