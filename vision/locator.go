// Package vision locates the AI client's controls from raw screenshots and
// reads text back out of them.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/adb"
	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Reference resolution the fallback coordinates were measured on.
const (
	ReferenceWidth  = 1080
	ReferenceHeight = 2400
)

// CommandExecutor issues device commands; *adb.Channel implements it.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd models.DeviceCommand) models.DeviceCommandResult
}

// commandQueuer accepts fire-and-forget commands; *adb.Channel implements it.
type commandQueuer interface {
	Enqueue(cmd models.DeviceCommand) bool
}

type LocatorOptions struct {
	DeviceID       string
	CaptureDir     string
	CommandTimeout time.Duration
	OCR            OCREngine
	Now            func() time.Time
}

// Locator captures frames from one device and finds the input area, send
// button and response area on them.
type Locator struct {
	exec    CommandExecutor
	opts    LocatorOptions
	counter atomic.Int64
}

func NewLocator(exec CommandExecutor, opts LocatorOptions) *Locator {
	if opts.CaptureDir == "" {
		opts.CaptureDir = "captures"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Locator{exec: exec, opts: opts}
}

func (l *Locator) DeviceID() string { return l.opts.DeviceID }

func (l *Locator) run(ctx context.Context, args []string) models.DeviceCommandResult {
	return l.exec.Execute(ctx, models.DeviceCommand{
		Args:     args,
		DeviceID: l.opts.DeviceID,
		Timeout:  l.opts.CommandTimeout,
	})
}

// CaptureScreen takes a screenshot and stores it as
// <purpose>_<counter>_<unix>.png under the capture directory. The device-side
// copy is pulled first; if that fails the PNG is streamed over exec-out.
func (l *Locator) CaptureScreen(ctx context.Context, purpose string) (*models.ScreenCapture, error) {
	if err := os.MkdirAll(l.opts.CaptureDir, 0o755); err != nil {
		return nil, models.NewError(models.KindCaptureFailure, "capture", err)
	}
	now := l.opts.Now()
	name := fmt.Sprintf("%s_%d_%d.png", purpose, l.counter.Add(1), now.Unix())
	localPath := filepath.Join(l.opts.CaptureDir, name)
	remotePath := path.Join("/sdcard", name)

	data, err := l.pullCapture(ctx, remotePath, localPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewError(models.KindCaptureFailure, "capture", ctx.Err())
		}
		log.Printf("⚠️ [%s] screenshot transfer failed, streaming instead: %v", l.opts.DeviceID, err)
		data, err = l.streamCapture(ctx, localPath)
		if err != nil {
			return nil, models.NewError(models.KindCaptureFailure, "capture", err)
		}
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.Errorf(models.KindCaptureFailure, "capture", "decode %s: %v", name, err)
	}
	b := img.Bounds()
	return &models.ScreenCapture{
		Raster:     data,
		Image:      img,
		DeviceID:   l.opts.DeviceID,
		CapturedAt: now,
		FilePath:   localPath,
		Width:      b.Dx(),
		Height:     b.Dy(),
	}, nil
}

func (l *Locator) pullCapture(ctx context.Context, remotePath, localPath string) ([]byte, error) {
	res := l.run(ctx, adb.ScreencapArgs(remotePath))
	if !res.Success {
		return nil, res.Err()
	}
	defer l.removeRemote(ctx, remotePath)

	if res = l.run(ctx, adb.PullArgs(remotePath, localPath)); !res.Success {
		return nil, res.Err()
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("pulled %s is empty", localPath)
	}
	return data, nil
}

// removeRemote deletes the device-side copy. It is best effort, so it is
// queued without waiting when the executor allows it.
func (l *Locator) removeRemote(ctx context.Context, remotePath string) {
	cmd := models.DeviceCommand{
		Args:     adb.RemoveArgs(remotePath),
		DeviceID: l.opts.DeviceID,
		Timeout:  l.opts.CommandTimeout,
	}
	if q, ok := l.exec.(commandQueuer); ok && q.Enqueue(cmd) {
		return
	}
	l.exec.Execute(context.WithoutCancel(ctx), cmd)
}

func (l *Locator) streamCapture(ctx context.Context, localPath string) ([]byte, error) {
	res := l.run(ctx, adb.ExecOutScreencapArgs())
	if !res.Success {
		return nil, res.Err()
	}
	if len(res.Stdout) == 0 {
		return nil, fmt.Errorf("exec-out screencap returned no data")
	}
	if err := os.WriteFile(localPath, res.Stdout, 0o644); err != nil {
		log.Printf("⚠️ [%s] could not save %s: %v", l.opts.DeviceID, localPath, err)
	}
	return res.Stdout, nil
}

// AnalyzeScreen captures the current screen, locates every element and reads
// the response area.
func (l *Locator) AnalyzeScreen(ctx context.Context) (*models.ScreenAnalysis, error) {
	capture, err := l.CaptureScreen(ctx, "analysis")
	if err != nil {
		return nil, err
	}
	input := l.DetectInputArea(capture.Image)
	send := l.DetectSendButton(capture.Image)
	response := l.DetectResponseArea(capture.Image, input, send)

	analysis := &models.ScreenAnalysis{
		Capture: capture,
		Elements: map[models.ElementKind]*models.UIElement{
			models.ElementInputArea:    input,
			models.ElementSendButton:   send,
			models.ElementResponseArea: response,
		},
	}
	if l.opts.OCR != nil {
		text, err := l.OCRExtractText(ctx, l.ExtractTextRegion(capture.Image, response.BBox), true)
		if err != nil {
			log.Printf("⚠️ [%s] OCR failed during analysis: %v", l.opts.DeviceID, err)
		}
		analysis.ExtractedText = text
	}
	return analysis, nil
}

// scaleReference maps a rectangle measured on the reference resolution onto
// the frame, scaling each axis independently, and clamps it to the frame.
func scaleReference(frame image.Rectangle, ref models.BBox) models.BBox {
	sx := float64(frame.Dx()) / ReferenceWidth
	sy := float64(frame.Dy()) / ReferenceHeight
	b := models.BBox{
		X: frame.Min.X + int(float64(ref.X)*sx+0.5),
		Y: frame.Min.Y + int(float64(ref.Y)*sy+0.5),
		W: int(float64(ref.W)*sx + 0.5),
		H: int(float64(ref.H)*sy + 0.5),
	}
	return clampBBox(frame, b)
}

func clampBBox(frame image.Rectangle, b models.BBox) models.BBox {
	return models.BBoxFromRect(b.Rect().Intersect(frame))
}
