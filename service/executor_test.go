package service

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/adb"
	"github.com/Thirteen88/ish-automation-sub001/adb/adbtest"
	"github.com/Thirteen88/ish-automation-sub001/config"
	"github.com/Thirteen88/ish-automation-sub001/models"
)

// scriptedLocator hands out frames whose width encodes the response area
// height, so each poll reads the box the script asks for.
type scriptedLocator struct {
	mu       sync.Mutex
	heights  []int
	captures int
}

func (s *scriptedLocator) CaptureScreen(context.Context, string) (*models.ScreenCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.heights[min(s.captures, len(s.heights)-1)]
	s.captures++
	img := image.NewGray(image.Rect(0, 0, h, 1))
	return &models.ScreenCapture{Image: img, Width: h, Height: 1}, nil
}

func (s *scriptedLocator) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

func (s *scriptedLocator) DetectInputArea(image.Image) *models.UIElement {
	return &models.UIElement{Kind: models.ElementInputArea}
}

func (s *scriptedLocator) DetectSendButton(image.Image) *models.UIElement {
	return &models.UIElement{Kind: models.ElementSendButton}
}

func (s *scriptedLocator) DetectResponseArea(frame image.Image, _, _ *models.UIElement) *models.UIElement {
	return &models.UIElement{Kind: models.ElementResponseArea, BBox: models.BBox{X: 0, Y: 100, W: 1000, H: frame.Bounds().Dx()}}
}

func (s *scriptedLocator) ReadText(context.Context, image.Image, models.BBox, bool) (string, error) {
	return "", nil
}

func (s *scriptedLocator) AnalyzeScreen(context.Context) (*models.ScreenAnalysis, error) {
	return &models.ScreenAnalysis{}, nil
}

func newStabilityEngine(t *testing.T, heights ...int) (*AutomationEngine, *scriptedLocator) {
	t.Helper()
	cfg := testConfig()
	cfg.StabilityPolls = 3
	cfg.StabilityMode = config.StabilityBBox
	cfg.ScreenshotInterval = time.Millisecond
	cfg.ResponseWaitTimeout = 5 * time.Second
	loc := &scriptedLocator{heights: heights}
	ch := adb.NewChannel(adb.NewADBClient("adb", adbtest.NewRunner()), adb.ChannelOptions{}, cfg.DeviceID)
	e, err := NewAutomationEngine(cfg, Dependencies{Channel: ch, Locator: loc})
	require.NoError(t, err)
	return e, loc
}

func TestWaitForStableResponseNeedsThreeIdenticalReads(t *testing.T) {
	t.Run("two matching then a change keeps waiting", func(t *testing.T) {
		e, loc := newStabilityEngine(t, 400, 400, 420, 420, 420)
		require.NoError(t, e.waitForStableResponse(context.Background(), nil))
		assert.Equal(t, 5, loc.count())
	})

	t.Run("three matching reads settle", func(t *testing.T) {
		e, loc := newStabilityEngine(t, 400, 400, 400, 900)
		require.NoError(t, e.waitForStableResponse(context.Background(), nil))
		assert.Equal(t, 3, loc.count())
	})

	t.Run("a latency hint caps the wait", func(t *testing.T) {
		heights := make([]int, 10000)
		for i := range heights {
			heights[i] = 100 + i%2
		}
		e, _ := newStabilityEngine(t, heights...)
		start := time.Now()
		require.NoError(t, e.waitForStableResponse(context.Background(), &ModelHint{MaxLatency: 50 * time.Millisecond}))
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}
