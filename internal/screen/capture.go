package screen

import (
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

var ErrNoSuchMonitor = errors.New("no such monitor")

// Monitor describes one capture target. Index 0 is every display combined,
// index n is display n-1.
type Monitor struct {
	Index  int             `json:"index"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Bounds image.Rectangle `json:"-"`
}

func (m Monitor) Combined() bool {
	return m.Index == 0
}

// Capturer grabs frames from the platform. Implementations need not be safe
// for concurrent use; Sampler serializes access.
type Capturer interface {
	ListMonitors() ([]Monitor, error)
	Grab(index int) (*image.RGBA, error)
}

type ScreenshotCapturer struct{}

var _ Capturer = ScreenshotCapturer{}

func (ScreenshotCapturer) ListMonitors() ([]Monitor, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, errors.New("no active displays")
	}

	displays := make([]Monitor, 0, n+1)
	var all image.Rectangle
	for i := 0; i < n; i++ {
		b := screenshot.GetDisplayBounds(i)
		all = all.Union(b)
		displays = append(displays, Monitor{Index: i + 1, Width: b.Dx(), Height: b.Dy(), Bounds: b})
	}

	combined := Monitor{Index: 0, Width: all.Dx(), Height: all.Dy(), Bounds: all}
	return append([]Monitor{combined}, displays...), nil
}

func (c ScreenshotCapturer) Grab(index int) (*image.RGBA, error) {
	monitors, err := c.ListMonitors()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(monitors) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrNoSuchMonitor, index, len(monitors)-1)
	}

	var img *image.RGBA
	if index == 0 {
		img, err = screenshot.CaptureRect(monitors[0].Bounds)
	} else {
		img, err = screenshot.CaptureDisplay(index - 1)
	}
	if err != nil {
		return nil, fmt.Errorf("capture monitor %d: %w", index, err)
	}
	return img, nil
}
