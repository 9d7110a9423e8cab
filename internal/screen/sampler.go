package screen

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/scheerer/ambilamp/internal/logging"
)

var logger = logging.New("screen")

const DefaultSampleSize = 800

// Frame is the reduced form of one capture. The zero Frame is the sentinel
// for a failed capture; a successful one always has Brightness in 1..100.
type Frame struct {
	R          uint8 `json:"r"`
	G          uint8 `json:"g"`
	B          uint8 `json:"b"`
	Brightness int   `json:"brightness"`
}

func (f Frame) IsZero() bool {
	return f == Frame{}
}

// Sampler captures a monitor and reduces it to a Frame. It is safe for
// concurrent use; calls into the Capturer are serialized.
type Sampler struct {
	capturer Capturer
	size     int
	reduce   reducer

	mu sync.Mutex // guards capturer
}

func NewSampler(capturer Capturer, size int, algo string) (*Sampler, error) {
	if capturer == nil {
		return nil, errors.New("nil capturer")
	}
	if size <= 0 {
		size = DefaultSampleSize
	}
	reduce, err := reducerFor(algo)
	if err != nil {
		return nil, err
	}
	return &Sampler{capturer: capturer, size: size, reduce: reduce}, nil
}

func (s *Sampler) grab(monitor int) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturer.Grab(monitor)
}

func (s *Sampler) Monitors() ([]Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturer.ListMonitors()
}

// Capture grabs monitor and reduces it. The image is resampled to a fixed
// square first so the cost does not depend on the display resolution.
func (s *Sampler) Capture(monitor int) (Frame, error) {
	startTime := time.Now()
	img, err := s.grab(monitor)
	captureDuration := time.Since(startTime)
	if err != nil {
		return Frame{}, err
	}
	if img == nil || img.Bounds().Empty() {
		return Frame{}, errors.New("capture returned an empty frame")
	}

	resized := imaging.Resize(img, s.size, s.size, imaging.Lanczos)
	c := s.reduce(resized)
	frame := Frame{
		R:          uint8(c.r),
		G:          uint8(c.g),
		B:          uint8(c.b),
		Brightness: brightnessPercent(c),
	}

	logger.With(
		zap.Int("monitor", monitor),
		zap.Stringer("captureDuration", captureDuration),
		zap.Stringer("totalDuration", time.Since(startTime)),
		zap.Any("frame", frame)).
		Debug("Sampled screen")
	return frame, nil
}

// Sample is Capture with failures folded into the zero Frame.
func (s *Sampler) Sample(monitor int) Frame {
	frame, err := s.Capture(monitor)
	if err != nil {
		logger.With(zap.Int("monitor", monitor), zap.Error(err)).Error("Failed to capture screen")
		return Frame{}
	}
	return frame
}

func brightnessPercent(c channels) int {
	mean := (c.r + c.g + c.b) / 3
	b := int(mean / 255 * 100)
	if b < 1 {
		return 1
	}
	if b > 100 {
		return 100
	}
	return b
}
