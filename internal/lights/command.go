package lights

import (
	"fmt"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap/zapcore"

	"github.com/scheerer/ambilamp/internal/screen"
	"github.com/scheerer/ambilamp/internal/settings"
)

// Command is what the lamp should do next. When Power is false the lamp is
// switched off and the color fields are zero.
type Command struct {
	Power      bool `json:"power"`
	Hue        int  `json:"hue"`        // 0-359
	Saturation int  `json:"saturation"` // 0-100
	Brightness int  `json:"brightness"` // 1-100
}

var PowerOff = Command{}

func (c Command) IsPowerOff() bool {
	return !c.Power
}

// AppliedBrightness is the brightness the lamp shows once the command is
// applied.
func (c Command) AppliedBrightness() int {
	if !c.Power {
		return 0
	}
	return c.Brightness
}

func (c Command) String() string {
	if !c.Power {
		return "off"
	}
	return fmt.Sprintf("hsv(%d, %d, %d)", c.Hue, c.Saturation, c.Brightness)
}

func (c Command) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("power", c.Power)
	if c.Power {
		enc.AddInt("hue", c.Hue)
		enc.AddInt("saturation", c.Saturation)
		enc.AddInt("brightness", c.Brightness)
	}
	return nil
}

// LastBrightness is the brightness the lamp was last set to, if known.
type LastBrightness struct {
	Value int
	Known bool
}

// Build turns a sampled frame into a lamp command.
//
// Frames darker than MinBrightness switch the lamp off. Otherwise brightness
// changes smaller than BrightnessStep keep the last applied brightness so the
// lamp does not flicker on small fluctuations. Build has no side effects.
func Build(frame screen.Frame, s settings.Settings, last LastBrightness) Command {
	if frame.Brightness < s.MinBrightness {
		return PowerOff
	}

	hue, saturation := hueSaturation(frame.R, frame.G, frame.B, s.SaturationBoost)

	brightness := frame.Brightness
	if last.Known && abs(brightness-last.Value) < s.BrightnessStep {
		brightness = last.Value
	}

	return Command{
		Power:      true,
		Hue:        hue,
		Saturation: saturation,
		Brightness: clamp(brightness, 1, 100),
	}
}

func hueSaturation(r, g, b uint8, boost float64) (int, int) {
	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
	h, s, _ := c.Hsv()

	s *= boost
	switch {
	case math.IsNaN(s) || s < 0:
		s = 0
	case s > 1:
		s = 1
	}

	return clamp(int(h), 0, 359), clamp(int(s*100), 0, 100)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
