package ambilight

import (
	"fmt"
	"time"

	"github.com/scheerer/ambilamp/internal/lights"
	"github.com/scheerer/ambilamp/internal/screen"
)

type State int

const (
	Stopped State = iota
	Running
	// Stopping means Stop was called and the last tick is still finishing.
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the outcome of one tick as seen by the settings surface.
type Status struct {
	State             State          `json:"state"`
	Time              time.Time      `json:"time"`
	Frame             screen.Frame   `json:"frame"`
	Command           lights.Command `json:"command"`
	Error             string         `json:"error,omitempty"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	CoolingDown       bool           `json:"cooling_down"`
	Panicked          bool           `json:"panicked,omitempty"`
}
