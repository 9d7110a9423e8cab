// Package settings holds the tunable parameters of the ambilight loop.
//
// A Store is shared between the loop goroutine and the HTTP handlers. Every
// read returns a copy and every write replaces the whole record under one
// lock, so readers never observe a half-applied update.
package settings

import (
	"fmt"
	"math"
	"sync"
	"time"
)

type Settings struct {
	UpdateInterval  time.Duration
	BrightnessStep  int
	MinBrightness   int
	MonitorIndex    int
	SaturationBoost float64
}

// Defaults mirror the values the lamp was tuned with.
func Defaults() Settings {
	return Settings{
		UpdateInterval:  500 * time.Millisecond,
		BrightnessStep:  5,
		MinBrightness:   6,
		MonitorIndex:    1,
		SaturationBoost: 1.0,
	}
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (s Settings) Validate() error {
	if s.UpdateInterval <= 0 {
		return &ValidationError{Field: "update_interval", Reason: "must be positive"}
	}
	if s.BrightnessStep < 1 || s.BrightnessStep > 100 {
		return &ValidationError{Field: "brightness_step", Reason: "must be between 1 and 100"}
	}
	if s.MinBrightness < 0 || s.MinBrightness > 100 {
		return &ValidationError{Field: "min_brightness", Reason: "must be between 0 and 100"}
	}
	if s.MonitorIndex < 0 {
		return &ValidationError{Field: "monitor_index", Reason: "must not be negative"}
	}
	if !(s.SaturationBoost > 0) || math.IsInf(s.SaturationBoost, 1) {
		return &ValidationError{Field: "saturation_boost", Reason: "must be a positive finite number"}
	}
	return nil
}

// Patch is a partial update. Nil fields keep their current value.
type Patch struct {
	UpdateInterval  *time.Duration
	BrightnessStep  *int
	MinBrightness   *int
	MonitorIndex    *int
	SaturationBoost *float64
}

func (p Patch) Apply(s Settings) Settings {
	if p.UpdateInterval != nil {
		s.UpdateInterval = *p.UpdateInterval
	}
	if p.BrightnessStep != nil {
		s.BrightnessStep = *p.BrightnessStep
	}
	if p.MinBrightness != nil {
		s.MinBrightness = *p.MinBrightness
	}
	if p.MonitorIndex != nil {
		s.MonitorIndex = *p.MonitorIndex
	}
	if p.SaturationBoost != nil {
		s.SaturationBoost = *p.SaturationBoost
	}
	return s
}

func (p Patch) Empty() bool {
	return p.UpdateInterval == nil && p.BrightnessStep == nil && p.MinBrightness == nil &&
		p.MonitorIndex == nil && p.SaturationBoost == nil
}

type Store struct {
	mu       sync.RWMutex
	current  Settings
	lastSet  bool
	lastBri  int
	revision uint64
}

func NewStore(initial Settings) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{current: initial}, nil
}

func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Versioned returns the current settings together with their revision. The
// revision increases by one with every successful write.
func (s *Store) Versioned() (Settings, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.revision
}

func (s *Store) Replace(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = next
	s.revision++
	s.mu.Unlock()
	return nil
}

// Update merges p into the current settings and stores the result if it is
// valid. The merge and the write happen under the same lock.
func (s *Store) Update(p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := p.Apply(s.current)
	if err := next.Validate(); err != nil {
		return s.current, err
	}
	s.current = next
	s.revision++
	return next, nil
}

// LastBrightness returns the brightness last applied to the lamp and whether
// any command has been applied yet. A powered-off lamp reports 0.
func (s *Store) LastBrightness() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastBri, s.lastSet
}

func (s *Store) SetLastBrightness(b int) {
	s.mu.Lock()
	s.lastBri = b
	s.lastSet = true
	s.mu.Unlock()
}

func (s *Store) ForgetLastBrightness() {
	s.mu.Lock()
	s.lastBri = 0
	s.lastSet = false
	s.mu.Unlock()
}
