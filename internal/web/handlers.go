package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scheerer/ambilamp/internal/ambilight"
	"github.com/scheerer/ambilamp/internal/screen"
	"github.com/scheerer/ambilamp/internal/settings"
)

type apiError struct {
	Error string `json:"error"`
}

type settingsView struct {
	UpdateInterval  string  `json:"update_interval"`
	BrightnessStep  int     `json:"brightness_step"`
	MinBrightness   int     `json:"min_brightness"`
	MonitorIndex    int     `json:"monitor_index"`
	SaturationBoost float64 `json:"saturation_boost"`
	LastBrightness  *int    `json:"last_brightness,omitempty"`
	Revision        uint64  `json:"revision"`
}

type settingsPatch struct {
	UpdateInterval  *string  `json:"update_interval"`
	BrightnessStep  *int     `json:"brightness_step"`
	MinBrightness   *int     `json:"min_brightness"`
	MonitorIndex    *int     `json:"monitor_index"`
	SaturationBoost *float64 `json:"saturation_boost"`
}

type loopView struct {
	State   ambilight.State `json:"state"`
	Message string          `json:"message,omitempty"`
}

type logLevelRequest struct {
	Logger string `json:"logger"`
	Level  string `json:"level"`
}

// maxIntervalSeconds keeps form intervals well inside time.Duration's range.
const maxIntervalSeconds = 24 * 60 * 60

// fallbackMonitors is shown when the capture backend cannot list displays.
var fallbackMonitors = []screen.Monitor{{Index: 0, Width: 1920, Height: 1080}}

func (s *Server) view() settingsView {
	cur, revision := s.store.Versioned()
	v := settingsView{
		UpdateInterval:  cur.UpdateInterval.String(),
		BrightnessStep:  cur.BrightnessStep,
		MinBrightness:   cur.MinBrightness,
		MonitorIndex:    cur.MonitorIndex,
		SaturationBoost: cur.SaturationBoost,
		Revision:        revision,
	}
	if b, ok := s.store.LastBrightness(); ok {
		v.LastBrightness = &b
	}
	return v
}

func (s *Server) listMonitors() ([]screen.Monitor, bool) {
	monitors, err := s.monitors.Monitors()
	if err != nil || len(monitors) == 0 {
		logger.With(zap.Error(err)).Warn("Failed to list monitors")
		return fallbackMonitors, false
	}
	return monitors, true
}

// applyPatch validates p against the live monitor list and stores it.
func (s *Server) applyPatch(p settings.Patch) (settings.Settings, error) {
	if p.Empty() {
		return s.store.Snapshot(), &settings.ValidationError{Field: "settings", Reason: "no fields to update"}
	}
	if p.MonitorIndex != nil {
		if monitors, ok := s.listMonitors(); ok && *p.MonitorIndex >= len(monitors) {
			return s.store.Snapshot(), &settings.ValidationError{
				Field:  "monitor_index",
				Reason: fmt.Sprintf("must be between 0 and %d", len(monitors)-1),
			}
		}
	}

	updated, err := s.store.Update(p)
	if err != nil {
		return updated, err
	}
	logger.With(zap.Any("settings", updated)).Info("Settings updated")
	s.hub.Publish(Event{Type: "settings", Payload: s.view()})
	return updated, nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "loop": s.loop.State().String()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	p := settings.Patch{
		BrightnessStep:  req.BrightnessStep,
		MinBrightness:   req.MinBrightness,
		MonitorIndex:    req.MonitorIndex,
		SaturationBoost: req.SaturationBoost,
	}
	if req.UpdateInterval != nil {
		d, err := time.ParseDuration(*req.UpdateInterval)
		if err != nil {
			writeErr(w, http.StatusBadRequest, &settings.ValidationError{Field: "update_interval", Reason: err.Error()})
			return
		}
		p.UpdateInterval = &d
	}

	if _, err := s.applyPatch(p); err != nil {
		writeSettingsErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.loop.Status())
}

func (s *Server) handleMonitors(w http.ResponseWriter, _ *http.Request) {
	monitors, err := s.monitors.Monitors()
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, monitors)
}

func (s *Server) handleLoopStart(w http.ResponseWriter, _ *http.Request) {
	msg := "started"
	if err := s.loop.Start(); err != nil {
		if !errors.Is(err, ambilight.ErrAlreadyRunning) {
			writeErr(w, http.StatusServiceUnavailable, err)
			return
		}
		msg = err.Error()
	}
	writeJSON(w, http.StatusOK, loopView{State: s.loop.State(), Message: msg})
}

func (s *Server) handleLoopStop(w http.ResponseWriter, _ *http.Request) {
	msg := "stopping"
	if err := s.loop.Stop(); err != nil {
		msg = err.Error()
	}
	writeJSON(w, http.StatusOK, loopView{State: s.loop.State(), Message: msg})
}

func (s *Server) handleGetLogLevels(w http.ResponseWriter, _ *http.Request) {
	levels := s.leveler.Levels()
	out := make(map[string]string, len(levels))
	for name, level := range levels {
		out[name] = level.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutLogLevel(w http.ResponseWriter, r *http.Request) {
	var req logLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	level, err := zapcore.ParseLevel(req.Level)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	if req.Logger == "" {
		s.leveler.SetAll(level)
	} else {
		s.leveler.SetLevel(req.Logger, level)
	}
	logger.With(zap.String("logger", req.Logger), zap.Stringer("level", level)).Info("Log level changed")
	s.handleGetLogLevels(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeErr(w, http.StatusBadRequest, errors.New("websocket upgrade required"))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.With(zap.String("remote", r.RemoteAddr), zap.Error(err)).Warn("Websocket upgrade failed")
		return
	}
	client := NewClient(s.hub, conn)
	// The current status goes to the new client only; the send buffer is
	// empty at this point so the write cannot block.
	client.Queue(Event{Type: "status", Payload: s.loop.Status()})
	if !s.hub.Register(client) {
		_ = conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()
}

// Form handlers render or redirect to the HTML page.

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	monitors, _ := s.listMonitors()
	cur := s.store.Snapshot()
	data := pageData{
		Monitors:        monitors,
		MonitorIndex:    cur.MonitorIndex,
		IntervalSeconds: cur.UpdateInterval.Seconds(),
		BrightnessStep:  cur.BrightnessStep,
		MinBrightness:   cur.MinBrightness,
		SaturationBoost: cur.SaturationBoost,
		Status:          s.loop.Status(),
		Message:         r.URL.Query().Get("message"),
		MessageType:     r.URL.Query().Get("type"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		logger.With(zap.Error(err)).Error("Failed to render settings page")
	}
}

func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithMessage(w, r, err.Error(), "error")
		return
	}
	p, err := patchFromForm(r.PostForm)
	if err != nil {
		logger.With(zap.Error(err)).Warn("Rejected settings form")
		redirectWithMessage(w, r, err.Error(), "error")
		return
	}
	if _, err := s.applyPatch(p); err != nil {
		logger.With(zap.Error(err)).Warn("Rejected settings form")
		redirectWithMessage(w, r, err.Error(), "error")
		return
	}
	redirectWithMessage(w, r, "Settings saved", "success")
}

func (s *Server) handleStartForm(w http.ResponseWriter, r *http.Request) {
	if err := s.loop.Start(); err != nil {
		redirectWithMessage(w, r, err.Error(), "error")
		return
	}
	logger.Info("Ambilight loop started from settings page")
	redirectWithMessage(w, r, "Lamp control started", "success")
}

func (s *Server) handleStopForm(w http.ResponseWriter, r *http.Request) {
	if err := s.loop.Stop(); err != nil {
		redirectWithMessage(w, r, err.Error(), "error")
		return
	}
	logger.Info("Ambilight loop stopped from settings page")
	redirectWithMessage(w, r, "Lamp control stopped", "success")
}

// patchFromForm reads the submitted fields. Absent or blank fields are left
// out of the patch. The interval is given in seconds.
func patchFromForm(form url.Values) (settings.Patch, error) {
	var p settings.Patch

	if v := strings.TrimSpace(form.Get("monitor_number")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &settings.ValidationError{Field: "monitor_index", Reason: "must be a whole number"}
		}
		p.MonitorIndex = &n
	}
	if v := strings.TrimSpace(form.Get("update_interval")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return p, &settings.ValidationError{Field: "update_interval", Reason: "must be a number of seconds"}
		}
		if math.Abs(f) > maxIntervalSeconds {
			return p, &settings.ValidationError{Field: "update_interval", Reason: "is out of range"}
		}
		d := time.Duration(f * float64(time.Second))
		p.UpdateInterval = &d
	}
	if v := strings.TrimSpace(form.Get("brightness_step")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &settings.ValidationError{Field: "brightness_step", Reason: "must be a whole number"}
		}
		p.BrightnessStep = &n
	}
	if v := strings.TrimSpace(form.Get("min_brightness")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &settings.ValidationError{Field: "min_brightness", Reason: "must be a whole number"}
		}
		p.MinBrightness = &n
	}
	if v := strings.TrimSpace(form.Get("saturation_boost")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return p, &settings.ValidationError{Field: "saturation_boost", Reason: "must be a number"}
		}
		p.SaturationBoost = &f
	}
	return p, nil
}

func redirectWithMessage(w http.ResponseWriter, r *http.Request, message, kind string) {
	q := url.Values{}
	q.Set("message", message)
	q.Set("type", kind)
	http.Redirect(w, r, "/?"+q.Encode(), http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, apiError{Error: err.Error()})
}

func writeSettingsErr(w http.ResponseWriter, err error) {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeErr(w, http.StatusInternalServerError, err)
}
