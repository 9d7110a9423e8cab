package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scheerer/ambilamp/internal/ambilight"
	"github.com/scheerer/ambilamp/internal/lights"
	"github.com/scheerer/ambilamp/internal/screen"
	"github.com/scheerer/ambilamp/internal/settings"
)

type fakeLoop struct {
	mu     sync.Mutex
	state  ambilight.State
	status ambilight.Status
}

func (f *fakeLoop) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == ambilight.Running {
		return ambilight.ErrAlreadyRunning
	}
	f.state = ambilight.Running
	return nil
}

func (f *fakeLoop) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != ambilight.Running {
		return ambilight.ErrNotRunning
	}
	f.state = ambilight.Stopped
	return nil
}

func (f *fakeLoop) State() ambilight.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeLoop) Status() ambilight.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	s.State = f.state
	return s
}

type fakeMonitors struct {
	monitors []screen.Monitor
	err      error
}

func (f fakeMonitors) Monitors() ([]screen.Monitor, error) {
	return f.monitors, f.err
}

var twoMonitors = fakeMonitors{monitors: []screen.Monitor{
	{Index: 0, Width: 3840, Height: 1080},
	{Index: 1, Width: 1920, Height: 1080},
	{Index: 2, Width: 1920, Height: 1080},
}}

type testServer struct {
	*Server
	store *settings.Store
	loop  *fakeLoop
}

func newTestServer(t *testing.T, monitors MonitorLister) *testServer {
	t.Helper()
	store, err := settings.NewStore(settings.Defaults())
	require.NoError(t, err)
	loop := &fakeLoop{state: ambilight.Running}
	return &testServer{
		Server: NewServer(":0", store, loop, monitors, NewHub()),
		store:  store,
		loop:   loop,
	}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetSettings(t *testing.T) {
	s := newTestServer(t, twoMonitors)

	rec := s.do(http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	v := decode[settingsView](t, rec)
	assert.Equal(t, settingsView{
		UpdateInterval:  "500ms",
		BrightnessStep:  5,
		MinBrightness:   6,
		MonitorIndex:    1,
		SaturationBoost: 1,
	}, v)

	s.store.SetLastBrightness(42)
	v = decode[settingsView](t, s.do(http.MethodGet, "/api/settings", ""))
	require.NotNil(t, v.LastBrightness)
	assert.Equal(t, 42, *v.LastBrightness)
}

func TestPutSettings(t *testing.T) {
	s := newTestServer(t, twoMonitors)

	rec := s.do(http.MethodPut, "/api/settings", `{"update_interval":"1.5s","brightness_step":10,"monitor_index":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cur := s.store.Snapshot()
	assert.Equal(t, 1500*time.Millisecond, cur.UpdateInterval)
	assert.Equal(t, 10, cur.BrightnessStep)
	assert.Equal(t, 2, cur.MonitorIndex)
	assert.Equal(t, 6, cur.MinBrightness, "untouched fields keep their value")

	v := decode[settingsView](t, rec)
	assert.Equal(t, "1.5s", v.UpdateInterval)
	assert.Equal(t, uint64(1), v.Revision)

	v = decode[settingsView](t, s.do(http.MethodGet, "/api/settings", ""))
	assert.Equal(t, uint64(1), v.Revision)
}

func TestPutSettingsRejected(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		monitors MonitorLister
		contains string
	}{
		{name: "malformed_json", body: `{"brightness_step":`, monitors: twoMonitors},
		{name: "unknown_field", body: `{"brightness":5}`, monitors: twoMonitors},
		{name: "empty_patch", body: `{}`, monitors: twoMonitors, contains: "no fields"},
		{name: "bad_duration", body: `{"update_interval":"soon"}`, monitors: twoMonitors, contains: "update_interval"},
		{name: "zero_interval", body: `{"update_interval":"0s"}`, monitors: twoMonitors, contains: "update_interval"},
		{name: "step_out_of_range", body: `{"brightness_step":0}`, monitors: twoMonitors, contains: "brightness_step"},
		{name: "min_out_of_range", body: `{"min_brightness":101}`, monitors: twoMonitors, contains: "min_brightness"},
		{name: "boost_not_positive", body: `{"saturation_boost":0}`, monitors: twoMonitors, contains: "saturation_boost"},
		{name: "monitor_missing", body: `{"monitor_index":3}`, monitors: twoMonitors, contains: "monitor_index"},
		{name: "monitor_negative", body: `{"monitor_index":-1}`, monitors: twoMonitors, contains: "monitor_index"},
		{name: "partly_invalid", body: `{"brightness_step":7,"min_brightness":-3}`, monitors: twoMonitors, contains: "min_brightness"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.monitors)

			rec := s.do(http.MethodPut, "/api/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[apiError](t, rec)
			assert.Contains(t, resp.Error, tt.contains)
			assert.Equal(t, settings.Defaults(), s.store.Snapshot(), "rejected update must not change settings")
		})
	}
}

func TestPutSettingsMonitorUncheckedWhenListingFails(t *testing.T) {
	s := newTestServer(t, fakeMonitors{err: errors.New("no display")})

	rec := s.do(http.MethodPut, "/api/settings", `{"monitor_index":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7, s.store.Snapshot().MonitorIndex)
}

func TestUpdateForm(t *testing.T) {
	s := newTestServer(t, twoMonitors)

	rec := s.postForm("/update", url.Values{
		"monitor_number":   {"0"},
		"update_interval":  {"0.25"},
		"brightness_step":  {"3"},
		"min_brightness":   {""},
		"saturation_boost": {"1.4"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/", location.Path)
	assert.Equal(t, "success", location.Query().Get("type"))

	assert.Equal(t, settings.Settings{
		UpdateInterval:  250 * time.Millisecond,
		BrightnessStep:  3,
		MinBrightness:   6,
		MonitorIndex:    0,
		SaturationBoost: 1.4,
	}, s.store.Snapshot())
}

func TestUpdateFormRejected(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{name: "not_a_number", form: url.Values{"brightness_step": {"five"}}},
		{name: "negative_interval", form: url.Values{"update_interval": {"-1"}}},
		{name: "nan_interval", form: url.Values{"update_interval": {"NaN"}}},
		{name: "overflowing_interval", form: url.Values{"update_interval": {"9.3e9"}}},
		{name: "infinite_interval", form: url.Values{"update_interval": {"Inf"}}},
		{name: "infinite_boost", form: url.Values{"saturation_boost": {"inf"}}},
		{name: "monitor_missing", form: url.Values{"monitor_number": {"9"}}},
		{name: "nothing_submitted", form: url.Values{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, twoMonitors)

			rec := s.postForm("/update", tt.form)
			require.Equal(t, http.StatusSeeOther, rec.Code)
			location, err := url.Parse(rec.Header().Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "error", location.Query().Get("type"))
			assert.NotEmpty(t, location.Query().Get("message"))
			assert.Equal(t, settings.Defaults(), s.store.Snapshot())
		})
	}
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, twoMonitors)

	rec := s.do(http.MethodGet, "/?message=Settings+saved&type=success", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "Settings saved")
	assert.Contains(t, body, "3840x1080")
	assert.Contains(t, body, `action="/update"`)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/nope", "").Code)
}

func TestIndexPageFallsBackWithoutMonitors(t *testing.T) {
	s := newTestServer(t, fakeMonitors{err: errors.New("no display")})

	rec := s.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1920x1080")
}

func TestStartStopForms(t *testing.T) {
	s := newTestServer(t, twoMonitors)

	rec := s.postForm("/stop", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "type=success")
	assert.Equal(t, ambilight.Stopped, s.loop.State())

	rec = s.postForm("/stop", nil)
	assert.Contains(t, rec.Header().Get("Location"), "type=error")

	rec = s.postForm("/start", nil)
	assert.Contains(t, rec.Header().Get("Location"), "type=success")
	assert.Equal(t, ambilight.Running, s.loop.State())

	rec = s.postForm("/start", nil)
	assert.Contains(t, rec.Header().Get("Location"), "type=error")
}

func TestLoopAPI(t *testing.T) {
	s := newTestServer(t, twoMonitors)

	rec := s.do(http.MethodPost, "/api/loop/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ambilight.ErrAlreadyRunning.Error(), decode[map[string]string](t, rec)["message"])

	rec = s.do(http.MethodPost, "/api/loop/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"state": "stopped", "message": "stopping"}, decode[map[string]string](t, rec))

	rec = s.do(http.MethodPost, "/api/loop/start", "")
	assert.Equal(t, map[string]string{"state": "running", "message": "started"}, decode[map[string]string](t, rec))

	assert.Equal(t, http.StatusMethodNotAllowed, s.do(http.MethodGet, "/api/loop/start", "").Code)
}

func TestStatusAndHealth(t *testing.T) {
	s := newTestServer(t, twoMonitors)
	s.loop.status = ambilight.Status{
		Frame:             screen.Frame{R: 1, G: 2, B: 3, Brightness: 9},
		Command:           lights.Command{Power: true, Hue: 10, Saturation: 20, Brightness: 9},
		ConsecutiveErrors: 2,
		Error:             "timeout",
	}

	rec := s.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, 2.0, body["consecutive_errors"])
	assert.Equal(t, "timeout", body["error"])

	rec = s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, map[string]string{"status": "ok", "loop": "running"}, decode[map[string]string](t, rec))
}

func TestMonitorsAPI(t *testing.T) {
	s := newTestServer(t, twoMonitors)
	rec := s.do(http.MethodGet, "/api/monitors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)

	s = newTestServer(t, fakeMonitors{err: errors.New("no display")})
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/monitors", "").Code)
}

func TestLogLevelAPI(t *testing.T) {
	s := newTestServer(t, twoMonitors)
	t.Cleanup(func() { s.leveler.SetLevel("web", s.leveler.GetLevel("main")) })

	rec := s.do(http.MethodPut, "/api/log-level", `{"logger":"web","level":"debug"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "debug", decode[map[string]string](t, rec)["web"])

	rec = s.do(http.MethodPut, "/api/log-level", `{"logger":"web","level":"loud"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketReceivesStatus(t *testing.T) {
	s := newTestServer(t, twoMonitors)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "status", evt.Type)

	s.hub.Report(ambilight.Status{Time: time.Now(), Frame: screen.Frame{Brightness: 55}})
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "status", evt.Type)
	payload, ok := evt.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 55.0, payload["frame"].(map[string]any)["brightness"])
}

func TestWebSocketGreetsOnlyNewClient(t *testing.T) {
	s := newTestServer(t, twoMonitors)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var evt Event
		require.NoError(t, conn.ReadJSON(&evt))
		require.Equal(t, "status", evt.Type)
		return conn
	}

	first := dial()
	defer first.Close()
	second := dial()
	defer second.Close()

	s.hub.Publish(Event{Type: "settings"})

	var evt Event
	require.NoError(t, first.ReadJSON(&evt))
	assert.Equal(t, "settings", evt.Type, "the second client's greeting must not reach the first")
	require.NoError(t, second.ReadJSON(&evt))
	assert.Equal(t, "settings", evt.Type)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, twoMonitors)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/ws", "").Code)
}
