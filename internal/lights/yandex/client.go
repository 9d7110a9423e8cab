// Package yandex drives a lamp through the Yandex smart home devices API.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scheerer/ambilamp/internal/lights"
	"github.com/scheerer/ambilamp/internal/logging"
)

var logger = logging.New("yandex")

const (
	DefaultAPIURL  = "https://api.iot.yandex.net/v1.0/devices/actions"
	DefaultTimeout = 10 * time.Second

	capabilityOnOff = "devices.capabilities.on_off"
	capabilityColor = "devices.capabilities.color_setting"
	capabilityRange = "devices.capabilities.range"

	maxResponseBody = 4 << 10
)

type Config struct {
	APIURL   string
	Token    string
	DeviceID string
	Timeout  time.Duration
	// Strict makes 4xx responses other than 408 and 429 fatal instead of
	// retrying them forever.
	Strict bool
}

type Client struct {
	config     Config
	httpClient *http.Client
}

var _ lights.Client = (*Client)(nil)

func NewClient(config Config, httpClient *http.Client) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("yandex: token is required")
	}
	if config.DeviceID == "" {
		return nil, errors.New("yandex: device id is required")
	}
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{config: config, httpClient: httpClient}, nil
}

type actionState struct {
	Instance string `json:"instance"`
	Value    any    `json:"value"`
}

type action struct {
	Type  string      `json:"type"`
	State actionState `json:"state"`
}

type device struct {
	ID      string   `json:"id"`
	Actions []action `json:"actions"`
}

type actionsRequest struct {
	Devices []device `json:"devices"`
}

type hsv struct {
	H int `json:"h"`
	S int `json:"s"`
	V int `json:"v"`
}

type actionsResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (c *Client) actions(cmd lights.Command) []action {
	if cmd.IsPowerOff() {
		return []action{
			{Type: capabilityOnOff, State: actionState{Instance: "on", Value: false}},
		}
	}
	return []action{
		{Type: capabilityOnOff, State: actionState{Instance: "on", Value: true}},
		{Type: capabilityColor, State: actionState{Instance: "hsv", Value: hsv{H: cmd.Hue, S: cmd.Saturation, V: cmd.Brightness}}},
		{Type: capabilityRange, State: actionState{Instance: "brightness", Value: cmd.Brightness}},
	}
}

// Send posts cmd as a single action batch. Every action for the device goes
// in one request so the lamp never shows a half-applied state.
func (c *Client) Send(ctx context.Context, cmd lights.Command) error {
	body, err := json.Marshal(actionsRequest{
		Devices: []device{{ID: c.config.DeviceID, Actions: c.actions(cmd)}},
	})
	if err != nil {
		return lights.FatalError(fmt.Errorf("encode request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return lights.FatalError(fmt.Errorf("build request: %w", err))
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return lights.TransientError(fmt.Errorf("post actions: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return lights.TransientError(fmt.Errorf("read response: %w", err))
	}

	log := logger.With(
		zap.String("requestID", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("duration", time.Since(startTime)),
		zap.Object("command", cmd))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		if c.config.Strict && isClientError(resp.StatusCode) {
			return lights.FatalError(err)
		}
		return lights.TransientError(err)
	}

	var decoded actionsResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			log.With(zap.Error(err)).Debug("Ignoring undecodable response body")
		} else if decoded.Status != "" && decoded.Status != "ok" {
			return lights.TransientError(fmt.Errorf("api status %q: %s", decoded.Status, decoded.Message))
		}
	}

	log.Debug("Lamp accepted actions")
	return nil
}

func isClientError(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
