// Package lifx drives a LIFX group on the local network.
package lifx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pdf/golifx"
	"github.com/pdf/golifx/common"
	"github.com/pdf/golifx/protocol"
	"go.uber.org/zap"

	"github.com/scheerer/ambilamp/internal/lights"
	"github.com/scheerer/ambilamp/internal/logging"
)

var logger = logging.New("lifx")

const (
	defaultKelvin     = 3500
	discoveryInterval = 15 * time.Second
	discoveryTimeout  = 5 * time.Second
)

var errNoGroup = errors.New("LIFX group not discovered yet")

type Config struct {
	GroupName  string
	Transition time.Duration
}

// group is the part of common.Group the client uses.
type group interface {
	GetLabel() string
	SetPower(state bool) error
	SetColor(color common.Color, duration time.Duration) error
}

type Client struct {
	config Config
	client *golifx.Client

	groupMu sync.RWMutex
	group   group
}

var _ lights.Client = (*Client)(nil)

// NewClient starts background discovery of the configured group. Discovery
// stops when ctx is done.
func NewClient(ctx context.Context, config Config) (*Client, error) {
	client, err := golifx.NewClient(&protocol.V2{})
	if err != nil {
		return nil, err
	}

	l := &Client{
		config: config,
		client: client,
	}
	go l.Start(ctx)
	return l, nil
}

func (l *Client) Start(ctx context.Context) {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	defer l.client.Close()

	if err := l.client.SetDiscoveryInterval(discoveryInterval); err != nil {
		logger.With(zap.Error(err)).Warn("Failed to set LIFX discovery interval")
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, discoveryTimeout)
	l.discover(ctxWithTimeout)
	cancel()

	for {
		select {
		case <-ticker.C:
			ctxWithTimeout, cancel := context.WithTimeout(ctx, discoveryTimeout)
			l.discover(ctxWithTimeout)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func (l *Client) discover(ctx context.Context) {
	logger.With(zap.String("group", l.config.GroupName)).Debug("LIFX discovery starting")

	type result struct {
		group common.Group
		err   error
	}
	completed := make(chan result, 1)
	go func() {
		g, err := l.client.GetGroupByLabel(l.config.GroupName)
		completed <- result{group: g, err: err}
	}()

	select {
	case <-ctx.Done():
		logger.With(zap.Error(ctx.Err())).Warn("LIFX discovery timed out")
	case res := <-completed:
		if res.err != nil || res.group == nil {
			logger.With(zap.String("group", l.config.GroupName), zap.Error(res.err)).Warn("Couldn't discover LIFX group")
			return
		}
		l.setGroup(res.group)
		logger.With(zap.String("group", res.group.GetLabel())).Debug("LIFX group found")
	}
}

func (l *Client) setGroup(g group) {
	l.groupMu.Lock()
	l.group = g
	l.groupMu.Unlock()
}

func (l *Client) currentGroup() group {
	l.groupMu.RLock()
	defer l.groupMu.RUnlock()
	return l.group
}

func (l *Client) Send(ctx context.Context, cmd lights.Command) error {
	g := l.currentGroup()
	if g == nil {
		return lights.TransientError(errNoGroup)
	}
	if err := ctx.Err(); err != nil {
		return lights.TransientError(err)
	}

	if cmd.IsPowerOff() {
		if err := g.SetPower(false); err != nil {
			return lights.TransientError(fmt.Errorf("power off %s: %w", g.GetLabel(), err))
		}
		return nil
	}

	lifxColor := toLifxColor(cmd)
	logger.With(zap.Object("command", cmd), zap.Any("lifxColor", lifxColor)).Debug("Setting LIFX group color")

	if err := g.SetPower(true); err != nil {
		return lights.TransientError(fmt.Errorf("power on %s: %w", g.GetLabel(), err))
	}
	if err := g.SetColor(lifxColor, l.config.Transition); err != nil {
		return lights.TransientError(fmt.Errorf("set color on %s: %w", g.GetLabel(), err))
	}
	return nil
}

// toLifxColor scales the command's degrees and percentages to the uint16
// ranges LIFX uses.
func toLifxColor(cmd lights.Command) common.Color {
	return common.Color{
		Hue:        scale(float64(cmd.Hue) / 360),
		Saturation: scale(float64(cmd.Saturation) / 100),
		Brightness: scale(float64(cmd.Brightness) / 100),
		Kelvin:     defaultKelvin,
	}
}

func scale(f float64) uint16 {
	return uint16(math.Round(math.Min(1, math.Max(0, f)) * math.MaxUint16))
}
