package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scheerer/ambilamp/internal/ambilight"
	"github.com/scheerer/ambilamp/internal/config"
	"github.com/scheerer/ambilamp/internal/lights"
	"github.com/scheerer/ambilamp/internal/lights/lifx"
	"github.com/scheerer/ambilamp/internal/lights/yandex"
	"github.com/scheerer/ambilamp/internal/logging"
	"github.com/scheerer/ambilamp/internal/screen"
	"github.com/scheerer/ambilamp/internal/settings"
	"github.com/scheerer/ambilamp/internal/web"
)

var (
	logger  = logging.New("main")
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "ambilamp",
	Short: "Mirror the screen's color on a smart lamp",
	Long: `ambilamp samples the average color and brightness of a monitor and drives a
smart lamp to match it. Settings can be changed live from the web page.`,
	SilenceUsage: true,
	RunE:         runService,
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List the monitors that can be sampled",
	RunE:  listMonitors,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with environment variables to load before parsing")
	rootCmd.AddCommand(monitorsCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.LogLevel); err != nil {
		return err
	}

	logger.With(
		zap.String("lampType", cfg.LampType),
		zap.String("listenAddr", cfg.ListenAddr),
		zap.Stringer("updateInterval", cfg.UpdateInterval),
		zap.Int("monitor", cfg.MonitorNumber),
		zap.String("colorAlgo", cfg.ColorAlgo)).
		Info("Starting ambilight lamp")
	logger.Info("Adjust UPDATE_INTERVAL, BRIGHTNESS_STEP, MIN_BRIGHTNESS, MONITOR_NUMBER and SATURATION_BOOST to change the startup settings.")
	logger.Info("Adjust COLOR_ALGO to change color algorithm. Valid values are: [AVERAGE, SQUARED_AVERAGE, MEDIAN, MODE]")
	logger.Infof("Settings page: http://localhost%s", cfg.ListenAddr)
	logger.Info("Press Ctrl+C to stop")

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := settings.NewStore(settings.Settings{
		UpdateInterval:  cfg.UpdateInterval,
		BrightnessStep:  cfg.BrightnessStep,
		MinBrightness:   cfg.MinBrightness,
		MonitorIndex:    cfg.MonitorNumber,
		SaturationBoost: cfg.SaturationBoost,
	})
	if err != nil {
		return fmt.Errorf("startup settings: %w", err)
	}

	sampler, err := screen.NewSampler(screen.ScreenshotCapturer{}, cfg.SampleSize, cfg.ColorAlgo)
	if err != nil {
		return err
	}
	printMonitors(sampler)

	client, err := newLampClient(ctx, cfg)
	if err != nil {
		return err
	}

	hub := web.NewHub()
	go hub.Run(ctx)

	loop := ambilight.NewLoop(sampler, client, store, ambilight.Options{
		MaxErrors:  cfg.MaxErrors,
		Cooldown:   cfg.Cooldown,
		CrashPause: cfg.CrashPause,
	})
	controller := ambilight.NewController(ctx, loop, hub)
	if err := controller.Start(); err != nil {
		return err
	}

	server := web.NewServer(cfg.ListenAddr, store, controller, sampler, hub)
	serveErr := server.Run(ctx, 5*time.Second)
	if serveErr != nil {
		logger.With(zap.Error(serveErr)).Error("Settings server failed")
		cancel()
	}

	logger.Info("Shutting down")
	controller.Wait()
	return serveErr
}

func newLampClient(ctx context.Context, cfg config.Config) (lights.Client, error) {
	switch cfg.LampType {
	case config.LampTypeYandex:
		return yandex.NewClient(yandex.Config{
			APIURL:   cfg.APIURL,
			Token:    cfg.OAuthToken,
			DeviceID: cfg.DeviceID,
			Timeout:  cfg.RequestTimeout,
			Strict:   cfg.StrictErrors,
		}, nil)
	case config.LampTypeLifx:
		return lifx.NewClient(ctx, lifx.Config{
			GroupName:  cfg.LightGroupName,
			Transition: 50 * time.Millisecond,
		})
	default:
		return nil, fmt.Errorf("unknown lamp type: %v", cfg.LampType)
	}
}

func listMonitors(cmd *cobra.Command, _ []string) error {
	sampler, err := screen.NewSampler(screen.ScreenshotCapturer{}, screen.DefaultSampleSize, screen.AlgoAverage)
	if err != nil {
		return err
	}
	monitors, err := sampler.Monitors()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range monitors {
		suffix := ""
		if m.Combined() {
			suffix = " (all monitors)"
		}
		fmt.Fprintf(out, "%d: %dx%d%s\n", m.Index, m.Width, m.Height, suffix)
	}
	return nil
}

func printMonitors(sampler *screen.Sampler) {
	monitors, err := sampler.Monitors()
	if err != nil {
		logger.With(zap.Error(err)).Warn("Failed to list monitors")
		return
	}
	for _, m := range monitors {
		logger.With(zap.Int("index", m.Index), zap.Int("width", m.Width), zap.Int("height", m.Height), zap.Bool("combined", m.Combined())).
			Info("Monitor available")
	}
}
