// Command blink-sensor streams EEG samples from a headband, detects eye blinks
// on the frontal channels and annotates the recording.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/blink-sensor/internal/acquire"
	"github.com/sweeney/blink-sensor/internal/annotate"
	"github.com/sweeney/blink-sensor/internal/config"
	"github.com/sweeney/blink-sensor/internal/gpio"
	"github.com/sweeney/blink-sensor/internal/journal"
	"github.com/sweeney/blink-sensor/internal/logic"
	"github.com/sweeney/blink-sensor/internal/mqtt"
	"github.com/sweeney/blink-sensor/internal/recording"
	"github.com/sweeney/blink-sensor/internal/status"
	"github.com/sweeney/blink-sensor/internal/web"
)

// networkEnvFile is written by pi-helper with the current network state.
const networkEnvFile = "/run/pi-helper.env"

var (
	configPath = ""
	verbose    = false
	device     = ""
	broker     = ""
	httpAddr   = ""
	replay     = ""
	probe      = false
	duration   time.Duration
	outDir     = ""
)

func init() {
	pflag.StringVarP(&configPath, "config", "c", configPath, "configuration file (.toml or .yaml)")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.StringVar(&device, "device", device, "serial device of the headband bridge")
	pflag.StringVar(&broker, "broker", broker, `MQTT broker address ("" disables MQTT)`)
	pflag.StringVar(&httpAddr, "http", httpAddr, `HTTP status address ("" disables)`)
	pflag.StringVar(&replay, "replay", replay, "replay a saved recording instead of reading the device")
	pflag.BoolVar(&probe, "probe", probe, "read one frame, print per-channel amplitude and exit")
	pflag.DurationVar(&duration, "duration", duration, "analysis duration after warmup (0 runs until interrupted)")
	pflag.StringVar(&outDir, "out", outDir, "directory for saved recordings")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig(pflag.CommandLine)
	if err != nil {
		return err
	}

	source, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	if probe {
		return probeSource(os.Stdout, source, cfg.Device.Channels, cfg.Session.Poll.Std())
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	channels, err := cfg.Monitored()
	if err != nil {
		return err
	}

	startTime := time.Now()
	detector, err := logic.NewDetector(cfg.DetectionConfig(), channels, startTime)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	mode, err := cfg.AnnotationMode()
	if err != nil {
		return err
	}
	required := 0
	if detector.Policy() == logic.PolicyRunLength {
		required = detector.RequiredSamples(cfg.Device.SampleRate)
	}
	slog.Info("detector ready", "policy", detector.Policy(), "threshold", cfg.Detection.Threshold,
		"required_samples", required, "annotations", mode)

	tracker := status.NewTracker(startTime, status.Config{
		PollMs:        cfg.Session.Poll.Std().Milliseconds(),
		MinDurationMs: cfg.Detection.MinDuration.Std().Milliseconds(),
		HeartbeatMs:   cfg.Session.Heartbeat.Std().Milliseconds(),
		Threshold:     cfg.Detection.Threshold,
		Policy:        string(detector.Policy()),
		Required:      required,
		Mode:          string(mode),
		Device:        sourceName(cfg),
		Broker:        cfg.MQTT.Broker,
		HTTPPort:      cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	s := &session{
		source:        source,
		detector:      detector,
		counter:       annotate.NewCounter(),
		mode:          mode,
		recording:     recording.NewSession(cfg.Device.Channels),
		tracker:       tracker,
		network:       readNetworkInfo,
		warmup:        cfg.Session.Warmup.Std(),
		duration:      cfg.Session.Duration.Std(),
		heartbeat:     cfg.Session.Heartbeat.Std(),
		maxReadErrors: cfg.Session.MaxReadErrors,
		outDir:        cfg.Session.OutDir,
	}

	var sinks annotate.Sinks

	if cfg.MQTT.Broker != "" {
		publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
		s.publisher = publisher
		s.mqttStatus = publisher
		sinks = append(sinks, publisher)
	}

	if cfg.GPIO.Enabled {
		kinds, err := cfg.TriggerKinds()
		if err != nil {
			return err
		}
		trigger, err := gpio.NewRealTrigger(cfg.GPIO.Pin, cfg.GPIO.PulseWidth.Std())
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer trigger.Close()
		var sink annotate.Sink = gpio.TriggerSink{Trigger: trigger}
		if kinds != nil {
			sink = annotate.KindFilter(sink, kinds...)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Journal.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := journal.Open(ctx, cfg.Journal.DSN, startTime)
		if err == nil {
			err = store.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			store.Close()
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		srv = web.New(cfg.HTTP.Addr, tracker)
		s.live = srv.Hub()
		sinks = append(sinks, srv.Hub())
	}
	s.markers = sinks

	// Publish startup event with full status snapshot
	if s.publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := s.publisher.PublishSystem(startup); err != nil {
			slog.Warn("failed to publish startup event", "err", err)
		}
	}

	slog.Info("started",
		"source", sourceName(cfg),
		"policy", detector.Policy(),
		"threshold", cfg.Detection.Threshold,
		"min_duration", cfg.Detection.MinDuration.Std(),
		"warmup", s.warmup,
		"duration", s.duration,
		"annotations", mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errg, ctx := errgroup.WithContext(ctx)

	if srv != nil {
		errg.Go(func() error {
			slog.Info("http status server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		errg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errg.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(cfg.Session.Poll.Std())
		defer ticker.Stop()
		return s.runLoop(time.Now, ticker.C, sigCh, ctx.Done())
	})

	return errg.Wait()
}

// readConfig loads the configuration file, if any, and applies the flags
// that were set explicitly on the command line.
func readConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if flags.Changed("device") {
		cfg.Device.Path = device
	}
	if flags.Changed("broker") {
		cfg.MQTT.Broker = broker
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr = httpAddr
	}
	if flags.Changed("duration") {
		cfg.Session.Duration = config.Duration(duration)
	}
	if flags.Changed("out") {
		cfg.Session.OutDir = outDir
	}
	return &cfg, nil
}

// openSource opens the replay file or the serial device. When replaying,
// the channel labels come from the recording header.
func openSource(cfg *config.Config) (acquire.Source, error) {
	if replay != "" {
		src, err := acquire.OpenReplay(replay, cfg.Device.SampleRate, cfg.Session.Poll.Std())
		if err != nil {
			return nil, err
		}
		cfg.Device.Channels = src.Labels()
		return src, nil
	}

	src, err := acquire.OpenSerial(acquire.SerialConfig{
		Device:     cfg.Device.Path,
		Baud:       cfg.Device.Baud,
		SampleRate: cfg.Device.SampleRate,
		Channels:   len(cfg.Device.Channels),
	})
	if err != nil {
		if ports, perr := acquire.Ports(); perr == nil {
			slog.Warn("available serial ports", "ports", ports)
		}
		return nil, err
	}
	return src, nil
}

func sourceName(cfg *config.Config) string {
	if replay != "" {
		return "replay:" + replay
	}
	return cfg.Device.Path
}

// probeSource waits one polling interval, reads a single frame and prints
// the sample count and peak amplitude of every channel.
func probeSource(w io.Writer, src acquire.Source, labels []string, poll time.Duration) error {
	time.Sleep(poll)
	frame, err := src.Read()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	printFrame(w, frame, labels)
	return nil
}

func printFrame(w io.Writer, frame acquire.Frame, labels []string) {
	for i, label := range labels {
		samples := frame.Samples(i)
		peak := 0.0
		for _, v := range samples {
			peak = math.Max(peak, math.Abs(v))
		}
		fmt.Fprintf(w, "%s: %d samples, peak %.1f\n", label, len(samples), peak)
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	return readNetworkInfoFrom(networkEnvFile)
}

// readNetworkInfoFrom reads the pi-helper env file, falling back to the
// process environment when the file is missing.
func readNetworkInfoFrom(path string) *status.NetworkInfo {
	env, err := godotenv.Read(path)
	if err != nil {
		env = nil
	}
	get := func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	s := get(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       get(envNetworkType),
		IP:         get(envNetworkIP),
		Status:     s,
		Gateway:    get(envNetworkGateway),
		WifiStatus: get(envNetworkWifiStatus),
		SSID:       get(envNetworkWifiSSID),
	}
}
