// Command stackmat-terminal runs a speedcubing competition timing terminal:
// it reads the stackmat timer, card scans and buttons, and submits results
// to the competition backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/stackmat-terminal/internal/cardreader"
	"github.com/sweeney/stackmat-terminal/internal/config"
	"github.com/sweeney/stackmat-terminal/internal/device"
	"github.com/sweeney/stackmat-terminal/internal/gpio"
	applog "github.com/sweeney/stackmat-terminal/internal/log"
	"github.com/sweeney/stackmat-terminal/internal/mqtt"
	"github.com/sweeney/stackmat-terminal/internal/ota"
	"github.com/sweeney/stackmat-terminal/internal/stackmat"
	"github.com/sweeney/stackmat-terminal/internal/status"
	"github.com/sweeney/stackmat-terminal/internal/store"
	"github.com/sweeney/stackmat-terminal/internal/web"
	"github.com/sweeney/stackmat-terminal/internal/wsclient"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildTime=...".
var (
	version   = "dev"
	buildTime = ""
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	id := cfg.ResolveDeviceID(hostname)
	logger := applog.Configure(applog.Config{
		Level:    cfg.Log.Level,
		Pretty:   cfg.Log.Pretty,
		DeviceID: id,
	})

	if err := run(cfg, id, logger); err != nil {
		logger.Fatal().Err(err).Msg("fatal")
	}
}

type options struct {
	configPath  string
	showVersion bool
	set         map[string]string
}

// parseFlags parses the command line. Only flags given explicitly end up in
// set, so they override the config file without clobbering it with defaults.
func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("stackmat-terminal", flag.ContinueOnError)
	opts := options{set: make(map[string]string)}
	fs.StringVar(&opts.configPath, "config", "", "YAML config file (defaults when empty)")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.String("backend", "", "Backend websocket URL")
	fs.String("timer", "", "Stackmat serial port (empty runs without a timer)")
	fs.String("cards", "", "Card reader input device")
	fs.String("broker", "", "MQTT broker address (empty disables telemetry)")
	fs.String("http", "", "HTTP status address (empty disables)")
	fs.String("log-level", "", "Log level")
	fs.Uint("device-id", 0, "Device id (0 derives from hostname)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "version":
		default:
			opts.set[f.Name] = f.Value.String()
		}
	})
	return opts, nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := applyOverrides(&cfg, opts.set); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, set map[string]string) error {
	for name, v := range set {
		switch name {
		case "backend":
			cfg.Backend.URL = v
		case "timer":
			cfg.Timer.Port = v
		case "cards":
			cfg.CardReader.Device = v
		case "broker":
			cfg.MQTT.Broker = v
		case "http":
			cfg.HTTP.Addr = v
		case "log-level":
			cfg.Log.Level = v
		case "device-id":
			var id uint32
			if _, err := fmt.Sscan(v, &id); err != nil {
				return fmt.Errorf("-device-id: %w", err)
			}
			cfg.DeviceID = id
		default:
			return fmt.Errorf("unknown override %q", name)
		}
	}
	return nil
}

func run(cfg config.Config, id uint32, logger zerolog.Logger) error {
	btn := cfg.Buttons
	pins, err := gpio.NewRealReader(btn.Chip, []int{btn.Penalty, btn.Submit, btn.Inspection, btn.Delegate})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	nv, err := store.OpenFile(cfg.Session.StorePath, store.DefaultSize)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceID:    id,
		Version:     version,
		BackendURL:  cfg.Backend.URL,
		TimerPort:   cfg.Timer.Port,
		DebounceMs:  device.DefaultDebounce.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	deps := device.Deps{
		Pins:    pins,
		Store:   nv,
		Tracker: tracker,
		Logger:  logger,
	}

	var timer *stackmat.Decoder
	var timerPort io.ReadCloser
	if cfg.Timer.Port != "" {
		timerPort, err = stackmat.OpenSerial(cfg.Timer.Port)
		if err != nil {
			return err
		}
		defer timerPort.Close()
		timer = stackmat.NewDecoder(timerPort, stackmat.WithLogger(applog.WithComponent("stackmat")))
		deps.Timer = timer
	}

	var cards *cardreader.Reader
	var cardDev io.ReadCloser
	if cfg.CardReader.Device != "" {
		cardDev, err = os.Open(cfg.CardReader.Device)
		if err != nil {
			return fmt.Errorf("open card reader: %w", err)
		}
		defer cardDev.Close()
		enc, err := cardreader.ParseEncoding(cfg.CardReader.Encoding)
		if err != nil {
			return err
		}
		cards = cardreader.NewReader(cardDev,
			cardreader.WithEncoding(enc),
			cardreader.WithLogger(applog.WithComponent("cards")))
	}

	if cfg.MQTT.Broker != "" {
		publisher := mqtt.NewRealPublisher(cfg.MQTT.Broker, fmt.Sprintf("stackmat-terminal-%d", id),
			mqtt.TopicsFor(id), applog.WithComponent("mqtt"))
		defer publisher.Close()
		deps.Publisher = publisher
		deps.MQTTStatus = publisher
	}

	if cfg.OTA.Target != "" {
		deps.Updater = ota.New(cfg.OTA.Target, version,
			ota.WithLogger(applog.WithComponent("ota")),
			ota.WithRestart(cancel))
	}

	term := device.New(device.Config{
		DeviceID: id,
		Pins: device.Pins{
			Penalty:    btn.Penalty,
			Submit:     btn.Submit,
			Inspection: btn.Inspection,
			Delegate:   btn.Delegate,
		},
		CheckInterval: btn.CheckInterval,
		Heartbeat:     cfg.MQTT.Heartbeat,
		StaleAfter:    cfg.Session.StaleAfter,
	}, deps)

	url, err := wsclient.BuildURL(cfg.Backend.URL, wsclient.Identity{
		DeviceID:  id,
		Version:   version,
		Chip:      runtime.GOARCH,
		BuildTime: buildTime,
		Firmware:  "stackmat-terminal",
	})
	if err != nil {
		return err
	}
	client := wsclient.New(url, term,
		wsclient.WithLogger(applog.WithComponent("ws")),
		wsclient.WithReconnectInterval(cfg.Backend.ReconnectInterval))
	term.Attach(client)

	term.PublishSystem("STARTUP", "", true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return term.PollButtons(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(device.DefaultTickInterval)
		defer ticker.Stop()
		return term.Loop(gctx, ticker.C)
	})
	if timer != nil {
		g.Go(func() error { return timer.Run(gctx, term.OnReading) })
	}
	if cards != nil {
		g.Go(func() error { return cards.Run(gctx, term.ScanCard) })
		g.Go(closeOnDone(gctx, cardDev))
	}
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		g.Go(func() error {
			logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error { return waitForSignal(gctx, sigCh, term, cancel, logger) })

	logger.Info().
		Str("version", version).
		Str("backend", cfg.Backend.URL).
		Str("timer", cfg.Timer.Port).
		Str("broker", cfg.MQTT.Broker).
		Msg("started")

	return g.Wait()
}

// systemPublisher publishes lifecycle events.
type systemPublisher interface {
	PublishSystem(event, reason string, retained bool)
}

// waitForSignal publishes SHUTDOWN and stops the terminal on SIGINT or
// SIGTERM. It returns quietly when ctx ends first.
func waitForSignal(ctx context.Context, sig <-chan os.Signal, pub systemPublisher, stop func(), logger zerolog.Logger) error {
	select {
	case <-ctx.Done():
		return nil
	case s := <-sig:
		name := signalName(s)
		logger.Info().Str("signal", name).Msg("shutting down")
		pub.PublishSystem("SHUTDOWN", name, true)
		stop()
		return nil
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// closeOnDone closes c once ctx ends, unblocking a pending read on it.
func closeOnDone(ctx context.Context, c io.Closer) func() error {
	return func() error {
		<-ctx.Done()
		c.Close()
		return nil
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
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
