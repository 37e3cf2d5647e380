// Package config loads the terminal configuration from a YAML file.
//
// Durations are Go duration strings ("1500ms", "6h"). Unknown keys are an
// error so typos do not silently fall back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/stackmat-terminal/internal/cardreader"
	"github.com/sweeney/stackmat-terminal/internal/gpio"
)

// Config is the full terminal configuration.
type Config struct {
	// DeviceID identifies the terminal to the backend. Zero derives it
	// from the hostname.
	DeviceID uint32 `yaml:"device_id"`

	Backend    Backend    `yaml:"backend"`
	Timer      Timer      `yaml:"timer"`
	CardReader CardReader `yaml:"card_reader"`
	Buttons    Buttons    `yaml:"buttons"`
	Session    Session    `yaml:"session"`
	HTTP       HTTP       `yaml:"http"`
	MQTT       MQTT       `yaml:"mqtt"`
	Log        Log        `yaml:"log"`
	OTA        OTA        `yaml:"ota"`
}

type Backend struct {
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

type Timer struct {
	// Port is the serial device the stackmat is attached to. Empty runs
	// without a timer (test mode only).
	Port string `yaml:"port"`
}

type CardReader struct {
	Device string `yaml:"device"`
	// Encoding is how the reader types ids: "decimal" or "hex" (4-byte UID).
	Encoding string `yaml:"encoding"`
}

type Buttons struct {
	Chip          string        `yaml:"chip"`
	Penalty       int           `yaml:"penalty"`
	Submit        int           `yaml:"submit"`
	Inspection    int           `yaml:"inspection"`
	Delegate      int           `yaml:"delegate"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type Session struct {
	StorePath  string        `yaml:"store_path"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type HTTP struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

type MQTT struct {
	Broker    string        `yaml:"broker"` // empty disables telemetry
	Heartbeat time.Duration `yaml:"heartbeat"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type OTA struct {
	Target string `yaml:"target"` // binary replaced by firmware updates
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Backend: Backend{
			URL:               "ws://localhost:8080/api/device",
			ReconnectInterval: 1500 * time.Millisecond,
		},
		Timer:      Timer{Port: "/dev/ttyUSB0"},
		CardReader: CardReader{Device: "", Encoding: "decimal"},
		Buttons: Buttons{
			Chip:          "gpiochip0",
			Penalty:       gpio.DefaultPinPenalty,
			Submit:        gpio.DefaultPinSubmit,
			Inspection:    gpio.DefaultPinInspection,
			Delegate:      gpio.DefaultPinDelegate,
			CheckInterval: 15 * time.Millisecond,
		},
		Session: Session{
			StorePath:  "/var/lib/stackmat-terminal/session.bin",
			StaleAfter: 6 * time.Hour,
		},
		HTTP: HTTP{Addr: ":80"},
		MQTT: MQTT{Heartbeat: 15 * time.Minute},
		Log:  Log{Level: "info"},
	}
}

// Load reads path over the defaults. A missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values for absent keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("parse config: trailing content after first document")
	}
	return nil
}

// Validate checks the configuration for values the terminal cannot run with.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Backend.URL)
	switch {
	case c.Backend.URL == "":
		errs = append(errs, errors.New("backend.url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("backend.url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("backend.url: scheme %q, want ws or wss", u.Scheme))
	}
	if c.Backend.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("backend.reconnect_interval must be positive"))
	}
	if c.Buttons.CheckInterval <= 0 {
		errs = append(errs, errors.New("buttons.check_interval must be positive"))
	}

	if _, err := cardreader.ParseEncoding(c.CardReader.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("card_reader.encoding: %w", err))
	}

	pins := map[int]string{}
	for name, pin := range map[string]int{
		"penalty":    c.Buttons.Penalty,
		"submit":     c.Buttons.Submit,
		"inspection": c.Buttons.Inspection,
		"delegate":   c.Buttons.Delegate,
	} {
		if pin < 0 {
			errs = append(errs, fmt.Errorf("buttons.%s: negative pin %d", name, pin))
			continue
		}
		if other, ok := pins[pin]; ok {
			errs = append(errs, fmt.Errorf("buttons.%s: pin %d already used by %s", name, pin, other))
		}
		pins[pin] = name
	}

	if c.Session.StorePath == "" {
		errs = append(errs, errors.New("session.store_path is required"))
	}
	if c.Session.StaleAfter <= 0 {
		errs = append(errs, errors.New("session.stale_after must be positive"))
	}
	if c.MQTT.Broker != "" && c.MQTT.Heartbeat < 0 {
		errs = append(errs, errors.New("mqtt.heartbeat must not be negative"))
	}
	return errors.Join(errs...)
}

// ResolveDeviceID returns DeviceID, or a stable id derived from hostname
// when it is zero. The id fits in 31 bits.
func (c Config) ResolveDeviceID(hostname string) uint32 {
	if c.DeviceID != 0 {
		return c.DeviceID
	}
	id := crc32.ChecksumIEEE([]byte(hostname)) & 0x7fffffff
	if id == 0 {
		id = 1
	}
	return id
}
