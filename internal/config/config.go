package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes how still images are produced.
// Type selects a concrete implementation ("command", "tether_gpio", "mock").
type CameraConfig struct {
	Type        string   `yaml:"type"`         // e.g., "command"
	BackDevice  string   `yaml:"back_device"`  // e.g., "/dev/video0"
	FrontDevice string   `yaml:"front_device"` // e.g., "/dev/video2"; empty = single sensor
	Command     string   `yaml:"command"`      // still-capture tool, e.g., "fswebcam"
	Args        []string `yaml:"args"`         // placeholders: {device} {output} {width} {height}
	PreviewArgs []string `yaml:"preview_args"` // same placeholders, {output} is "-" for stdout
	WidthPx     int      `yaml:"width_px"`
	HeightPx    int      `yaml:"height_px"`

	// tether_gpio only
	FocusPin       int    `yaml:"focus_pin"`        // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin"`      // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms"`   // autofocus delay (ms)
	ShutterDelayMs int    `yaml:"shutter_delay_ms"` // shutter hold time (ms)
	TetherDir      string `yaml:"tether_dir"`       // where the tethering software drops files
	TetherWaitMs   int    `yaml:"tether_wait_ms"`   // how long to wait for the file (ms)
}

// FlashConfig describes the flash/torch output. Pin 0 = no flash hardware.
type FlashConfig struct {
	Pin        int `yaml:"pin"`
	LeadTimeMs int `yaml:"lead_time_ms"` // time between flash on and shutter
}

// StorageConfig describes where captured photos are kept.
type StorageConfig struct {
	DocumentRoot string `yaml:"document_root"` // private per-app root; empty = XDG data dir
	PhotosDir    string `yaml:"photos_dir"`    // subdirectory, default "photos"
	Extension    string `yaml:"extension"`     // default ".jpg"
	MinFreeMB    int    `yaml:"min_free_mb"`   // refuse to store below this free space; 0 = no check
	OpenCommand  string `yaml:"open_command"`  // overrides the platform opener
}

// LocationConfig selects the location provider.
type LocationConfig struct {
	Provider  string  `yaml:"provider"` // "static", "gpsd", "none"
	GPSDAddr  string  `yaml:"gpsd_addr"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// PermissionsConfig holds the per-capability request policy ("auto", "grant", "deny").
type PermissionsConfig struct {
	StateFile string `yaml:"state_file"`
	Camera    string `yaml:"camera"`
	Location  string `yaml:"location"`
}

// MQTTConfig is optional: capture events are published when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g., "tcp://localhost:1883"
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// WebConfig holds the HTTP server settings.
type WebConfig struct {
	Port int `yaml:"port"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	Facing     string `yaml:"facing"`      // initial facing: "back" or "front"
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Flash       FlashConfig       `yaml:"flash"`
	Storage     StorageConfig     `yaml:"storage"`
	Location    LocationConfig    `yaml:"location"`
	Permissions PermissionsConfig `yaml:"permissions"`
	MQTT        *MQTTConfig       `yaml:"mqtt,omitempty"` // optional
	Web         WebConfig         `yaml:"web"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath rejects config paths that are not a .yaml file directly inside
// a "configs" directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is too large (%d bytes, max %d)", path, info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	if c.Camera.WidthPx <= 0 {
		c.Camera.WidthPx = 1920
	}
	if c.Camera.HeightPx <= 0 {
		c.Camera.HeightPx = 1080
	}
	if c.Camera.Type == "command" {
		if c.Camera.Command == "" {
			c.Camera.Command = "fswebcam"
		}
		if len(c.Camera.Args) == 0 {
			c.Camera.Args = []string{"-q", "-d", "{device}", "-r", "{width}x{height}", "--no-banner", "{output}"}
		}
		if c.Camera.BackDevice == "" {
			c.Camera.BackDevice = "/dev/video0"
		}
	}
	if c.Camera.Type == "tether_gpio" {
		if c.Camera.FocusDelayMs <= 0 {
			c.Camera.FocusDelayMs = 500 // 500ms for autofocus
		}
		if c.Camera.ShutterDelayMs <= 0 {
			c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
		}
		if c.Camera.TetherWaitMs <= 0 {
			c.Camera.TetherWaitMs = 10000
		}
	}

	if c.Flash.LeadTimeMs <= 0 {
		c.Flash.LeadTimeMs = 150
	}

	if c.Storage.DocumentRoot == "" {
		root, err := defaultDocumentRoot()
		if err != nil {
			return err
		}
		c.Storage.DocumentRoot = root
	}
	if c.Storage.PhotosDir == "" {
		c.Storage.PhotosDir = "photos"
	}
	if c.Storage.Extension == "" {
		c.Storage.Extension = ".jpg"
	}
	if !strings.HasPrefix(c.Storage.Extension, ".") {
		c.Storage.Extension = "." + c.Storage.Extension
	}

	if c.Location.Provider == "" {
		c.Location.Provider = "none"
	}
	if c.Location.Provider == "gpsd" && c.Location.GPSDAddr == "" {
		c.Location.GPSDAddr = "localhost:2947"
	}

	if c.Permissions.StateFile == "" {
		c.Permissions.StateFile = filepath.Join(c.Storage.DocumentRoot, "permissions.yaml")
	}
	if c.Permissions.Camera == "" {
		c.Permissions.Camera = "auto"
	}
	if c.Permissions.Location == "" {
		c.Permissions.Location = "auto"
	}

	if c.MQTT != nil && c.MQTT.Topic == "" {
		c.MQTT.Topic = "snapgo"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Defaults.Facing == "" {
		c.Defaults.Facing = "back"
	}
	return nil
}

// Validate checks value ranges after defaults have been applied.
func (c *Config) Validate() error {
	switch c.Camera.Type {
	case "command", "mock":
	case "tether_gpio":
		if c.Camera.TetherDir == "" {
			return fmt.Errorf("camera.tether_dir is required for tether_gpio")
		}
		if c.Camera.FocusPin <= 0 || c.Camera.ShutterPin <= 0 {
			return fmt.Errorf("camera.focus_pin and camera.shutter_pin are required for tether_gpio")
		}
	default:
		return fmt.Errorf("unsupported camera type: %s", c.Camera.Type)
	}
	if c.Flash.Pin < 0 {
		return fmt.Errorf("flash.pin must be >= 0, got %d", c.Flash.Pin)
	}
	if c.Storage.MinFreeMB < 0 {
		return fmt.Errorf("storage.min_free_mb must be >= 0, got %d", c.Storage.MinFreeMB)
	}
	if strings.ContainsAny(c.Storage.PhotosDir, `/\`) || c.Storage.PhotosDir == "." || c.Storage.PhotosDir == ".." {
		return fmt.Errorf("storage.photos_dir must be a single directory name, got %q", c.Storage.PhotosDir)
	}
	switch c.Location.Provider {
	case "none", "gpsd":
	case "static":
		if err := ValidateCoordinates(c.Location.Latitude, c.Location.Longitude); err != nil {
			return fmt.Errorf("location: %w", err)
		}
	default:
		return fmt.Errorf("unsupported location provider: %s", c.Location.Provider)
	}
	for name, policy := range map[string]string{"camera": c.Permissions.Camera, "location": c.Permissions.Location} {
		switch policy {
		case "auto", "grant", "deny":
		default:
			return fmt.Errorf("permissions.%s must be auto, grant or deny, got %q", name, policy)
		}
	}
	if c.MQTT != nil && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is configured")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 1-65535, got %d", c.Web.Port)
	}
	if c.Defaults.Facing != "back" && c.Defaults.Facing != "front" {
		return fmt.Errorf("defaults.facing must be back or front, got %q", c.Defaults.Facing)
	}
	return nil
}

// ValidateCoordinates checks latitude/longitude ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %f out of valid range [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %f out of valid range [-180, 180]", lon)
	}
	return nil
}

func defaultDocumentRoot() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "snapgo"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve document root: %w", err)
	}
	return filepath.Join(home, ".local", "share", "snapgo"), nil
}

// PhotosPath returns the absolute photos directory.
func (c *Config) PhotosPath() string {
	return filepath.Join(c.Storage.DocumentRoot, c.Storage.PhotosDir)
}

// MinFreeBytes returns the storage free-space floor in bytes.
func (c *Config) MinFreeBytes() uint64 {
	return uint64(c.Storage.MinFreeMB) * 1024 * 1024
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// TetherWait returns how long to wait for a tethered image.
func (c *Config) TetherWait() time.Duration {
	return time.Duration(c.Camera.TetherWaitMs) * time.Millisecond
}

// FlashLeadTime returns the delay between flash on and shutter.
func (c *Config) FlashLeadTime() time.Duration {
	return time.Duration(c.Flash.LeadTimeMs) * time.Millisecond
}
