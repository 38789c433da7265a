package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_Rejected(t *testing.T) {
	cases := map[string]string{
		"traversal":        "../../etc/passwd",
		"double traversal": "configs/../../../etc/shadow",
		"json":             "configs/default.json",
		"yml":              "configs/default.yml",
		"no extension":     "configs/default",
		"other dir":        "other/default.yaml",
		"bare file":        "default.yaml",
		"tmp":              "/tmp/default.yaml",
		"empty":            "",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateConfigPath(path); err == nil {
				t.Errorf("expected error for %q, got nil", path)
			}
		})
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Must not panic; the result is OS-dependent.
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig writes content to <tmp>/configs/test.yaml and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `camera:
  type: command
  back_device: /dev/video1
  front_device: /dev/video3
  command: libcamera-still
  args: ["-o", "{output}"]
  width_px: 1280
  height_px: 720
flash:
  pin: 18
  lead_time_ms: 80
storage:
  document_root: /srv/snapgo
  photos_dir: shots
  extension: png
  min_free_mb: 64
location:
  provider: static
  latitude: 45.76
  longitude: 4.83
permissions:
  camera: grant
  location: deny
mqtt:
  broker: tcp://localhost:1883
web:
  port: 9090
defaults:
  facing: front
  debug_level: 2
  mock_gpio: true
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Camera.Command != "libcamera-still" || len(cfg.Camera.Args) != 2 {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.Camera.WidthPx != 1280 || cfg.Camera.HeightPx != 720 {
		t.Errorf("resolution = %dx%d, want 1280x720", cfg.Camera.WidthPx, cfg.Camera.HeightPx)
	}
	if cfg.Flash.Pin != 18 || cfg.Flash.LeadTimeMs != 80 {
		t.Errorf("flash = %+v", cfg.Flash)
	}
	if cfg.Storage.Extension != ".png" {
		t.Errorf("extension = %q, want .png", cfg.Storage.Extension)
	}
	if cfg.Location.Latitude != 45.76 || cfg.Location.Longitude != 4.83 {
		t.Errorf("location = %+v", cfg.Location)
	}
	if cfg.Permissions.Camera != "grant" || cfg.Permissions.Location != "deny" {
		t.Errorf("permissions = %+v", cfg.Permissions)
	}
	if cfg.MQTT == nil || cfg.MQTT.Topic != "snapgo" {
		t.Errorf("mqtt = %+v, want default topic", cfg.MQTT)
	}
	if cfg.Web.Port != 9090 || cfg.Defaults.Facing != "front" || cfg.Defaults.DebugLevel != 2 {
		t.Errorf("web/defaults = %+v %+v", cfg.Web, cfg.Defaults)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "camera:\n  type: command\nstorage:\n  document_root: /data\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Camera.Command != "fswebcam" || len(cfg.Camera.Args) == 0 {
		t.Errorf("command defaults = %q %v", cfg.Camera.Command, cfg.Camera.Args)
	}
	if cfg.Camera.WidthPx != 1920 || cfg.Camera.HeightPx != 1080 {
		t.Errorf("resolution = %dx%d, want 1920x1080", cfg.Camera.WidthPx, cfg.Camera.HeightPx)
	}
	if cfg.Camera.BackDevice != "/dev/video0" {
		t.Errorf("back device = %q", cfg.Camera.BackDevice)
	}
	if cfg.Storage.PhotosDir != "photos" || cfg.Storage.Extension != ".jpg" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Flash.LeadTimeMs != 150 {
		t.Errorf("flash lead = %d, want 150", cfg.Flash.LeadTimeMs)
	}
	if cfg.Location.Provider != "none" {
		t.Errorf("provider = %q, want none", cfg.Location.Provider)
	}
	if cfg.Permissions.Camera != "auto" || cfg.Permissions.Location != "auto" {
		t.Errorf("permissions = %+v", cfg.Permissions)
	}
	if want := filepath.Join("/data", "permissions.yaml"); cfg.Permissions.StateFile != want {
		t.Errorf("state file = %q, want %q", cfg.Permissions.StateFile, want)
	}
	if cfg.MQTT != nil {
		t.Errorf("mqtt should stay nil, got %+v", cfg.MQTT)
	}
	if cfg.Web.Port != 8080 || cfg.Defaults.Facing != "back" {
		t.Errorf("port = %d, facing = %q", cfg.Web.Port, cfg.Defaults.Facing)
	}
}

func TestLoad_TetherAndGPSDDefaults(t *testing.T) {
	yaml := `camera:
  type: tether_gpio
  tether_dir: /tmp/tether
  focus_pin: 23
  shutter_pin: 24
storage:
  document_root: /data
location:
  provider: gpsd
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FocusDelay() != 500*time.Millisecond {
		t.Errorf("FocusDelay = %v", cfg.FocusDelay())
	}
	if cfg.ShutterDelay() != 200*time.Millisecond {
		t.Errorf("ShutterDelay = %v", cfg.ShutterDelay())
	}
	if cfg.TetherWait() != 10*time.Second {
		t.Errorf("TetherWait = %v", cfg.TetherWait())
	}
	if cfg.Location.GPSDAddr != "localhost:2947" {
		t.Errorf("gpsd addr = %q", cfg.Location.GPSDAddr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing camera type": "storage:\n  document_root: /data\n",
		"bad camera type":     "camera:\n  type: polaroid\n",
		"tether without dir":  "camera:\n  type: tether_gpio\n  focus_pin: 1\n  shutter_pin: 2\n",
		"tether without pins": "camera:\n  type: tether_gpio\n  tether_dir: /tmp/t\n",
		"negative flash pin":  "camera:\n  type: mock\nflash:\n  pin: -1\n",
		"nested photos dir":   "camera:\n  type: mock\nstorage:\n  photos_dir: a/b\n",
		"parent photos dir":   "camera:\n  type: mock\nstorage:\n  photos_dir: \"..\"\n",
		"root photos dir":     "camera:\n  type: mock\nstorage:\n  photos_dir: \".\"\n",
		"negative min free":   "camera:\n  type: mock\nstorage:\n  min_free_mb: -5\n",
		"bad provider":        "camera:\n  type: mock\nlocation:\n  provider: wifi\n",
		"latitude range":      "camera:\n  type: mock\nlocation:\n  provider: static\n  latitude: 91\n",
		"longitude range":     "camera:\n  type: mock\nlocation:\n  provider: static\n  longitude: -181\n",
		"bad policy":          "camera:\n  type: mock\npermissions:\n  camera: maybe\n",
		"mqtt without broker": "camera:\n  type: mock\nmqtt:\n  topic: x\n",
		"bad port":            "camera:\n  type: mock\nweb:\n  port: 70000\n",
		"bad facing":          "camera:\n  type: mock\ndefaults:\n  facing: side\n",
		"invalid yaml":        "camera: [\n",
		"empty file":          "",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Errorf("expected error for %s, got nil", name)
			}
		})
	}
}

func TestLoad_UnknownFieldsIgnored(t *testing.T) {
	cfg, err := Load(writeConfig(t, "camera:\n  type: mock\n  lens: 50mm\nrotation: 90\n"))
	if err != nil {
		t.Fatalf("unknown fields should be ignored, got: %v", err)
	}
	if cfg.Camera.Type != "mock" {
		t.Errorf("camera type = %q", cfg.Camera.Type)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "configs", "missing.yaml")); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoad_TooLarge(t *testing.T) {
	content := "camera:\n  type: mock\n# " + strings.Repeat("x", MaxConfigFileBytes) + "\n"
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Error("expected error for oversized config, got nil")
	}
}

func TestLoad_XDGDocumentRoot(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_DATA_HOME", xdg)

	cfg, err := Load(writeConfig(t, "camera:\n  type: mock\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(xdg, "snapgo"); cfg.Storage.DocumentRoot != want {
		t.Errorf("document root = %q, want %q", cfg.Storage.DocumentRoot, want)
	}
	if want := filepath.Join(xdg, "snapgo", "photos"); cfg.PhotosPath() != want {
		t.Errorf("PhotosPath = %q, want %q", cfg.PhotosPath(), want)
	}
}

// ---------- accessors ----------

func TestAccessors(t *testing.T) {
	cfg := &Config{
		Camera:  CameraConfig{FocusDelayMs: 300, ShutterDelayMs: 120, TetherWaitMs: 2500},
		Flash:   FlashConfig{LeadTimeMs: 75},
		Storage: StorageConfig{DocumentRoot: "/data", PhotosDir: "photos", MinFreeMB: 3},
	}
	if got := cfg.PhotosPath(); got != filepath.Join("/data", "photos") {
		t.Errorf("PhotosPath = %q", got)
	}
	if got := cfg.MinFreeBytes(); got != 3*1024*1024 {
		t.Errorf("MinFreeBytes = %d", got)
	}
	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"FocusDelay", cfg.FocusDelay(), 300 * time.Millisecond},
		{"ShutterDelay", cfg.ShutterDelay(), 120 * time.Millisecond},
		{"TetherWait", cfg.TetherWait(), 2500 * time.Millisecond},
		{"FlashLeadTime", cfg.FlashLeadTime(), 75 * time.Millisecond},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}
}

func TestValidateCoordinates(t *testing.T) {
	valid := [][2]float64{{0, 0}, {90, 180}, {-90, -180}, {48.85, 2.35}}
	for _, c := range valid {
		if err := ValidateCoordinates(c[0], c[1]); err != nil {
			t.Errorf("ValidateCoordinates(%v, %v) = %v", c[0], c[1], err)
		}
	}
	invalid := [][2]float64{{90.1, 0}, {0, 180.5}, {-91, 0}}
	for _, c := range invalid {
		if err := ValidateCoordinates(c[0], c[1]); err == nil {
			t.Errorf("ValidateCoordinates(%v, %v) should fail", c[0], c[1])
		}
	}
}
