package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/snapgo/internal/config"
	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/hw/camera"
	"github.com/cjeanneret/snapgo/internal/location"
	"github.com/cjeanneret/snapgo/internal/opener"
	"github.com/cjeanneret/snapgo/internal/permission"
	"github.com/cjeanneret/snapgo/internal/web"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	cfgPath    string
	debugLevel int // -1 = use config
}

func rootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:          "snapgo",
		Short:        "Camera capture station",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	rootCmd.PersistentFlags().IntVar(&flags.debugLevel, "debug", -1, "debug level 0-4, overrides defaults.debug_level")

	rootCmd.AddCommand(
		serveCommand(flags),
		captureCommand(flags),
		locationCommand(flags),
		openCommand(flags),
	)
	return rootCmd
}

// loadConfig reads the configuration and initializes the debug system.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if err := config.ValidateConfigPath(flags.cfgPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if flags.debugLevel >= 0 {
		if flags.debugLevel > debug.LevelTrace {
			return nil, fmt.Errorf("debug level must be 0-4, got %d", flags.debugLevel)
		}
		cfg.Defaults.DebugLevel = flags.debugLevel
	}

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", flags.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return cfg, nil
}

func serveCommand(flags *globalFlags) *cobra.Command {
	webPort := &webPortFlag{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture screen web UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			webPort.defaultPort = cfg.Web.Port
			port := webPort.port()
			if port == 0 {
				port = cfg.Web.Port
			}

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, a.controller,
				web.PhotoDir{Dir: cfg.PhotosPath(), Ext: cfg.Storage.Extension}, a.registry)
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return srv.Run(ctx)
			})
			g.Go(func() error {
				a.connectEvents(ctx)
				return nil
			})
			g.Go(func() error {
				// The one-shot location read; it may block until ctx ends.
				a.controller.Start(ctx)
				return nil
			})
			if err := g.Wait(); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		},
	}
	f := cmd.Flags().VarPF(webPort, "web", "", "serve on port; --web for the configured port, --web=8980 for a custom one")
	f.NoOptDefVal = defaultPortToken
	return cmd
}

func captureCommand(flags *globalFlags) *cobra.Command {
	var facing, flashMode string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Take one photo and print its path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateCaptureFlags(facing, flashMode); err != nil {
				return err
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			ctrl := a.controller
			if ctrl.Permission(ctx) != permission.Granted && ctrl.RequestPermission(ctx) != permission.Granted {
				return permission.ErrDenied
			}
			if facing != "" && camera.Facing(facing) != ctrl.Snapshot().Facing {
				ctrl.ToggleFacing()
			}
			if flashMode != "" && camera.FlashMode(flashMode) != ctrl.Snapshot().Flash {
				ctrl.ToggleFlash()
			}
			a.connectEvents(ctx)

			path, err := ctrl.Capture(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&facing, "facing", "", "sensor to use: back or front (default from config)")
	cmd.Flags().StringVar(&flashMode, "flash", "", "flash mode: on or off (default off)")
	return cmd
}

func locationCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "location",
		Short: "Read the current position once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.reader.Read(cmd.Context())
			if errors.Is(err, location.ErrPermissionDenied) {
				fmt.Fprintln(cmd.ErrOrStderr(), location.DeniedMessage)
				return err
			}
			if err != nil {
				return err
			}
			printReading(cmd.OutOrStdout(), r, time.Now())
			return nil
		},
	}
}

func printReading(w io.Writer, r location.Reading, now time.Time) {
	fmt.Fprintf(w, "Latitude: %.6f, Longitude: %.6f\n", r.Latitude, r.Longitude)
	if d, err := location.DaylightAt(r, now); err == nil {
		fmt.Fprintf(w, "Sunrise: %s, Sunset: %s\n", d.Sunrise.Local().Format("15:04"), d.Sunset.Local().Format("15:04"))
		if d.Dark {
			fmt.Fprintln(w, "It is dark outside, flash suggested")
		}
	}
}

func openCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the photos directory in the file viewer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.controller.OpenPhotos(cmd.Context())
			if errors.Is(err, opener.ErrMissing) {
				fmt.Fprintln(cmd.ErrOrStderr(), opener.AlertMessage)
			}
			return err
		},
	}
}

// validateCaptureFlags checks --facing and --flash. Empty values mean "use default".
func validateCaptureFlags(facing, flashMode string) error {
	switch camera.Facing(facing) {
	case "", camera.FacingBack, camera.FacingFront:
	default:
		return fmt.Errorf("facing must be back or front, got %q", facing)
	}
	switch camera.FlashMode(flashMode) {
	case "", camera.FlashOff, camera.FlashOn:
	default:
		return fmt.Errorf("flash must be on or off, got %q", flashMode)
	}
	return nil
}

var _ pflag.Value = (*webPortFlag)(nil)

// defaultPortToken is what pflag passes to Set for a bare --web.
const defaultPortToken = "default"

// webPortFlag implements pflag.Value for --web: 0 = not given, --web → configured
// port, --web=8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
	useDefault  bool
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return ""
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" || s == defaultPortToken {
		w.useDefault = true
		w.val = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	w.useDefault = false
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int {
	if w.useDefault {
		return w.defaultPort
	}
	return w.val
}
