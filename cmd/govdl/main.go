package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/govdl/govdl/internal/capture"
	"github.com/govdl/govdl/internal/log"
	"github.com/govdl/govdl/internal/model"
	"github.com/govdl/govdl/internal/ops"
	"github.com/govdl/govdl/internal/probe"
	"github.com/govdl/govdl/internal/scheduler"
	"github.com/govdl/govdl/internal/watchlist"
)

var (
	userConfigPath string // /default/config/path/govdl on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "govdl")
}

func main() {
	// a .env next to the binary is the easy way to carry Twitch credentials
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is govdl.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initGovdl

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("govdl failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "govdl",
	Short:        "Daemon watching YouTube and Twitch channels and capturing their live streams",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run polls the configured channels and captures live ones until interrupted",
	RunE:  doRun,
}

var checkCmd = &cobra.Command{
	Use:   "check channel [channel...]",
	Short: "check probes the given channels once and prints their liveness",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of a govdl",
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		printVersion(os.Stdout, info)
	},
}

func printVersion(w io.Writer, info *debug.BuildInfo) {
	if info == nil {
		fmt.Fprintln(w, "govdl: version info not available")
		return
	}

	if configPath != "" {
		fmt.Fprintf(w, "config: %s\n", configPath)
	}
	fmt.Fprintf(w, "govdl:  %s\n", info.Main.Version)
	fmt.Fprintf(w, "go:     %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			fmt.Fprintf(w, "commit: %s\n", s.Value)
		case "vcs.time":
			fmt.Fprintf(w, "date:   %s\n", s.Value)
		case "vcs.modified":
			fmt.Fprintf(w, "dirty:  %s\n", s.Value)
		}
	}
	fmt.Fprintln(w)
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("govdl",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	store, err := watchlist.NewStore(configPath, &config)
	if err != nil {
		return err
	}

	// the capture sub-tree is read again through viper, it owns the
	// defaults and the mapstructure decoding of the command template
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", configPath, err)
	}
	tool, err := capture.ParseTool("capture")
	if err != nil {
		return fmt.Errorf("parsing capture configuration: %w", err)
	}

	metrics := ops.NewMetrics()
	supervisor := capture.NewSupervisor(tool).WithObserver(metrics)
	probers, err := buildProbers(ctx, config)
	if err != nil {
		return err
	}
	loop := scheduler.NewLoop(store, probers, supervisor).WithObserver(metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reloadOnHUP(gctx, store, metrics, loop)
	})
	if addr := listenAddr(config); addr != "" {
		g.Go(func() error {
			return ops.NewServer(addr, metrics, supervisor).Run(gctx)
		})
	}
	g.Go(func() error {
		return loop.Run(gctx)
	})

	err = g.Wait()
	drain(ctx, supervisor)
	return err
}

// reloadOnHUP swaps the watchlist on SIGHUP. A failed reload keeps the
// previous configuration active and the daemon running.
func reloadOnHUP(ctx context.Context, store *watchlist.Store, metrics *ops.Metrics, loop *scheduler.Loop) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := store.Reload(ctx); err != nil {
				var details []model.CueErrorDetail
				var cfgErr *watchlist.ConfigError
				if errors.As(err, &cfgErr) && cfgErr.Kind == watchlist.KindParse {
					details = model.CueErrDetails(cfgErr.Err)
				}
				for _, d := range details {
					slog.ErrorContext(ctx, "invalid configuration", d.Attr("detail"))
				}
				slog.ErrorContext(ctx, "reload failed, previous configuration stays active",
					"path", store.Path(),
					"error", err,
				)
				continue
			}
			metrics.ConfigReloaded()
			loop.Kick()
		}
	}
}

// drain blocks until running captures finish on their own. Killing a
// download mid-stream loses the recording, so shutdown waits; the optional
// service.drain_timeout caps the wait.
func drain(ctx context.Context, supervisor *capture.Supervisor) {
	var timeout time.Duration
	if config.Service != nil && config.Service.DrainTimeout != nil {
		d, err := time.ParseDuration(*config.Service.DrainTimeout)
		if err != nil {
			slog.WarnContext(ctx, "unparsable service.drain_timeout, waiting indefinitely", "error", err)
		} else {
			timeout = d
		}
	}

	active := supervisor.ActiveCount()
	if active == 0 {
		return
	}
	slog.InfoContext(ctx, "waiting for captures to finish", "active", active, "timeout", timeout.String())
	if remaining := supervisor.Drain(timeout); remaining > 0 {
		slog.WarnContext(ctx, "drain timeout reached, abandoning captures", "remaining", remaining)
	}
}

func doCheck(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("govdl",
		slog.String("cmd", "check"),
		slog.Int("pid", os.Getpid()),
	))

	probers, err := buildProbers(ctx, config)
	if err != nil {
		return err
	}
	byPlatform := make(map[model.Platform]probe.Prober, len(probers))
	for _, p := range probers {
		byPlatform[p.Platform()] = p
	}

	var errs []error
	for _, arg := range args {
		w, err := model.ParseWatch(arg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		prober, ok := byPlatform[w.Platform]
		if !ok {
			errs = append(errs, fmt.Errorf("no prober available for %s", w.Key()))
			continue
		}
		liveness, err := prober.IsLive(ctx, w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if liveness.Live {
			fmt.Printf("%s: live\t%s\t%s\n", w.Key(), liveness.TargetURL, liveness.Title)
		} else {
			fmt.Printf("%s: not live\n", w.Key())
		}
	}
	return errors.Join(errs...)
}

// buildProbers always serves YouTube; Twitch needs Helix credentials from
// the config or the TWITCH_CLIENT_ID / TWITCH_CLIENT_SECRET environment.
func buildProbers(ctx context.Context, cfg model.Config) ([]probe.Prober, error) {
	probers := []probe.Prober{probe.NewYouTube(nil)}

	clientID := os.Getenv("TWITCH_CLIENT_ID")
	clientSecret := os.Getenv("TWITCH_CLIENT_SECRET")
	if cfg.Twitch != nil {
		if cfg.Twitch.ClientID != "" {
			clientID = cfg.Twitch.ClientID
		}
		if cfg.Twitch.ClientSecret != "" {
			clientSecret = cfg.Twitch.ClientSecret
		}
	}

	switch {
	case clientID != "" && clientSecret != "":
		twitch, err := probe.NewTwitch(clientID, clientSecret)
		if err != nil {
			return nil, err
		}
		probers = append(probers, twitch)
	case hasTwitchWatches(cfg):
		slog.WarnContext(ctx, "twitch credentials missing, twitch channels will be skipped")
	}
	return probers, nil
}

func hasTwitchWatches(cfg model.Config) bool {
	for _, w := range cfg.Watches {
		if w.Platform == model.PlatformTwitch {
			return true
		}
	}
	return false
}

func listenAddr(cfg model.Config) string {
	if cfg.Service == nil || cfg.Service.Listen == nil {
		return ""
	}
	return *cfg.Service.Listen
}

func initGovdl(_ *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("GOVDLCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "govdl.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "govdl.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0o755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// --verbose has a precedence over config file
	verbose := flagVerbose
	if config.Service != nil {
		verbose = verbose || model.Get(config.Service.Verbose)
	}
	slog.SetDefault(log.New(verbose, "json"))

	slog.Debug("govdl run", "configPath", configPath)
	slog.Debug("govdl run", "watches", len(config.Watches))
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
