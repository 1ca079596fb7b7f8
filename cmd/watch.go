package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nafistiham/jigai/internal/config"
	"github.com/nafistiham/jigai/internal/hubclient"
	"github.com/nafistiham/jigai/internal/log"
	"github.com/nafistiham/jigai/internal/patterns"
	"github.com/nafistiham/jigai/internal/patternwatch"
	"github.com/nafistiham/jigai/internal/session"
	"github.com/nafistiham/jigai/internal/tracing"
	"github.com/nafistiham/jigai/internal/watcher"
)

var (
	watchTool     string
	watchNoNotify bool
	watchNoServer bool
	watchTimeout  int
	watchHubAddr  string
	watchTailLog  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <argv...>",
	Short: "Run a command under the idle-detecting PTY proxy",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchTool, "tool", "", "override tool detection (e.g. claude_code)")
	watchCmd.Flags().BoolVar(&watchNoNotify, "no-notify", false, "disable desktop notifications for this run")
	watchCmd.Flags().BoolVar(&watchNoServer, "no-server", false, "do not push events to a hub server")
	watchCmd.Flags().IntVar(&watchTimeout, "timeout", 0, "override the idle timeout in seconds (0 = use config)")
	watchCmd.Flags().StringVar(&watchHubAddr, "hub", "", "hub base URL (default http://localhost:9384)")
	watchCmd.Flags().BoolVar(&watchTailLog, "tail-log", false, "stream debug log entries to stderr as they're written (implies --debug)")
}

func runWatch(c *cobra.Command, args []string) error {
	exitCode, err := doWatch(args)
	if err != nil {
		return err
	}
	os.Exit(exitCode)
	return nil
}

// doWatch runs the watcher to completion and returns the child's exit code.
// Split out from runWatch so that deferred cleanup (hub unregister, tracer
// flush, log file close) runs before the process exits, rather than being
// skipped by an os.Exit in the same frame.
func doWatch(args []string) (int, error) {
	if watchTailLog {
		debugFlag = true
	}
	cleanup := initLogging()
	defer cleanup()

	if watchTailLog {
		tailCtx, cancelTail := context.WithCancel(context.Background())
		defer cancelTail()
		startLogTail(tailCtx)
	}

	cfg, err := config.Load()
	if err != nil {
		return 1, fmt.Errorf("loading config: %w", err)
	}
	if watchNoNotify {
		cfg.Notification.Enabled = false
	}
	if watchTimeout > 0 {
		cfg.Detection.TimeoutSeconds = watchTimeout
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return 1, err
	}

	var client *hubclient.Client
	var onIdle watcher.IdleEventFunc
	if !watchNoServer {
		client = hubclient.New(watchHubAddr)
		if client.IsServerRunning() {
			onIdle = func(ev session.IdleEvent) { client.PushEvent(ev) }
		}
	}

	w := watcher.New(args, watchTool, cfg, registry, onIdle)

	tracerProvider, err := tracing.NewProvider(resolveTracingConfig(cfg))
	if err != nil {
		log.Warn(log.CatWatcher, "tracing disabled: failed to configure provider", "error", err)
	} else {
		w.SetTracer(tracerProvider.Tracer())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracerProvider.Shutdown(shutdownCtx)
		}()
	}

	if client != nil && client.IsServerRunning() {
		s := w.Session()
		client.RegisterSession(s.ID(), s.ToolName(), s.Argv(), s.WorkingDir())
		defer client.UnregisterSession(s.ID())
	}

	if stop := watchPatternFileForReload(w, cfg); stop != nil {
		defer stop()
	}

	return w.Run(), nil
}

// watchPatternFileForReload watches the user pattern file for edits and
// reloads w's registry on change, so a long-running watch picks up tuning
// changes without a restart. Returns nil (and logs a warning) if the
// underlying file watcher cannot be created, e.g. no inotify support.
func watchPatternFileForReload(w *watcher.Watcher, cfg config.Config) func() {
	patternsPath, err := config.PatternsPath()
	if err != nil {
		return nil
	}

	pw, err := patternwatch.New(patternwatch.DefaultConfig(patternsPath))
	if err != nil {
		log.Warn(log.CatWatcher, "pattern file live-reload disabled", "error", err)
		return nil
	}
	changed, err := pw.Start()
	if err != nil {
		log.Warn(log.CatWatcher, "pattern file live-reload disabled", "error", err)
		return nil
	}

	go func() {
		for range changed {
			reg, err := loadRegistry(cfg)
			if err != nil {
				log.ErrorErr(log.CatWatcher, "failed to reload pattern registry", err)
				continue
			}
			w.ReloadRegistry(reg)
		}
	}()

	return func() { _ = pw.Stop() }
}

func loadRegistry(cfg config.Config) (*patterns.Registry, error) {
	patternsPath, err := config.PatternsPath()
	if err != nil {
		return nil, fmt.Errorf("resolving pattern file path: %w", err)
	}
	reg, err := patterns.LoadDefault(patternsPath)
	if err != nil {
		return nil, fmt.Errorf("loading pattern registry: %w", err)
	}
	if cfg.Detection.TimeoutSeconds > 0 {
		reg.TimeoutSeconds = cfg.Detection.TimeoutSeconds
	}
	if cfg.Detection.CooldownSeconds > 0 {
		reg.CooldownSeconds = cfg.Detection.CooldownSeconds
	}
	return reg, nil
}
