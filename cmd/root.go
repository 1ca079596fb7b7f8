// Package cmd implements jigai's command-line interface: watch, server,
// config, patterns, and sessions.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nafistiham/jigai/internal/config"
	"github.com/nafistiham/jigai/internal/log"
	"github.com/nafistiham/jigai/internal/tracing"
)

var (
	version   = "dev"
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:     "jigai",
	Short:   "Idle-detection wrapper for interactive CLI AI coding assistants",
	Long:    `jigai interposes a pseudo-terminal between your real terminal and an interactive assistant (Claude Code, Codex, Gemini CLI, Aider, OpenCode), watches its output, and notifies you when it's waiting for input.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also: JIGAI_DEBUG=1)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// initLogging turns on file-backed logging when --debug or JIGAI_DEBUG is
// set, returning a cleanup func that is a no-op when logging was not
// enabled.
func initLogging() func() {
	debug := os.Getenv("JIGAI_DEBUG") != "" || debugFlag
	if !debug {
		return func() {}
	}

	logPath := os.Getenv("JIGAI_LOG")
	if logPath == "" {
		logPath = "jigai-debug.log"
	}

	cleanup, err := log.Init(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize logging at %s: %v\n", logPath, err)
		return func() {}
	}
	log.Info(log.CatCLI, "jigai starting", "version", version, "logPath", logPath)
	return cleanup
}

// startLogTail prints Recent() followed by every new log entry to stderr as
// it's written, for the lifetime of ctx. It is a no-op if logging was never
// initialized (e.g. the log file could not be opened). Used by --tail-log on
// long-running commands so a foreground user can watch debug output live
// without opening the log file in another terminal.
func startLogTail(ctx context.Context) {
	listener := log.NewListener(ctx)
	if listener == nil {
		return
	}
	for _, line := range log.Recent() {
		fmt.Fprint(os.Stderr, line)
	}
	go func() {
		for {
			event, ok := listener.Next(ctx)
			if !ok {
				return
			}
			fmt.Fprint(os.Stderr, event.Payload)
		}
	}()
}

// resolveTracingConfig translates the resolved jigai config's tracing
// section into a tracing.Config, filling in the default file-exporter path
// under the config directory when the user enabled file export without
// naming a path.
func resolveTracingConfig(cfg config.Config) tracing.Config {
	tracingCfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	}
	if tracingCfg.Exporter == "file" && tracingCfg.FilePath == "" {
		if dir, err := config.Dir(); err == nil {
			tracingCfg.FilePath = filepath.Join(dir, "traces", "traces.jsonl")
		}
	}
	return tracingCfg
}
