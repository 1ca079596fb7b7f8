// Package watcher owns one watched session end-to-end: it wires the PTY
// proxy's output to the idle detector, builds IdleEvents on detection, and
// dispatches them to the notification sink and an optional external
// callback (typically the hub client).
package watcher

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nafistiham/jigai/internal/config"
	"github.com/nafistiham/jigai/internal/detector"
	"github.com/nafistiham/jigai/internal/log"
	"github.com/nafistiham/jigai/internal/notify"
	"github.com/nafistiham/jigai/internal/patterns"
	"github.com/nafistiham/jigai/internal/ptyproxy"
	"github.com/nafistiham/jigai/internal/session"
	"github.com/nafistiham/jigai/internal/tracing"
)

// IdleEventFunc is invoked with each idle event the watcher produces, in
// addition to any desktop notification. Typically wired to a hub client's
// PushEvent.
type IdleEventFunc func(session.IdleEvent)

// Watcher combines a PTY proxy and a detector around one child process.
type Watcher struct {
	argv     []string
	cfg      config.Config
	registry atomic.Pointer[patterns.Registry]
	onIdle   IdleEventFunc

	toolKey string
	session *session.Session
	det     *detector.Detector

	lineBuffer strings.Builder
	running    atomic.Bool

	// tracer opens one span per idle trigger when set via SetTracer. Left
	// nil, handleIdle skips span creation entirely.
	tracer trace.Tracer
}

// SetTracer attaches a tracer used to open one span per idle trigger. Call
// before Run. A nil tracer (the default) disables span creation.
func (w *Watcher) SetTracer(tracer trace.Tracer) {
	w.tracer = tracer
}

// New constructs a Watcher for argv. toolOverride, if non-empty, bypasses
// command-based tool detection.
func New(argv []string, toolOverride string, cfg config.Config, registry *patterns.Registry, onIdle IdleEventFunc) *Watcher {
	toolKey := toolOverride
	if toolKey == "" {
		toolKey = patterns.DetectToolFromCommand(argv, registry)
	}
	toolName := registry.DisplayName(toolKey)

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	w := &Watcher{
		argv:    argv,
		cfg:     cfg,
		onIdle:  onIdle,
		toolKey: toolKey,
		session: session.New(toolKey, toolName, argv, wd),
	}
	w.registry.Store(registry)
	w.det = detector.New(registry, toolKey, w.handleIdle)
	w.det.SetRedactPatterns(cfg.Notification.RedactPatterns)
	return w
}

// Session returns the watcher's session record.
func (w *Watcher) Session() *session.Session { return w.session }

// ReloadRegistry swaps in a freshly loaded pattern registry, used after the
// user pattern file changes on disk so a long-running watch picks up edits
// without a restart. Redact patterns are untouched — they come from config,
// not the pattern file.
func (w *Watcher) ReloadRegistry(registry *patterns.Registry) {
	w.registry.Store(registry)
	w.det.SetRegistry(registry)
	log.Info(log.CatWatcher, "reloaded pattern registry", "tools", len(registry.Keys()))
}

// handleOutput is the PTY proxy's OutputFunc: it accumulates the chunk into
// a line buffer and feeds every completed line to the detector, UTF-8
// decoded with replacement on invalid bytes. If trimmed remainder is
// non-empty after the loop, it is also fed — to catch trailing prompts that
// never end in a newline. This intentionally does not remove the fragment
// from the buffer, so a still-partial line is fed again on the next chunk;
// duplicates are harmless because the detector's cooldown gate suppresses
// re-fires.
func (w *Watcher) handleOutput(chunk []byte) {
	w.lineBuffer.WriteString(string(chunk))

	buf := w.lineBuffer.String()
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		w.det.FeedLine(strings.ToValidUTF8(line, "�"))
	}
	w.lineBuffer.Reset()
	w.lineBuffer.WriteString(buf)

	if strings.TrimSpace(buf) != "" {
		w.det.FeedLine(strings.ToValidUTF8(buf, "�"))
	}
}

// handleIdle is the detector's IdleCallback.
func (w *Watcher) handleIdle(method, toolKey string, idleSeconds float64, recent []string) {
	if w.tracer != nil {
		span := tracing.StartDetectionSpan(w.tracer, w.session.ID(), method, toolKey, idleSeconds)
		defer span.End()
	}

	toolName := w.registry.Load().DisplayName(toolKey)

	n := w.cfg.Notification.OutputLines
	lastOutput := ""
	if len(recent) > 0 {
		if n > len(recent) {
			n = len(recent)
		}
		lastOutput = strings.Join(recent[len(recent)-n:], "\n")
	}

	event := session.IdleEvent{
		SessionID:       w.session.ID(),
		ToolName:        toolName,
		WorkingDir:      w.session.WorkingDir(),
		Timestamp:       time.Now().UTC(),
		LastOutput:      lastOutput,
		IdleSeconds:     idleSeconds,
		DetectionMethod: method,
	}

	w.session.MarkIdle(lastOutput, event)

	if w.cfg.Notification.Enabled {
		if !w.cfg.Notification.OnlyWhenAway || !notify.IsTerminalFocused() {
			body := ""
			if lastOutput != "" {
				body = lastMeaningfulLine(lastOutput)
			}
			if w.session.WorkingDir() != "" {
				dir := shortenPath(w.session.WorkingDir(), 40)
				if body != "" {
					body = body + "\n" + dir
				} else {
					body = dir
				}
			}

			group := ""
			if w.cfg.Notification.GroupBySession {
				group = w.session.ID()
			}

			if err := notify.Notify(
				fmt.Sprintf("%s is waiting", toolName),
				body,
				"Session: "+w.session.DisplayName(),
				w.cfg.Notification.Sound,
				group,
			); err != nil {
				log.Warn(log.CatNotify, "failed to deliver desktop notification", "error", err)
			}
		}
	}

	if w.onIdle != nil {
		w.onIdle(event)
	}
}

// Run starts the timeout ticker, runs the PTY proxy (blocking), and returns
// the child's exit code.
func (w *Watcher) Run() int {
	fmt.Fprintf(os.Stderr, "▶ [jigai] Watching %s as %s\n", strings.Join(w.argv, " "), w.session.DisplayName())
	fmt.Fprintf(os.Stderr, "  Working dir: %s\n", w.session.WorkingDir())
	reg := w.registry.Load()
	fmt.Fprintf(os.Stderr, "  Timeout: %ds | Cooldown: %ds\n\n", reg.TimeoutSeconds, reg.CooldownSeconds)

	w.running.Store(true)
	stopTicker := make(chan struct{})
	go w.timeoutChecker(stopTicker)

	proxy := ptyproxy.New(w.argv, w.handleOutput, func(int) {
		w.running.Store(false)
		w.session.MarkStopped()
	}, w.session.SetPID)

	exitCode, err := proxy.Run()
	w.running.Store(false)
	close(stopTicker)

	if err != nil {
		log.ErrorErr(log.CatWatcher, "proxy exited with error", err)
	}
	return exitCode
}

func (w *Watcher) timeoutChecker(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.running.Load() {
				w.det.CheckTimeout()
			}
		}
	}
}

var (
	separatorRe = regexp.MustCompile(`^[\s\x{2500}-\x{257F}\-=_|*~\x{2014}\x{2013}]+$`)
	decorRe     = regexp.MustCompile(`[\x{2500}-\x{257F}\x{2580}-\x{259F}\x{25A0}-\x{25FF}\x{2600}-\x{26FF}●✻⚡✓►▶⚠\-─━╭╮╰╯│]`)
	hasAlphaRe  = regexp.MustCompile(`[a-zA-Z]{3,}`)
)

// lastMeaningfulLine walks text from the end, skipping blank/pure-separator
// lines, stripping decorative glyphs from the rest, and returns the first
// remaining line that still contains a run of 3+ ASCII letters. Returns ""
// if no such line exists.
func lastMeaningfulLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		stripped := strings.TrimSpace(lines[i])
		if stripped == "" || separatorRe.MatchString(stripped) {
			continue
		}
		cleaned := strings.TrimSpace(decorRe.ReplaceAllString(stripped, ""))
		if hasAlphaRe.MatchString(cleaned) {
			return cleaned
		}
	}
	return ""
}

// shortenPath replaces the user's home directory with "~" and, if the
// result still exceeds maxLen, collapses all but the first and last two
// path segments into "...".
func shortenPath(path string, maxLen int) string {
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(path, home) {
		path = "~" + strings.TrimPrefix(path, home)
	}
	if len(path) <= maxLen {
		return path
	}
	parts := strings.Split(path, string(os.PathSeparator))
	if len(parts) > 3 {
		path = strings.Join(append([]string{parts[0], "..."}, parts[len(parts)-2:]...), string(os.PathSeparator))
	}
	return path
}
