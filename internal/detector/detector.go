// Package detector implements the idle-detection state machine: it consumes
// output lines from a watched child process and decides, via regex pattern
// matching or a timeout-of-silence fallback, when the child has stopped
// producing work and is waiting on the human.
package detector

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nafistiham/jigai/internal/patterns"
)

// ansiRe strips CSI sequences (ESC [ ... letter), OSC sequences
// (ESC ] ... BEL), and the generic ESC [ ... @-~ form.
var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]|\x1b\\].*?\x07|\x1b\\[.*?[@-~]")

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

const ringCapacity = 50

// ring is a fixed-capacity FIFO of strings; the oldest entry is evicted once
// capacity is exceeded.
type ring struct {
	buf []string
}

func (r *ring) push(s string) {
	r.buf = append(r.buf, s)
	if len(r.buf) > ringCapacity {
		r.buf = r.buf[len(r.buf)-ringCapacity:]
	}
}

func (r *ring) lastN(n int) []string {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	return append([]string(nil), r.buf[len(r.buf)-n:]...)
}

// IdleCallback is invoked once per detected idle transition. recent holds
// the last 10 (ANSI-stripped, redacted) output lines preceding the fire.
// Implementations must not re-enter the detector that invoked them.
type IdleCallback func(method, toolKey string, idleSeconds float64, recent []string)

// Detector is a single-writer-at-a-time state machine: one per watched
// session. All mutating operations are safe for concurrent use from the
// output handler and the timeout ticker; a mutex guards the shared state.
type Detector struct {
	mu sync.Mutex

	registry *patterns.Registry
	toolHint string
	onIdle   IdleCallback

	redact []*regexp.Regexp

	lastOutputTime       time.Time
	lastIdleNotification time.Time
	ring                 ring
	isIdle               bool
	detectedTool         string
}

// New creates a Detector bound to registry, with toolHint biasing pattern
// matching toward a specific tool (pass "" or "unknown" for no hint).
// onIdle is invoked whenever a trigger passes the cooldown gate.
func New(registry *patterns.Registry, toolHint string, onIdle IdleCallback) *Detector {
	return &Detector{
		registry:       registry,
		toolHint:       toolHint,
		onIdle:         onIdle,
		lastOutputTime: time.Now(),
	}
}

// SetRedactPatterns compiles redactPatterns, dropping invalid ones silently.
// Must be called before the first FeedLine to take effect on earlier lines,
// though in practice it is set once at construction time.
func (d *Detector) SetRedactPatterns(redactPatterns []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var compiled []*regexp.Regexp
	for _, raw := range redactPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	d.redact = compiled
}

// SetRegistry swaps in a newly loaded pattern registry, e.g. after the user
// pattern file changes on disk. Safe to call while FeedLine/CheckTimeout run
// concurrently on another goroutine.
func (d *Detector) SetRegistry(registry *patterns.Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry = registry
}

func (d *Detector) redactLine(line string) string {
	out := line
	for _, re := range d.redact {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

// FeedLine processes one raw output line. It strips ANSI, trims whitespace,
// drops empty lines, updates last-output bookkeeping, pushes a redacted copy
// into the ring, and attempts detection (tool hint first, then any tool).
func (d *Detector) FeedLine(raw string) {
	cleaned := strings.TrimSpace(StripANSI(raw))
	if cleaned == "" {
		return
	}

	d.mu.Lock()

	now := time.Now()
	d.lastOutputTime = now
	d.isIdle = false
	d.ring.push(d.redactLine(cleaned))

	matched := ""
	if d.toolHint != "" && d.toolHint != "unknown" && d.registry.Has(d.toolHint) {
		if tool, ok := d.registry.Tool(d.toolHint); ok && tool.Matches(cleaned) {
			matched = d.toolHint
		}
	}
	if matched == "" {
		matched = d.registry.MatchAny(cleaned)
	}

	d.mu.Unlock()

	if matched != "" {
		d.trigger("pattern", matched, now)
	}
}

// CheckTimeout fires a timeout-path trigger if the session has been silent
// for at least TimeoutSeconds and is not already idle. Intended to be called
// roughly once per second by an external ticker.
func (d *Detector) CheckTimeout() {
	d.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(d.lastOutputTime).Seconds()
	timeoutSeconds := float64(d.registry.TimeoutSeconds)
	alreadyIdle := d.isIdle
	hint := d.toolHint
	d.mu.Unlock()

	if elapsed >= timeoutSeconds && !alreadyIdle {
		tool := hint
		if tool == "" {
			tool = "unknown"
		}
		d.trigger("timeout", tool, now)
	}
}

// trigger is the cooldown gate. It is atomic with respect to the detector's
// internal state: check cooldown, set flags and timestamp, snapshot recent
// lines, release the lock, then invoke the callback outside the lock so the
// callback may safely call back into the watcher (but must not re-enter this
// detector).
func (d *Detector) trigger(method, toolKey string, now time.Time) {
	d.mu.Lock()

	cooldown := float64(d.registry.CooldownSeconds)
	if !d.lastIdleNotification.IsZero() && now.Sub(d.lastIdleNotification).Seconds() < cooldown {
		d.mu.Unlock()
		return
	}

	d.isIdle = true
	d.lastIdleNotification = now
	d.detectedTool = toolKey
	idleSeconds := now.Sub(d.lastOutputTime).Seconds()
	recent := d.ring.lastN(10)

	d.mu.Unlock()

	if d.onIdle != nil {
		d.onIdle(method, toolKey, idleSeconds, recent)
	}
}

// IsIdle reports the detector's current idle flag.
func (d *Detector) IsIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isIdle
}

// RecentOutput returns the last n (redacted) lines fed to the detector.
func (d *Detector) RecentOutput(n int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ring.lastN(n)
}
