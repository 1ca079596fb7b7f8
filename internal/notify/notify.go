// Package notify delivers desktop notifications for idle events. It is a
// macOS-only sink (osascript / terminal-notifier); on other platforms Notify
// is a documented no-op that still reports success, since a watcher's
// contract never depends on notification delivery.
package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/nafistiham/jigai/internal/log"
)

// terminalApps is the fixed set of frontmost-app names considered "a
// terminal" by IsTerminalFocused.
var terminalApps = []string{
	"terminal", "iterm2", "warp", "hyper", "alacritty",
	"kitty", "ghostty", "tabby", "rio",
}

// IsTerminalFocused shells out to osascript to ask which application is
// frontmost, with a 2s timeout. On any error it assumes NOT focused, so the
// caller errs toward over-notifying rather than silently swallowing an idle
// event.
func IsTerminalFocused() bool {
	if runtime.GOOS != "darwin" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "osascript", "-e",
		`tell application "System Events" to get name of first application process whose frontmost is true`)
	out, err := cmd.Output()
	if err != nil {
		return false
	}

	frontmost := strings.ToLower(strings.TrimSpace(string(out)))
	for _, app := range terminalApps {
		if strings.Contains(frontmost, app) {
			return true
		}
	}
	return false
}

// HasTerminalNotifier reports whether the terminal-notifier CLI is
// installed.
func HasTerminalNotifier() bool {
	_, err := exec.LookPath("terminal-notifier")
	return err == nil
}

// Notify sends a desktop notification. title, message, and subtitle are
// sanitized before use: backslashes are escaped first, then double quotes,
// then newlines are replaced with a visible glyph, so that a naive shell-out
// cannot be terminated by embedded quotes. On non-darwin platforms this is a
// no-op that still returns nil.
func Notify(title, message, subtitle, sound, group string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}

	title = sanitize(title)
	message = sanitize(message)
	if subtitle != "" {
		subtitle = sanitize(subtitle)
	}

	if HasTerminalNotifier() {
		if err := notifyTerminalNotifier(title, message, subtitle, sound, group); err == nil {
			return nil
		}
		log.Warn(log.CatNotify, "terminal-notifier failed, falling back to osascript")
	}
	return notifyOsascript(title, message, subtitle, sound)
}

func notifyOsascript(title, message, subtitle, sound string) error {
	parts := []string{`display notification "` + message + `"`}
	parts = append(parts, `with title "`+title+`"`)
	if subtitle != "" {
		parts = append(parts, `subtitle "`+subtitle+`"`)
	}
	parts = append(parts, `sound name "`+sound+`"`)
	script := strings.Join(parts, " ")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "osascript", "-e", script).Run()
}

func notifyTerminalNotifier(title, message, subtitle, sound, group string) error {
	args := []string{
		"-title", title,
		"-message", message,
		"-sound", sound,
	}
	if subtitle != "" {
		args = append(args, "-subtitle", subtitle)
	}
	if group != "" {
		args = append(args, "-group", "jigai-"+group)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "terminal-notifier", args...).Run()
}

// sanitize escapes text for embedding in an AppleScript/shell string:
// backslashes first, then double quotes, then newlines become a visible
// glyph. Order matters — escaping quotes before backslashes would
// double-escape the quote's own backslash.
func sanitize(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, `"`, `\"`)
	text = strings.ReplaceAll(text, "\n", " ⏎ ")
	return text
}
