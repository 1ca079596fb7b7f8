package notify_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nafistiham/jigai/internal/notify"
)

func TestNotify_NoopOnNonDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("only exercises the non-darwin no-op path")
	}
	err := notify.Notify("title", "message", "subtitle", "Ping", "session-1")
	assert.NoError(t, err)
}

func TestIsTerminalFocused_FalseOnNonDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("only exercises the non-darwin short-circuit")
	}
	assert.False(t, notify.IsTerminalFocused())
}

func TestHasTerminalNotifier_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { notify.HasTerminalNotifier() })
}
