package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nafistiham/jigai/internal/config"
)

func TestSetVersion_UpdatesRootCommand(t *testing.T) {
	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", rootCmd.Version)
	assert.Equal(t, "1.2.3", version)
}

func TestLoadRegistry_AppliesConfigTimingOverrides(t *testing.T) {
	t.Setenv("JIGAI_HOME", t.TempDir())
	cfg := config.Defaults()
	cfg.Detection.TimeoutSeconds = 42
	cfg.Detection.CooldownSeconds = 7

	reg, err := loadRegistry(cfg)
	assert.NoError(t, err)
	assert.Equal(t, 42, reg.TimeoutSeconds)
	assert.Equal(t, 7, reg.CooldownSeconds)
}

func TestInitLogging_NoopWhenDebugDisabled(t *testing.T) {
	debugFlag = false
	t.Setenv("JIGAI_DEBUG", "")
	cleanup := initLogging()
	assert.NotNil(t, cleanup)
	cleanup()
}
