package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nafistiham/jigai/internal/config"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List every loaded tool's display name, pattern count, and timing tunables",
	RunE:  runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(c *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	for _, key := range registry.Keys() {
		tool, _ := registry.Tool(key)
		fmt.Printf("%-16s %-20s %d pattern(s)\n", key, tool.Name, len(tool.Patterns))
	}
	fmt.Printf("\ntimeout: %ds, cooldown: %ds\n", registry.TimeoutSeconds, registry.CooldownSeconds)
	return nil
}
