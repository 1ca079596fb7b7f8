package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nafistiham/jigai/internal/config"
	"github.com/nafistiham/jigai/internal/detector"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage jigai's configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml and an example patterns.yaml",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved, merged configuration",
	RunE:  runConfigShow,
}

var configTestCmd = &cobra.Command{
	Use:   "test <line>",
	Short: "Test a sample output line against the loaded patterns",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigTest,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configTestCmd)
}

func runConfigInit(c *cobra.Command, args []string) error {
	path, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	fmt.Printf("wrote config to %s\n", path)

	patternsPath, err := config.PatternsPath()
	if err != nil {
		return fmt.Errorf("resolving patterns path: %w", err)
	}
	if err := writeExamplePatternsFile(patternsPath); err != nil {
		return fmt.Errorf("writing example patterns file: %w", err)
	}
	fmt.Printf("wrote example patterns file to %s\n", patternsPath)
	return nil
}

func runConfigShow(c *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigTest(c *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	line := detector.StripANSI(args[0])
	if key := registry.MatchAny(line); key != "" {
		fmt.Printf("matched tool: %s (%s)\n", key, registry.DisplayName(key))
	} else {
		fmt.Println("no pattern matched")
	}
	fmt.Printf("timeout: %ds, cooldown: %ds\n", registry.TimeoutSeconds, registry.CooldownSeconds)
	return nil
}

func writeExamplePatternsFile(path string) error {
	const example = `# jigai user pattern file.
# custom_tools extends the built-in set; a key equal to a built-in key
# replaces that tool's entry in place.
#
# custom_tools:
#   my_tool:
#     name: "My Tool"
#     idle_patterns:
#       - "\\?\\s*$"
#
# overrides:
#   timeout_seconds: 30
#   cooldown_seconds: 5
`
	return writeFileIfAbsent(path, example)
}

func writeFileIfAbsent(path, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(contents), 0644)
}
