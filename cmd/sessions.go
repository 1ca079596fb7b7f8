package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nafistiham/jigai/internal/config"
)

var sessionsPort int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Query the hub for currently tracked sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().IntVar(&sessionsPort, "port", 0, "hub port to query (default 9384 or config server.port)")
}

func runSessions(c *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	port := cfg.Server.Port
	if sessionsPort != 0 {
		port = sessionsPort
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/sessions", port))
	if err != nil {
		return fmt.Errorf("hub unreachable on port %d: %w", port, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding sessions response: %w", err)
	}

	if len(body.Sessions) == 0 {
		fmt.Println("no active sessions")
		return nil
	}
	for _, s := range body.Sessions {
		fmt.Printf("%v  %v  %v  %v\n", s["session_id"], s["tool_name"], s["status"], s["working_dir"])
	}
	return nil
}
