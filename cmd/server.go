package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nafistiham/jigai/internal/config"
	"github.com/nafistiham/jigai/internal/discovery"
	"github.com/nafistiham/jigai/internal/hub"
	"github.com/nafistiham/jigai/internal/log"
)

var (
	serverPort    int
	serverHost    string
	serverTailLog bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run or query the jigai event hub",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the hub server in the foreground",
	RunE:  runServerStart,
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the hub is reachable",
	RunE:  runServerStatus,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().IntVar(&serverPort, "port", 0, "port to bind (default 9384 or config server.port)")
	serverStartCmd.Flags().StringVar(&serverHost, "host", "", "host to bind (default 0.0.0.0 or config server.bind)")
	serverStartCmd.Flags().BoolVar(&serverTailLog, "tail-log", false, "stream debug log entries to stderr as they're written (implies --debug)")
	serverStatusCmd.Flags().IntVar(&serverPort, "port", 0, "port to probe (default 9384 or config server.port)")
}

func runServerStart(c *cobra.Command, args []string) error {
	if serverTailLog {
		debugFlag = true
	}
	cleanup := initLogging()
	defer cleanup()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	port := cfg.Server.Port
	if serverPort != 0 {
		port = serverPort
	}
	host := cfg.Server.Bind
	if serverHost != "" {
		host = serverHost
	}

	srv, err := hub.NewServer(version, host, port, resolveTracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("starting hub server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if serverTailLog {
		startLogTail(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nreceived %s, shutting down hub...\n", sig)
		cancel()
	}()

	localIP := discovery.GetLocalIP()
	fmt.Printf("jigai hub listening on %s\n", srv.Addr())
	fmt.Printf("  local:     http://localhost:%d\n", port)
	fmt.Printf("  network:   http://%s:%d\n", localIP, port)
	fmt.Printf("  websocket: ws://%s:%d/ws\n", localIP, port)

	if err := srv.Run(ctx); err != nil {
		log.Error(log.CatHub, "hub server stopped with error", "error", err)
		return fmt.Errorf("running hub server: %w", err)
	}
	fmt.Println("hub stopped")
	return nil
}

func runServerStatus(c *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	port := cfg.Server.Port
	if serverPort != 0 {
		port = serverPort
	}

	httpClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := httpClient.Get(fmt.Sprintf("http://localhost:%d/api/health", port))
	if err != nil {
		fmt.Printf("jigai hub is NOT reachable on port %d\n", port)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("jigai hub is reachable on port %d\n", port)
	} else {
		fmt.Printf("jigai hub responded with unexpected status %d on port %d\n", resp.StatusCode, port)
	}
	return nil
}
