package main

import (
	"context"
	"fmt"
	"time"

	"github.com/opsdesk/chatlink"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connectivity",
	Long:  "Display the effective configuration, check the REST API, and try to open a live connection.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, chatlink.DefaultBaseURL+" (default)"))
		if cfg.Default.Token != "" {
			fmt.Printf("  Token:    %s\n", maskKey(cfg.Default.Token))
		} else {
			fmt.Println("  Token:    (not set)")
		}
		fmt.Printf("  Thread:   %s\n", valueOrDefault(cfg.Default.Thread, "(not set)"))

		if cfg.Default.Token == "" {
			return nil
		}
		s, err := getSession()
		if err != nil {
			return err
		}
		defer s.log.Sync() //nolint:errcheck

		fmt.Println()
		fmt.Println("Connectivity:")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		threads, err := s.client.Threads.List(ctx, true)
		if err != nil {
			fmt.Printf("  REST:     %s: %v\n", red("error"), err)
		} else {
			fmt.Printf("  REST:     %s (%d unread threads)\n", green("ok"), len(threads))
		}

		if cfg.Default.Thread == "" {
			fmt.Printf("  Live:     %s\n", yellow("(no default thread to test)"))
			return nil
		}
		live := s.client.Realtime(cfg.Default.Thread, nil, s.realtimeConfig())
		defer live.Close()
		if waitReady(ctx, live, 5*time.Second) {
			fmt.Printf("  Live:     %s\n", stateLabel(true))
		} else {
			fmt.Printf("  Live:     %s (state %s, %d attempts)\n", stateLabel(false), live.State(), live.Attempts())
		}
		return nil
	},
}

// waitReady polls until the live connection is open or the wait runs out.
func waitReady(ctx context.Context, live *chatlink.RealtimeClient, wait time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if live.Ready() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}
