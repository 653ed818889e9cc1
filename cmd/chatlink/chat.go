package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opsdesk/chatlink"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// send
	sendRESTOnly bool
	sendWait     time.Duration

	// history
	historyLimit  int
	historyOffset int
	historyJSON   bool

	// threads
	threadsUnread bool
	threadsJSON   bool
)

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send [thread] <message>",
	Short: "Send a message, live when possible",
	Long:  "Send a message to a thread. The live connection is used when it opens in time; otherwise the message goes over REST.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getSession()
		if err != nil {
			return err
		}
		defer s.log.Sync() //nolint:errcheck

		body := args[len(args)-1]
		thread, err := s.thread(args[:len(args)-1])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var live chatlink.Sender
		if !sendRESTOnly {
			rc := s.client.Realtime(thread, nil, s.realtimeConfig())
			defer rc.Close()
			waitReady(ctx, rc, sendWait)
			live = rc
		}

		route, err := s.client.Deliver(ctx, live, thread, body)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent to %s via %s\n", bold(thread), green(string(route)))
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read [thread]",
	Short: "Mark a thread as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getSession()
		if err != nil {
			return err
		}
		defer s.log.Sync() //nolint:errcheck

		thread, err := s.thread(args)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.client.Threads.MarkRead(ctx, thread); err != nil {
			return fmt.Errorf("mark read failed: %w", err)
		}
		fmt.Printf("Marked %s as read\n", thread)
		return nil
	},
}

// ============================================================================
// history
// ============================================================================

var historyCmd = &cobra.Command{
	Use:   "history [thread]",
	Short: "Show recent messages in a thread",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getSession()
		if err != nil {
			return err
		}
		defer s.log.Sync() //nolint:errcheck

		thread, err := s.thread(args)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := s.client.Messages.History(ctx, thread, &chatlink.PaginationOptions{
			Limit:  historyLimit,
			Offset: historyOffset,
		})
		if err != nil {
			return fmt.Errorf("history failed: %w", err)
		}

		if historyJSON {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %-8s %s\n", formatTime(m.CreatedAt), valueOrDefault(m.Direction, "-"), m.Body)
		}
		return nil
	},
}

// ============================================================================
// threads
// ============================================================================

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List chat threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getSession()
		if err != nil {
			return err
		}
		defer s.log.Sync() //nolint:errcheck

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		threads, err := s.client.Threads.List(ctx, threadsUnread)
		if err != nil {
			return fmt.Errorf("list threads failed: %w", err)
		}

		if threadsJSON {
			return printJSON(threads)
		}
		if len(threads) == 0 {
			fmt.Println("No threads.")
			return nil
		}
		for _, t := range threads {
			preview := ""
			if t.LastMessage != nil {
				preview = truncate(t.LastMessage.Body, 50)
			}
			fmt.Printf("%-12s %-24s unread:%-4d %s\n", t.ID, truncate(valueOrDefault(t.Title, "(untitled)"), 24), t.UnreadCount, preview)
		}
		return nil
	},
}

// ============================================================================
// Helpers
// ============================================================================

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	sendCmd.Flags().BoolVar(&sendRESTOnly, "rest", false, "Skip the live connection and send over REST")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 3*time.Second, "How long to wait for the live connection")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of messages to return")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Number of messages to skip")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")

	threadsCmd.Flags().BoolVar(&threadsUnread, "unread", false, "Show only threads with unread messages")
	threadsCmd.Flags().BoolVar(&threadsJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(sendCmd, readCmd, historyCmd, threadsCmd)
}
