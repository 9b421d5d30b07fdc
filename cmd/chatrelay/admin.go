package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/chatrelay/internal/config"
	"github.com/thebtf/chatrelay/internal/ledger"
	"github.com/thebtf/chatrelay/internal/worker/postproc"
	"github.com/thebtf/chatrelay/pkg/models"
)

// ledgerRunE opens the ledger, runs fn and closes the store.
func ledgerRunE(fn func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		l, closeStore, err := openLedger(cfg)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = closeStore() }()
		return fn(cmd.Context(), l, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or delete recorded sessions",
	}

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session record",
		Args:  cobra.ExactArgs(1),
		RunE: ledgerRunE(func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error {
			return showSession(ctx, l, out, args[0])
		}),
	}

	var types string
	events := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Print a session's event log",
		Args:  cobra.ExactArgs(1),
		RunE: ledgerRunE(func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error {
			return printJSON(out, l.GetEvents(ctx, args[0], parseEventTypes(types)...))
		}),
	}
	events.Flags().StringVar(&types, "type", "", "Comma-separated event types to include")

	insights := &cobra.Command{
		Use:   "insights <session-id>",
		Short: "Print the timeline and engagement report of a session",
		Args:  cobra.ExactArgs(1),
		RunE: ledgerRunE(func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error {
			report := postproc.GenerateInsights(ctx, l, args[0])
			if report.Error != "" {
				return fmt.Errorf("%s: %s", args[0], report.Error)
			}
			return printJSON(out, report)
		}),
	}

	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its events",
		Args:  cobra.ExactArgs(1),
		RunE: ledgerRunE(func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error {
			if !l.DeleteSession(ctx, args[0]) {
				return fmt.Errorf("failed to delete session %s", args[0])
			}
			_, err := fmt.Fprintf(out, "deleted %s\n", args[0])
			return err
		}),
	}

	cmd.AddCommand(show, events, insights, del)
	return cmd
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Report on a user's sessions",
	}

	var sessionsLimit int
	sessions := &cobra.Command{
		Use:   "sessions <user-id>",
		Short: "List the user's most recent sessions",
		Args:  cobra.ExactArgs(1),
		RunE: ledgerRunE(func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error {
			return printJSON(out, l.GetRecentSessions(ctx, args[0], sessionsLimit))
		}),
	}
	sessions.Flags().IntVar(&sessionsLimit, "limit", config.DefaultRecentSessionsLimit, "Maximum number of sessions")

	var patternsLimit int
	patterns := &cobra.Command{
		Use:   "patterns <user-id>",
		Short: "Aggregate the user's recent sessions",
		Args:  cobra.ExactArgs(1),
		RunE: ledgerRunE(func(ctx context.Context, l *ledger.Ledger, out io.Writer, args []string) error {
			return printJSON(out, postproc.AnalyzePatterns(ctx, l, args[0], patternsLimit))
		}),
	}
	patterns.Flags().IntVar(&patternsLimit, "limit", config.DefaultPatternSessionsLimit, "Number of recent sessions to analyze")

	cmd.AddCommand(sessions, patterns)
	return cmd
}

func showSession(ctx context.Context, l *ledger.Ledger, out io.Writer, sessionID string) error {
	session, err := l.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return printJSON(out, session)
}

func parseEventTypes(s string) []models.EventType {
	var types []models.EventType
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, models.EventType(t))
		}
	}
	return types
}
