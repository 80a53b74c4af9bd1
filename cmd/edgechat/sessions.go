package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"edgechat/internal/display"
	"edgechat/internal/domain"
	"edgechat/internal/session"
	"edgechat/internal/store"
	"edgechat/internal/transcript"

	"github.com/spf13/cobra"
)

// withSessions opens the store for a one-shot CLI operation.
func withSessions(fn func(ctx context.Context, sessions *session.Manager, st *store.SQLiteStore) error) error {
	cfg := loadConfigOrDefaults()

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return fn(ctx, session.NewManager(st, logger), st)
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsClearCmd())
	cmd.AddCommand(sessionsImportCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions (newest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, sessions *session.Manager, _ *store.SQLiteStore) error {
				infos, err := sessions.List(ctx, 50)
				if err != nil {
					return err
				}
				if len(infos) == 0 {
					fmt.Println("no sessions")
					return nil
				}
				for _, info := range infos {
					created := time.UnixMilli(info.CreatedAt).Format("2006-01-02 15:04")
					fmt.Printf("%s  %s  %3d msgs  %s\n", info.SessionID, created, info.MessageCount, info.Title)
				}
				return nil
			})
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	var raw bool
	var exportPath string
	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a session's conversation",
		Long:  "Prints the merged display turns of a session. With --raw the unmerged record log is printed instead; --export writes the raw log as a YAML transcript.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, sessions *session.Manager, _ *store.SQLiteStore) error {
				id := args[0]
				messages, err := sessions.History(ctx, id, 0)
				if err != nil {
					return err
				}
				if len(messages) == 0 {
					fmt.Println("session is empty or does not exist")
					return nil
				}

				if exportPath != "" {
					t := &transcript.Transcript{SessionID: id, Messages: messages}
					if err := transcript.Save(exportPath, t); err != nil {
						return err
					}
					logger.Info("transcript exported", "path", exportPath, "records", len(messages))
					return nil
				}

				if !raw {
					messages = display.MergeForDisplay(messages)
				}
				for _, m := range messages {
					printRecord(m, raw)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw record log instead of merged turns")
	cmd.Flags().StringVar(&exportPath, "export", "", "write the raw log to a YAML transcript file")
	return cmd
}

func printRecord(m domain.Message, raw bool) {
	ts := ""
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp).Format(" 15:04:05")
	}
	fmt.Printf("[%s%s]", m.Role, ts)
	if m.Thinking != "" {
		fmt.Printf(" (thinking: %s)", m.Thinking)
	}
	for _, tc := range m.ToolCalls {
		fmt.Printf(" (tool: %s)", tc.Name)
	}
	if raw && m.ToolName != "" {
		fmt.Printf(" (result of %s)", m.ToolName)
	}
	fmt.Println()
	if m.Content != "" {
		fmt.Println(m.Content)
	}
	fmt.Println()
}

func sessionsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [session-id] [file.jsonl]",
		Short: "Import raw records from a JSONL file into a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, sessions *session.Manager, st *store.SQLiteStore) error {
				id, err := sessions.GetOrCreate(ctx, args[0])
				if err != nil {
					return err
				}
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()

				n, err := st.ImportJSONL(ctx, id, f)
				if err != nil {
					return err
				}
				logger.Info("import complete", "session", id, "records", n)
				return nil
			})
		},
	}
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [session-id]",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(func(ctx context.Context, sessions *session.Manager, _ *store.SQLiteStore) error {
				if err := sessions.Clear(ctx, args[0]); err != nil {
					return err
				}
				logger.Info("session cleared", "session", args[0])
				return nil
			})
		},
	}
}
