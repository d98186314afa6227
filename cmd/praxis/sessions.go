package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/praxis/internal/sessions"
	"github.com/haasonsaas/praxis/pkg/models"
)

// buildSessionsCmd creates the "sessions" command group for transcript
// management.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsDeleteCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		cwd        string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openManagedStore(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context(), sessions.ListOptions{Cwd: cwd, Limit: limit})
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMODEL\tMSGS\tUPDATED")
			for _, sess := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					sess.ID, truncateLine(sess.Title, 40), sess.Model, sess.Messages,
					sess.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max number of sessions to list")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Only sessions started in this directory")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openManagedStore(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			sess, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}
			transcript, err := store.Transcript(cmd.Context(), sess.ID)
			if err != nil {
				return fmt.Errorf("load transcript: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%s · %s · %s · %d messages",
				sess.ID, sess.Title, sess.Model, len(transcript))))

			p := &printer{out: out}
			for _, msg := range transcript {
				if user, ok := msg.(*models.UserMessage); ok && !user.IsToolResult() {
					for _, block := range user.Content {
						if block.Type == models.BlockText {
							fmt.Fprintln(out, promptStyle.Render("> ")+strings.TrimSpace(block.Text))
						}
					}
					continue
				}
				p.Message(msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildSessionsDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openManagedStore(configPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// openManagedStore opens the configured session store for management
// commands. Unlike the chat path there is no in-memory fallback; commands
// against a store that cannot open should fail loudly.
func openManagedStore(configPath string) (sessions.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := sessions.OpenSQLite(sessions.SQLiteConfig{Path: cfg.Sessions.Path})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return store, nil
}
