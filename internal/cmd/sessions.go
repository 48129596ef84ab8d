package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/qdash-dev/copilot/internal/render"
	"github.com/qdash-dev/copilot/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"s"},
	Short:   "🗂️  Manage chat sessions",
	Long: `# 🗂️  Sessions

**List, create, switch and delete the conversations stored in ~/.copilot/sessions.json.**

Session ids may be shortened to any unique prefix.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), store)
		return nil
	},
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and make it active",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		initial, err := initialContext()
		if err != nil {
			return err
		}
		id := store.CreateNewSession(initial)
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var sessionsSwitchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Make a session active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		id, err := store.Resolve(args[0])
		if err != nil {
			return fmt.Errorf("session %q: %w", args[0], err)
		}
		store.SwitchSession(id)
		fmt.Fprintf(cmd.OutOrStdout(), "switched to %s\n", id)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		id, err := store.Resolve(args[0])
		if err != nil {
			return fmt.Errorf("session %q: %w", args[0], err)
		}
		store.DeleteSession(id)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		return nil
	},
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all messages from the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		if !store.ClearActiveSession() {
			return fmt.Errorf("no active session")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared")
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a session transcript (default: active session)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSessions()
		if err != nil {
			return err
		}
		id := store.ActiveSessionID()
		if len(args) == 1 {
			if id, err = store.Resolve(args[0]); err != nil {
				return fmt.Errorf("session %q: %w", args[0], err)
			}
		}
		sess, ok := store.Get(id)
		if !ok {
			return fmt.Errorf("no active session")
		}
		fmt.Fprint(cmd.OutOrStdout(), transcriptMarkdown(sess))
		return nil
	},
}

func printSessions(w io.Writer, store *session.Store) {
	list := store.List()
	if len(list) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	active := store.ActiveSessionID()
	for _, s := range list {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %-33s %3d msgs  %s\n",
			marker, s.ID[:min(8, len(s.ID))], s.Title, len(s.Messages), s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

// transcriptMarkdown renders a session as markdown, structured answers included.
func transcriptMarkdown(s *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title)
	for _, m := range s.Messages {
		if m.Role == session.RoleUser {
			fmt.Fprintf(&b, "**You:** %s\n\n", m.Content)
			continue
		}
		fmt.Fprintf(&b, "**Copilot:**\n\n%s\n\n", render.Markdown(m.Content))
	}
	return b.String()
}

func init() {
	sessionsNewCmd.Flags().StringVar(&chipFlag, "chip", "", "chip id for the session context")
	sessionsNewCmd.Flags().StringVar(&qidFlag, "qid", "", "qubit id for the session context")
	sessionsNewCmd.Flags().StringArrayVar(&contextFlag, "context", nil, "extra key=value context")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsNewCmd, sessionsSwitchCmd, sessionsDeleteCmd, sessionsClearCmd, sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}
