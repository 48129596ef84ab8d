package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/qdash-dev/copilot/internal/copilot"
	"github.com/qdash-dev/copilot/internal/credentials"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/qdash-dev/copilot/internal/render"
	"github.com/qdash-dev/copilot/internal/session"
	"github.com/qdash-dev/copilot/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	modeFlag    string
	chipFlag    string
	qidFlag     string
	contextFlag []string

	askNewSession bool
	askSession    string
	askRaw        bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "💬 Open the interactive copilot chat",
	Long: `# 💬 Copilot Chat

**Full screen chat with streaming answers and multiple sessions.**

## ⌨️  Keys

- **enter** send, **esc** cancel the running request
- **ctrl+n** new session, **tab** next session
- **ctrl+l** clear session, **ctrl+d** delete session
- **ctrl+c** quit

Logs go to **$COPILOT_LOG_FILE** (default ~/.copilot/copilot.log) while the UI is open.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := clientOptions()
		if err != nil {
			return err
		}

		closer, err := logger.ConfigureFile(cfg.LogPath(), logger.GetLogLevelFromEnv(cfg.Dev))
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()
		return tui.Run(ctx, opts, render.StyleAuto, cfg.SessionsPath())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "❓ Ask one question and print the answer",
	Long: `# ❓ Ask

**Send one message in the active session and stream the answer to stdout.**

Progress goes to stderr. The answer is rendered as markdown when stdout is a terminal.

## 💡 Examples

` + "```bash\ncopilot ask --qid 12 \"Why did the T2 echo fit fail?\"\ncopilot ask --new --mode chat \"Summarize today's runs\" > summary.md\n```",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := clientOptions()
		if err != nil {
			return err
		}

		store := opts.Sessions
		switch {
		case askNewSession:
			store.CreateNewSession(opts.DefaultContext)
		case askSession != "":
			id, err := store.Resolve(askSession)
			if err != nil {
				return fmt.Errorf("session %q: %w", askSession, err)
			}
			store.SwitchSession(id)
		}

		stderr := cmd.ErrOrStderr()
		opts.Notify = func(u copilot.Update) {
			if u.Kind != copilot.UpdateStatus || u.Snapshot.Status == "" {
				return
			}
			line := "… " + u.Snapshot.Status
			if len(u.Snapshot.CompletedTools) > 0 {
				line += " [✓ " + strings.Join(u.Snapshot.CompletedTools, ", ") + "]"
			}
			fmt.Fprintln(stderr, line)
		}
		ctrl := copilot.NewController(opts)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sendErr := ctrl.SendMessage(ctx, strings.Join(args, " "))
		if ctx.Err() != nil {
			return errors.New("interrupted")
		}

		sess := store.ActiveSession()
		if sess != nil && len(sess.Messages) > 0 {
			last := sess.Messages[len(sess.Messages)-1]
			if last.Role == session.RoleAssistant && sendErr == nil {
				fmt.Fprintln(cmd.OutOrStdout(), formatAnswer(last.Content))
			}
		}
		return sendErr
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "🧰 List the analysis tools the copilot reports progress for",
	RunE: func(cmd *cobra.Command, args []string) error {
		tools := copilot.DefaultTools()
		for _, id := range tools.IDs() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", id, tools.Label(id))
		}
		return nil
	},
}

func formatAnswer(content string) string {
	if askRaw {
		return content
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return render.Markdown(content)
	}
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w - 2
	}
	return render.NewRenderer(width, render.StyleAuto).Content(content)
}

// clientOptions loads credentials and sessions from the home directory.
func clientOptions() (copilot.Options, error) {
	mode, err := copilot.ParseMode(modeFlag)
	if err != nil {
		return copilot.Options{}, err
	}
	if err := cfg.EnsureHome(); err != nil {
		return copilot.Options{}, fmt.Errorf("failed to create %s: %w", cfg.HomeDir, err)
	}

	creds, err := credentials.Load(cfg.CredentialsPath())
	if err != nil {
		return copilot.Options{}, err
	}
	if _, ok := creds.Cookie(credentials.CookieAccessToken); !ok {
		if _, ok := creds.Cookie(credentials.CookieToken); !ok {
			logger.Warnf("no stored credentials, run 'copilot login' first")
		}
	}

	sessions, err := openSessions()
	if err != nil {
		return copilot.Options{}, err
	}

	initial, err := initialContext()
	if err != nil {
		return copilot.Options{}, err
	}

	return copilot.Options{
		RelayURL:       cfg.RelayURL,
		Mode:           mode,
		Sessions:       sessions,
		Credentials:    creds,
		Tools:          copilot.DefaultTools(),
		DefaultContext: initial,
	}, nil
}

func openSessions() (*session.Store, error) {
	if err := cfg.EnsureHome(); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", cfg.HomeDir, err)
	}
	return session.Open(cfg.SessionsPath())
}

// initialContext is the analysis context new sessions start with.
func initialContext() (map[string]any, error) {
	ctx := make(map[string]any)
	if chipFlag != "" {
		ctx["chip_id"] = chipFlag
	}
	if qidFlag != "" {
		ctx["qid"] = qidFlag
	}
	for _, kv := range contextFlag {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --context %q, want key=value", kv)
		}
		ctx[key] = value
	}
	if len(ctx) == 0 {
		return nil, nil
	}
	return ctx, nil
}

func addClientFlags(c *cobra.Command) {
	c.Flags().StringVarP(&modeFlag, "mode", "m", "analyze", "endpoint to use: analyze or chat")
	c.Flags().StringVar(&chipFlag, "chip", "", "chip id for new sessions")
	c.Flags().StringVar(&qidFlag, "qid", "", "qubit id for new sessions")
	c.Flags().StringArrayVar(&contextFlag, "context", nil, "extra key=value context for new sessions")
}

func init() {
	addClientFlags(chatCmd)
	addClientFlags(askCmd)
	askCmd.Flags().BoolVar(&askNewSession, "new", false, "start a new session")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id or prefix to use")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print the stored answer as is")

	rootCmd.AddCommand(chatCmd, askCmd, toolsCmd)
}
