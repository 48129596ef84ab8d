package cmd

import (
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/qdash-dev/copilot/internal/server"
	"github.com/spf13/cobra"
)

var (
	servePort     string
	serveUpstream string

	mockPort        string
	mockStep        time.Duration
	mockRequireAuth bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "🔀 Run the copilot relay server",
	Long: `# 🔀 Copilot Relay

**Streams copilot answers from the internal API to browsers and terminals.**

Routes:
- **POST /api/copilot/analyze/stream** → **/copilot/analyze/stream**
- **POST /api/copilot/chat/stream** → **/copilot/chat/stream**
- **GET /health**

Answers are flushed chunk by chunk. Upstream errors keep their status code and body.

## 💡 Examples

` + "```bash\ncopilot serve --port 2005 --upstream http://localhost:2004\n```",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != "" {
			cfg.Port = servePort
		}
		if serveUpstream != "" {
			cfg.InternalAPIURL = serveUpstream
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.NewRelay(server.Options{
			Upstream:     cfg.InternalAPIURL,
			AllowOrigins: cfg.AllowOrigins,
		})
		return srv.Run(ctx, net.JoinHostPort("", cfg.Port))
	},
}

var mockUpstreamCmd = &cobra.Command{
	Use:   "mock-upstream",
	Short: "🧪 Run a fake copilot API for local testing",
	Long: `# 🧪 Mock Upstream

**Emits status, result and error frames like the real copilot API.**

Start a message with **/error** to get an error frame, or with **/fail** to get an HTTP 500.

## 💡 Examples

` + "```bash\ncopilot mock-upstream --port 2004 --step 400ms\ncopilot serve --upstream http://localhost:2004\n```",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.NewMockUpstream(server.MockOptions{
			Step:        mockStep,
			RequireAuth: mockRequireAuth,
		})
		return srv.Run(ctx, net.JoinHostPort("", mockPort))
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "port to listen on (default $COPILOT_PORT or 2005)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "internal API base URL (default $INTERNAL_API_URL)")

	mockUpstreamCmd.Flags().StringVarP(&mockPort, "port", "p", "2004", "port to listen on")
	mockUpstreamCmd.Flags().DurationVar(&mockStep, "step", 300*time.Millisecond, "pause between frames")
	mockUpstreamCmd.Flags().BoolVar(&mockRequireAuth, "require-auth", false, "answer 401 when Authorization is missing")

	rootCmd.AddCommand(serveCmd, mockUpstreamCmd)
}
