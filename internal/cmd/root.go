package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/qdash-dev/copilot/internal/config"
	"github.com/qdash-dev/copilot/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	relayFlag string
	homeFlag  string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "🔬 QDash Copilot - calibration analysis chat",
	Long: `# 🔬 QDash Copilot

**Ask questions about chips, qubits and calibration runs from your terminal.**

## ✨ Features

- 💬 **Interactive chat** with multiple named sessions
- ⚡ **Streaming answers** with live tool progress
- 🔀 **Relay server** that streams copilot answers without buffering
- 🧪 **Mock upstream** for running everything locally

## 🚀 Getting Started

1. Run **copilot login --token <jwt>** once
2. Run **copilot chat** to open the chat UI

Use **copilot <command> --help** for detailed options.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if relayFlag != "" {
			cfg.RelayURL = strings.TrimRight(relayFlag, "/")
		}
		if homeFlag != "" {
			cfg.HomeDir = homeFlag
		}

		level := logger.GetLogLevelFromEnv(cfg.Dev)
		if debugFlag {
			level = logger.LevelDebug
		}
		logger.Configure(logger.Options{Level: level, Dev: cfg.Dev})
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&relayFlag, "relay", "", "relay base URL (default $COPILOT_RELAY_URL)")
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "directory for credentials and sessions (default $COPILOT_HOME)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderMarkdownHelp(cmd)
	})
}

// renderMarkdownHelp renders command help as markdown through glamour.
func renderMarkdownHelp(cmd *cobra.Command) {
	var help strings.Builder

	switch {
	case cmd.Long != "":
		help.WriteString(cmd.Long + "\n\n")
	case cmd.Short != "":
		help.WriteString("# " + cmd.Short + "\n\n")
	}

	help.WriteString("## 📖 Usage\n\n```bash\n" + cmd.UseLine() + "\n```\n\n")

	if cmd.HasAvailableSubCommands() {
		help.WriteString("## 🔧 Commands\n\n")
		for _, sub := range cmd.Commands() {
			if sub.IsAvailableCommand() {
				fmt.Fprintf(&help, "- **%s** - %s\n", sub.Name(), sub.Short)
			}
		}
		help.WriteString("\n")
	}

	if usages := cmd.LocalFlags().FlagUsages(); usages != "" {
		help.WriteString("## ⚙️  Flags\n\n```\n" + usages + "```\n\n")
	}
	if cmd.HasParent() {
		if usages := cmd.InheritedFlags().FlagUsages(); usages != "" {
			help.WriteString("## 🌐 Global Flags\n\n```\n" + usages + "```\n\n")
		}
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		_ = cmd.Usage()
		return
	}
	rendered, err := renderer.Render(help.String())
	if err != nil {
		_ = cmd.Usage()
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
}
