package cmd

import (
	"fmt"

	"github.com/qdash-dev/copilot/internal/credentials"
	"github.com/spf13/cobra"
)

var (
	loginToken    string
	loginUsername string
	loginProject  string
	logoutAll     bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "🔑 Store the credentials sent with copilot requests",
	Long: `# 🔑 Login

**Saves the dashboard credentials to ~/.copilot/credentials.yaml.**

- **--token** is sent as **Authorization: Bearer**
- **--username** is the legacy token, also sent as **X-Username**
- **--project** is sent as **X-Project-Id**

Pass an empty value to remove an entry.

## 💡 Examples

` + "```bash\ncopilot login --token eyJhbGciOi... --project proj-42\n```",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.EnsureHome(); err != nil {
			return err
		}
		store, err := credentials.Load(cfg.CredentialsPath())
		if err != nil {
			return err
		}

		if logoutAll {
			store.Clear()
		}
		flags := cmd.Flags()
		if flags.Changed("token") {
			store.SetCookie(credentials.CookieAccessToken, loginToken)
		}
		if flags.Changed("username") {
			store.SetCookie(credentials.CookieToken, loginUsername)
		}
		if flags.Changed("project") {
			store.SetLocalItem(credentials.ProjectStorageKey, loginProject)
		}

		if err := store.Save(); err != nil {
			return err
		}

		headers, err := credentials.BuildHeaders(store)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✅ saved %s\n", cfg.CredentialsPath())
		for _, name := range []string{credentials.HeaderAuthorization, credentials.HeaderUsername, credentials.HeaderProjectID} {
			value := headers.Get(name)
			switch {
			case value == "":
				value = "(not set)"
			case name == credentials.HeaderAuthorization:
				value = "Bearer ****"
			}
			fmt.Fprintf(out, "  %-14s %s\n", name+":", value)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "access token")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "legacy username token")
	loginCmd.Flags().StringVar(&loginProject, "project", "", "current project id")
	loginCmd.Flags().BoolVar(&logoutAll, "clear", false, "remove all stored credentials first")

	rootCmd.AddCommand(loginCmd)
}
