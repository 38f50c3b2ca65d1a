package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spindle-dl/spindle/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the auth token used by the spindle API",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(ensureAuthToken())
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

// ensureAuthToken reads the persisted API token, minting one on first
// use. The file is owner-only since the token grants queue control.
func ensureAuthToken() string {
	path := config.GetTokenPath()
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}

	token := uuid.NewString()
	if err := config.EnsureDirs(); err == nil {
		_ = os.WriteFile(path, []byte(token+"\n"), 0o600)
	}
	return token
}
