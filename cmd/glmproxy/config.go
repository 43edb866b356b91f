package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/config"
)

// ConfigCmd prints or edits the resolved configuration.
func ConfigCmd() *cobra.Command {
	var setToken string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or edit the resolved configuration",
		Long:  `Print the fully resolved glmproxy configuration, or persist a new bearer token with --set-token.`,
		Run: func(cmd *cobra.Command, args []string) {
			if setToken != "" {
				if err := config.SaveToken(setToken); err != nil {
					fmt.Fprintf(os.Stderr, "Error saving token: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("Token saved to %s\n", config.TokenFilePath())
				return
			}
			runPrintConfig()
		},
	}

	cmd.Flags().StringVar(&setToken, "set-token", "", "persist a bearer token to the config file")
	return cmd
}

func runPrintConfig() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.GLMToken != "" {
		cfg.GLMToken = "***redacted***"
	}
	raw, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println(string(raw))
	fmt.Printf("\nConfig file: %s\n", config.TokenFilePath())
}
