package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/authflow"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/config"
)

// LoginCmd delegates to the out-of-scope authflow.Harvester collaborator.
func LoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Obtain and persist a bearer token",
		Long: `Obtain a bearer token from the upstream chat backend and persist it to
the config file. Interactive browser-driven login is not implemented in this
build; use 'glmproxy config --set-token <token>' to persist a token obtained
out-of-band instead.`,
		Run: func(cmd *cobra.Command, args []string) {
			var harvester authflow.Harvester = authflow.NullHarvester{}
			token, err := harvester.Harvest()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				fmt.Fprintln(os.Stderr, "Use 'glmproxy config --set-token <token>' instead.")
				os.Exit(1)
			}
			if err := config.SaveToken(token); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving token: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Login successful.")
		},
	}
}
