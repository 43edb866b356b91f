package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// WhoamiCmd prints the upstream account's resolved user settings.
func WhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the upstream account's settings",
		Run: func(cmd *cobra.Command, args []string) {
			_, client := mustClient()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			settings, err := client.GetUserSettings(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Default model: %s\n", settings.DefaultModel)
			for k, v := range settings.Raw {
				fmt.Printf("  %s: %v\n", k, v)
			}
		},
	}
}
