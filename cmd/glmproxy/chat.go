package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/streamparser"
)

// ChatCmd sends a single message to an upstream chat and prints the reply.
func ChatCmd() *cobra.Command {
	var chatID string
	var thinking bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to the upstream chat backend",
		Long: `Send a message directly to the upstream chat backend, bypassing the
planner/guard pipeline, and print the streamed reply. Useful for manual
operation and debugging the upstream connection.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				fmt.Fprintln(os.Stderr, "Usage: glmproxy chat <message>")
				os.Exit(1)
			}
			cfg, client := mustClient()
			message := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			err := client.SendMessage(ctx, upstream.SendMessageInput{
				ChatID:         chatID,
				Messages:       []upstream.Message{{Role: "user", Content: message}},
				Model:          cfg.DefaultModel,
				Stream:         true,
				EnableThinking: thinking,
			}, func(chunk streamparser.Chunk) {
				switch chunk.Kind {
				case streamparser.KindContent:
					fmt.Print(chunk.Text)
				case streamparser.KindThinking:
					if verbose {
						fmt.Printf("\033[90m%s\033[0m", chunk.Text)
					}
				case streamparser.KindError:
					fmt.Fprintf(os.Stderr, "\n\033[31mError: %s\033[0m\n", chunk.Reason)
				}
			})
			fmt.Println()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "existing chat id to continue (default: start a new chat)")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "request reasoning/thinking output")
	return cmd
}
