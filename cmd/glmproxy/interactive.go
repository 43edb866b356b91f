package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/streamparser"
)

// InteractiveCmd runs a REPL against the upstream chat backend directly,
// bypassing the planner/guard pipeline.
func InteractiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Interactive REPL against the upstream chat backend",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, client := mustClient()
			runInteractive(cfg.DefaultModel, client)
		},
	}
}

func runInteractive(model string, client *upstream.Client) {
	fmt.Println("glmproxy interactive mode")
	fmt.Println("Type your message and press Enter. Use /new to start a fresh chat, Ctrl+C to exit.")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted")
		cancel()
	}()

	reader := bufio.NewReader(os.Stdin)
	var chatID string

	for {
		fmt.Print("\033[36m> \033[0m")

		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/new" {
			chatID = ""
			fmt.Println("Started a new chat.")
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		fmt.Print("\033[32m")
		err = client.SendMessage(ctx, upstream.SendMessageInput{
			ChatID:   chatID,
			Messages: []upstream.Message{{Role: "user", Content: line}},
			Model:    model,
			Stream:   true,
		}, func(chunk streamparser.Chunk) {
			switch chunk.Kind {
			case streamparser.KindContent:
				fmt.Print(chunk.Text)
			case streamparser.KindError:
				fmt.Fprintf(os.Stderr, "\n\033[31mError: %s\033[0m\n", chunk.Reason)
			}
		})
		fmt.Print("\033[0m\n\n")
		if err != nil {
			fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
}
