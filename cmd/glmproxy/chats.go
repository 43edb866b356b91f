package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// ChatsCmd lists the caller's chats.
func ChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats on the upstream account",
		Run: func(cmd *cobra.Command, args []string) {
			_, client := mustClient()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			chats, err := client.ListChats(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(chats) == 0 {
				fmt.Println("No chats.")
				return
			}
			for _, c := range chats {
				fmt.Printf("%s\t%s\t%s\n", c.ID, c.Title, time.Unix(c.UpdatedAt, 0).Format("2006-01-02 15:04"))
			}
		},
	}
}

// NewChatCmd creates a new chat.
func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a new chat",
		Run: func(cmd *cobra.Command, args []string) {
			title := "New chat"
			if len(args) > 0 {
				title = args[0]
			}
			_, client := mustClient()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			chat, err := client.CreateChat(ctx, title)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Created chat %s (%s)\n", chat.ID, chat.Title)
		},
	}
}
