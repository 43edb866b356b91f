// Package cli wires glmproxy's cobra subcommands, grounded on the teacher's
// cmd/nebo/root.go and cmd/nebo/chat.go cobra scaffolding, narrowed to the
// serve/config/login/chats/new/chat/whoami/interactive surface this spec
// actually exposes.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/config"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/handler"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/logging"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/server"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
)

var verbose bool

// SetupRootCmd configures the root command with all subcommands and flags.
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "glmproxy",
		Short: "OpenAI-compatible HTTP shim in front of a GLM-style chat backend",
		Long: `glmproxy exposes an OpenAI-compatible /v1/chat/completions surface in
front of a browser-oriented conversational chat backend, brokering tool
calls through a local planner and guard layer.

Just type 'glmproxy serve' to start the HTTP shim.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(ConfigCmd())
	rootCmd.AddCommand(LoginCmd())
	rootCmd.AddCommand(ChatsCmd())
	rootCmd.AddCommand(NewChatCmd())
	rootCmd.AddCommand(ChatCmd())
	rootCmd.AddCommand(WhoamiCmd())
	rootCmd.AddCommand(InteractiveCmd())

	return rootCmd
}

// ServeCmd creates the "serve" command: the core of this spec.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP shim",
		Long:  `Start the glmproxy HTTP server exposing the OpenAI-compatible chat-completions API.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	if !verbose {
		logging.Disable()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.GLMToken == "" {
		fmt.Fprintln(os.Stderr, "Warning: no GLM token configured; run 'glmproxy login' or set GLM_TOKEN")
	}

	client := upstream.New(upstream.Config{
		BaseURL:   cfg.UpstreamBaseURL,
		Token:     cfg.GLMToken,
		FEVersion: cfg.FEVersion,
		Vendor:    cfg.UpstreamVendor,
	})
	h := handler.New(cfg, client)
	mux := server.New(h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("glmproxy listening on %s\n", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}
}
