package cli

import (
	"fmt"
	"os"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/config"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream"
)

// mustClient loads the resolved configuration and builds an upstream.Client,
// exiting the process on failure — shared by the debugging-oriented
// chats/new/chat/whoami/interactive subcommands.
func mustClient() (config.Config, *upstream.Client) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.GLMToken == "" {
		fmt.Fprintln(os.Stderr, "Error: no GLM token configured; run 'glmproxy login' or set GLM_TOKEN")
		os.Exit(1)
	}
	client := upstream.New(upstream.Config{
		BaseURL:   cfg.UpstreamBaseURL,
		Token:     cfg.GLMToken,
		FEVersion: cfg.FEVersion,
		Vendor:    cfg.UpstreamVendor,
	})
	return cfg, client
}
