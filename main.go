package main

import (
	"fmt"
	"os"

	cli "github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/cmd/glmproxy"
)

func main() {
	if err := cli.SetupRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
