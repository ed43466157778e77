package main

import (
	"fmt"
	"os"

	"github.com/me/batchgate/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "batchgate:", err)
		os.Exit(1)
	}
}
