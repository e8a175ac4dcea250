package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sensiblebit/pfxkit/internal"
)

var version = "dev"

func main() {
	rootCmd.Version = version
	internal.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
