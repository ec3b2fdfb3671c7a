package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/winequality/cmd/winequality/cmd"
	"github.com/YuminosukeSato/winequality/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx, cmd.NewRootCommand(), os.Args[1:])
	stop()
	if err != nil {
		log.GetLogger().Error("winequality failed", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
