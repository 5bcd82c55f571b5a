// wabotctl - command-line client for the bot automation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wabotctl/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		var reported *cmd.ReportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "wabotctl: %v\n", err)
		}
		cancel()
		os.Exit(1)
	}
}
