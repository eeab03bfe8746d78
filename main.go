// otad - dual-bank OTA firmware update endpoint and client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"otad/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "otad: %v\n", err)
		os.Exit(1)
	}
}
