// Package main starts the checkpoint pairing service and handles termination.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	pairingcmd "github.com/louisbranch/checkpointsync/internal/cmd/pairing"
	"github.com/louisbranch/checkpointsync/internal/platform/config"
)

func main() {
	cfg, err := pairingcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pairingcmd.Run(ctx, cfg); err != nil {
		stop()
		config.Exitf("failed to serve: %v", err)
	}
}
