// Package main runs the checkpointctl operator CLI.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/louisbranch/checkpointsync/internal/cmd/checkpointctl"
)

const version = "0.1.0"

func main() {
	root := checkpointctl.NewRootCmd()
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
