// Package main starts one IM relay node and handles termination.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	imcmd "github.com/louisbranch/imrelay/internal/cmd/im"
	"github.com/louisbranch/imrelay/internal/platform/config"
)

func main() {
	cfg, err := imcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := imcmd.Run(ctx, cfg); err != nil {
		config.Exitf("failed to serve: %v", err)
	}
}
