// Package main starts the users registry service and handles termination.
//
// The process is a transport adapter around the role registry: HTTP and
// websocket surfaces over a journaled, single-writer state machine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	userscmd "github.com/louisbranch/overlay/internal/cmd/users"
)

func main() {
	cfg, err := userscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[USERS] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := userscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
