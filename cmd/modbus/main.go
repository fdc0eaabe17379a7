package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldbus/modbus-cli/internal/cli"
)

func main() {
	var code int

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code = cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}
