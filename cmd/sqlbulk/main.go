// Command sqlbulk exercises the bulk repository against a configured store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/sqlbulk/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
