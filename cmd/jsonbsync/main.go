// Command jsonbsync maintains the derived JSONB columns of a SQLite
// knowledge base.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/jsonbsync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	code := cli.GetExitCode(err)
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Usage and flag errors are not reported by the commands.
		os.Stderr.WriteString("jsonbsync: " + err.Error() + "\n")
		code = cli.ExitCommandError
	}
	os.Exit(code)
}
