// Command reconciler verifies, reports and applies schema migrations declared
// as SQL files against a bookkeeping table.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/cli"
)

const appName = "reconciler"

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitDrift = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ui := &cli.ColoredUi{
		ErrorColor: cli.UiColorRed,
		WarnColor:  cli.UiColorYellow,
		Ui: &cli.BasicUi{
			Reader:      bufio.NewReader(stdin),
			Writer:      stdout,
			ErrorWriter: stderr,
		},
	}
	base := &baseCommand{ctx: ctx, ui: ui, out: stdout, logOut: stderr}

	c := &cli.CLI{
		Name: appName,
		Args: args,
		Commands: map[string]cli.CommandFactory{
			"verify": func() (cli.Command, error) { return &verifyCommand{baseCommand: base}, nil },
			"status": func() (cli.Command, error) { return &statusCommand{baseCommand: base}, nil },
			"apply":  func() (cli.Command, error) { return &applyCommand{baseCommand: base}, nil },
		},
		HelpFunc:   cli.BasicHelpFunc(appName),
		HelpWriter: stderr,
	}

	code, err := c.Run()
	if err != nil {
		fmt.Fprintf(stderr, "Error executing CLI: %s\n", err)
		return exitError
	}
	return code
}
