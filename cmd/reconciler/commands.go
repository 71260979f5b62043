package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/example/schema-reconciler/internal/migration"
)

type verifyCommand struct{ *baseCommand }

func (c *verifyCommand) Synopsis() string {
	return "Check that every recorded migration is still declared"
}

func (c *verifyCommand) Help() string {
	return strings.TrimSpace(`
Usage: reconciler verify [options]

  Ensures the bookkeeping table exists and compares the recorded migrations
  with the migration files. Exits 2 when the database has migrations that
  are no longer declared. Pending migrations are not an error.
` + commonHelp)
}

func (c *verifyCommand) Run(args []string) int {
	s, err := c.open("verify", args)
	if err != nil {
		return c.fail(err)
	}
	defer s.close()

	if err := s.reconciler.Reconcile(s.context(c.ctx), s.conn, s.registry); err != nil {
		return c.fail(err)
	}
	c.ui.Output("Migration history is consistent.")
	return exitOK
}

type statusCommand struct{ *baseCommand }

func (c *statusCommand) Synopsis() string {
	return "Show applied, pending and unexpected migrations"
}

func (c *statusCommand) Help() string {
	return strings.TrimSpace(`
Usage: reconciler status [options]

  Lists every declared and recorded migration in version order. Drift is
  reported but does not change the exit code.
` + commonHelp)
}

func (c *statusCommand) Run(args []string) int {
	s, err := c.open("status", args)
	if err != nil {
		return c.fail(err)
	}
	defer s.close()

	status, err := s.reconciler.Status(s.context(c.ctx), s.conn, s.registry)
	if err != nil {
		return c.fail(err)
	}

	printStatus(c.baseCommand, status)
	return exitOK
}

func printStatus(b *baseCommand, status *migration.Status) {
	tw := tabwriter.NewWriter(b.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tNAME\tAPPLIED AT\tCHECKSUM")
	for _, st := range status.States {
		name, appliedAt, checksum := "", "", ""
		if st.Declared != nil {
			name = st.Declared.Name
			checksum = st.Declared.Checksum
		}
		if st.Executed != nil {
			if name == "" {
				name = st.Executed.Migration.Name
			}
			if checksum == "" {
				checksum = st.Executed.Migration.Checksum
			}
			if !st.Executed.AppliedAt.IsZero() {
				appliedAt = st.Executed.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Version, stateLabel(st), name, appliedAt, shortChecksum(checksum))
	}
	tw.Flush()

	current := "none"
	if !status.Current.IsZero() {
		current = status.Current.String()
	}
	b.ui.Output(fmt.Sprintf("\nCurrent version: %s, applied: %d, pending: %d, unexpected: %d",
		current, len(status.Applied), len(status.Pending), len(status.Unexpected)))
	if len(status.Unexpected) > 0 {
		b.ui.Warn("The database records migrations that are no longer declared.")
	}
	for _, st := range status.Modified {
		b.ui.Warn(fmt.Sprintf("%s changed after it was applied (recorded checksum %s).",
			st.Declared, shortChecksum(st.Executed.Migration.Checksum)))
	}
}

// shortChecksum abbreviates a hex digest for display.
func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func stateLabel(st migration.State) string {
	switch {
	case st.Unexpected():
		return color.RedString("unexpected")
	case st.Pending():
		return color.YellowString("pending")
	case st.Modified():
		return color.MagentaString("modified")
	case st.Renamed():
		return color.CyanString("renamed")
	}
	return color.GreenString("applied")
}

type applyCommand struct{ *baseCommand }

func (c *applyCommand) Synopsis() string {
	return "Apply pending migrations"
}

func (c *applyCommand) Help() string {
	return strings.TrimSpace(`
Usage: reconciler apply [options]

  Verifies the migration history and runs every pending migration in
  version order, each in its own transaction. Stops at the first failure.
` + commonHelp)
}

func (c *applyCommand) Run(args []string) int {
	s, err := c.open("apply", args)
	if err != nil {
		return c.fail(err)
	}
	defer s.close()

	result, err := s.reconciler.Apply(s.context(c.ctx), s.conn, s.registry)
	if result != nil {
		for _, m := range result.Applied {
			c.ui.Output(fmt.Sprintf("%s %s", color.GreenString("applied"), m))
		}
		for _, m := range result.OutOfOrder {
			c.ui.Warn(fmt.Sprintf("%s was applied below the highest recorded version", m))
		}
	}
	if err != nil {
		if migration.TransactionCommitted(err) {
			c.ui.Warn("The failed migration was partially committed; inspect the database before retrying.")
		}
		return c.fail(err)
	}
	if len(result.Applied) == 0 {
		c.ui.Output("No pending migrations.")
	}
	return exitOK
}
