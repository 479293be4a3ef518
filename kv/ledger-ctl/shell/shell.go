// Package shell runs the commands of the ledger control shell against a transaction engine.
package shell

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/olekukonko/tablewriter"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

// Shell executes one command line at a time. Every line is parsed into a fresh cobra command tree.
type Shell struct {
	engine txn.Engine
	out    io.Writer
}

func New(engine txn.Engine, out io.Writer) *Shell {
	return &Shell{engine: engine, out: out}
}

// Exec runs line. It reports exit when the line asks to leave the shell. Blocking commands give up when ctx is done.
func (s *Shell) Exec(ctx context.Context, line string) (exit bool, err error) {
	args, err := shellwords.Parse(strings.TrimSpace(line))
	if err != nil {
		return false, errors.Trace(err)
	}
	if len(args) == 0 {
		return false, nil
	}
	if args[0] == "exit" || args[0] == "quit" {
		return true, nil
	}

	cmd := s.newCommand(ctx)
	cmd.SetArgs(args)
	return false, cmd.Execute()
}

func (s *Shell) newCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledger",
		Short:         "Ledger shell command",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOutput(s.out)

	cmd.AddCommand(
		&cobra.Command{
			Use:                   "begin",
			Short:                 "Start a transaction",
			Args:                  cobra.NoArgs,
			RunE:                  s.runBegin,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "deposit ts account amount",
			Short:                 "Add amount to an account, creating it if needed",
			Args:                  cobra.ExactArgs(3),
			RunE:                  s.withContext(ctx, s.runDeposit),
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "withdraw ts account amount",
			Short:                 "Subtract amount from an account",
			Args:                  cobra.ExactArgs(3),
			RunE:                  s.withContext(ctx, s.runWithdraw),
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "balance ts account",
			Short:                 "Read the balance of an account",
			Args:                  cobra.ExactArgs(2),
			RunE:                  s.withContext(ctx, s.runBalance),
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "balances ts",
			Short:                 "Read every account",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.withContext(ctx, s.runBalances),
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "accounts ts",
			Short:                 "List account names",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.runAccounts,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "count ts",
			Short:                 "Count accounts",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.runCount,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "commit ts",
			Short:                 "Commit a transaction",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.runCommit,
			DisableFlagsInUseLine: true,
		},
		&cobra.Command{
			Use:                   "abort ts",
			Short:                 "Abort a transaction",
			Args:                  cobra.ExactArgs(1),
			RunE:                  s.runAbort,
			DisableFlagsInUseLine: true,
		},
	)
	return cmd
}

type contextRunFunc func(ctx context.Context, cmd *cobra.Command, args []string) error

func (s *Shell) withContext(ctx context.Context, f contextRunFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return f(ctx, cmd, args)
	}
}

func (s *Shell) runBegin(cmd *cobra.Command, args []string) error {
	ts := s.engine.StartTransaction()
	fmt.Fprintf(s.out, "Started transaction %d\n", ts)
	return nil
}

func (s *Shell) runDeposit(ctx context.Context, cmd *cobra.Command, args []string) error {
	ts, amount, err := parseUpdate(args)
	if err != nil {
		return err
	}
	if err := s.engine.Deposit(ctx, ts, args[1], amount); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deposited %d to %s\n", amount, args[1])
	return nil
}

func (s *Shell) runWithdraw(ctx context.Context, cmd *cobra.Command, args []string) error {
	ts, amount, err := parseUpdate(args)
	if err != nil {
		return err
	}
	if err := s.engine.Withdraw(ctx, ts, args[1], amount); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Withdrew %d from %s\n", amount, args[1])
	return nil
}

func (s *Shell) runBalance(ctx context.Context, cmd *cobra.Command, args []string) error {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return err
	}
	balance, err := s.engine.Balance(ctx, ts, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s: %d\n", args[1], balance)
	return nil
}

func (s *Shell) runBalances(ctx context.Context, cmd *cobra.Command, args []string) error {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return err
	}
	balances, err := s.engine.AllBalances(ctx, ts)
	if err != nil {
		return err
	}
	if len(balances) == 0 {
		fmt.Fprintln(s.out, "0 accounts")
		return nil
	}
	tb := tablewriter.NewWriter(s.out)
	tb.SetHeader([]string{"Account", "Balance"})
	for _, b := range balances {
		tb.Append([]string{b.Name, strconv.FormatInt(b.Balance, 10)})
	}
	tb.Render()
	return nil
}

func (s *Shell) runAccounts(cmd *cobra.Command, args []string) error {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return err
	}
	names, err := s.engine.AllAccountNames(ts)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(s.out, name)
	}
	return nil
}

func (s *Shell) runCount(cmd *cobra.Command, args []string) error {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return err
	}
	count, err := s.engine.NumAccounts(ts)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d accounts\n", count)
	return nil
}

func (s *Shell) runCommit(cmd *cobra.Command, args []string) error {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return err
	}
	if err := s.engine.Commit(ts); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Committed transaction %d\n", ts)
	return nil
}

func (s *Shell) runAbort(cmd *cobra.Command, args []string) error {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return err
	}
	if err := s.engine.Abort(ts); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Aborted transaction %d\n", ts)
	return nil
}

func parseTimestamp(arg string) (txn.Timestamp, error) {
	ts, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid transaction %q", arg)
	}
	return ts, nil
}

func parseUpdate(args []string) (txn.Timestamp, int64, error) {
	ts, err := parseTimestamp(args[0])
	if err != nil {
		return 0, 0, err
	}
	amount, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || amount < 0 {
		return 0, 0, errors.Errorf("invalid amount %q", args[2])
	}
	return ts, amount, nil
}

// FormatError renders err for the user with a hint on what to do with the transaction.
func FormatError(err error) string {
	msg := "Error: " + err.Error()
	switch {
	case txn.IsRecoverable(err):
		return msg + " (retry or abort the transaction)"
	case txn.ErrorIs(err, txn.ErrTimestampInvalid), txn.ErrorIs(err, txn.ErrTimestampOutdated):
		return msg + " (start a new transaction)"
	}
	return msg
}
