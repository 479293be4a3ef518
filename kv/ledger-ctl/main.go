package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/ledger-ctl/shell"
	"github.com/pingcap-incubator/tinyledger/kv/transaction"
	"github.com/pingcap-incubator/tinyledger/kv/util/logutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string
	ccType     string
	logLevel   string
	logFile    string
	statusAddr string
)

func registerFlags(flags *pflag.FlagSet) {
	flags.StringVar(&configPath, "config", "", "config file path")
	flags.StringVar(&ccType, "cc-type", "", "concurrency control: mvcc, timestamp-based, strict-timestamp-based or strong-strict-2pl")
	flags.StringVar(&logLevel, "log-level", "", "log level")
	flags.StringVar(&logFile, "log-file", "", "log file path, stderr if empty")
	flags.StringVar(&statusAddr, "status-addr", "", "serve prometheus metrics on this address")
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		if err := conf.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if flags.Changed("cc-type") {
		conf.CCType = ccType
	}
	if flags.Changed("log-level") {
		conf.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		conf.LogFile = logFile
	}
	return conf, nil
}

func runLedgerCtl(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := logutil.InitLogger(conf); err != nil {
		return errors.Trace(err)
	}
	engine, err := transaction.NewEngine(conf)
	if err != nil {
		return err
	}
	defer engine.Close()

	if statusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(statusAddr, mux); err != nil {
				log.Error("status server stopped", zap.String("addr", statusAddr), zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("\033[31m%s»\033[0m ", conf.CCType),
		HistoryFile:       "/tmp/ledger-ctl.history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer l.Close()

	interrupter := &commandInterrupter{}
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		for sig := range sc {
			if sig == syscall.SIGINT && interrupter.interrupt() {
				log.Info("command interrupted")
				continue
			}
			log.Info("got signal to exit", zap.String("signal", sig.String()))
			cancel()
			l.Close()
			return
		}
	}()

	shellLoop(ctx, l, shell.New(engine, l.Stdout()), interrupter)
	return nil
}

// shellLoop reads and runs commands until exit, EOF or ^C on an empty line. ^C while a command waits for another
// transaction cancels only that command, so the other transaction can still be committed or aborted.
func shellLoop(ctx context.Context, l *readline.Instance, sh *shell.Shell, interrupter *commandInterrupter) {
	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if line != "" {
					continue
				}
				return
			}
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			continue
		}
		if exit := runLine(ctx, l.Stderr(), sh, interrupter, line); exit || ctx.Err() != nil {
			return
		}
	}
}

func runLine(ctx context.Context, stderr io.Writer, sh *shell.Shell, interrupter *commandInterrupter, line string) bool {
	cmdCtx, done := interrupter.start(ctx)
	defer done()
	exit, err := sh.Exec(cmdCtx, line)
	if err != nil {
		fmt.Fprintln(stderr, shell.FormatError(err))
	}
	return exit
}

const ledgerCtlLong = `Interactive shell over a TinyLedger transaction engine.

Every transaction of the session runs against the same engine. A command that waits for another open transaction
(a lock held under strong-strict-2pl, an unfinished older write under timestamp-based) blocks the prompt until that
transaction ends or times out. Press ^C to give up waiting; the transaction stays open. ^C on an empty line, ^D or
"exit" leaves the shell.`

func main() {
	rootCmd := &cobra.Command{
		Use:          "ledger-ctl",
		Short:        "Interactive shell over a TinyLedger transaction engine",
		Long:         ledgerCtlLong,
		Args:         cobra.NoArgs,
		RunE:         runLedgerCtl,
		SilenceUsage: true,
	}
	registerFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
