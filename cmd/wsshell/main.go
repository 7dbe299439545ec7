// Command wsshell spawns a shell in a PTY and serves it over a single
// websocket-attached browser session. CLI surface built with cobra,
// matching the subcommand/flag style of other PTY-sharing tools.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dnmfarrell/wsshell/internal/httpd"
	"github.com/dnmfarrell/wsshell/internal/logging"
	"github.com/dnmfarrell/wsshell/internal/session"
)

// version is set at build time via -ldflags "-X main.version=...".
var version string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		command      string
		args         string
		listen       string
		readonly     bool
		headless     bool
		headlessCols uint16
		headlessRows uint16
		useUUID      bool
		verbose      bool
		showVersion  bool
		logFile      string
	)

	defaultCommand := os.Getenv("SHELL")
	if defaultCommand == "" {
		defaultCommand = "bash"
	}

	cmd := &cobra.Command{
		Use:   "wsshell",
		Short: "Share a locally spawned interactive shell over the web",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				v := version
				if v == "" {
					v = "dev"
				}
				fmt.Fprintf(os.Stdout, "wsshell %s\n", v)
				return nil
			}
			return run(runConfig{
				command:      command,
				args:         splitArgs(args),
				listen:       listen,
				readonly:     readonly,
				headless:     headless,
				headlessCols: headlessCols,
				headlessRows: headlessRows,
				useUUID:      useUUID,
				verbose:      verbose,
				logFile:      logFile,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&command, "command", defaultCommand, "command to run inside the PTY")
	flags.StringVar(&args, "args", "", "space-separated arguments to the command")
	flags.StringVar(&listen, "listen", "localhost:8000", "address to listen on")
	flags.BoolVar(&readonly, "readonly", false, "reject all client input")
	flags.BoolVar(&headless, "headless", false, "run without a controlling terminal; clients drive resize")
	flags.Uint16Var(&headlessCols, "headless-cols", 80, "initial columns when headless")
	flags.Uint16Var(&headlessRows, "headless-rows", 25, "initial rows when headless")
	flags.BoolVar(&useUUID, "uuid", false, "use a random session id instead of \"local\"")
	flags.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	flags.StringVar(&logFile, "log-file", "", "log file path (defaults to a temp file, since stdout may be in raw mode)")

	return cmd
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}

type runConfig struct {
	command      string
	args         []string
	listen       string
	readonly     bool
	headless     bool
	headlessCols uint16
	headlessRows uint16
	useUUID      bool
	verbose      bool
	logFile      string
}

func run(cfg runConfig) error {
	logger, err := logging.Init(cfg.verbose, cfg.logFile)
	if err != nil {
		return err
	}

	id := "local"
	if cfg.useUUID {
		id = uuid.New().String()
	}

	sess, err := session.New(session.Config{
		ID:           id,
		Command:      cfg.command,
		Args:         cfg.args,
		ReadOnly:     cfg.readonly,
		Headless:     cfg.headless,
		HeadlessCols: cfg.headlessCols,
		HeadlessRows: cfg.headlessRows,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	mux := httpd.NewMux(sess, logger)
	server := &http.Server{Addr: cfg.listen, Handler: mux}
	go func() {
		logger.Info("listening", "addr", cfg.listen, "session", id)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	exitCode := sess.Run(context.Background())
	server.Close()
	os.Exit(exitCode)
	return nil
}
