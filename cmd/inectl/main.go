// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Command inectl drives a network-emulation appliance from the shell.
//
// Connection settings come from a YAML config file (--config, ./inectl.yaml
// or ~/.config/inectl/inectl.yaml), INE_* environment variables and flags,
// in increasing order of precedence. Results are printed as JSON on stdout;
// failures are printed as {"message", "status", "code"} on stderr with exit
// status 1.
//
// Usage:
//
//	export INE_ADDRESS=10.1.1.10 INE_PORT=9000 INE_USERNAME=admin INE_PASSWORD=secret
//	inectl emulations list
//	inectl emulations create -f acme.yaml
//	inectl impairments set 12 --latency 40 --loss 0.5
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/netascode/go-ine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds the state shared by all commands of one invocation
type app struct {
	v       *viper.Viper
	out     io.Writer
	errOut  io.Writer
	logger  *zap.Logger
	cfgFile string
	verbose bool
	compact bool

	// buildLogger is replaced in tests
	buildLogger func(verbose bool) (*zap.Logger, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:           viper.New(),
		out:         stdout,
		errOut:      stderr,
		logger:      zap.NewNop(),
		buildLogger: productionLogger,
	}
}

func productionLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inectl",
		Short:         "Manage emulations, ports, VIs and impairments on a network-emulation appliance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.buildLogger(a.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default ./inectl.yaml or ~/.config/inectl/inectl.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging on stderr")
	flags.BoolVar(&a.compact, "compact", false, "print JSON on a single line")
	flags.String("address", "", "appliance address, host or host:port")
	flags.Int("port", 0, "appliance command port")
	flags.String("username", "", "appliance username")
	flags.String("password", "", "appliance password (prefer INE_PASSWORD)")
	flags.Duration("timeout", 0, "per-operation timeout")
	bindFlags(a.v, flags)

	root.AddCommand(
		a.emulationsCmd(),
		a.portsCmd(),
		a.visCmd(),
		a.impairmentsCmd(),
	)
	return root
}

// run executes one invocation and returns the process exit status
func run(ctx context.Context, a *app, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	a.printFailure(err)
	return 1
}

// printFailure writes the outward-facing failure document for err
func (a *app) printFailure(err error) {
	var ie *ine.IneError
	if !errors.As(err, &ie) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// flag, argument and config errors
		err = &ine.IneError{Operation: "inectl", Kind: ine.ErrValidation, Message: err.Error()}
	}
	if ie != nil {
		a.logger.Debug("command failed", zap.String("detail", ie.DetailedError()))
	}
	_, _ = fmt.Fprintln(a.errOut, a.format(ine.FailureFromError(err).JSON()))
}

// format renders a JSON document for the terminal
func (a *app) format(doc string) string {
	modifier := "@pretty"
	if a.compact {
		modifier = "@ugly"
	}
	return strings.TrimRight(gjson.Get(doc, modifier).Raw, "\n")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])
	stop()
	os.Exit(code)
}
