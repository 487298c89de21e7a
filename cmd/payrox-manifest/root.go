package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/blob"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/config"
)

// Exit codes.
const (
	exitSuccess      = 0 // everything passed
	exitFailure      = 1 // a gate or verification check failed
	exitCommandError = 2 // bad flags, config, or an unreachable dependency
)

// exitError carries an exit code through cobra's error return.
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitError) Unwrap() error { return e.err }

func failure(msg string, err error) error { return &exitError{code: exitFailure, msg: msg, err: err} }

func commandError(msg string, err error) error {
	return &exitError{code: exitCommandError, msg: msg, err: err}
}

// exitCode maps err to a process exit code. Errors that are not
// exitErrors come from cobra itself (unknown flags, bad arguments).
func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitCommandError
}

type rootOptions struct {
	configPath string
	logLevel   string
	format     string

	getenv func(string) string
	dial   func(ctx context.Context, url string) (chain.Provider, error)
	stderr io.Writer
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "payrox-manifest",
		Short:         "Build and verify diamond routing manifests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return commandError("invalid --format", fmt.Errorf("%q (want text or json)", opts.format))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (text or json)")

	cmd.AddCommand(
		newBuildCommand(opts),
		newVerifyProofCommand(opts),
		newPostVerifyCommand(opts),
		newRunsCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig reads --config over the defaults and applies the environment
// and --log-level. Callers apply their own flag overrides and then
// validate.
func (o *rootOptions) loadConfig() (*config.File, error) {
	f := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, commandError("load config", err)
		}
		f = loaded
	}
	getenv := o.getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if err := f.ApplyEnv(getenv); err != nil {
		return nil, commandError("environment", err)
	}
	if o.logLevel != "" {
		f.Log.Level = o.logLevel
	}
	return f, nil
}

func validate(f *config.File) error {
	if err := f.Validate(); err != nil {
		return commandError("invalid configuration", err)
	}
	return nil
}

func (o *rootOptions) openSink(ctx context.Context, f *config.File) (blob.Sink, error) {
	sink, err := blob.Open(ctx, f.SinkConfig())
	if err != nil {
		return nil, commandError("open sink", err)
	}
	return sink, nil
}

// dialProvider connects to rpcURL. The returned close func is never nil.
func (o *rootOptions) dialProvider(ctx context.Context, rpcURL string) (chain.Provider, func(), error) {
	p, err := o.dial(ctx, rpcURL)
	if err != nil {
		return nil, func() {}, commandError("connect", err)
	}
	if c, ok := p.(interface{ Close() }); ok {
		return p, c.Close, nil
	}
	return p, func() {}, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := blob.MarshalJSON(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "payrox-manifest %s (%s)\n", version, commit)
			return nil
		},
	}
}
