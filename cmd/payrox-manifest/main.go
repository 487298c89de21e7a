// Command payrox-manifest builds and verifies the content-addressed routing
// manifest of a diamond dispatcher.
//
// Usage:
//
//	payrox-manifest build [--config manifest.yaml] [--mode predictive|observed]
//	payrox-manifest verify-proof [--selector 0x12345678] [--root 0x...]
//	payrox-manifest post-verify --rpc-url URL [--dispatcher 0x...]
//	payrox-manifest runs --ledger runs.db
//	payrox-manifest version
//
// Exit codes: 0 success, 1 a gate or verification failed, 2 the command
// itself could not run (bad flags, unreadable config, unreachable node).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWith(ctx, defaultOptions(), args, os.Stdout, os.Stderr)
}

func defaultOptions() *rootOptions {
	return &rootOptions{
		getenv: os.Getenv,
		dial: func(ctx context.Context, url string) (chain.Provider, error) {
			c, err := chain.Dial(ctx, url)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

func runWith(ctx context.Context, opts *rootOptions, args []string, stdout, stderr io.Writer) int {
	opts.stderr = stderr
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return exitSuccess
}
