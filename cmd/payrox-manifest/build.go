package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/config"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/ledger"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/metrics"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/pipeline"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/plan"
)

// EnvVerifyReproducibility turns on the double build when set to a true
// value.
const EnvVerifyReproducibility = "VERIFY_REPRODUCIBILITY"

type buildOptions struct {
	mode            string
	artifactsDir    string
	outputDir       string
	referencePath   string
	chainID         uint64
	epoch           uint64
	rpcURL          string
	ledgerPath      string
	metricsTextfile string
	verify          bool
}

func newBuildCommand(root *rootOptions) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the routing manifest, plans and proofs",
		Long: `Build extracts selectors from the facet artifacts, resolves codehashes
(predicted from bytecode, or observed on chain), builds the ordered route
tree and the deployment plans, runs the pre-deployment gates and writes
every artifact to the configured sink.

Exits 1 when a gate fails; the artifacts are still written unless the
failure makes them untrustworthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.mode, "mode", "", "codehash mode: predictive or observed")
	f.StringVar(&opts.artifactsDir, "artifacts", "", "compiled artifacts directory")
	f.StringVarP(&opts.outputDir, "out", "o", "", "output directory for the filesystem sink")
	f.StringVar(&opts.referencePath, "reference", "", "reference artifact for selector parity")
	f.Uint64Var(&opts.chainID, "chain-id", 0, "target chain id")
	f.Uint64Var(&opts.epoch, "epoch", 0, "manifest epoch")
	f.StringVar(&opts.rpcURL, "rpc-url", "", "JSON-RPC endpoint for observed mode")
	f.StringVar(&opts.ledgerPath, "ledger", "", "SQLite run ledger path")
	f.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file")
	f.BoolVar(&opts.verify, "verify-reproducibility", false, "build twice and require identical trees")
	return cmd
}

// apply copies the flags the user set over the loaded configuration.
func (o *buildOptions) apply(cmd *cobra.Command, f *config.File) {
	set := cmd.Flags().Changed
	if set("mode") {
		f.Mode = o.mode
	}
	if set("artifacts") {
		f.ArtifactsDir = o.artifactsDir
	}
	if set("out") {
		f.OutputDir = o.outputDir
	}
	if set("reference") {
		f.ReferencePath = o.referencePath
	}
	if set("chain-id") {
		f.ChainID = o.chainID
	}
	if set("epoch") {
		f.Epoch = o.epoch
	}
	if set("rpc-url") {
		f.Observed.RPCURL = o.rpcURL
	}
	if set("ledger") {
		f.Ledger.Path = o.ledgerPath
	}
	if set("metrics-textfile") {
		f.Metrics.Textfile = o.metricsTextfile
	}
}

func runBuild(cmd *cobra.Command, root *rootOptions, opts *buildOptions) error {
	ctx := cmd.Context()
	f, err := root.loadConfig()
	if err != nil {
		return err
	}
	opts.apply(cmd, f)
	if err := validate(f); err != nil {
		return err
	}
	verify := opts.verify
	if !cmd.Flags().Changed("verify-reproducibility") && root.getenv != nil {
		if v, err := strconv.ParseBool(root.getenv(EnvVerifyReproducibility)); err == nil {
			verify = v
		}
	}

	logger := f.NewLogger(root.stderr)
	sink, err := root.openSink(ctx, f)
	if err != nil {
		return err
	}
	var lg *ledger.Ledger
	if f.Ledger.Path != "" {
		lg, err = ledger.Open(ctx, f.Ledger.Path)
		if err != nil {
			return commandError("open ledger", err)
		}
		defer lg.Close()
	}
	m := metrics.New(f.Metrics.Namespace)

	mode, closeProvider, err := root.pipelineMode(ctx, f)
	if err != nil {
		return err
	}
	defer closeProvider()

	pc := pipeline.Config{
		Mode:          mode,
		ArtifactsDir:  f.ArtifactsDir,
		ReferencePath: f.ReferencePath,
		Build:         f.Build,
		ChainID:       f.ChainID,
		Epoch:         f.Epoch,
		TimelockDelay: f.TimelockDelay,
		Sink:          sink,
		Ledger:        lg,
		Metrics:       m,
		Logger:        logger,
	}
	execute := pipeline.Execute
	if verify {
		execute = pipeline.VerifyReproducibility
	}
	r, runErr := execute(ctx, pc)
	if err := m.WriteTextfile(f.Metrics.Textfile); err != nil {
		logger.Warn("metrics textfile not written", "path", f.Metrics.Textfile, "err", err)
	}
	if runErr != nil {
		if errors.Is(runErr, errkind.ErrProvider) {
			return commandError("build", runErr)
		}
		return failure("build", runErr)
	}

	out := cmd.OutOrStdout()
	if root.format == "json" {
		locs := make([]string, len(r.Emitted))
		for i, k := range r.Emitted {
			locs[i] = sink.Location(k)
		}
		err = writeJSON(out, struct {
			pipeline.Summary
			Artifacts []string `json:"artifacts"`
		}{r.Summary(), locs})
	} else {
		err = printBuild(out, r, sink.Location)
	}
	if err != nil {
		return commandError("write output", err)
	}
	if !r.Ready() {
		return failure("manifest not ready", r.Err())
	}
	return nil
}

// pipelineMode builds the codehash mode from the configuration, dialing
// the node in observed mode.
func (o *rootOptions) pipelineMode(ctx context.Context, f *config.File) (pipeline.Mode, func(), error) {
	if f.CodehashMode() == codehash.Predictive {
		addrs, err := f.AddressPlan()
		if err != nil {
			return nil, func() {}, commandError("invalid configuration", err)
		}
		return pipeline.Predictive{Addresses: addrs}, func() {}, nil
	}
	deployed, err := f.DeployedAddresses()
	if err != nil {
		return nil, func() {}, commandError("invalid configuration", err)
	}
	p, closeFn, err := o.dialProvider(ctx, f.Observed.RPCURL)
	if err != nil {
		return nil, closeFn, err
	}
	return pipeline.Observed{
		Provider:       p,
		DeployedFacets: deployed,
		Concurrency:    f.Observed.Concurrency,
		Timeout:        f.Observed.Timeout,
	}, closeFn, nil
}

func printBuild(w io.Writer, r *pipeline.Result, location func(string) string) error {
	s := r.Summary()
	p := &printer{w: w}
	p.printf("run        %s\n", s.RunID)
	p.printf("mode       %s (chain %d, epoch %d)\n", s.Mode, s.ChainID, s.Epoch)
	p.printf("root       %s (%d routes)\n", s.Root.Hex(), len(r.Tree.Leaves))
	p.printf("buildHash  %s\n", s.BuildHash.Hex())
	if s.PreviousRun != "" {
		p.printf("previous   %s\n", s.PreviousRun)
	}
	p.printChecks(s.Checks)
	for _, v := range s.Violations {
		p.printf("  oversize %s: %d bytes\n", v.Facet, v.Size)
	}
	for _, msg := range s.Warnings {
		p.printf("warning: %s\n", msg)
	}
	for _, k := range r.Emitted {
		p.printf("wrote %s\n", location(k))
	}
	p.printf("ready: %t\n", s.Ready)
	return p.err
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) printChecks(checks []plan.CheckResult) {
	for _, c := range checks {
		status := "passed"
		switch {
		case c.Skipped:
			status = "skipped"
		case !c.Passed():
			status = fmt.Sprintf("FAILED (%d)", len(c.Errs))
		}
		p.printf("  %-22s %s\n", c.Name, status)
		for _, msg := range errkind.Messages(c.Errs) {
			p.printf("    - %s\n", msg)
		}
	}
}
