package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/blob"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/config"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/pipeline"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/plan"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

type verifyProofOptions struct {
	outputDir  string
	proofsPath string
	selector   string
	root       string
}

// proofResult is one line of verify-proof output.
type proofResult struct {
	Selector string `json:"selector"`
	Facet    string `json:"facet"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

func newVerifyProofCommand(root *rootOptions) *cobra.Command {
	opts := &verifyProofOptions{}
	cmd := &cobra.Command{
		Use:   "verify-proof",
		Short: "Check emitted route proofs against a root",
		Long: `Verify-proof recomputes the root from every proof in proofs.json, or
only the proof of --selector, and compares it with --root or, when unset,
the root recorded in the file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyProof(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.outputDir, "out", "o", "", "output directory of a previous build")
	f.StringVar(&opts.proofsPath, "proofs", "", "read proofs from this file instead of the sink")
	f.StringVar(&opts.selector, "selector", "", "verify only this selector (0x-prefixed, 4 bytes)")
	f.StringVar(&opts.root, "root", "", "expected root (defaults to the root in proofs.json)")
	return cmd
}

func runVerifyProof(cmd *cobra.Command, root *rootOptions, opts *verifyProofOptions) error {
	ctx := cmd.Context()
	var export merkle.ProofsExport
	if opts.proofsPath != "" {
		data, err := os.ReadFile(opts.proofsPath)
		if err != nil {
			return commandError("read proofs", err)
		}
		if err := json.Unmarshal(data, &export); err != nil {
			return commandError("decode proofs", err)
		}
	} else {
		f, err := root.loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("out") {
			f.OutputDir = opts.outputDir
		}
		sink, err := root.openSink(ctx, f)
		if err != nil {
			return err
		}
		if err := blob.ReadJSON(ctx, sink, pipeline.KeyProofs, &export); err != nil {
			return commandError("read proofs", err)
		}
	}

	want := export.Root
	if opts.root != "" {
		h, err := merkle.ParseHash(opts.root)
		if err != nil {
			return commandError("invalid --root", err)
		}
		want = h
	}
	proofs, err := export.ProofList()
	if err != nil {
		return commandError("decode proofs", err)
	}
	if opts.selector != "" {
		sel, err := selector.ParseSelector(opts.selector)
		if err != nil {
			return commandError("invalid --selector", err)
		}
		proofs = filterProofs(proofs, sel)
		if len(proofs) == 0 {
			return failure("verify-proof", fmt.Errorf("no proof for selector %s", sel.Hex()))
		}
	}

	results, failed := checkProofs(proofs, want)
	out := cmd.OutOrStdout()
	if root.format == "json" {
		err = writeJSON(out, struct {
			Root    common.Hash   `json:"root"`
			Checked int           `json:"checked"`
			Failed  int           `json:"failed"`
			Proofs  []proofResult `json:"proofs"`
		}{want, len(results), failed, results})
	} else {
		p := &printer{w: out}
		for _, r := range results {
			if r.Valid {
				p.printf("ok      %s %s\n", r.Selector, r.Facet)
			} else {
				p.printf("FAILED  %s %s: %s\n", r.Selector, r.Facet, r.Error)
			}
		}
		p.printf("%d/%d proofs valid against %s\n", len(results)-failed, len(results), want.Hex())
		err = p.err
	}
	if err != nil {
		return commandError("write output", err)
	}
	if failed > 0 {
		return failure("verify-proof", fmt.Errorf("%d of %d proofs failed", failed, len(results)))
	}
	return nil
}

func filterProofs(proofs []merkle.Proof, sel selector.Selector) []merkle.Proof {
	for _, p := range proofs {
		if p.Selector == sel {
			return []merkle.Proof{p}
		}
	}
	return nil
}

func checkProofs(proofs []merkle.Proof, root common.Hash) ([]proofResult, int) {
	results := make([]proofResult, 0, len(proofs))
	failed := 0
	for _, p := range proofs {
		r := proofResult{Selector: p.Selector.Hex(), Facet: p.Facet.Hex(), Valid: true}
		if err := merkle.CheckProof(p, root); err != nil {
			r.Valid = false
			r.Error = err.Error()
			failed++
		}
		results = append(results, r)
	}
	return results, failed
}

type postVerifyOptions struct {
	outputDir  string
	rpcURL     string
	dispatcher string
}

func newPostVerifyCommand(root *rootOptions) *cobra.Command {
	opts := &postVerifyOptions{}
	cmd := &cobra.Command{
		Use:   "post-verify",
		Short: "Compare a deployed dispatcher with the emitted plan",
		Long: `Post-verify loads deployment-plan.json and proofs.json from the sink and
checks the live chain: facet codehashes, dispatcher routes, proofs against
the plan root and the dispatcher's active root, and the committed root and
epoch. Without --dispatcher only facet codehashes and proofs are checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPostVerify(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.outputDir, "out", "o", "", "output directory of a previous build")
	f.StringVar(&opts.rpcURL, "rpc-url", "", "JSON-RPC endpoint")
	f.StringVar(&opts.dispatcher, "dispatcher", "", "deployed dispatcher address")
	return cmd
}

func runPostVerify(cmd *cobra.Command, root *rootOptions, opts *postVerifyOptions) error {
	ctx := cmd.Context()
	f, err := root.loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("out") {
		f.OutputDir = opts.outputDir
	}
	if cmd.Flags().Changed("rpc-url") {
		f.Observed.RPCURL = opts.rpcURL
	}
	if f.Observed.RPCURL == "" {
		return commandError("post-verify", fmt.Errorf("an rpc url is required (--rpc-url or %s)", config.EnvRPCURL))
	}
	var dispatcher common.Address
	if opts.dispatcher != "" {
		if !common.IsHexAddress(opts.dispatcher) {
			return commandError("invalid --dispatcher", fmt.Errorf("%q", opts.dispatcher))
		}
		dispatcher = common.HexToAddress(opts.dispatcher)
	}

	sink, err := root.openSink(ctx, f)
	if err != nil {
		return err
	}
	in, err := loadPostDeploymentInput(ctx, sink)
	if err != nil {
		return err
	}
	in.Dispatcher = dispatcher

	provider, closeProvider, err := root.dialProvider(ctx, f.Observed.RPCURL)
	if err != nil {
		return err
	}
	defer closeProvider()
	in.Provider = provider

	b := plan.NewBuilder(f.TimelockDelay, nil, f.NewLogger(root.stderr))
	report, err := b.RunPostDeploymentVerification(ctx, in)
	if err != nil {
		return commandError("post-verify", err)
	}

	out := cmd.OutOrStdout()
	if root.format == "json" {
		err = writeJSON(out, report)
	} else {
		p := &printer{w: out}
		p.printf("plan       %s\n", in.Plan.PlanID.Hex())
		if report.Dispatcher != nil {
			p.printf("dispatcher %s (root %s, epoch %d, frozen %t)\n", dispatcher.Hex(),
				report.Dispatcher.ActiveRoot.Hex(), report.Dispatcher.ActiveEpoch, report.Dispatcher.Frozen)
		}
		p.printChecks(report.Checks())
		p.printf("passed: %t\n", report.Passed())
		err = p.err
	}
	if err != nil {
		return commandError("write output", err)
	}
	if !report.Passed() {
		return failure("post-deployment verification failed", report.Err())
	}
	return nil
}

func loadPostDeploymentInput(ctx context.Context, sink blob.Sink) (plan.PostDeploymentInput, error) {
	var in plan.PostDeploymentInput
	data, err := sink.Get(ctx, pipeline.KeyDeployment)
	if err != nil {
		return in, commandError("read plan", err)
	}
	in.Plan, err = plan.LoadDeploymentPlan(data)
	if err != nil {
		return in, commandError("read plan", err)
	}
	var export merkle.ProofsExport
	if err := blob.ReadJSON(ctx, sink, pipeline.KeyProofs, &export); err != nil {
		return in, commandError("read proofs", err)
	}
	in.Proofs, err = export.ProofList()
	if err != nil {
		return in, commandError("read proofs", errkind.New(errkind.ErrStructural, "proofs", "", err))
	}
	return in, nil
}
