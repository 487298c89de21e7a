// Package pipeline runs the offline manifest build end to end: build
// fingerprint, selector extraction, codehashes, the ordered route tree,
// deployment and orchestration plans, the pre-deployment gates and the
// emission of every artifact.
//
// Each stage takes its inputs as arguments and returns fresh values; the
// only thing shared across stages is the build hash, carried explicitly in
// the Result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/blob"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/ledger"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/metrics"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/plan"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

// ErrNoMode is returned when Config.Mode is nil.
var ErrNoMode = errors.New("pipeline mode required")

// Config is the input of one run. Artifacts, when non-nil, is used instead
// of scanning ArtifactsDir. Sink, Ledger and Metrics are optional; without
// a Sink nothing is emitted.
type Config struct {
	Mode          Mode
	ArtifactsDir  string
	Artifacts     []*artifact.Artifact
	ReferencePath string
	Build         codehash.BuildConfig
	ChainID       uint64
	Epoch         uint64
	TimelockDelay time.Duration

	Sink    blob.Sink
	Ledger  *ledger.Ledger
	Metrics *metrics.Pipeline
	Now     func() time.Time
	Logger  *log.Logger
}

// Validation is the aggregate gate summary of a run.
type Validation struct {
	SelectorParity   bool `json:"selectorParity"`
	EIP170Compliance bool `json:"eip170Compliance"`
	MerkleIntegrity  bool `json:"merkleIntegrity"`
	Reproducibility  bool `json:"reproducibility"`
}

// Ready reports whether every gate passed.
func (v Validation) Ready() bool {
	return v.SelectorParity && v.EIP170Compliance && v.MerkleIntegrity && v.Reproducibility
}

// Result is everything one run computed. Predicted is only set in observed
// mode, when the artifacts also yield predictive codehashes.
type Result struct {
	RunID         uuid.UUID
	Mode          codehash.Mode
	BuildHash     common.Hash
	GeneratedAt   time.Time
	Extraction    *selector.Extraction
	Parity        *selector.Parity
	Codehashes    *codehash.Batch
	Predicted     *codehash.Batch
	Addresses     map[string]common.Address
	Tree          *merkle.Tree
	Manifest      merkle.ManifestRoot
	Deployment    *plan.DeploymentPlan
	Orchestration *plan.OrchestrationPlan
	Checks        *plan.PreDeploymentReport
	// Reproducibility holds cross-run failures: a ledger mismatch or a
	// differing rebuild.
	Reproducibility plan.CheckResult
	Validation      Validation
	Previous        *ledger.Record
	Warnings        []string
	Emitted         []string

	oracle *codehash.Oracle
}

// Ready reports whether the run may be promoted.
func (r *Result) Ready() bool { return r.Validation.Ready() }

// Failures lists every gate failure of the run.
func (r *Result) Failures() []error {
	var errs []error
	if r.Checks != nil {
		for _, c := range r.Checks.Checks() {
			errs = append(errs, c.Errs...)
		}
	}
	return append(errs, r.Reproducibility.Errs...)
}

// Err joins every gate failure of the run.
func (r *Result) Err() error { return errkind.Join(r.Failures()) }

func (r *Result) warn(lg *log.Logger, m *metrics.Pipeline, component string, msgs ...string) {
	for _, msg := range msgs {
		lg.Warn("skipped", "component", component, "reason", msg)
	}
	m.Warnings(component, len(msgs))
	r.Warnings = append(r.Warnings, msgs...)
}

// Execute runs every stage and emits the artifacts. Gate failures are
// reported in the Result, which is then not ready; the returned error is
// reserved for runs that could not produce trustworthy artifacts at all.
func Execute(ctx context.Context, cfg Config) (*Result, error) {
	r, err := build(ctx, cfg)
	if err != nil {
		return r, err
	}
	return r, finish(ctx, cfg, r)
}

// VerifyReproducibility builds twice from the same inputs and requires an
// identical root and leaf order before emitting the second run. The first
// build records no metrics and touches neither the ledger nor the sink.
func VerifyReproducibility(ctx context.Context, cfg Config) (*Result, error) {
	dry := cfg
	dry.Sink, dry.Ledger, dry.Metrics = nil, nil, nil
	first, err := build(ctx, dry)
	if err != nil {
		return first, err
	}
	second, err := build(ctx, cfg)
	if err != nil {
		return second, err
	}
	if err := merkle.CompareTrees(first.Tree, second.Tree); err != nil {
		second.Reproducibility.Errs = append(second.Reproducibility.Errs, err)
	}
	return second, finish(ctx, cfg, second)
}

func build(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Mode == nil {
		return nil, errkind.New(errkind.ErrStructural, "pipeline", "", ErrNoMode)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := cfg.Metrics
	r := &Result{
		RunID:           ledger.NewRunID(),
		Mode:            cfg.Mode.codehashMode(),
		GeneratedAt:     now(),
		Reproducibility: plan.CheckResult{Name: "reproducibility"},
	}
	lg := log.OrDefault(cfg.Logger).Module("pipeline").With("run", r.RunID.String(), "mode", r.Mode)
	lg.Info("pipeline started", "chainId", cfg.ChainID, "epoch", cfg.Epoch)

	// Build fingerprint.
	done := m.StartStage("build_hash")
	oracle, err := codehash.NewOracle(cfg.Build, cfg.Logger)
	done()
	if err != nil {
		return r, errkind.New(errkind.ErrStructural, "pipeline", "build config", err)
	}
	r.oracle = oracle
	r.BuildHash = oracle.BuildHash()

	// Artifacts and selectors.
	done = m.StartStage("extract")
	arts, err := loadArtifacts(cfg, r, lg)
	if err != nil {
		done()
		return r, err
	}
	r.Extraction = selector.Extract(arts, cfg.Logger)
	r.warn(lg, m, "selector", r.Extraction.Warnings...)
	m.Extraction(len(r.Extraction.Selectors), len(r.Extraction.Conflicts))
	if cfg.ReferencePath != "" {
		p, err := selector.CompareWithReference(cfg.ReferencePath, r.Extraction.Selectors, cfg.Logger)
		if err != nil {
			done()
			return r, errkind.New(errkind.ErrStructural, "pipeline", "reference", err)
		}
		r.Parity = &p
	}
	done()

	// Codehashes and facet addresses.
	done = m.StartStage("codehash")
	err = resolveCodehashes(ctx, cfg, r, arts, lg)
	done()
	if err != nil {
		return r, err
	}

	// Route tree.
	done = m.StartStage("merkle")
	leaves, err := joinLeaves(r, arts, lg, m)
	if err != nil {
		done()
		return r, err
	}
	r.Tree, err = merkle.Build(leaves)
	done()
	if err != nil {
		return r, err
	}
	m.Tree(len(r.Tree.Leaves))
	r.Manifest = merkle.NewManifestRoot(r.Tree, cfg.ChainID, cfg.Epoch, oracle.Config(), r.BuildHash, r.GeneratedAt)
	lg.Info("route tree built", "root", r.Tree.Root.Hex(), "leaves", len(r.Tree.Leaves))

	// Plans and gates.
	done = m.StartStage("plan")
	defer done()
	b := plan.NewBuilder(cfg.TimelockDelay, func() time.Time { return r.GeneratedAt }, cfg.Logger)
	r.Deployment, err = b.BuildDeploymentPlan(r.Tree, r.Manifest, r.Codehashes.Codehashes, r.Mode)
	if err != nil {
		return r, err
	}
	r.Orchestration, err = b.BuildOrchestrationPlan(r.Tree, r.Deployment)
	if err != nil {
		return r, err
	}
	in := plan.PreDeploymentInput{
		Plan:       r.Deployment,
		Tree:       r.Tree,
		Codehashes: r.Codehashes.Codehashes,
		Parity:     r.Parity,
		Conflicts:  r.Extraction.Conflicts,
	}
	if r.Predicted != nil {
		in.Predicted = r.Predicted.Codehashes
	}
	r.Checks = b.RunPreDeploymentChecks(in)
	return r, nil
}

// loadArtifacts returns the artifacts with deployable facets first, so a
// selector declared by both a facet and an interface is owned by the
// facet.
func loadArtifacts(cfg Config, r *Result, lg *log.Logger) ([]*artifact.Artifact, error) {
	arts := cfg.Artifacts
	if arts == nil {
		loaded, skipped, err := artifact.LoadDir(cfg.ArtifactsDir)
		if err != nil {
			return nil, errkind.New(errkind.ErrStructural, "pipeline", cfg.ArtifactsDir, err)
		}
		r.warn(lg, cfg.Metrics, "artifact", errkind.Messages(skipped)...)
		arts = loaded
	} else {
		arts = append([]*artifact.Artifact(nil), arts...)
		artifact.SortByName(arts)
	}
	ordered := make([]*artifact.Artifact, 0, len(arts))
	for _, deployable := range []bool{true, false} {
		for _, a := range arts {
			if a.HasRuntimeBytecode() == deployable {
				ordered = append(ordered, a)
			}
		}
	}
	lg.Debug("artifacts loaded", "count", len(ordered))
	return ordered, nil
}

func resolveCodehashes(ctx context.Context, cfg Config, r *Result, arts []*artifact.Artifact, lg *log.Logger) error {
	m := cfg.Metrics
	switch md := cfg.Mode.(type) {
	case Predictive:
		batch, err := r.oracle.BuildPredictive(arts)
		r.Codehashes = batch
		if batch != nil {
			r.warn(lg, m, "codehash", batch.Warnings...)
		}
		if err != nil {
			return err
		}
		addrs, warnings := r.oracle.PredictAddresses(arts, md.Addresses)
		r.warn(lg, m, "address", warnings...)
		r.Addresses = addrs
	case Observed:
		if md.Provider == nil {
			return errkind.Newf(errkind.ErrProvider, "pipeline", "observed", "provider required")
		}
		if err := chain.CheckChainID(ctx, md.Provider, cfg.ChainID); err != nil {
			return err
		}
		fetchCtx := ctx
		if md.Timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, md.Timeout)
			defer cancel()
		}
		batch, err := r.oracle.BuildObserved(fetchCtx, meteredReader{r: md.Provider, m: m}, md.DeployedFacets, md.Concurrency)
		r.Codehashes = batch
		if err != nil {
			return err
		}
		r.Addresses = make(map[string]common.Address, len(md.DeployedFacets))
		for name, addr := range md.DeployedFacets {
			r.Addresses[name] = addr
		}
		// Predicted codehashes feed the parity gate; artifacts without
		// usable runtime code simply leave it skipped.
		predicted, err := r.oracle.BuildPredictive(arts)
		if err != nil {
			lg.Warn("no predictive codehashes for parity", "err", err)
		} else {
			r.Predicted = predicted
		}
	default:
		return errkind.Newf(errkind.ErrStructural, "pipeline", "", "unknown mode %T", cfg.Mode)
	}
	return nil
}

// joinLeaves pairs every extracted selector with its facet's address and
// codehash. Selectors of contracts without runtime code are skipped with a
// warning. Any other selector without a codehash or address aborts the run:
// a tree over a partial codehash set would commit to the wrong routes.
func joinLeaves(r *Result, arts []*artifact.Artifact, lg *log.Logger, m *metrics.Pipeline) ([]merkle.RouteLeaf, error) {
	undeployable := make(map[string]bool)
	for _, a := range arts {
		if !a.HasRuntimeBytecode() {
			undeployable[a.ContractName] = true
		}
	}
	var (
		leaves  []merkle.RouteLeaf
		skipped []string
		errs    []error
	)
	for _, info := range r.Extraction.Selectors {
		if undeployable[info.Facet] {
			skipped = append(skipped, fmt.Sprintf("%s %s: %s has no runtime bytecode", info.Selector.Hex(), info.Signature, info.Facet))
			continue
		}
		ch, ok := r.Codehashes.Lookup(info.Facet)
		if !ok {
			errs = append(errs, errkind.Newf(errkind.ErrStructural, "route", info.Selector.Hex(),
				"no %s codehash for facet %s", r.Mode, info.Facet))
			continue
		}
		addr, ok := r.Addresses[info.Facet]
		if !ok || addr == (common.Address{}) {
			errs = append(errs, errkind.Newf(errkind.ErrStructural, "route", info.Selector.Hex(),
				"no address for facet %s", info.Facet))
			continue
		}
		leaves = append(leaves, merkle.RouteLeaf{Selector: info.Selector, Facet: addr, Codehash: ch.Codehash})
	}
	r.warn(lg, m, "route", skipped...)
	if err := errkind.Join(errs); err != nil {
		return nil, err
	}
	return leaves, nil
}

// finish settles reproducibility, emits the artifacts and records the run.
// Structural and integrity failures halt emission.
func finish(ctx context.Context, cfg Config, r *Result) error {
	lg := log.OrDefault(cfg.Logger).Module("pipeline").With("run", r.RunID.String(), "mode", r.Mode)
	m := cfg.Metrics

	var fp common.Hash
	if cfg.Ledger != nil {
		fp = ledger.Fingerprint(fingerprintInput(cfg, r))
		prev, err := cfg.Ledger.CheckReproducible(ctx, fp, r.Tree.Root)
		r.Previous = prev
		switch {
		case errors.Is(err, errkind.ErrConsistency):
			r.Reproducibility.Errs = append(r.Reproducibility.Errs, err)
		case err != nil:
			return fmt.Errorf("ledger: %w", err)
		}
	}

	r.Validation = Validation{
		SelectorParity:   r.Checks.SelectorParity.Passed(),
		EIP170Compliance: r.Checks.EIP170.Passed(),
		MerkleIntegrity:  r.Checks.MerkleIntegrity.Passed(),
		Reproducibility: r.Checks.PlanValidity.Passed() && r.Checks.CodehashPredictions.Passed() &&
			r.Reproducibility.Passed(),
	}
	for _, c := range append(r.Checks.Checks(), r.Reproducibility) {
		m.Gate(c.Name, c.Passed(), c.Skipped)
	}

	var fatal []error
	for _, err := range r.Failures() {
		if plan.IsFatal(err) {
			fatal = append(fatal, err)
		}
	}
	if len(fatal) > 0 {
		m.RunFinished(string(r.Mode), false, r.GeneratedAt)
		lg.Error("run halted before emission", "errors", len(fatal))
		return errkind.Join(fatal)
	}

	if cfg.Sink != nil {
		done := m.StartStage("emit")
		keys, err := emit(ctx, cfg.Sink, r)
		done()
		r.Emitted = keys
		if err != nil {
			return err
		}
	}

	if cfg.Ledger != nil {
		if _, err := cfg.Ledger.Append(ctx, ledger.Record{
			ID:          r.RunID,
			Fingerprint: fp,
			Mode:        string(r.Mode),
			ChainID:     r.Manifest.ChainID,
			Epoch:       r.Manifest.Epoch,
			Root:        r.Tree.Root,
			BuildHash:   r.BuildHash,
			Leaves:      len(r.Tree.Leaves),
			Ready:       r.Ready(),
			CreatedAt:   r.GeneratedAt,
		}); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}

	m.RunFinished(string(r.Mode), r.Ready(), r.GeneratedAt)
	if r.Ready() {
		lg.Info("pipeline complete", "root", r.Tree.Root.Hex(), "ready", true, "emitted", len(r.Emitted))
	} else {
		lg.Warn("pipeline complete, not ready", "root", r.Tree.Root.Hex(), "errors", errkind.Messages(r.Failures()))
	}
	return nil
}

func fingerprintInput(cfg Config, r *Result) ledger.Input {
	in := ledger.Input{
		BuildHash:  r.BuildHash,
		Mode:       string(r.Mode),
		ChainID:    cfg.ChainID,
		Epoch:      cfg.Epoch,
		Codehashes: make(map[string]common.Hash, len(r.Codehashes.Codehashes)),
		Addresses:  make(map[string]common.Address, len(r.Addresses)),
		Routes:     make(map[string]string, len(r.Extraction.Selectors)),
	}
	for _, c := range r.Codehashes.Codehashes {
		in.Codehashes[c.Name] = c.Codehash
	}
	for name, addr := range r.Addresses {
		in.Addresses[name] = addr
	}
	for _, info := range r.Extraction.Selectors {
		in.Routes[info.Selector.Hex()] = info.Facet
	}
	return in
}
