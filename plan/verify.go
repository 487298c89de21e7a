package plan

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
)

// PostDeploymentInput describes a deployed plan. Dispatcher is the zero
// address when no dispatcher is live yet; route and sync checks are then
// skipped.
type PostDeploymentInput struct {
	Plan       *DeploymentPlan
	Proofs     []merkle.Proof
	Provider   chain.Provider
	Dispatcher common.Address
}

// DispatcherState is what the live dispatcher reported.
type DispatcherState struct {
	ActiveRoot  common.Hash `json:"activeRoot"`
	ActiveEpoch uint64      `json:"activeEpoch"`
	Frozen      bool        `json:"frozen"`
}

// PostDeploymentReport holds the four post-deployment checks.
type PostDeploymentReport struct {
	CodehashMatches    CheckResult      `json:"codehashMatches"`
	RouteIntegrity     CheckResult      `json:"routeIntegrity"`
	MerkleVerification CheckResult      `json:"merkleVerification"`
	DispatcherSync     CheckResult      `json:"dispatcherSync"`
	Dispatcher         *DispatcherState `json:"dispatcher,omitempty"`
}

func (r *PostDeploymentReport) Checks() []CheckResult {
	return []CheckResult{r.CodehashMatches, r.RouteIntegrity, r.MerkleVerification, r.DispatcherSync}
}

func (r *PostDeploymentReport) Passed() bool {
	for _, c := range r.Checks() {
		if !c.Passed() {
			return false
		}
	}
	return true
}

func (r *PostDeploymentReport) Err() error {
	var errs []error
	for _, c := range r.Checks() {
		errs = append(errs, c.Errs...)
	}
	return errkind.Join(errs)
}

// JSON renders the report with two-space indentation.
func (r *PostDeploymentReport) JSON() ([]byte, error) { return json.MarshalIndent(r, "", "  ") }

// RunPostDeploymentVerification compares the live chain with the plan:
// on-chain facet codehashes, dispatcher routes, proofs against the plan
// root and the dispatcher's active root, and the dispatcher's committed
// root and epoch. A provider is required; provider failures are reported
// inside the checks they affect.
func (b *Builder) RunPostDeploymentVerification(ctx context.Context, in PostDeploymentInput) (*PostDeploymentReport, error) {
	if in.Provider == nil {
		return nil, errkind.Newf(errkind.ErrProvider, "post-deployment", "", "provider required")
	}
	if in.Plan == nil {
		return nil, errkind.Newf(errkind.ErrStructural, "post-deployment", "", "no plan")
	}
	if err := chain.CheckChainID(ctx, in.Provider, in.Plan.ChainID); err != nil {
		return nil, err
	}

	r := &PostDeploymentReport{
		CodehashMatches: b.verifyCodehashes(ctx, in),
	}

	var disp *chain.Dispatcher
	if in.Dispatcher != (common.Address{}) {
		d, err := chain.NewDispatcher(in.Dispatcher, in.Provider)
		if err != nil {
			return nil, err
		}
		disp = d
	}
	r.RouteIntegrity = verifyRoutes(ctx, in, disp)
	r.DispatcherSync, r.Dispatcher = verifyDispatcherSync(ctx, in, disp)

	var active *common.Hash
	if r.Dispatcher != nil {
		active = &r.Dispatcher.ActiveRoot
	}
	r.MerkleVerification = verifyProofs(in, active)

	for _, c := range r.Checks() {
		if !c.Passed() {
			b.log.Warn("post-deployment check failed", "check", c.Name, "errors", len(c.Errs))
		}
	}
	b.log.Info("post-deployment verification done", "planId", in.Plan.PlanID.Hex(), "passed", r.Passed())
	return r, nil
}

// verifyCodehashes fetches each distinct facet once and checks the observed
// codehash against every route pointing at it.
func (b *Builder) verifyCodehashes(ctx context.Context, in PostDeploymentInput) CheckResult {
	c := CheckResult{Name: "codehashMatches"}
	observed := make(map[common.Address]common.Hash)
	failed := make(map[common.Address]bool)
	for i, facet := range in.Plan.Facets {
		if failed[facet] {
			continue
		}
		got, ok := observed[facet]
		if !ok {
			h, _, err := codehash.ObserveCodehash(ctx, in.Provider, facet)
			if err != nil {
				failed[facet] = true
				c.Errs = append(c.Errs, err)
				continue
			}
			observed[facet] = h
			got = h
		}
		if want := in.Plan.Codehashes[i]; got != want {
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "codehash match", in.Plan.Selectors[i].Hex(),
				"facet %s on-chain %s, plan %s", facet.Hex(), got.Hex(), want.Hex()))
		}
	}
	return c
}

func verifyRoutes(ctx context.Context, in PostDeploymentInput, d *chain.Dispatcher) CheckResult {
	c := CheckResult{Name: "routeIntegrity"}
	if d == nil {
		c.Skipped = true
		return c
	}
	for i, sel := range in.Plan.Selectors {
		rt, err := d.Route(ctx, sel)
		if err != nil {
			c.Errs = append(c.Errs, err)
			continue
		}
		switch {
		case rt.Facet == (common.Address{}):
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "route", sel.Hex(), "not routed"))
		case rt.Facet != in.Plan.Facets[i]:
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "route", sel.Hex(),
				"routed to %s, plan %s", rt.Facet.Hex(), in.Plan.Facets[i].Hex()))
		case rt.Codehash != in.Plan.Codehashes[i]:
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "route", sel.Hex(),
				"pinned codehash %s, plan %s", rt.Codehash.Hex(), in.Plan.Codehashes[i].Hex()))
		}
	}
	return c
}

func verifyProofs(in PostDeploymentInput, active *common.Hash) CheckResult {
	c := CheckResult{Name: "merkleVerification"}
	if len(in.Proofs) != len(in.Plan.Selectors) {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrStructural, "merkle verification", "",
			"%d proofs for %d selectors", len(in.Proofs), len(in.Plan.Selectors)))
	}
	for i, p := range in.Proofs {
		if i < len(in.Plan.Selectors) && p.Leaf() != (merkle.RouteLeaf{Selector: in.Plan.Selectors[i], Facet: in.Plan.Facets[i], Codehash: in.Plan.Codehashes[i]}) {
			c.Errs = append(c.Errs, errkind.Newf(errkind.ErrIntegrity, "merkle verification", p.Selector.Hex(),
				"proof %d is not for plan route %d", i, i))
			continue
		}
		if err := merkle.CheckProof(p, in.Plan.Root); err != nil {
			c.Errs = append(c.Errs, errkind.New(errkind.ErrIntegrity, "merkle verification", p.Selector.Hex(), err))
			continue
		}
		if active != nil && *active != in.Plan.Root {
			if !merkle.Verify(p, *active) {
				c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "merkle verification", p.Selector.Hex(),
					"proof does not verify against active root %s", active.Hex()))
			}
		}
	}
	return c
}

func verifyDispatcherSync(ctx context.Context, in PostDeploymentInput, d *chain.Dispatcher) (CheckResult, *DispatcherState) {
	c := CheckResult{Name: "dispatcherSync"}
	if d == nil {
		c.Skipped = true
		return c, nil
	}
	var st DispatcherState
	var err error
	if st.ActiveRoot, err = d.ActiveRoot(ctx); err != nil {
		c.Errs = append(c.Errs, err)
		return c, nil
	}
	if st.ActiveEpoch, err = d.ActiveEpoch(ctx); err != nil {
		c.Errs = append(c.Errs, err)
		return c, nil
	}
	if st.Frozen, err = d.Frozen(ctx); err != nil {
		c.Errs = append(c.Errs, err)
		return c, nil
	}
	if st.ActiveRoot != in.Plan.Root {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "dispatcher sync", d.Address().Hex(),
			"active root %s, plan %s", st.ActiveRoot.Hex(), in.Plan.Root.Hex()))
	}
	if st.ActiveEpoch != in.Plan.Epoch {
		c.Errs = append(c.Errs, errkind.Newf(errkind.ErrConsistency, "dispatcher sync", d.Address().Hex(),
			"active epoch %d, plan %d", st.ActiveEpoch, in.Plan.Epoch))
	}
	return c, &st
}
