package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain/chaintest"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

var (
	fixedNow   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	facetA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	facetB     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	dispatcher = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	codeA      = []byte{0x60, 0x01, 0x60, 0x02, 0x01}
	codeB      = []byte{0x60, 0x03, 0x60, 0x04, 0x02}
)

type fixture struct {
	tree       *merkle.Tree
	manifest   merkle.ManifestRoot
	codehashes []codehash.FacetCodehash
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := codehash.DefaultBuildConfig()
	bh, err := codehash.BuildHash(cfg)
	if err != nil {
		t.Fatal(err)
	}
	a, b := facetA, facetB
	chs := []codehash.FacetCodehash{
		{Name: "AlphaFacet", FacetAddress: &a, RuntimeBytecode: codeA, Codehash: crypto.Keccak256Hash(codeA), BuildHash: bh},
		{Name: "BetaFacet", FacetAddress: &b, RuntimeBytecode: codeB, Codehash: crypto.Keccak256Hash(codeB), BuildHash: bh},
	}
	leaves := []merkle.RouteLeaf{
		{Selector: selector.Selector{0xcc, 0xcc, 0xcc, 0xcc}, Facet: facetB, Codehash: chs[1].Codehash},
		{Selector: selector.Selector{0xaa, 0xaa, 0xaa, 0xaa}, Facet: facetA, Codehash: chs[0].Codehash},
		{Selector: selector.Selector{0xbb, 0xbb, 0xbb, 0xbb}, Facet: facetA, Codehash: chs[0].Codehash},
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		t.Fatal(err)
	}
	return fixture{
		tree:       tree,
		manifest:   merkle.NewManifestRoot(tree, 1, 7, cfg, bh, fixedNow),
		codehashes: chs,
	}
}

func newBuilder() *Builder {
	return NewBuilder(0, func() time.Time { return fixedNow }, log.Discard())
}

func buildPlans(t *testing.T, f fixture) (*DeploymentPlan, *OrchestrationPlan) {
	t.Helper()
	b := newBuilder()
	p, err := b.BuildDeploymentPlan(f.tree, f.manifest, f.codehashes, codehash.Predictive)
	if err != nil {
		t.Fatalf("BuildDeploymentPlan: %v", err)
	}
	o, err := b.BuildOrchestrationPlan(f.tree, p)
	if err != nil {
		t.Fatalf("BuildOrchestrationPlan: %v", err)
	}
	return p, o
}

func TestBuildDeploymentPlan(t *testing.T) {
	f := newFixture(t)
	p, _ := buildPlans(t, f)

	want := []string{"0xaaaaaaaa", "0xbbbbbbbb", "0xcccccccc"}
	for i, s := range p.Selectors {
		if s.Hex() != want[i] {
			t.Fatalf("selector %d = %s, want %s", i, s.Hex(), want[i])
		}
	}
	if p.Facets[2] != facetB || p.Codehashes[2] != f.codehashes[1].Codehash {
		t.Fatalf("route 2 = (%s, %s), want BetaFacet", p.Facets[2].Hex(), p.Codehashes[2].Hex())
	}
	if p.Root != f.tree.Root {
		t.Fatalf("root = %s, want %s", p.Root.Hex(), f.tree.Root.Hex())
	}
	if p.ChainID != 1 || p.Epoch != 7 {
		t.Fatalf("chain/epoch = %d/%d, want 1/7", p.ChainID, p.Epoch)
	}
	if want := fixedNow.Add(24 * time.Hour).Unix(); p.ETA != want {
		t.Fatalf("eta = %d, want %d", p.ETA, want)
	}
	if p.PlanID != PlanID(p.Root, 7, fixedNow) {
		t.Fatalf("planId not derived from root, epoch and generation time")
	}
}

func TestPlanIDEncoding(t *testing.T) {
	root := common.HexToHash("0x1234")
	epoch := uint256.NewInt(3).Bytes32()
	ms := uint256.NewInt(uint64(fixedNow.UnixMilli())).Bytes32()
	var enc []byte
	enc = append(enc, root[:]...)
	enc = append(enc, epoch[:]...)
	enc = append(enc, ms[:]...)
	if got, want := PlanID(root, 3, fixedNow), crypto.Keccak256Hash(enc); got != want {
		t.Fatalf("PlanID = %s, want %s", got.Hex(), want.Hex())
	}
	if PlanID(root, 3, fixedNow) == PlanID(root, 3, fixedNow.Add(time.Millisecond)) {
		t.Fatal("PlanID ignores generation time")
	}
}

func TestBuildDeploymentPlanErrors(t *testing.T) {
	f := newFixture(t)
	b := newBuilder()

	mr := f.manifest
	mr.Root = common.HexToHash("0xdead")
	if _, err := b.BuildDeploymentPlan(f.tree, mr, f.codehashes, codehash.Predictive); !errors.Is(err, errkind.ErrConsistency) {
		t.Fatalf("root mismatch err = %v, want consistency", err)
	}

	if _, err := b.BuildDeploymentPlan(f.tree, f.manifest, f.codehashes[:1], codehash.Predictive); !errors.Is(err, errkind.ErrConsistency) {
		t.Fatalf("unknown codehash err = %v, want consistency", err)
	}

	if _, err := b.BuildDeploymentPlan(nil, f.manifest, f.codehashes, codehash.Predictive); !errors.Is(err, errkind.ErrStructural) {
		t.Fatalf("nil tree err = %v, want structural", err)
	}
}

func TestBuildOrchestrationPlan(t *testing.T) {
	f := newFixture(t)
	_, o := buildPlans(t, f)

	if len(o.Proofs) != 3 {
		t.Fatalf("proofs = %d, want 3", len(o.Proofs))
	}
	for _, p := range o.Proofs {
		if !merkle.Verify(p, o.Plan.Root) {
			t.Fatalf("proof for %s does not verify", p.Selector.Hex())
		}
	}
	if o.GasEstimate.Uint64() != 250_000 {
		t.Fatalf("gas = %s, want 250000", o.GasEstimate.Dec())
	}
	if o.Delay != DefaultTimelockDelay {
		t.Fatalf("delay = %v, want %v", o.Delay, DefaultTimelockDelay)
	}
}

func TestBuildOrchestrationPlanMissingProof(t *testing.T) {
	f := newFixture(t)
	p, _ := buildPlans(t, f)

	other, err := merkle.Build(f.tree.RouteLeaves()[:2])
	if err != nil {
		t.Fatal(err)
	}
	_, err = newBuilder().BuildOrchestrationPlan(other, p)
	if !errors.Is(err, ErrMissingProof) || !errors.Is(err, errkind.ErrIntegrity) {
		t.Fatalf("err = %v, want missing proof integrity error", err)
	}
}

func TestEstimateGasAndFormatEther(t *testing.T) {
	tests := []struct {
		selectors int
		gas       uint64
		eth       string
	}{
		{0, 100_000, "0.002"},
		{1, 150_000, "0.003"},
		{2, 200_000, "0.004"},
		{38, 2_000_000, "0.04"},
	}
	for _, tt := range tests {
		g := EstimateGas(tt.selectors)
		if g.Uint64() != tt.gas {
			t.Fatalf("EstimateGas(%d) = %d, want %d", tt.selectors, g.Uint64(), tt.gas)
		}
		if got := FormatEther(EstimateCostWei(g)); got != tt.eth {
			t.Fatalf("FormatEther(cost(%d)) = %s, want %s", tt.selectors, got, tt.eth)
		}
	}
	if got := FormatEther(uint256.NewInt(1_000_000_000_000_000_000)); got != "1.0" {
		t.Fatalf("FormatEther(1 ether) = %s, want 1.0", got)
	}
	if got := FormatEther(new(uint256.Int)); got != "0.0" {
		t.Fatalf("FormatEther(0) = %s, want 0.0", got)
	}
	if got := FormatEther(uint256.NewInt(1)); got != "0.000000000000000001" {
		t.Fatalf("FormatEther(1 wei) = %s", got)
	}
}

func TestCheckEIP170Boundary(t *testing.T) {
	chs := []codehash.FacetCodehash{
		{Name: "BigFacet", RuntimeBytecode: make([]byte, MaxRuntimeSize)},
		{Name: "EdgeFacet", RuntimeBytecode: make([]byte, MaxRuntimeSize-1)},
		{Name: "HugeFacet", RuntimeBytecode: make([]byte, MaxRuntimeSize+100)},
	}
	got := CheckEIP170(chs)
	want := []SizeViolation{{"BigFacet", 24576}, {"HugeFacet", 24676}}
	if len(got) != len(want) {
		t.Fatalf("violations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("violation %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPreDeploymentChecksPass(t *testing.T) {
	f := newFixture(t)
	p, _ := buildPlans(t, f)
	r := newBuilder().RunPreDeploymentChecks(PreDeploymentInput{Plan: p, Tree: f.tree, Codehashes: f.codehashes})
	if !r.Passed() {
		t.Fatalf("checks failed: %v", r.Err())
	}
	if !r.SelectorParity.Skipped {
		t.Fatal("selector parity should be skipped without a reference")
	}
}

func TestPreDeploymentChecksCollectEveryFailure(t *testing.T) {
	f := newFixture(t)
	p, _ := buildPlans(t, f)

	chs := append([]codehash.FacetCodehash(nil), f.codehashes...)
	chs[0].RuntimeBytecode = make([]byte, MaxRuntimeSize)
	chs[1].RuntimeBytecode = make([]byte, MaxRuntimeSize+1)

	info := func(sig string) selector.Info {
		return selector.Info{Signature: sig, Selector: selector.FromSignature(sig), Facet: "AlphaFacet"}
	}
	parity := &selector.Parity{Missing: []selector.Info{info("a()")}, Extra: []selector.Info{info("d()")}, Matches: 2}

	r := newBuilder().RunPreDeploymentChecks(PreDeploymentInput{
		Plan: p, Tree: f.tree, Codehashes: chs, Parity: parity,
	})
	if r.Passed() {
		t.Fatal("checks passed, want failures")
	}
	if n := len(r.EIP170.Errs); n != 2 || len(r.Violations) != 2 {
		t.Fatalf("eip170 errors = %d, violations = %d, want 2 and 2", n, len(r.Violations))
	}
	if n := len(r.SelectorParity.Errs); n != 2 {
		t.Fatalf("parity errors = %d, want 2", n)
	}
	// Both codehashes no longer match their bytecode.
	if n := len(r.CodehashPredictions.Errs); n != 2 {
		t.Fatalf("codehash errors = %d, want 2", n)
	}
	if !r.MerkleIntegrity.Passed() || !r.PlanValidity.Passed() {
		t.Fatalf("merkle/plan gates should pass: %v", r.Err())
	}
	if !errors.Is(r.Err(), errkind.ErrSizeViolation) {
		t.Fatal("report error does not carry the size violation kind")
	}
}

func TestPreDeploymentChecksConflictsAndMisalignment(t *testing.T) {
	f := newFixture(t)
	p, _ := buildPlans(t, f)
	p.Facets[0] = facetB

	conflict := selector.Conflict{
		Selector: selector.FromSignature("burn(uint256)"),
		Existing: selector.Info{Signature: "burn(uint256)", Facet: "AlphaFacet"},
		Incoming: selector.Info{Signature: "collate_propagate_storage(bytes16)", Facet: "BetaFacet"},
	}
	r := newBuilder().RunPreDeploymentChecks(PreDeploymentInput{
		Plan: p, Tree: f.tree, Codehashes: f.codehashes, Conflicts: []selector.Conflict{conflict},
	})
	if !errors.Is(r.SelectorParity.Err(), errkind.ErrCollision) {
		t.Fatalf("parity err = %v, want collision", r.SelectorParity.Err())
	}
	if !errors.Is(r.MerkleIntegrity.Err(), errkind.ErrIntegrity) {
		t.Fatalf("merkle err = %v, want integrity", r.MerkleIntegrity.Err())
	}
}

func TestPreDeploymentObservedParity(t *testing.T) {
	f := newFixture(t)
	b := newBuilder()
	p, err := b.BuildDeploymentPlan(f.tree, f.manifest, f.codehashes, codehash.Observed)
	if err != nil {
		t.Fatal(err)
	}

	r := b.RunPreDeploymentChecks(PreDeploymentInput{Plan: p, Tree: f.tree, Codehashes: f.codehashes})
	if !r.CodehashPredictions.Skipped {
		t.Fatal("observed mode without predictions should skip")
	}

	predicted := append([]codehash.FacetCodehash(nil), f.codehashes...)
	predicted[1].Codehash = common.HexToHash("0xbad")
	r = b.RunPreDeploymentChecks(PreDeploymentInput{Plan: p, Tree: f.tree, Codehashes: f.codehashes, Predicted: predicted})
	if !errors.Is(r.CodehashPredictions.Err(), errkind.ErrConsistency) {
		t.Fatalf("err = %v, want consistency", r.CodehashPredictions.Err())
	}
}

func TestCheckResultJSON(t *testing.T) {
	c := CheckResult{Name: "eip170Compliance", Errs: []error{errors.New("too big")}}
	got, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"name":"eip170Compliance","passed":false,"errors":["too big"]}`
	if string(got) != want {
		t.Fatalf("json = %s, want %s", got, want)
	}
}

func TestDeploymentDocRoundTrip(t *testing.T) {
	f := newFixture(t)
	p, _ := buildPlans(t, f)

	data, err := json.Marshal(p.Doc())
	if err != nil {
		t.Fatal(err)
	}
	back, err := LoadDeploymentPlan(data)
	if err != nil {
		t.Fatalf("LoadDeploymentPlan: %v", err)
	}
	if back.PlanID != p.PlanID || back.Root != p.Root || back.ETA != p.ETA || back.Mode != p.Mode {
		t.Fatalf("round trip header mismatch: %+v vs %+v", back, p)
	}
	if !back.GeneratedAt.Equal(p.GeneratedAt) {
		t.Fatalf("generatedAt = %v, want %v", back.GeneratedAt, p.GeneratedAt)
	}
	for i := range p.Selectors {
		if back.Selectors[i] != p.Selectors[i] || back.Facets[i] != p.Facets[i] || back.Codehashes[i] != p.Codehashes[i] {
			t.Fatalf("route %d mismatch", i)
		}
	}
	if !bytes.Contains(data, []byte(`"etaReadable":"2024-03-02T12:00:00Z"`)) {
		t.Fatalf("missing readable eta in %s", data)
	}
}

func TestDeploymentDocValidate(t *testing.T) {
	d := DeploymentDoc{
		Selectors:  []string{"0xbbbbbbbb", "0xaaaaaaaa", "0x123"},
		Facets:     []string{"0x0000000000000000000000000000000000000000", "nope"},
		Codehashes: []string{"0x11", "0x" + string(bytes.Repeat([]byte("1"), 64))},
		Root:       "0x00",
		Mode:       "sideways",
	}
	errs := d.Validate()
	// length mismatch, descending order, bad selector, zero address, bad
	// address, bad codehash, bad root, bad mode
	if len(errs) != 8 {
		t.Fatalf("errors = %d, want 8: %v", len(errs), errkind.Messages(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, errkind.ErrStructural) {
			t.Fatalf("error %v is not structural", err)
		}
	}
	if _, err := (DeploymentDoc{}).Plan(); err == nil {
		t.Fatal("empty document accepted")
	}
}

func TestOrchestrationDoc(t *testing.T) {
	f := newFixture(t)
	_, o := buildPlans(t, f)
	d := o.Doc()

	if d.GasEstimate != "250000" || d.GasEstimateEth != "0.005" {
		t.Fatalf("gas = %s / %s, want 250000 / 0.005", d.GasEstimate, d.GasEstimateEth)
	}
	if d.Delay != 86400 {
		t.Fatalf("delay = %d, want 86400", d.Delay)
	}
	if d.ID != o.Plan.PlanID.Hex() {
		t.Fatalf("id = %s, want planId", d.ID)
	}

	data, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var back OrchestrationDoc
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	proofs, err := back.MerkleProofs()
	if err != nil {
		t.Fatalf("MerkleProofs: %v", err)
	}
	for _, p := range proofs {
		if !merkle.Verify(p, f.tree.Root) {
			t.Fatalf("decoded proof for %s does not verify", p.Selector.Hex())
		}
	}

	back.Proofs[0].Selector = back.Selectors[1]
	if _, err := back.MerkleProofs(); !errors.Is(err, errkind.ErrStructural) {
		t.Fatalf("misaligned proofs err = %v, want structural", err)
	}
}

func deployedChain(t *testing.T, f fixture, p *DeploymentPlan) *chaintest.Provider {
	t.Helper()
	prov := chaintest.New(1)
	prov.SetCode(facetA, codeA)
	prov.SetCode(facetB, codeB)
	routes := make(map[[4]byte]chain.Route)
	for i, sel := range p.Selectors {
		routes[sel] = chain.Route{Facet: p.Facets[i], Codehash: p.Codehashes[i]}
	}
	prov.SetDispatcher(dispatcher, chaintest.DispatcherState{Root: p.Root, Epoch: p.Epoch, Routes: routes})
	return prov
}

func TestPostDeploymentVerification(t *testing.T) {
	f := newFixture(t)
	p, o := buildPlans(t, f)
	prov := deployedChain(t, f, p)

	r, err := newBuilder().RunPostDeploymentVerification(context.Background(), PostDeploymentInput{
		Plan: p, Proofs: o.Proofs, Provider: prov, Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Passed() {
		t.Fatalf("verification failed: %v", r.Err())
	}
	if r.Dispatcher == nil || r.Dispatcher.ActiveRoot != p.Root || r.Dispatcher.ActiveEpoch != 7 {
		t.Fatalf("dispatcher state = %+v", r.Dispatcher)
	}
	// Two distinct facets, each fetched once.
	if n := prov.CodeCalls(); n != 2 {
		t.Fatalf("code calls = %d, want 2", n)
	}
}

func TestPostDeploymentVerificationDetectsDrift(t *testing.T) {
	f := newFixture(t)
	p, o := buildPlans(t, f)
	prov := deployedChain(t, f, p)
	prov.SetCode(facetB, []byte{0xfe})
	routes := map[[4]byte]chain.Route{
		p.Selectors[0]: {Facet: p.Facets[0], Codehash: p.Codehashes[0]},
		p.Selectors[1]: {Facet: facetB, Codehash: p.Codehashes[1]},
	}
	prov.SetDispatcher(dispatcher, chaintest.DispatcherState{Root: common.HexToHash("0x01"), Epoch: 6, Routes: routes})

	r, err := newBuilder().RunPostDeploymentVerification(context.Background(), PostDeploymentInput{
		Plan: p, Proofs: o.Proofs, Provider: prov, Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(r.CodehashMatches.Errs); n != 1 {
		t.Fatalf("codehash errors = %d, want 1", n)
	}
	// selector 1 routed to the wrong facet, selector 2 not routed
	if n := len(r.RouteIntegrity.Errs); n != 2 {
		t.Fatalf("route errors = %d, want 2: %v", n, r.RouteIntegrity.Err())
	}
	if n := len(r.DispatcherSync.Errs); n != 2 {
		t.Fatalf("sync errors = %d, want 2", n)
	}
	if n := len(r.MerkleVerification.Errs); n != 3 {
		t.Fatalf("proof errors = %d, want 3 (none verify against the active root)", n)
	}
}

func TestPostDeploymentCodehashesCheckedPerRoute(t *testing.T) {
	f := newFixture(t)
	p, o := buildPlans(t, f)
	prov := deployedChain(t, f, p)

	// Selectors 0 and 1 share facetA; only the second one's plan hash is off.
	if p.Facets[0] != p.Facets[1] {
		t.Fatalf("facets = %v, want the first two shared", p.Facets)
	}
	p.Codehashes[1] = common.HexToHash("0xbad")

	r, err := newBuilder().RunPostDeploymentVerification(context.Background(), PostDeploymentInput{
		Plan: p, Proofs: o.Proofs, Provider: prov,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.CodehashMatches.Passed() {
		t.Fatal("codehash mismatch on a shared facet passed")
	}
	if n := len(r.CodehashMatches.Errs); n != 1 {
		t.Fatalf("codehash errors = %d, want 1: %v", n, r.CodehashMatches.Err())
	}
	if !errors.Is(r.CodehashMatches.Errs[0], errkind.ErrConsistency) {
		t.Fatalf("err = %v, want consistency", r.CodehashMatches.Errs[0])
	}
	if msg := r.CodehashMatches.Errs[0].Error(); !strings.Contains(msg, p.Selectors[1].Hex()) {
		t.Fatalf("err %q does not name selector %s", msg, p.Selectors[1].Hex())
	}
	if n := prov.CodeCalls(); n != 2 {
		t.Fatalf("code calls = %d, want 2", n)
	}
}

func TestPostDeploymentVerificationRequirements(t *testing.T) {
	f := newFixture(t)
	p, o := buildPlans(t, f)
	b := newBuilder()

	if _, err := b.RunPostDeploymentVerification(context.Background(), PostDeploymentInput{Plan: p}); !errors.Is(err, errkind.ErrProvider) {
		t.Fatalf("nil provider err = %v, want provider error", err)
	}

	if _, err := b.RunPostDeploymentVerification(context.Background(), PostDeploymentInput{
		Plan: p, Provider: chaintest.New(5),
	}); !errors.Is(err, errkind.ErrConsistency) {
		t.Fatalf("wrong chain err = %v, want consistency", err)
	}

	prov := deployedChain(t, f, p)
	r, err := b.RunPostDeploymentVerification(context.Background(), PostDeploymentInput{Plan: p, Proofs: o.Proofs, Provider: prov})
	if err != nil {
		t.Fatal(err)
	}
	if !r.RouteIntegrity.Skipped || !r.DispatcherSync.Skipped || !r.Passed() {
		t.Fatalf("without a dispatcher route and sync checks should be skipped: %+v", r)
	}
}
