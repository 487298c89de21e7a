package plan

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

// DeploymentDoc is the deployment-plan.json document. It is also the form
// the structural gate validates, so what is checked is what is emitted.
type DeploymentDoc struct {
	PlanID      string   `json:"planId"`
	Selectors   []string `json:"selectors"`
	Facets      []string `json:"facets"`
	Codehashes  []string `json:"codehashes"`
	Root        string   `json:"root"`
	ETA         int64    `json:"eta"`
	ChainID     uint64   `json:"chainId"`
	Epoch       uint64   `json:"epoch"`
	Mode        string   `json:"mode"`
	Timestamp   string   `json:"timestamp,omitempty"`
	ETAReadable string   `json:"etaReadable,omitempty"`
}

// Doc renders the plan. Facet addresses use EIP-55 checksums.
func (p *DeploymentPlan) Doc() DeploymentDoc {
	d := DeploymentDoc{
		PlanID:      p.PlanID.Hex(),
		Selectors:   make([]string, len(p.Selectors)),
		Facets:      make([]string, len(p.Facets)),
		Codehashes:  make([]string, len(p.Codehashes)),
		Root:        p.Root.Hex(),
		ETA:         p.ETA,
		ChainID:     p.ChainID,
		Epoch:       p.Epoch,
		Mode:        string(p.Mode),
		ETAReadable: time.Unix(p.ETA, 0).UTC().Format(time.RFC3339),
	}
	if !p.GeneratedAt.IsZero() {
		d.Timestamp = p.GeneratedAt.UTC().Format(time.RFC3339Nano)
	}
	for i, s := range p.Selectors {
		d.Selectors[i] = s.Hex()
	}
	for i, f := range p.Facets {
		d.Facets[i] = f.Hex()
	}
	for i, c := range p.Codehashes {
		d.Codehashes[i] = c.Hex()
	}
	return d
}

var (
	selectorRE = regexp.MustCompile(`^0x[0-9a-fA-F]{8}$`)
	hash32RE   = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// Validate returns every structural problem in the document: array length
// mismatch, an empty plan, bad selector or codehash formats, invalid or
// zero facet addresses, and selectors that are not strictly ascending.
func (d DeploymentDoc) Validate() []error {
	var errs []error
	bad := func(subject, format string, args ...any) {
		errs = append(errs, errkind.Newf(errkind.ErrStructural, "plan validity", subject, format, args...))
	}
	if len(d.Selectors) != len(d.Facets) || len(d.Facets) != len(d.Codehashes) {
		bad("", "array length mismatch: %d selectors, %d facets, %d codehashes",
			len(d.Selectors), len(d.Facets), len(d.Codehashes))
	}
	if len(d.Selectors) == 0 {
		bad("", "plan has no selectors")
	}
	for i, s := range d.Selectors {
		if !selectorRE.MatchString(s) {
			bad(s, "invalid selector format")
			continue
		}
		if i > 0 && selectorRE.MatchString(d.Selectors[i-1]) {
			prev, _ := selector.ParseSelector(d.Selectors[i-1])
			cur, _ := selector.ParseSelector(s)
			if prev.Compare(cur) >= 0 {
				bad(s, "selectors not strictly ascending at index %d", i)
			}
		}
	}
	for _, f := range d.Facets {
		a, err := chain.ParseAddress(f)
		if err != nil {
			errs = append(errs, errkind.New(errkind.ErrStructural, "plan validity", f, err))
			continue
		}
		if a == (common.Address{}) {
			bad(f, "zero facet address")
		}
	}
	for _, c := range d.Codehashes {
		if !hash32RE.MatchString(c) {
			bad(c, "invalid codehash format")
		}
	}
	if !hash32RE.MatchString(d.Root) {
		bad(d.Root, "invalid root format")
	}
	if _, err := codehash.ParseMode(d.Mode); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Plan parses a validated document back into a DeploymentPlan.
func (d DeploymentDoc) Plan() (*DeploymentPlan, error) {
	if err := errkind.Join(d.Validate()); err != nil {
		return nil, err
	}
	p := &DeploymentPlan{
		Selectors:  make([]selector.Selector, len(d.Selectors)),
		Facets:     make([]common.Address, len(d.Facets)),
		Codehashes: make([]common.Hash, len(d.Codehashes)),
		Root:       common.HexToHash(d.Root),
		ETA:        d.ETA,
		ChainID:    d.ChainID,
		Epoch:      d.Epoch,
		Mode:       codehash.Mode(d.Mode),
	}
	if d.PlanID != "" {
		id, err := merkle.ParseHash(d.PlanID)
		if err != nil {
			return nil, err
		}
		p.PlanID = id
	}
	if d.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, d.Timestamp); err == nil {
			p.GeneratedAt = ts
		}
	}
	for i := range d.Selectors {
		p.Selectors[i], _ = selector.ParseSelector(d.Selectors[i])
		p.Facets[i], _ = chain.ParseAddress(d.Facets[i])
		p.Codehashes[i] = common.HexToHash(d.Codehashes[i])
	}
	return p, nil
}

// Leaves returns the plan's routes as tree leaves, in plan order.
func (p *DeploymentPlan) Leaves() []merkle.RouteLeaf {
	out := make([]merkle.RouteLeaf, len(p.Selectors))
	for i := range p.Selectors {
		out[i] = merkle.RouteLeaf{Selector: p.Selectors[i], Facet: p.Facets[i], Codehash: p.Codehashes[i]}
	}
	return out
}

// LoadDeploymentPlan decodes and validates deployment-plan.json.
func LoadDeploymentPlan(data []byte) (*DeploymentPlan, error) {
	var d DeploymentDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errkind.New(errkind.ErrStructural, "plan", "decode", err)
	}
	return d.Plan()
}

// ProofRef is one proof entry of the orchestration document.
type ProofRef struct {
	Selector  string        `json:"selector"`
	Proof     []common.Hash `json:"proof"`
	Positions string        `json:"positions"`
}

// OrchestrationDoc is the orchestration-plan.json document.
type OrchestrationDoc struct {
	ID             string     `json:"id"`
	Root           string     `json:"root"`
	ChainID        uint64     `json:"chainId"`
	Epoch          uint64     `json:"epoch"`
	ETA            int64      `json:"eta"`
	Selectors      []string   `json:"selectors"`
	Facets         []string   `json:"facets"`
	Codehashes     []string   `json:"codehashes"`
	Proofs         []ProofRef `json:"proofs"`
	GasEstimate    string     `json:"gasEstimate"`
	GasEstimateEth string     `json:"gasEstimateEth"`
	Delay          int64      `json:"delay"`
	Timestamp      string     `json:"timestamp,omitempty"`
}

// Doc renders the orchestration plan.
func (o *OrchestrationPlan) Doc() OrchestrationDoc {
	dd := o.Plan.Doc()
	cost := EstimateCostWei(o.GasEstimate)
	d := OrchestrationDoc{
		ID:             dd.PlanID,
		Root:           dd.Root,
		ChainID:        dd.ChainID,
		Epoch:          dd.Epoch,
		ETA:            dd.ETA,
		Selectors:      dd.Selectors,
		Facets:         dd.Facets,
		Codehashes:     dd.Codehashes,
		Proofs:         make([]ProofRef, len(o.Proofs)),
		GasEstimate:    o.GasEstimate.Dec(),
		GasEstimateEth: FormatEther(cost),
		Delay:          int64(o.Delay / time.Second),
		Timestamp:      dd.Timestamp,
	}
	for i, p := range o.Proofs {
		sibs := p.Siblings
		if sibs == nil {
			sibs = []common.Hash{}
		}
		d.Proofs[i] = ProofRef{Selector: p.Selector.Hex(), Proof: sibs, Positions: p.Positions.Hex()}
	}
	return d
}

// MerkleProofs parses the document's proofs against its own plan arrays.
func (d OrchestrationDoc) MerkleProofs() ([]merkle.Proof, error) {
	if len(d.Proofs) != len(d.Selectors) || len(d.Facets) != len(d.Selectors) || len(d.Codehashes) != len(d.Selectors) {
		return nil, errkind.Newf(errkind.ErrStructural, "orchestration", d.ID, "proof count %d, selectors %d", len(d.Proofs), len(d.Selectors))
	}
	out := make([]merkle.Proof, len(d.Proofs))
	for i, ref := range d.Proofs {
		if ref.Selector != d.Selectors[i] {
			return nil, errkind.Newf(errkind.ErrStructural, "orchestration", ref.Selector, "proof %d does not match selector %s", i, d.Selectors[i])
		}
		leaf, err := merkle.ParseRouteLeaf(ref.Selector, d.Facets[i], d.Codehashes[i])
		if err != nil {
			return nil, err
		}
		pos, err := merkle.ParsePositions(ref.Positions)
		if err != nil {
			return nil, err
		}
		out[i] = merkle.Proof{
			Selector:  leaf.Selector,
			Facet:     leaf.Facet,
			Codehash:  leaf.Codehash,
			Siblings:  ref.Proof,
			Positions: pos,
			LeafIndex: i,
		}
	}
	return out, nil
}
