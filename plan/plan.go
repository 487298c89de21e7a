// Package plan assembles deployment and orchestration plans from a built
// route tree and runs the validation gates that decide whether a plan is
// ready for an external executor.
package plan

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/merkle"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

// DefaultTimelockDelay is the default delay between plan generation and
// earliest execution.
const DefaultTimelockDelay = 24 * time.Hour

// Gas model for the orchestration estimate.
const (
	GasBase        = 100_000
	GasPerSelector = 50_000
	// AssumedGasPriceWei is the price used for gasEstimateEth (20 gwei).
	AssumedGasPriceWei = 20_000_000_000
)

// ErrMissingProof means a plan selector has no proof in the tree it claims
// to come from.
var ErrMissingProof = errors.New("missing proof")

// DeploymentPlan is the set of routes to commit. Selectors, Facets and
// Codehashes are index-aligned with the tree's sorted leaves.
type DeploymentPlan struct {
	PlanID      common.Hash
	Selectors   []selector.Selector
	Facets      []common.Address
	Codehashes  []common.Hash
	Root        common.Hash
	ETA         int64
	ChainID     uint64
	Epoch       uint64
	Mode        codehash.Mode
	GeneratedAt time.Time
}

// OrchestrationPlan is a deployment plan with one proof per selector and a
// coarse gas estimate.
type OrchestrationPlan struct {
	Plan        *DeploymentPlan
	Proofs      []merkle.Proof
	GasEstimate *uint256.Int
	Delay       time.Duration
}

// Builder creates plans. The zero delay means DefaultTimelockDelay.
type Builder struct {
	delay time.Duration
	now   func() time.Time
	log   *log.Logger
}

// NewBuilder returns a Builder. now may be nil to use the wall clock.
func NewBuilder(delay time.Duration, now func() time.Time, logger *log.Logger) *Builder {
	if delay <= 0 {
		delay = DefaultTimelockDelay
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{delay: delay, now: now, log: log.OrDefault(logger).Module("plan")}
}

// Delay returns the timelock delay.
func (b *Builder) Delay() time.Duration { return b.delay }

var planIDArgs = func() abi.Arguments {
	var args abi.Arguments
	for _, t := range []string{"bytes32", "uint256", "uint256"} {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}()

// PlanID returns keccak256(abi.encode(root, epoch, generatedAtMillis)).
func PlanID(root common.Hash, epoch uint64, generatedAt time.Time) common.Hash {
	enc, err := planIDArgs.Pack([32]byte(root), new(big.Int).SetUint64(epoch), big.NewInt(generatedAt.UnixMilli()))
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// BuildDeploymentPlan derives a plan strictly from tree's leaf order. Every
// leaf codehash must belong to the supplied codehash set, and the manifest
// must describe the same root.
func (b *Builder) BuildDeploymentPlan(tree *merkle.Tree, mr merkle.ManifestRoot, codehashes []codehash.FacetCodehash, mode codehash.Mode) (*DeploymentPlan, error) {
	if tree == nil || len(tree.Leaves) == 0 {
		return nil, errkind.New(errkind.ErrStructural, "plan", "", merkle.ErrEmptyLeafSet)
	}
	if mr.Root != tree.Root {
		return nil, errkind.Newf(errkind.ErrConsistency, "plan", "", "manifest root %s does not match tree root %s",
			mr.Root.Hex(), tree.Root.Hex())
	}
	known := make(map[common.Hash]bool, len(codehashes))
	for _, c := range codehashes {
		known[c.Codehash] = true
	}

	n := len(tree.Leaves)
	p := &DeploymentPlan{
		Selectors:  make([]selector.Selector, n),
		Facets:     make([]common.Address, n),
		Codehashes: make([]common.Hash, n),
		Root:       tree.Root,
		ChainID:    mr.ChainID,
		Epoch:      mr.Epoch,
		Mode:       mode,
	}
	var errs []error
	for i, l := range tree.Leaves {
		p.Selectors[i] = l.Selector
		p.Facets[i] = l.Facet
		p.Codehashes[i] = l.Codehash
		if !known[l.Codehash] {
			errs = append(errs, errkind.Newf(errkind.ErrConsistency, "plan", l.Selector.Hex(),
				"codehash %s not in the %s codehash set", l.Codehash.Hex(), mode))
		}
	}
	if err := errkind.Join(errs); err != nil {
		return nil, err
	}

	now := b.now()
	p.GeneratedAt = now
	p.PlanID = PlanID(p.Root, p.Epoch, now)
	p.ETA = now.Add(b.delay).Unix()
	b.log.Info("deployment plan built", "planId", p.PlanID.Hex(), "selectors", n, "eta", p.ETA, "mode", mode)
	return p, nil
}

// BuildOrchestrationPlan attaches a proof for every plan selector. A
// missing proof is an integrity failure: the plan was not derived from
// this tree.
func (b *Builder) BuildOrchestrationPlan(tree *merkle.Tree, p *DeploymentPlan) (*OrchestrationPlan, error) {
	proofs := make([]merkle.Proof, 0, len(p.Selectors))
	for _, sel := range p.Selectors {
		pr, ok := tree.Proof(sel)
		if !ok {
			return nil, errkind.New(errkind.ErrIntegrity, "orchestration", sel.Hex(), ErrMissingProof)
		}
		proofs = append(proofs, pr)
	}
	return &OrchestrationPlan{
		Plan:        p,
		Proofs:      proofs,
		GasEstimate: EstimateGas(len(p.Selectors)),
		Delay:       b.delay,
	}, nil
}

// EstimateGas is GasBase + GasPerSelector*selectors.
func EstimateGas(selectors int) *uint256.Int {
	g := uint256.NewInt(GasPerSelector)
	g.Mul(g, uint256.NewInt(uint64(selectors)))
	return g.AddUint64(g, GasBase)
}

// EstimateCostWei prices gas at AssumedGasPriceWei.
func EstimateCostWei(gas *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(gas, uint256.NewInt(AssumedGasPriceWei))
}

var weiPerEther = uint256.NewInt(1_000_000_000_000_000_000)

// FormatEther renders a wei amount as a decimal ether string, with at
// least one fractional digit ("1.0", "0.004").
func FormatEther(wei *uint256.Int) string {
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(wei, weiPerEther, r)
	frac := r.Dec()
	for len(frac) < 18 {
		frac = "0" + frac
	}
	for len(frac) > 1 && frac[len(frac)-1] == '0' {
		frac = frac[:len(frac)-1]
	}
	return q.Dec() + "." + frac
}
