package codehash

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// DefaultConcurrency bounds parallel getCode calls in observed mode.
const DefaultConcurrency = 8

// FacetCodehash is the code fingerprint of one facet.
type FacetCodehash struct {
	Name            string          `json:"name"`
	FacetAddress    *common.Address `json:"facetAddress,omitempty"`
	RuntimeBytecode []byte          `json:"-"`
	Codehash        common.Hash     `json:"codehash"`
	BuildHash       common.Hash     `json:"buildHash"`
}

// RuntimeSize is the length of the runtime bytecode in bytes.
func (f FacetCodehash) RuntimeSize() int { return len(f.RuntimeBytecode) }

// Batch is the result of a batch codehash computation, sorted by facet
// name. Warnings lists facets that were skipped; Failures lists per-facet
// errors that invalidate the batch.
type Batch struct {
	Mode       Mode
	Codehashes []FacetCodehash
	Warnings   []string
	Failures   []error
}

// Lookup returns the record for the named facet.
func (b *Batch) Lookup(name string) (FacetCodehash, bool) {
	i := sort.Search(len(b.Codehashes), func(i int) bool { return b.Codehashes[i].Name >= name })
	if i < len(b.Codehashes) && b.Codehashes[i].Name == name {
		return b.Codehashes[i], true
	}
	return FacetCodehash{}, false
}

// Set returns every codehash in the batch as a membership set.
func (b *Batch) Set() map[common.Hash]bool {
	out := make(map[common.Hash]bool, len(b.Codehashes))
	for _, c := range b.Codehashes {
		out[c.Codehash] = true
	}
	return out
}

// BuildPredictive hashes the runtime bytecode of every artifact. Artifacts
// without runtime bytecode, or with bytecode that does not decode (for
// example unlinked library placeholders), are skipped with a warning. It
// fails with ErrNoDeployableArtifacts when nothing is left.
func (o *Oracle) BuildPredictive(arts []*artifact.Artifact) (*Batch, error) {
	b := &Batch{Mode: Predictive}
	for _, a := range arts {
		if !a.HasRuntimeBytecode() {
			b.warn(o, a.ContractName, "no runtime bytecode (interface or abstract)")
			continue
		}
		code, err := DecodeBytecode(a.DeployedBytecodeHex)
		if err != nil {
			b.warn(o, a.ContractName, err.Error())
			continue
		}
		b.Codehashes = append(b.Codehashes, FacetCodehash{
			Name:            a.ContractName,
			RuntimeBytecode: code,
			Codehash:        crypto.Keccak256Hash(code),
			BuildHash:       o.buildHash,
		})
	}
	if len(b.Codehashes) == 0 {
		return b, errkind.New(errkind.ErrStructural, "codehash", "predictive", ErrNoDeployableArtifacts)
	}
	sortByName(b.Codehashes)
	o.log.Info("predictive codehashes", "facets", len(b.Codehashes), "skipped", len(b.Warnings))
	return b, nil
}

// BuildObserved fetches and hashes the deployed code of every facet in
// deployed, with at most concurrency requests in flight. Every facet is
// attempted; if any fails the joined error is returned alongside the
// partial batch so callers can report each failure, but the batch must not
// be used to build a tree.
func (o *Oracle) BuildObserved(ctx context.Context, r chain.CodeReader, deployed map[string]common.Address, concurrency int) (*Batch, error) {
	if len(deployed) == 0 {
		return &Batch{Mode: Observed}, errkind.New(errkind.ErrStructural, "codehash", "observed", ErrNoDeployableArtifacts)
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	names := make([]string, 0, len(deployed))
	for name := range deployed {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]FacetCodehash, len(names))
	errs := make([]error, len(names))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, name := range names {
		addr := deployed[name]
		g.Go(func() error {
			h, code, err := ObserveCodehash(ctx, r, addr)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
				return nil
			}
			a := addr
			results[i] = FacetCodehash{
				Name:            name,
				FacetAddress:    &a,
				RuntimeBytecode: code,
				Codehash:        h,
				BuildHash:       o.buildHash,
			}
			return nil
		})
	}
	_ = g.Wait()

	b := &Batch{Mode: Observed}
	for i := range names {
		if errs[i] != nil {
			b.Failures = append(b.Failures, errs[i])
			o.log.Error("observe failed", "facet", names[i], "err", errs[i])
			continue
		}
		b.Codehashes = append(b.Codehashes, results[i])
	}
	o.log.Info("observed codehashes", "facets", len(b.Codehashes), "failed", len(b.Failures))
	if len(b.Failures) > 0 {
		return b, errkind.Join(b.Failures)
	}
	return b, nil
}

func (b *Batch) warn(o *Oracle, facet, msg string) {
	o.log.Warn("skipping facet", "facet", facet, "reason", msg)
	b.Warnings = append(b.Warnings, facet+": "+msg)
}

func sortByName(cs []FacetCodehash) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}
