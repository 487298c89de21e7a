package merkle

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// ManifestRoot is the manifest.root.json document.
type ManifestRoot struct {
	ChainID   uint64             `json:"chainId"`
	Epoch     uint64             `json:"epoch"`
	Root      common.Hash        `json:"root"`
	Solc      string             `json:"solc"`
	Optimizer codehash.Optimizer `json:"optimizer"`
	Metadata  string             `json:"metadata"`
	LeafOrder string             `json:"leafOrder"`
	Leaves    int                `json:"leaves"`
	BuildHash common.Hash        `json:"buildHash"`
	Timestamp int64              `json:"timestamp"`
}

// NewManifestRoot describes t for the given chain, epoch and build.
func NewManifestRoot(t *Tree, chainID, epoch uint64, cfg codehash.BuildConfig, buildHash common.Hash, now time.Time) ManifestRoot {
	return ManifestRoot{
		ChainID:   chainID,
		Epoch:     epoch,
		Root:      t.Root,
		Solc:      cfg.SolcVersion,
		Optimizer: cfg.Optimizer,
		Metadata:  cfg.MetadataPolicy,
		LeafOrder: LeafOrder,
		Leaves:    len(t.Leaves),
		BuildHash: buildHash,
		Timestamp: now.UnixMilli(),
	}
}

// ParsePositions parses a 0x-prefixed hex bitfield. Leading zeros are
// accepted.
func ParsePositions(s string) (*uint256.Int, error) {
	if !strings.HasPrefix(s, "0x") || len(s) == 2 {
		return nil, errkind.Newf(errkind.ErrStructural, "positions", s, "want 0x-prefixed hex")
	}
	b, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return nil, errkind.Newf(errkind.ErrStructural, "positions", s, "not hex")
	}
	z, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errkind.Newf(errkind.ErrStructural, "positions", s, "exceeds 256 bits")
	}
	return z, nil
}

func positionsHex(z *uint256.Int) string {
	if z == nil {
		return "0x0"
	}
	return z.Hex()
}

// ProofEntry is one proof in proofs.json, keyed by its selector.
type ProofEntry struct {
	Facet     string        `json:"facet"`
	Codehash  common.Hash   `json:"codehash"`
	Proof     []common.Hash `json:"proof"`
	Positions string        `json:"positions"`
	LeafIndex int           `json:"leafIndex"`
}

type proofJSON struct {
	Selector string `json:"selector"`
	ProofEntry
}

func (p Proof) entry() ProofEntry {
	sibs := p.Siblings
	if sibs == nil {
		sibs = []common.Hash{}
	}
	return ProofEntry{
		Facet:     p.Facet.Hex(),
		Codehash:  p.Codehash,
		Proof:     sibs,
		Positions: positionsHex(p.Positions),
		LeafIndex: p.LeafIndex,
	}
}

func (e ProofEntry) proof(sel string) (Proof, error) {
	leaf, err := ParseRouteLeaf(sel, e.Facet, e.Codehash.Hex())
	if err != nil {
		return Proof{}, err
	}
	pos, err := ParsePositions(e.Positions)
	if err != nil {
		return Proof{}, err
	}
	return Proof{
		Selector:  leaf.Selector,
		Facet:     leaf.Facet,
		Codehash:  leaf.Codehash,
		Siblings:  e.Proof,
		Positions: pos,
		LeafIndex: e.LeafIndex,
	}, nil
}

// MarshalJSON encodes positions as a hex bitfield and the facet in
// checksum form.
func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofJSON{Selector: p.Selector.Hex(), ProofEntry: p.entry()})
}

func (p *Proof) UnmarshalJSON(data []byte) error {
	var raw proofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := raw.proof(raw.Selector)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ProofsExport is the proofs.json document.
type ProofsExport struct {
	Root        common.Hash           `json:"root"`
	TotalProofs int                   `json:"totalProofs"`
	LeafOrder   string                `json:"leafOrder"`
	Proofs      map[string]ProofEntry `json:"proofs"`
}

// ExportProofs renders every proof in t keyed by selector hex.
func (t *Tree) ExportProofs() ProofsExport {
	e := ProofsExport{
		Root:        t.Root,
		TotalProofs: len(t.Proofs),
		LeafOrder:   LeafOrder,
		Proofs:      make(map[string]ProofEntry, len(t.Proofs)),
	}
	for _, p := range t.Proofs {
		e.Proofs[p.Selector.Hex()] = p.entry()
	}
	return e
}

// ProofList parses the export back into proofs ordered by leaf index.
func (e ProofsExport) ProofList() ([]Proof, error) {
	out := make([]Proof, 0, len(e.Proofs))
	for sel, entry := range e.Proofs {
		p, err := entry.proof(sel)
		if err != nil {
			return nil, fmt.Errorf("proof %s: %w", sel, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeafIndex < out[j].LeafIndex })
	return out, nil
}
