package merkle

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

// maxDepth is the number of position bits the on-chain uint256 can carry.
const maxDepth = 256

// Leaf is a RouteLeaf placed in a tree.
type Leaf struct {
	RouteLeaf
	Hash  common.Hash
	Index int
}

// Proof is an inclusion proof for one leaf. Bit i of Positions is set iff
// the path node at level i is a left child.
type Proof struct {
	Selector  selector.Selector
	Facet     common.Address
	Codehash  common.Hash
	Siblings  []common.Hash
	Positions *uint256.Int
	LeafIndex int
}

// Leaf returns the route leaf the proof commits to.
func (p Proof) Leaf() RouteLeaf {
	return RouteLeaf{Selector: p.Selector, Facet: p.Facet, Codehash: p.Codehash}
}

// Tree is a built route tree. Leaves are sorted by selector; Proofs is
// index-aligned with Leaves. Levels[0] holds the leaf hashes and the last
// level holds only the root.
type Tree struct {
	Root   common.Hash
	Leaves []Leaf
	Proofs []Proof
	Levels [][]common.Hash
}

// Build sorts leaves by selector and builds the tree. The input slice is
// not modified. Duplicate selectors are rejected.
func Build(leaves []RouteLeaf) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errkind.New(errkind.ErrStructural, "merkle", "build", ErrEmptyLeafSet)
	}
	sorted := slices.Clone(leaves)
	slices.SortFunc(sorted, func(a, b RouteLeaf) int { return a.Selector.Compare(b.Selector) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Selector == sorted[i-1].Selector {
			return nil, errkind.Newf(errkind.ErrStructural, "merkle", sorted[i].Selector.Hex(), "duplicate selector")
		}
	}

	t := &Tree{Leaves: make([]Leaf, len(sorted))}
	level := make([]common.Hash, len(sorted))
	for i, l := range sorted {
		h := l.LeafHash()
		t.Leaves[i] = Leaf{RouteLeaf: l, Hash: h, Index: i}
		level[i] = h
	}
	t.Levels = append(t.Levels, level)
	for len(level) > 1 {
		next := make([]common.Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := left
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = NodeHash(left, right)
		}
		t.Levels = append(t.Levels, next)
		level = next
	}
	t.Root = level[0]

	t.Proofs = make([]Proof, len(t.Leaves))
	for i := range t.Leaves {
		t.Proofs[i] = t.proof(i)
	}
	return t, nil
}

func (t *Tree) proof(index int) Proof {
	l := t.Leaves[index]
	p := Proof{
		Selector:  l.Selector,
		Facet:     l.Facet,
		Codehash:  l.Codehash,
		Siblings:  make([]common.Hash, 0, len(t.Levels)-1),
		Positions: new(uint256.Int),
		LeafIndex: index,
	}
	idx := index
	for depth, level := range t.Levels[:len(t.Levels)-1] {
		if idx%2 == 0 {
			sib := idx + 1
			if sib >= len(level) {
				sib = idx
			}
			p.Siblings = append(p.Siblings, level[sib])
			p.Positions.Or(p.Positions, new(uint256.Int).Lsh(uint256.NewInt(1), uint(depth)))
		} else {
			p.Siblings = append(p.Siblings, level[idx-1])
		}
		idx /= 2
	}
	return p
}

// Proof returns the proof for sel.
func (t *Tree) Proof(sel selector.Selector) (Proof, bool) {
	i := sort.Search(len(t.Leaves), func(i int) bool { return t.Leaves[i].Selector.Compare(sel) >= 0 })
	if i < len(t.Leaves) && t.Leaves[i].Selector == sel {
		return t.Proofs[i], true
	}
	return Proof{}, false
}

// Selectors returns the leaf selectors in tree order.
func (t *Tree) Selectors() []selector.Selector {
	out := make([]selector.Selector, len(t.Leaves))
	for i, l := range t.Leaves {
		out[i] = l.Selector
	}
	return out
}

// RouteLeaves returns the leaves in tree order without placement data.
func (t *Tree) RouteLeaves() []RouteLeaf {
	out := make([]RouteLeaf, len(t.Leaves))
	for i, l := range t.Leaves {
		out[i] = l.RouteLeaf
	}
	return out
}

// ComputeRoot walks a proof from its leaf to the root it implies. It fails
// when positions carries bits beyond the proof length.
func ComputeRoot(p Proof) (common.Hash, error) {
	if len(p.Siblings) > maxDepth {
		return common.Hash{}, fmt.Errorf("proof depth %d exceeds %d", len(p.Siblings), maxDepth)
	}
	pos := p.Positions
	if pos == nil {
		pos = new(uint256.Int)
	}
	if pos.BitLen() > len(p.Siblings) {
		return common.Hash{}, fmt.Errorf("positions %s has bits beyond proof length %d", pos.Hex(), len(p.Siblings))
	}
	cur := p.Leaf().LeafHash()
	for i, sib := range p.Siblings {
		if bitAt(pos, i) == 1 {
			cur = NodeHash(cur, sib)
		} else {
			cur = NodeHash(sib, cur)
		}
	}
	return cur, nil
}

// bitAt reads bit i of a little-endian limb uint256.
func bitAt(z *uint256.Int, i int) uint64 {
	return (z[i/64] >> (uint(i) % 64)) & 1
}

// Verify reports whether p proves its leaf under root.
func Verify(p Proof, root common.Hash) bool {
	got, err := ComputeRoot(p)
	return err == nil && got == root
}

// CheckProof is Verify with a descriptive error.
func CheckProof(p Proof, root common.Hash) error {
	got, err := ComputeRoot(p)
	if err != nil {
		return fmt.Errorf("proof %s: %w", p.Selector.Hex(), err)
	}
	if got != root {
		return fmt.Errorf("proof %s: computed root %s, want %s", p.Selector.Hex(), got.Hex(), root.Hex())
	}
	return nil
}

// VerifyAll checks every proof against the tree's own root. A failure here
// means the builder is broken, so it is reported as an integrity error.
func (t *Tree) VerifyAll() error {
	var errs []error
	for _, p := range t.Proofs {
		if err := CheckProof(p, t.Root); err != nil {
			errs = append(errs, errkind.New(errkind.ErrIntegrity, "merkle", p.Selector.Hex(), err))
		}
	}
	return errkind.Join(errs)
}
