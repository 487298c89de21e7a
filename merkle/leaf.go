// Package merkle builds the ordered, domain-separated route tree committed
// to the on-chain dispatcher, generates inclusion proofs with a position
// bitfield, and verifies them.
//
// Hashing is fixed by the dispatcher's verifier:
//
//	routeLeaf   = keccak256(abi.encode(bytes4 selector, address facet, bytes32 codehash))
//	leafHash    = keccak256(0x00 ++ routeLeaf)
//	nodeHash    = keccak256(0x01 ++ left ++ right)
//
// Leaves are sorted ascending by selector. An odd node at any level is
// paired with itself.
package merkle

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/selector"
)

// Domain tags and leaf order policy.
const (
	LeafDomainTag byte = 0x00
	NodeDomainTag byte = 0x01
	LeafOrder          = "selector-asc"
)

// ErrEmptyLeafSet is returned when building a tree with no leaves.
var ErrEmptyLeafSet = errors.New("empty leaf set")

// RouteLeaf binds a selector to the facet that serves it and the code that
// facet must have.
type RouteLeaf struct {
	Selector selector.Selector
	Facet    common.Address
	Codehash common.Hash
}

// ParseRouteLeaf validates and parses the textual form of a leaf. The
// selector must be 0x + 8 hex chars, the facet a checksum-valid address and
// the codehash exactly 32 bytes.
func ParseRouteLeaf(sel, facet, codehash string) (RouteLeaf, error) {
	s, err := selector.ParseSelector(sel)
	if err != nil {
		return RouteLeaf{}, err
	}
	a, err := chain.ParseAddress(facet)
	if err != nil {
		return RouteLeaf{}, err
	}
	h, err := ParseHash(codehash)
	if err != nil {
		return RouteLeaf{}, err
	}
	return RouteLeaf{Selector: s, Facet: a, Codehash: h}, nil
}

// ParseHash parses a 0x-prefixed 32-byte hash.
func ParseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, errkind.New(errkind.ErrStructural, "hash", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, errkind.Newf(errkind.ErrStructural, "hash", s, "want 32 bytes, got %d", len(b))
	}
	return common.BytesToHash(b), nil
}

var leafArgs = mustArguments("bytes4", "address", "bytes32")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// Encode returns abi.encode(bytes4, address, bytes32) of the leaf.
func (l RouteLeaf) Encode() []byte {
	out, err := leafArgs.Pack([4]byte(l.Selector), l.Facet, [32]byte(l.Codehash))
	if err != nil {
		// Fixed-size values of the declared types always pack.
		panic(err)
	}
	return out
}

// RouteHash returns keccak256 of the encoded leaf, before domain tagging.
func (l RouteLeaf) RouteHash() common.Hash {
	return crypto.Keccak256Hash(l.Encode())
}

// LeafHash returns the domain-tagged level-0 hash of the leaf.
func (l RouteLeaf) LeafHash() common.Hash {
	return LeafHash(l.RouteHash())
}

// LeafHash tags a route hash with the leaf domain.
func LeafHash(route common.Hash) common.Hash {
	return crypto.Tagged(LeafDomainTag, route[:])
}

// NodeHash combines two children with the node domain tag. Order matters.
func NodeHash(left, right common.Hash) common.Hash {
	return crypto.Tagged(NodeDomainTag, left[:], right[:])
}
