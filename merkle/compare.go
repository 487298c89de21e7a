package merkle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// CompareTrees checks that two builds committed to the same leaves in the
// same order under the same root.
func CompareTrees(a, b *Tree) error {
	if len(a.Leaves) != len(b.Leaves) {
		return errkind.Newf(errkind.ErrConsistency, "reproducibility", "", "leaf count %d vs %d", len(a.Leaves), len(b.Leaves))
	}
	for i := range a.Leaves {
		if a.Leaves[i].RouteLeaf != b.Leaves[i].RouteLeaf {
			return errkind.Newf(errkind.ErrConsistency, "reproducibility", "",
				"leaf %d differs: %s vs %s", i, a.Leaves[i].Selector.Hex(), b.Leaves[i].Selector.Hex())
		}
	}
	if a.Root != b.Root {
		return errkind.Newf(errkind.ErrConsistency, "reproducibility", "", "root %s vs %s", a.Root.Hex(), b.Root.Hex())
	}
	return nil
}

var manifestArgs = mustArguments("bytes32", "uint256", "address", "uint256", "bytes32", "bytes32")

// ManifestHash is the digest an external signer attests to when publishing
// a manifest: keccak256(abi.encode(version, timestamp, deployer, chainId,
// previousHash, root)).
func ManifestHash(version common.Hash, timestamp uint64, deployer common.Address, chainID uint64, previous, root common.Hash) common.Hash {
	enc, err := manifestArgs.Pack(
		[32]byte(version),
		new(big.Int).SetUint64(timestamp),
		deployer,
		new(big.Int).SetUint64(chainID),
		[32]byte(previous),
		[32]byte(root),
	)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}
