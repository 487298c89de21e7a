// Package crypto holds the hashing primitives every manifest stage shares.
// All commitments (build hash, codehash, selector, route leaf, tree node)
// are legacy Keccak-256, matching the EVM's KECCAK256 opcode.
package crypto

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// Tagged hashes a one-byte domain tag followed by data. The manifest uses
// tag 0x00 for leaves and 0x01 for interior nodes.
func Tagged(tag byte, data ...[]byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte{tag})
	for _, b := range data {
		d.Write(b)
	}
	return common.BytesToHash(d.Sum(nil))
}
