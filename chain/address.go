package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// DefaultCreate2Factory is the deterministic deployment proxy present on
// most EVM chains.
var DefaultCreate2Factory = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// ParseAddress parses a 0x-prefixed 20-byte address. All-lowercase and
// all-uppercase forms are accepted; mixed case must be a valid EIP-55
// checksum.
func ParseAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, errkind.Newf(errkind.ErrStructural, "address", s, "missing 0x prefix")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, errkind.Newf(errkind.ErrStructural, "address", s, "not a 20-byte hex address")
	}
	a := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && a.Hex() != "0x"+body {
		return common.Address{}, errkind.Newf(errkind.ErrStructural, "address", s, "bad checksum, want %s", a.Hex())
	}
	return a, nil
}

// FacetSalt is the CREATE2 salt for a facet: keccak256(prefix ++ name).
func FacetSalt(prefix, name string) common.Hash {
	return crypto.Keccak256Hash([]byte(prefix + name))
}

// Create2Address predicts the address of initCode deployed by factory with
// salt.
func Create2Address(factory common.Address, salt common.Hash, initCode []byte) common.Address {
	return gethcrypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}
