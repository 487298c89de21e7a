package codehash

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
)

// AddressPlan configures predictive facet addresses.
type AddressPlan struct {
	Factory    common.Address
	SaltPrefix string
	// Overrides pins facet addresses by name; these win over CREATE2.
	Overrides map[string]common.Address
}

// PredictAddresses resolves a deployment address for every artifact with
// runtime code. Without an override and without creation bytecode a facet
// is left out and reported in warnings.
func (o *Oracle) PredictAddresses(arts []*artifact.Artifact, p AddressPlan) (map[string]common.Address, []string) {
	factory := p.Factory
	if factory == (common.Address{}) {
		factory = chain.DefaultCreate2Factory
	}
	out := make(map[string]common.Address, len(arts))
	var warnings []string
	for _, a := range arts {
		if !a.HasRuntimeBytecode() {
			continue
		}
		if addr, ok := p.Overrides[a.ContractName]; ok {
			out[a.ContractName] = addr
			continue
		}
		initCode, err := DecodeBytecode(a.BytecodeHex)
		if err != nil {
			msg := a.ContractName + ": no address: creation bytecode: " + err.Error()
			o.log.Warn("cannot predict facet address", "facet", a.ContractName, "err", err)
			warnings = append(warnings, msg)
			continue
		}
		addr := chain.Create2Address(factory, chain.FacetSalt(p.SaltPrefix, a.ContractName), initCode)
		o.log.Debug("predicted facet address", "facet", a.ContractName, "address", addr.Hex())
		out[a.ContractName] = addr
	}
	return out, warnings
}
