package pipeline

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/metrics"
)

// Mode selects where facet codehashes and addresses come from. It is
// either Predictive or Observed.
type Mode interface {
	codehashMode() codehash.Mode
}

// Predictive derives codehashes from compiled runtime bytecode and facet
// addresses from CREATE2.
type Predictive struct {
	Addresses codehash.AddressPlan
}

// Observed reads deployed code through Provider for every facet in
// DeployedFacets. Timeout bounds the whole fetch stage; zero means no
// timeout beyond the provider's own.
type Observed struct {
	Provider       chain.CodeReader
	DeployedFacets map[string]common.Address
	Concurrency    int
	Timeout        time.Duration
}

func (Predictive) codehashMode() codehash.Mode { return codehash.Predictive }
func (Observed) codehashMode() codehash.Mode   { return codehash.Observed }

// meteredReader counts getCode calls by outcome.
type meteredReader struct {
	r chain.CodeReader
	m *metrics.Pipeline
}

func (mr meteredReader) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	code, err := mr.r.CodeAt(ctx, account, blockNumber)
	mr.m.ProviderCall(err)
	return code, err
}
