// Package chain is the adapter between the manifest tooling and an
// Ethereum JSON-RPC endpoint. It is the only package that dials go-ethereum's
// ethclient; everything else depends on the small interfaces below so tests
// can substitute in-memory fakes.
package chain

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// CodeReader fetches deployed runtime code. A nil blockNumber means latest.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Provider is everything observed mode and post-deployment verification
// need from a node. *ethclient.Client satisfies it.
type Provider interface {
	CodeReader
	Caller
}

// ChainIDReader is implemented by providers that can report their chain id.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Provider = (*ethclient.Client)(nil)

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	if url == "" {
		return nil, errkind.Newf(errkind.ErrProvider, "dial", "", "empty rpc url")
	}
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, errkind.New(errkind.ErrProvider, "dial", url, err)
	}
	return c, nil
}

// CheckChainID verifies that p, if it can report one, is on the expected
// chain. Providers without ChainID are accepted.
func CheckChainID(ctx context.Context, p any, want uint64) error {
	r, ok := p.(ChainIDReader)
	if !ok {
		return nil
	}
	id, err := r.ChainID(ctx)
	if err != nil {
		return errkind.New(errkind.ErrProvider, "chainId", "", err)
	}
	if !id.IsUint64() || id.Uint64() != want {
		return errkind.Newf(errkind.ErrConsistency, "chainId", "", "provider on chain %s, want %d", id, want)
	}
	return nil
}

// Code fetches the runtime code at addr, classifying transport failures as
// provider errors.
func Code(ctx context.Context, r CodeReader, addr common.Address) ([]byte, error) {
	code, err := r.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, errkind.New(errkind.ErrProvider, "getCode", addr.Hex(), err)
	}
	return code, nil
}
