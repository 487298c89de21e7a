// Package chaintest provides an in-memory chain.Provider for tests of the
// observed-mode oracle and post-deployment verification.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
)

// DispatcherState is the committed state served for dispatcher calls.
type DispatcherState struct {
	Root   common.Hash
	Epoch  uint64
	Routes map[[4]byte]chain.Route
	Frozen bool
}

// Provider serves code and dispatcher calls from memory. It is safe for
// concurrent use.
type Provider struct {
	mu         sync.Mutex
	code       map[common.Address][]byte
	fail       map[common.Address]error
	dispatcher common.Address
	state      DispatcherState
	chainID    uint64
	codeCalls  int
}

// New returns an empty provider reporting chainID.
func New(chainID uint64) *Provider {
	return &Provider{
		code:    make(map[common.Address][]byte),
		fail:    make(map[common.Address]error),
		chainID: chainID,
	}
}

// SetCode installs runtime code at addr.
func (p *Provider) SetCode(addr common.Address, code []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.code[addr] = code
}

// FailCode makes CodeAt for addr return err.
func (p *Provider) FailCode(addr common.Address, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[addr] = err
}

// SetDispatcher installs a dispatcher at addr with the given state.
func (p *Provider) SetDispatcher(addr common.Address, st DispatcherState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatcher = addr
	p.state = st
	if len(p.code[addr]) == 0 {
		p.code[addr] = []byte{0x60, 0x00}
	}
}

// CodeCalls returns how many times CodeAt was invoked.
func (p *Provider) CodeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codeCalls
}

func (p *Provider) CodeAt(ctx context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codeCalls++
	if err := p.fail[account]; err != nil {
		return nil, err
	}
	return append([]byte(nil), p.code[account]...), nil
}

func (p *Provider) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(p.chainID), nil
}

var dispatcherABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(chain.DispatcherABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func (p *Provider) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if call.To == nil || *call.To != p.dispatcher || p.dispatcher == (common.Address{}) {
		return nil, nil
	}
	if len(call.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	m, err := dispatcherABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	switch m.Name {
	case "activeRoot":
		return m.Outputs.Pack([32]byte(p.state.Root))
	case "activeEpoch":
		return m.Outputs.Pack(p.state.Epoch)
	case "frozen":
		return m.Outputs.Pack(p.state.Frozen)
	case "routes":
		args, err := m.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		r := p.state.Routes[args[0].([4]byte)]
		return m.Outputs.Pack(r.Facet, [32]byte(r.Codehash))
	}
	return nil, errors.New("execution reverted")
}

var _ chain.Provider = (*Provider)(nil)
