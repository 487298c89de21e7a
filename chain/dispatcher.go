package chain

import (
	"context"
	"fmt"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// DispatcherABI is the read surface of the manifest dispatcher used for
// post-deployment verification.
const DispatcherABI = `[
  {"type":"function","name":"activeRoot","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
  {"type":"function","name":"activeEpoch","inputs":[],"outputs":[{"name":"","type":"uint64"}],"stateMutability":"view"},
  {"type":"function","name":"routes","inputs":[{"name":"selector","type":"bytes4"}],
   "outputs":[{"name":"facet","type":"address"},{"name":"codehash","type":"bytes32"}],"stateMutability":"view"},
  {"type":"function","name":"frozen","inputs":[],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"}
]`

// Route is the dispatcher's stored target for one selector.
type Route struct {
	Facet    common.Address
	Codehash common.Hash
}

// Dispatcher reads committed routing state from a deployed dispatcher.
type Dispatcher struct {
	addr   common.Address
	caller Caller
	abi    abi.ABI
}

// NewDispatcher binds the dispatcher at addr.
func NewDispatcher(addr common.Address, caller Caller) (*Dispatcher, error) {
	parsed, err := abi.JSON(strings.NewReader(DispatcherABI))
	if err != nil {
		return nil, fmt.Errorf("dispatcher abi: %w", err)
	}
	return &Dispatcher{addr: addr, caller: caller, abi: parsed}, nil
}

// Address returns the bound dispatcher address.
func (d *Dispatcher) Address() common.Address { return d.addr }

func (d *Dispatcher) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := d.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := d.addr
	out, err := d.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, errkind.New(errkind.ErrProvider, method, d.addr.Hex(), err)
	}
	vals, err := d.abi.Unpack(method, out)
	if err != nil {
		return nil, errkind.New(errkind.ErrProvider, method, d.addr.Hex(), err)
	}
	return vals, nil
}

// ActiveRoot returns the currently committed manifest root.
func (d *Dispatcher) ActiveRoot(ctx context.Context) (common.Hash, error) {
	vals, err := d.call(ctx, "activeRoot")
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(vals[0].([32]byte)), nil
}

// ActiveEpoch returns the currently committed epoch.
func (d *Dispatcher) ActiveEpoch(ctx context.Context) (uint64, error) {
	vals, err := d.call(ctx, "activeEpoch")
	if err != nil {
		return 0, err
	}
	return vals[0].(uint64), nil
}

// Route returns the stored route for sel. An unrouted selector yields the
// zero Route.
func (d *Dispatcher) Route(ctx context.Context, sel [4]byte) (Route, error) {
	vals, err := d.call(ctx, "routes", sel)
	if err != nil {
		return Route{}, err
	}
	return Route{
		Facet:    vals[0].(common.Address),
		Codehash: common.Hash(vals[1].([32]byte)),
	}, nil
}

// Frozen reports whether the dispatcher has been permanently frozen.
func (d *Dispatcher) Frozen(ctx context.Context) (bool, error) {
	vals, err := d.call(ctx, "frozen")
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}
