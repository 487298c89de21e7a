// Package codehash fingerprints the build configuration and computes facet
// code hashes, either predictively from compiled runtime bytecode or by
// observing deployed code through a provider.
package codehash

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/chain"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
)

// Mode selects how codehashes are obtained.
type Mode string

const (
	Predictive Mode = "predictive"
	Observed   Mode = "observed"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case Predictive:
		return Predictive, nil
	case Observed:
		return Observed, nil
	}
	return "", errkind.Newf(errkind.ErrStructural, "mode", s, "want predictive or observed")
}

// Oracle errors.
var (
	ErrEmptyBytecode         = errors.New("empty bytecode")
	ErrInvalidBytecode       = errors.New("invalid bytecode hex")
	ErrNoCodeAtAddress       = errors.New("no code at address")
	ErrNoDeployableArtifacts = errors.New("no deployable artifacts")
)

// Oracle computes codehashes under one fixed build configuration. The build
// hash is computed once in NewOracle and attached to every record.
type Oracle struct {
	cfg       BuildConfig
	buildHash common.Hash
	log       *log.Logger
}

// NewOracle validates cfg and fingerprints it.
func NewOracle(cfg BuildConfig, logger *log.Logger) (*Oracle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h, err := BuildHash(cfg)
	if err != nil {
		return nil, err
	}
	lg := log.OrDefault(logger).Module("codehash")
	lg.Debug("build fingerprint", "buildHash", h.Hex(), "solc", cfg.SolcVersion)
	return &Oracle{cfg: cfg, buildHash: h, log: lg}, nil
}

// BuildHash returns the fingerprint of the oracle's build configuration.
func (o *Oracle) BuildHash() common.Hash { return o.buildHash }

// Config returns the build configuration the oracle was created with.
func (o *Oracle) Config() BuildConfig { return o.cfg }

// DecodeBytecode parses hex bytecode, with or without a 0x prefix.
func DecodeBytecode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if len(s) == 2 {
		return nil, ErrEmptyBytecode
	}
	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return nil, errors.Join(ErrInvalidBytecode, err)
	}
	return b, nil
}

// PredictCodehash returns keccak256 of the runtime bytecode given as hex.
func PredictCodehash(runtimeHex string) (common.Hash, error) {
	code, err := DecodeBytecode(runtimeHex)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(code), nil
}

// ObserveCodehash fetches the code at addr and hashes it. Accounts without
// code, including EOAs, fail with ErrNoCodeAtAddress. Provider failures are
// returned as errkind.ErrProvider and are not retried.
func ObserveCodehash(ctx context.Context, r chain.CodeReader, addr common.Address) (common.Hash, []byte, error) {
	code, err := chain.Code(ctx, r, addr)
	if err != nil {
		return common.Hash{}, nil, err
	}
	if len(code) == 0 {
		return common.Hash{}, nil, errkind.New(errkind.ErrConsistency, "observe", addr.Hex(), ErrNoCodeAtAddress)
	}
	return crypto.Keccak256Hash(code), code, nil
}
