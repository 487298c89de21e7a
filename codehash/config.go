package codehash

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
)

// Optimizer holds solc optimizer settings.
type Optimizer struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Runs    int  `json:"runs" yaml:"runs"`
}

// BuildConfig is every compiler input that influences emitted bytecode.
// Its JSON field names are part of the build hash and must not change.
type BuildConfig struct {
	SolcVersion      string            `json:"solcVersion" yaml:"solcVersion"`
	Optimizer        Optimizer         `json:"optimizer" yaml:"optimizer"`
	EVMVersion       string            `json:"evmVersion" yaml:"evmVersion"`
	ViaIR            bool              `json:"viaIR" yaml:"viaIR"`
	MetadataPolicy   string            `json:"metadataPolicy" yaml:"metadataPolicy"`
	LibraryAddresses map[string]string `json:"libraryAddresses" yaml:"libraries"`
}

// DefaultBuildConfig returns the pinned production toolchain settings.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		SolcVersion:      "0.8.30",
		Optimizer:        Optimizer{Enabled: true, Runs: 200},
		EVMVersion:       "cancun",
		ViaIR:            true,
		MetadataPolicy:   "none",
		LibraryAddresses: map[string]string{},
	}
}

var solcVersionRE = regexp.MustCompile(`^\d+\.\d+\.\d+(\+commit\.[0-9a-f]+)?$`)

var metadataPolicies = map[string]bool{"none": true, "ipfs": true, "bzzr1": true}

// Validate checks the config for obviously broken settings.
func (c BuildConfig) Validate() error {
	if !solcVersionRE.MatchString(c.SolcVersion) {
		return fmt.Errorf("config: invalid solc version %q", c.SolcVersion)
	}
	if c.Optimizer.Runs < 0 {
		return fmt.Errorf("config: optimizer runs must be >= 0, got %d", c.Optimizer.Runs)
	}
	if c.Optimizer.Enabled && c.Optimizer.Runs == 0 {
		return fmt.Errorf("config: optimizer enabled with zero runs")
	}
	if c.EVMVersion == "" {
		return fmt.Errorf("config: evm version must be set")
	}
	if !metadataPolicies[c.MetadataPolicy] {
		return fmt.Errorf("config: unknown metadata policy %q", c.MetadataPolicy)
	}
	for name, addr := range c.LibraryAddresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: library %s has invalid address %q", name, addr)
		}
	}
	return nil
}

// BuildHash fingerprints cfg: keccak256 of its JSON form with keys sorted
// lexicographically at every depth.
func BuildHash(cfg BuildConfig) (common.Hash, error) {
	if cfg.LibraryAddresses == nil {
		cfg.LibraryAddresses = map[string]string{}
	}
	data, err := canonicalJSON(cfg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build hash: %w", err)
	}
	return crypto.Keccak256Hash(data), nil
}

// canonicalJSON round-trips v through a generic tree so every object is
// re-encoded as a map, which encoding/json writes with sorted keys.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
