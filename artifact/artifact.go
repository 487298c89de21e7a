// Package artifact loads compiled contract artifacts (ABI, creation bytecode,
// runtime bytecode) as emitted by Hardhat and Foundry.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact errors.
var (
	ErrNoABI       = errors.New("artifact: no abi array")
	ErrNoArtifacts = errors.New("artifact: no facet artifacts found")
)

// Artifact is one compiled contract. Bytecode fields keep the raw hex text
// from the file: unlinked library placeholders are not valid hex and must
// surface as per-facet problems downstream, not as load failures here.
type Artifact struct {
	ContractName        string
	SourceName          string
	Path                string
	ABI                 []Entry
	BytecodeHex         string
	DeployedBytecodeHex string
}

// Entry is one ABI item.
type Entry struct {
	Type            string  `json:"type"`
	Name            string  `json:"name,omitempty"`
	Inputs          []Param `json:"inputs,omitempty"`
	Outputs         []Param `json:"outputs,omitempty"`
	StateMutability string  `json:"stateMutability,omitempty"`
	Anonymous       bool    `json:"anonymous,omitempty"`
}

// Param is one ABI parameter. Components is set for tuple types and for
// arrays of tuples.
type Param struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	InternalType string  `json:"internalType,omitempty"`
	Components   []Param `json:"components,omitempty"`
	Indexed      bool    `json:"indexed,omitempty"`
}

// Mutability returns the declared state mutability, defaulting to
// "nonpayable" for legacy ABIs that omit it.
func (e Entry) Mutability() string {
	if e.StateMutability == "" {
		return "nonpayable"
	}
	return e.StateMutability
}

// bytecodeField accepts both the Hardhat form ("0x...") and the Foundry
// form ({"object": "0x...", ...}).
type bytecodeField string

func (b *bytecodeField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = bytecodeField(s)
		return nil
	}
	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("bytecode: %w", err)
	}
	*b = bytecodeField(obj.Object)
	return nil
}

type rawArtifact struct {
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         bytecodeField   `json:"bytecode"`
	DeployedBytecode bytecodeField   `json:"deployedBytecode"`
}

// Parse decodes an artifact. path is used for the fallback contract name
// and for error messages.
func Parse(data []byte, path string) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(raw.ABI)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: %s", ErrNoABI, path)
	}
	var entries []Entry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("artifact %s: abi: %w", path, err)
	}
	name := raw.ContractName
	if name == "" {
		name = NameFromPath(path)
	}
	return &Artifact{
		ContractName:        name,
		SourceName:          raw.SourceName,
		Path:                path,
		ABI:                 entries,
		BytecodeHex:         string(raw.Bytecode),
		DeployedBytecodeHex: string(raw.DeployedBytecode),
	}, nil
}

// Load reads and parses an artifact file.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// NameFromPath derives a contract name from an artifact file name. A
// fully-qualified "path/File.sol:Name.json" keeps only the last segment.
func NameFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	if i := strings.LastIndex(base, ":"); i >= 0 && i+1 < len(base) {
		return base[i+1:]
	}
	return base
}

// HasRuntimeBytecode reports whether the artifact carries deployable
// runtime code. Interfaces and abstract contracts compile to "0x".
func (a *Artifact) HasRuntimeBytecode() bool {
	s := strings.TrimPrefix(strings.TrimPrefix(a.DeployedBytecodeHex, "0x"), "0X")
	return s != ""
}

// Functions returns the ABI entries of type "function" in declaration order.
func (a *Artifact) Functions() []Entry {
	out := make([]Entry, 0, len(a.ABI))
	for _, e := range a.ABI {
		if e.Type == "function" {
			out = append(out, e)
		}
	}
	return out
}
