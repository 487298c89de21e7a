// Package selector derives canonical function signatures and 4-byte
// selectors from facet ABIs, detects genuine selector collisions, and diffs
// a facet set against a reference contract.
package selector

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// Selector is the first four bytes of keccak256(signature).
type Selector [4]byte

// FromSignature computes the selector of a canonical signature.
func FromSignature(sig string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// ParseSelector parses "0x" followed by exactly eight hex characters.
func ParseSelector(s string) (Selector, error) {
	var out Selector
	if len(s) != 10 || !strings.HasPrefix(s, "0x") {
		return out, errkind.Newf(errkind.ErrStructural, "selector", s, "want 0x + 8 hex chars")
	}
	if _, err := hex.Decode(out[:], []byte(s[2:])); err != nil {
		return Selector{}, errkind.New(errkind.ErrStructural, "selector", s, err)
	}
	return out, nil
}

// Hex returns the lowercase 0x-prefixed form.
func (s Selector) Hex() string { return "0x" + hex.EncodeToString(s[:]) }

func (s Selector) String() string { return s.Hex() }

// Compare orders selectors by their raw bytes.
func (s Selector) Compare(o Selector) int { return bytes.Compare(s[:], o[:]) }

func (s Selector) MarshalText() ([]byte, error) { return []byte(s.Hex()), nil }

func (s *Selector) UnmarshalText(text []byte) error {
	v, err := ParseSelector(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Kind is the ABI entry kind a selector was derived from.
type Kind string

const (
	KindFunction Kind = "function"
	KindError    Kind = "error"
	KindEvent    Kind = "event"
)

// Info is one canonical signature and where it came from.
type Info struct {
	Signature       string   `json:"signature"`
	Selector        Selector `json:"selector"`
	Facet           string   `json:"facet"`
	StateMutability string   `json:"stateMutability,omitempty"`
	Kind            Kind     `json:"kind"`
}

// Conflict records two distinct signatures sharing a selector. Existing is
// the first-seen mapping and stays authoritative.
type Conflict struct {
	Selector Selector `json:"selector"`
	Existing Info     `json:"existing"`
	Incoming Info     `json:"incoming"`
}

// Err renders the conflict as a collision error.
func (c Conflict) Err() error {
	return errkind.Newf(errkind.ErrCollision, "extract", c.Selector.Hex(),
		"%s (%s) vs %s (%s)", c.Existing.Signature, c.Existing.Facet, c.Incoming.Signature, c.Incoming.Facet)
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s in %s collides with %s in %s",
		c.Selector.Hex(), c.Incoming.Signature, c.Incoming.Facet, c.Existing.Signature, c.Existing.Facet)
}
