package selector

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
)

func fn(name string, inputs ...artifact.Param) artifact.Entry {
	return artifact.Entry{Type: "function", Name: name, Inputs: inputs, StateMutability: "nonpayable"}
}

func param(typ string, components ...artifact.Param) artifact.Param {
	return artifact.Param{Type: typ, Components: components}
}

func TestSelectorFromSignature(t *testing.T) {
	if got := FromSignature("transfer(address,uint256)").Hex(); got != "0xa9059cbb" {
		t.Fatalf("transfer selector = %s, want 0xa9059cbb", got)
	}
	if got := FromSignature("balanceOf(address)").Hex(); got != "0x70a08231" {
		t.Fatalf("balanceOf selector = %s, want 0x70a08231", got)
	}
}

func TestParseSelector(t *testing.T) {
	s, err := ParseSelector("0xa9059cbb")
	if err != nil {
		t.Fatalf("ParseSelector: %v", err)
	}
	if s != (Selector{0xa9, 0x05, 0x9c, 0xbb}) {
		t.Fatalf("ParseSelector = %x", s[:])
	}
	for _, bad := range []string{"a9059cbb", "0xa9059c", "0xa9059cbbff", "0xzz059cbb", ""} {
		if _, err := ParseSelector(bad); !errors.Is(err, errkind.ErrStructural) {
			t.Errorf("ParseSelector(%q) err = %v, want structural", bad, err)
		}
	}
}

func TestCanonicalization(t *testing.T) {
	tests := []struct {
		entry artifact.Entry
		want  string
	}{
		{fn("f", param("uint")), "f(uint256)"},
		{fn("f", param("int[3]")), "f(int256[3])"},
		{fn("f", param("byte")), "f(bytes1)"},
		{fn("f"), "f()"},
		{fn("f", param("tuple[]", param("uint"), param("bool"))), "f((uint256,bool)[])"},
		{fn("f", param("address"), param("uint[][2]")), "f(address,uint256[][2])"},
		{
			fn("g", param("tuple", param("int"), param("tuple[3]", param("byte"), param("string")))),
			"g((int256,(bytes1,string)[3]))",
		},
	}
	for _, tt := range tests {
		got, err := Signature(tt.entry)
		if err != nil {
			t.Fatalf("Signature(%s): %v", tt.want, err)
		}
		if got != tt.want {
			t.Errorf("Signature = %q, want %q", got, tt.want)
		}
	}
	sig, _ := Signature(fn("f", param("uint")))
	if FromSignature(sig) != FromSignature("f(uint256)") {
		t.Fatal("f(uint) selector differs from f(uint256)")
	}
}

func TestParseTypeVariants(t *testing.T) {
	typ, err := ParseType(param("tuple[2][]", param("uint8")))
	if err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	arr, ok := typ.(Array)
	if !ok {
		t.Fatalf("outer type = %T, want Array", typ)
	}
	fixed, ok := arr.Elem.(FixedArray)
	if !ok || fixed.Size != 2 {
		t.Fatalf("middle type = %#v, want FixedArray{Size:2}", arr.Elem)
	}
	if _, ok := fixed.Elem.(Tuple); !ok {
		t.Fatalf("inner type = %T, want Tuple", fixed.Elem)
	}

	for _, bad := range []string{"", "uint[x]", "[]", "uint[0]"} {
		if _, err := ParseType(param(bad)); err == nil {
			t.Errorf("ParseType(%q) succeeded, want error", bad)
		}
	}
}

func art(name string, entries ...artifact.Entry) *artifact.Artifact {
	return &artifact.Artifact{ContractName: name, ABI: entries, DeployedBytecodeHex: "0x00"}
}

func TestExtractSkipsNonFunctions(t *testing.T) {
	a := art("AlphaFacet",
		fn("ping"),
		artifact.Entry{Type: "event", Name: "Pinged"},
		artifact.Entry{Type: "fallback"},
		artifact.Entry{Type: "receive"},
		artifact.Entry{Type: "constructor"},
	)
	x := Extract([]*artifact.Artifact{a}, log.Discard())
	if len(x.Selectors) != 1 || x.Selectors[0].Signature != "ping()" {
		t.Fatalf("Selectors = %+v, want [ping()]", x.Selectors)
	}
}

func TestExtractDuplicateSignatureIsNotConflict(t *testing.T) {
	a := art("AlphaFacet", fn("ping"))
	b := art("BetaFacet", fn("ping"))
	x := Extract([]*artifact.Artifact{a, b, a}, log.Discard())
	if len(x.Conflicts) != 0 {
		t.Fatalf("len(Conflicts) = %d, want 0", len(x.Conflicts))
	}
	if len(x.Selectors) != 1 || x.Selectors[0].Facet != "AlphaFacet" {
		t.Fatalf("Selectors = %+v, want one owned by AlphaFacet", x.Selectors)
	}
	if x.Err() != nil {
		t.Fatalf("Err() = %v, want nil", x.Err())
	}
}

func TestExtractCollision(t *testing.T) {
	// burn(uint256) and collate_propagate_storage(bytes16) share 0x42966c68.
	a := art("AlphaFacet", fn("burn", param("uint256")))
	b := art("BetaFacet", fn("collate_propagate_storage", param("bytes16")))
	if FromSignature("burn(uint256)") != FromSignature("collate_propagate_storage(bytes16)") {
		t.Fatal("fixture signatures do not collide")
	}

	x := Extract([]*artifact.Artifact{a, b}, log.Discard())
	if len(x.Conflicts) != 1 {
		t.Fatalf("len(Conflicts) = %d, want 1", len(x.Conflicts))
	}
	c := x.Conflicts[0]
	if c.Existing.Signature != "burn(uint256)" || c.Incoming.Facet != "BetaFacet" {
		t.Fatalf("conflict = %+v", c)
	}
	got, ok := x.Lookup(c.Selector)
	if !ok || got.Facet != "AlphaFacet" {
		t.Fatalf("Lookup = %+v, %v; want first-seen AlphaFacet", got, ok)
	}
	if !errors.Is(x.Err(), errkind.ErrCollision) {
		t.Fatalf("Err() = %v, want collision", x.Err())
	}
}

func TestExtractSortedAndWarns(t *testing.T) {
	a := art("AlphaFacet", fn("zeta"), fn("alpha"), fn("beta"), fn("bad", param("uint[x]")))
	x := Extract([]*artifact.Artifact{a}, log.Discard())
	if len(x.Selectors) != 3 {
		t.Fatalf("len(Selectors) = %d, want 3", len(x.Selectors))
	}
	for i := 1; i < len(x.Selectors); i++ {
		if x.Selectors[i-1].Selector.Compare(x.Selectors[i].Selector) >= 0 {
			t.Fatalf("selectors not ascending at %d", i)
		}
	}
	if len(x.Warnings) != 1 {
		t.Fatalf("len(Warnings) = %d, want 1", len(x.Warnings))
	}
	if _, ok := x.Lookup(FromSignature("missing()")); ok {
		t.Fatal("Lookup found a selector that was never extracted")
	}
}

func infos(sigs ...string) []Info {
	out := make([]Info, len(sigs))
	for i, s := range sigs {
		out[i] = Info{Signature: s, Selector: FromSignature(s), Kind: KindFunction}
	}
	return out
}

func TestCompareParity(t *testing.T) {
	p := Compare(infos("a()", "b()", "c()"), infos("b()", "c()", "d()"))
	if len(p.Missing) != 1 || p.Missing[0].Signature != "a()" {
		t.Fatalf("Missing = %+v, want [a()]", p.Missing)
	}
	if len(p.Extra) != 1 || p.Extra[0].Signature != "d()" {
		t.Fatalf("Extra = %+v, want [d()]", p.Extra)
	}
	if p.Matches != 2 {
		t.Fatalf("Matches = %d, want 2", p.Matches)
	}
	if p.OK() {
		t.Fatal("OK() = true, want false")
	}
}

func TestCompareWithReference(t *testing.T) {
	ref := map[string]any{
		"contractName": "Monolith",
		"abi": []map[string]any{
			{"type": "function", "name": "a", "inputs": []any{}},
			{"type": "function", "name": "b", "inputs": []any{}},
		},
	}
	data, _ := json.Marshal(ref)
	path := filepath.Join(t.TempDir(), "Monolith.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := CompareWithReference(path, infos("a()", "b()"), log.Discard())
	if err != nil {
		t.Fatalf("CompareWithReference: %v", err)
	}
	if !p.OK() || p.Matches != 2 {
		t.Fatalf("parity = %+v, want exact match", p)
	}
	if _, err := CompareWithReference(filepath.Join(t.TempDir(), "nope.json"), nil, log.Discard()); err == nil {
		t.Fatal("missing reference: want error")
	}
}

func TestExportJSON(t *testing.T) {
	x := Extract([]*artifact.Artifact{art("AlphaFacet", fn("ping"))}, log.Discard())
	data, err := json.Marshal(x.Export(time.UnixMilli(1700000000000)))
	if err != nil {
		t.Fatal(err)
	}
	var back struct {
		Timestamp      int64             `json:"timestamp"`
		TotalSelectors int               `json:"totalSelectors"`
		Selectors      []json.RawMessage `json:"selectors"`
		Conflicts      []json.RawMessage `json:"conflicts"`
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Timestamp != 1700000000000 || back.TotalSelectors != 1 || back.Conflicts == nil {
		t.Fatalf("export = %s", data)
	}
	var info Info
	if err := json.Unmarshal(back.Selectors[0], &info); err != nil {
		t.Fatal(err)
	}
	if info.Selector != FromSignature("ping()") {
		t.Fatalf("selector round trip = %s", info.Selector)
	}
}
