package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
)

// Type is a parsed ABI parameter type. The concrete variants are
// Elementary, Array, FixedArray and Tuple.
type Type interface {
	// Canonical returns the type as it appears in a canonical signature.
	Canonical() string
	isType()
}

// Elementary is a non-composite type such as uint256, address or bytes.
type Elementary struct {
	Name string
}

// Array is a dynamic array T[].
type Array struct {
	Elem Type
}

// FixedArray is a fixed-size array T[N].
type FixedArray struct {
	Elem Type
	Size uint64
}

// Tuple is a struct type; components keep their declared order.
type Tuple struct {
	Components []Type
}

func (Elementary) isType() {}
func (Array) isType()      {}
func (FixedArray) isType() {}
func (Tuple) isType()      {}

// aliases maps shorthand elementary names to their canonical form.
var aliases = map[string]string{
	"uint":   "uint256",
	"int":    "int256",
	"byte":   "bytes1",
	"fixed":  "fixed128x18",
	"ufixed": "ufixed128x18",
}

func (e Elementary) Canonical() string {
	if c, ok := aliases[e.Name]; ok {
		return c
	}
	return e.Name
}

func (a Array) Canonical() string { return a.Elem.Canonical() + "[]" }

func (a FixedArray) Canonical() string {
	return a.Elem.Canonical() + "[" + strconv.FormatUint(a.Size, 10) + "]"
}

func (t Tuple) Canonical() string {
	parts := make([]string, len(t.Components))
	for i, c := range t.Components {
		parts[i] = c.Canonical()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseType converts an ABI parameter into a Type. Array suffixes are
// peeled from the right, so "tuple[2][]" is a dynamic array of 2-element
// arrays of the tuple described by p.Components.
func ParseType(p artifact.Param) (Type, error) {
	return parseType(strings.TrimSpace(p.Type), p.Components)
}

func parseType(s string, components []artifact.Param) (Type, error) {
	if s == "" {
		return nil, fmt.Errorf("empty type")
	}
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndex(s, "[")
		if open <= 0 {
			return nil, fmt.Errorf("malformed array type %q", s)
		}
		elem, err := parseType(s[:open], components)
		if err != nil {
			return nil, err
		}
		dim := s[open+1 : len(s)-1]
		if dim == "" {
			return Array{Elem: elem}, nil
		}
		n, err := strconv.ParseUint(dim, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("bad array length in %q", s)
		}
		return FixedArray{Elem: elem, Size: n}, nil
	}
	if s == "tuple" {
		t := Tuple{Components: make([]Type, len(components))}
		for i, c := range components {
			ct, err := ParseType(c)
			if err != nil {
				return nil, fmt.Errorf("tuple component %d: %w", i, err)
			}
			t.Components[i] = ct
		}
		return t, nil
	}
	if strings.ContainsAny(s, "[](), ") {
		return nil, fmt.Errorf("malformed type %q", s)
	}
	return Elementary{Name: s}, nil
}

// Signature returns the canonical signature name(type1,type2,...) of an ABI
// entry. Parameter order is preserved as declared.
func Signature(e artifact.Entry) (string, error) {
	if e.Name == "" {
		return "", fmt.Errorf("%s entry has no name", e.Type)
	}
	parts := make([]string, len(e.Inputs))
	for i, in := range e.Inputs {
		t, err := ParseType(in)
		if err != nil {
			return "", fmt.Errorf("%s input %d: %w", e.Name, i, err)
		}
		parts[i] = t.Canonical()
	}
	return e.Name + "(" + strings.Join(parts, ",") + ")", nil
}
