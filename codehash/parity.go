package codehash

import (
	"fmt"
	"strings"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

// ParityReport is the outcome of comparing observed against predicted
// codehashes.
type ParityReport struct {
	Success    bool     `json:"success"`
	Mismatches []string `json:"mismatches"`
}

// Err returns a consistency error listing every mismatch, or nil.
func (r ParityReport) Err() error {
	if r.Success {
		return nil
	}
	return errkind.Newf(errkind.ErrConsistency, "codehash parity", "", "%s", strings.Join(r.Mismatches, "; "))
}

// VerifyParity requires that every observed facet has a predicted record
// with the same name and an identical codehash. All mismatches are
// collected.
func VerifyParity(predicted, observed []FacetCodehash) ParityReport {
	byName := make(map[string]FacetCodehash, len(predicted))
	for _, p := range predicted {
		byName[p.Name] = p
	}
	r := ParityReport{Mismatches: []string{}}
	for _, o := range observed {
		p, ok := byName[o.Name]
		switch {
		case !ok:
			r.Mismatches = append(r.Mismatches, fmt.Sprintf("%s: no predicted codehash", o.Name))
		case p.Codehash != o.Codehash:
			r.Mismatches = append(r.Mismatches, fmt.Sprintf("%s: predicted %s, observed %s",
				o.Name, p.Codehash.Hex(), o.Codehash.Hex()))
		}
	}
	r.Success = len(r.Mismatches) == 0
	return r
}
