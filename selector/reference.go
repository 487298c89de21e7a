package selector

import (
	"sort"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
)

// Parity is the outcome of diffing facet selectors against a reference
// contract. Missing and Extra are sorted by selector.
type Parity struct {
	Missing []Info `json:"missing"`
	Extra   []Info `json:"extra"`
	Matches int    `json:"matches"`
}

// OK reports whether the facets cover the reference exactly.
func (p Parity) OK() bool { return len(p.Missing) == 0 && len(p.Extra) == 0 }

// Compare diffs facet against reference by selector value.
func Compare(reference, facet []Info) Parity {
	ref := index(reference)
	fac := index(facet)
	var p Parity
	for s, info := range ref {
		if _, ok := fac[s]; ok {
			p.Matches++
		} else {
			p.Missing = append(p.Missing, info)
		}
	}
	for s, info := range fac {
		if _, ok := ref[s]; !ok {
			p.Extra = append(p.Extra, info)
		}
	}
	sortInfos(p.Missing)
	sortInfos(p.Extra)
	return p
}

// FromArtifact extracts the selectors of a single contract.
func FromArtifact(a *artifact.Artifact, logger *log.Logger) []Info {
	return Extract([]*artifact.Artifact{a}, logger).Selectors
}

// CompareWithReference loads the reference artifact at path and diffs it
// against the union of facet selectors.
func CompareWithReference(path string, facet []Info, logger *log.Logger) (Parity, error) {
	ref, err := artifact.Load(path)
	if err != nil {
		return Parity{}, err
	}
	return Compare(FromArtifact(ref, logger), facet), nil
}

func index(infos []Info) map[Selector]Info {
	m := make(map[Selector]Info, len(infos))
	for _, info := range infos {
		if _, ok := m[info.Selector]; !ok {
			m[info.Selector] = info
		}
	}
	return m
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Selector.Compare(infos[j].Selector) < 0
	})
}
