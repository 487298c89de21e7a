package selector

import (
	"fmt"
	"sort"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/artifact"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
)

// Extraction is the result of scanning a set of artifacts. Selectors is
// sorted ascending by selector and holds one entry per selector.
type Extraction struct {
	Selectors []Info
	Conflicts []Conflict
	Warnings  []string
}

// Lookup finds the authoritative entry for s.
func (x *Extraction) Lookup(s Selector) (Info, bool) {
	i := sort.Search(len(x.Selectors), func(i int) bool {
		return x.Selectors[i].Selector.Compare(s) >= 0
	})
	if i < len(x.Selectors) && x.Selectors[i].Selector == s {
		return x.Selectors[i], true
	}
	return Info{}, false
}

// ByFacet returns the entries owned by the named facet, in selector order.
func (x *Extraction) ByFacet(facet string) []Info {
	var out []Info
	for _, info := range x.Selectors {
		if info.Facet == facet {
			out = append(out, info)
		}
	}
	return out
}

// Err returns every conflict as a joined collision error, or nil.
func (x *Extraction) Err() error {
	errs := make([]error, len(x.Conflicts))
	for i, c := range x.Conflicts {
		errs[i] = c.Err()
	}
	return errkind.Join(errs)
}

// Extract derives a selector for every function entry in arts. Artifacts are
// processed in the order given; on a genuine collision the first-seen entry
// wins and a Conflict is recorded. The same signature seen again (from the
// same or another facet) is ignored. Entries whose types cannot be parsed
// are skipped with a warning.
func Extract(arts []*artifact.Artifact, logger *log.Logger) *Extraction {
	lg := log.OrDefault(logger).Module("selector")
	x := &Extraction{}
	byKey := make(map[Selector]Info)

	for _, a := range arts {
		for _, e := range a.Functions() {
			sig, err := Signature(e)
			if err != nil {
				w := fmt.Sprintf("%s: skipped entry: %v", a.ContractName, err)
				lg.Warn("skipped abi entry", "facet", a.ContractName, "err", err)
				x.Warnings = append(x.Warnings, w)
				continue
			}
			info := Info{
				Signature:       sig,
				Selector:        FromSignature(sig),
				Facet:           a.ContractName,
				StateMutability: e.Mutability(),
				Kind:            KindFunction,
			}
			prev, ok := byKey[info.Selector]
			if !ok {
				byKey[info.Selector] = info
				continue
			}
			if prev.Signature == info.Signature {
				continue
			}
			c := Conflict{Selector: info.Selector, Existing: prev, Incoming: info}
			lg.Warn("selector collision", "selector", info.Selector.Hex(),
				"existing", prev.Signature, "incoming", sig)
			x.Conflicts = append(x.Conflicts, c)
		}
	}

	x.Selectors = make([]Info, 0, len(byKey))
	for _, info := range byKey {
		x.Selectors = append(x.Selectors, info)
	}
	sort.Slice(x.Selectors, func(i, j int) bool {
		return x.Selectors[i].Selector.Compare(x.Selectors[j].Selector) < 0
	})
	lg.Debug("extracted selectors", "artifacts", len(arts), "selectors", len(x.Selectors),
		"conflicts", len(x.Conflicts))
	return x
}
