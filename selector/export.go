package selector

import "time"

// Export is the selectors.json document.
type Export struct {
	Timestamp      int64      `json:"timestamp"`
	TotalSelectors int        `json:"totalSelectors"`
	TotalConflicts int        `json:"totalConflicts"`
	Selectors      []Info     `json:"selectors"`
	Conflicts      []Conflict `json:"conflicts"`
}

// Export renders the extraction for emission. Empty lists encode as [].
func (x *Extraction) Export(now time.Time) Export {
	sel := x.Selectors
	if sel == nil {
		sel = []Info{}
	}
	conf := x.Conflicts
	if conf == nil {
		conf = []Conflict{}
	}
	return Export{
		Timestamp:      now.UnixMilli(),
		TotalSelectors: len(sel),
		TotalConflicts: len(conf),
		Selectors:      sel,
		Conflicts:      conf,
	}
}
