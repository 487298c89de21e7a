package codehash

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Export is the codehashes-<mode>-<ts>.json document.
type Export struct {
	Timestamp  int64           `json:"timestamp"`
	Mode       Mode            `json:"mode"`
	BuildHash  common.Hash     `json:"buildHash"`
	Config     BuildConfig     `json:"config"`
	Codehashes []FacetCodehash `json:"codehashes"`
}

// Export renders a batch for emission.
func (o *Oracle) Export(b *Batch, now time.Time) Export {
	cs := b.Codehashes
	if cs == nil {
		cs = []FacetCodehash{}
	}
	return Export{
		Timestamp:  now.UnixMilli(),
		Mode:       b.Mode,
		BuildHash:  o.buildHash,
		Config:     o.cfg,
		Codehashes: cs,
	}
}

// FileName is the emitted file name for an export.
func (e Export) FileName() string {
	return fmt.Sprintf("codehashes-%s-%d.json", e.Mode, e.Timestamp)
}
