package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/blob"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/plan"
)

// Emitted artifact keys.
const (
	KeyManifest      = "manifest.root.json"
	KeyProofs        = "proofs.json"
	KeyDeployment    = "deployment-plan.json"
	KeyOrchestration = "orchestration-plan.json"
	KeySelectors     = "selectors.json"
	KeyValidation    = "validation.json"
	KeyChecksums     = "SHA256SUMS"
)

// Summary is the validation.json document.
type Summary struct {
	RunID       string               `json:"runId"`
	Timestamp   int64                `json:"timestamp"`
	Mode        codehash.Mode        `json:"mode"`
	ChainID     uint64               `json:"chainId"`
	Epoch       uint64               `json:"epoch"`
	Root        common.Hash          `json:"root"`
	BuildHash   common.Hash          `json:"buildHash"`
	Ready       bool                 `json:"ready"`
	Validation  Validation           `json:"validation"`
	Checks      []plan.CheckResult   `json:"checks"`
	Violations  []plan.SizeViolation `json:"violations,omitempty"`
	Warnings    []string             `json:"warnings"`
	PreviousRun string               `json:"previousRun,omitempty"`
}

// Summary renders the run's validation document.
func (r *Result) Summary() Summary {
	s := Summary{
		RunID:      r.RunID.String(),
		Timestamp:  r.GeneratedAt.UnixMilli(),
		Mode:       r.Mode,
		ChainID:    r.Manifest.ChainID,
		Epoch:      r.Manifest.Epoch,
		BuildHash:  r.BuildHash,
		Ready:      r.Ready(),
		Validation: r.Validation,
		Checks:     []plan.CheckResult{},
		Warnings:   r.Warnings,
	}
	if s.Warnings == nil {
		s.Warnings = []string{}
	}
	if r.Tree != nil {
		s.Root = r.Tree.Root
	}
	if r.Checks != nil {
		s.Checks = append(s.Checks, r.Checks.Checks()...)
		s.Violations = r.Checks.Violations
	}
	s.Checks = append(s.Checks, r.Reproducibility)
	if r.Previous != nil {
		s.PreviousRun = r.Previous.ID.String()
	}
	return s
}

type document struct {
	key string
	v   any
}

// emit writes every artifact of r, then a SHA256SUMS file covering them,
// and returns the keys written in order.
func emit(ctx context.Context, sink blob.Sink, r *Result) ([]string, error) {
	docs := []document{
		{KeyManifest, r.Manifest},
		{KeyProofs, r.Tree.ExportProofs()},
		{KeyDeployment, r.Deployment.Doc()},
		{KeyOrchestration, r.Orchestration.Doc()},
	}
	ex := r.oracle.Export(r.Codehashes, r.GeneratedAt)
	docs = append(docs, document{ex.FileName(), ex})
	if r.Predicted != nil {
		pe := r.oracle.Export(r.Predicted, r.GeneratedAt)
		docs = append(docs, document{pe.FileName(), pe})
	}
	docs = append(docs,
		document{KeySelectors, r.Extraction.Export(r.GeneratedAt)},
		document{KeyValidation, r.Summary()},
	)

	sums := make(map[string]string, len(docs))
	keys := make([]string, 0, len(docs)+1)
	for _, d := range docs {
		data, err := blob.MarshalJSON(d.v)
		if err != nil {
			return keys, fmt.Errorf("marshal %s: %w", d.key, err)
		}
		if err := sink.Put(ctx, d.key, data, "application/json"); err != nil {
			return keys, fmt.Errorf("write %s: %w", d.key, err)
		}
		sum := sha256.Sum256(data)
		sums[d.key] = hex.EncodeToString(sum[:])
		keys = append(keys, d.key)
	}
	if err := sink.Put(ctx, KeyChecksums, []byte(Checksums(sums)), "text/plain"); err != nil {
		return keys, fmt.Errorf("write %s: %w", KeyChecksums, err)
	}
	return append(keys, KeyChecksums), nil
}

// Checksums renders sha256sum-compatible lines sorted by key.
func Checksums(sums map[string]string) string {
	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s  %s\n", sums[k], k)
	}
	return b.String()
}
