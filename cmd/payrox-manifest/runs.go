package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/ledger"
)

func newRunsCommand(root *rootOptions) *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ledger") {
				f.Ledger.Path = path
			}
			if f.Ledger.Path == "" {
				return commandError("runs", errors.New("a ledger path is required (--ledger or ledger.path)"))
			}
			l, err := ledger.Open(ctx, f.Ledger.Path)
			if err != nil {
				return commandError("open ledger", err)
			}
			defer l.Close()
			recs, err := l.Runs(ctx, limit)
			if err != nil {
				return commandError("list runs", err)
			}

			out := cmd.OutOrStdout()
			if root.format == "json" {
				type run struct {
					ID          string `json:"id"`
					Fingerprint string `json:"fingerprint"`
					Mode        string `json:"mode"`
					ChainID     uint64 `json:"chainId"`
					Epoch       uint64 `json:"epoch"`
					Root        string `json:"root"`
					Leaves      int    `json:"leaves"`
					Ready       bool   `json:"ready"`
					CreatedAt   string `json:"createdAt"`
				}
				runs := make([]run, len(recs))
				for i, r := range recs {
					runs[i] = run{
						ID:          r.ID.String(),
						Fingerprint: r.Fingerprint.Hex(),
						Mode:        r.Mode,
						ChainID:     r.ChainID,
						Epoch:       r.Epoch,
						Root:        r.Root.Hex(),
						Leaves:      r.Leaves,
						Ready:       r.Ready,
						CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
					}
				}
				if err := writeJSON(out, runs); err != nil {
					return commandError("write output", err)
				}
				return nil
			}
			p := &printer{w: out}
			for _, r := range recs {
				p.printf("%s  %s  %-10s chain=%d epoch=%d leaves=%d ready=%t root=%s\n",
					r.CreatedAt.UTC().Format(time.RFC3339), r.ID, r.Mode, r.ChainID, r.Epoch, r.Leaves, r.Ready, r.Root.Hex())
			}
			if p.err != nil {
				return commandError("write output", p.err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "ledger", "", "SQLite run ledger path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}
