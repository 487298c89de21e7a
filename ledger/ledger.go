// Package ledger records every manifest run in a local SQLite database,
// keyed by a fingerprint of its inputs. Two runs with the same fingerprint
// must commit to the same root; the ledger is how that is checked across
// processes and days.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/crypto"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/errkind"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - runs table and fingerprint index
const currentSchemaVersion = 1

// Record is one pipeline run.
type Record struct {
	ID          uuid.UUID
	Fingerprint common.Hash
	Mode        string
	ChainID     uint64
	Epoch       uint64
	Root        common.Hash
	BuildHash   common.Hash
	Leaves      int
	Ready       bool
	CreatedAt   time.Time
}

// Input is what a run's fingerprint covers. Codehashes maps facet name to
// codehash, Addresses maps facet name to its resolved address and Routes
// maps selector hex to facet name.
type Input struct {
	BuildHash  common.Hash
	Mode       string
	ChainID    uint64
	Epoch      uint64
	Codehashes map[string]common.Hash
	Addresses  map[string]common.Address
	Routes     map[string]string
}

// Fingerprint hashes in with every map visited in sorted key order.
func Fingerprint(in Input) common.Hash {
	var b strings.Builder
	fmt.Fprintf(&b, "build=%s\nmode=%s\nchain=%d\nepoch=%d\n", in.BuildHash.Hex(), in.Mode, in.ChainID, in.Epoch)
	names := make([]string, 0, len(in.Codehashes))
	for n := range in.Codehashes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "codehash %s=%s\n", n, in.Codehashes[n].Hex())
	}
	names = names[:0]
	for n := range in.Addresses {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "address %s=%s\n", n, in.Addresses[n].Hex())
	}
	sels := make([]string, 0, len(in.Routes))
	for s := range in.Routes {
		sels = append(sels, s)
	}
	sort.Strings(sels)
	for _, s := range sels {
		fmt.Fprintf(&b, "route %s=%s\n", strings.ToLower(s), in.Routes[s])
	}
	return crypto.Keccak256Hash([]byte(b.String()))
}

// Ledger is an open run database.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// NewRunID returns a time-ordered run id.
func NewRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Append stores r. A zero ID is replaced with a fresh run id and a zero
// CreatedAt with the current time; the stored record is returned.
func (l *Ledger) Append(ctx context.Context, r Record) (Record, error) {
	if r.ID == uuid.Nil {
		r.ID = NewRunID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	ready := 0
	if r.Ready {
		ready = 1
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO runs
		(id, fingerprint, mode, chain_id, epoch, root, build_hash, leaves, ready, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Fingerprint.Hex(), r.Mode, int64(r.ChainID), int64(r.Epoch),
		r.Root.Hex(), r.BuildHash.Hex(), r.Leaves, ready, r.CreatedAt.UnixMilli())
	if err != nil {
		return Record{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

const selectRuns = `SELECT id, fingerprint, mode, chain_id, epoch, root, build_hash, leaves, ready, created_at FROM runs`

// Latest returns the most recent run with fingerprint fp.
func (l *Ledger) Latest(ctx context.Context, fp common.Hash) (Record, bool, error) {
	row := l.db.QueryRowContext(ctx, selectRuns+` WHERE fingerprint = ? ORDER BY created_at DESC, id DESC LIMIT 1`, fp.Hex())
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Runs returns up to limit runs, newest first. limit <= 0 means all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Record, error) {
	q := selectRuns + ` ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckReproducible compares root with the latest run sharing fp. No
// previous run passes; a different root is a consistency error naming the
// earlier run.
func (l *Ledger) CheckReproducible(ctx context.Context, fp, root common.Hash) (*Record, error) {
	prev, ok, err := l.Latest(ctx, fp)
	if err != nil || !ok {
		return nil, err
	}
	if prev.Root != root {
		return &prev, errkind.Newf(errkind.ErrConsistency, "reproducibility", prev.ID.String(),
			"identical inputs produced root %s, earlier run produced %s", root.Hex(), prev.Root.Hex())
	}
	return &prev, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var (
		r                         Record
		id, fp, root, buildHash   string
		chainID, epoch, createdAt int64
		ready                     int
	)
	if err := s.Scan(&id, &fp, &r.Mode, &chainID, &epoch, &root, &buildHash, &r.Leaves, &ready, &createdAt); err != nil {
		return Record{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, fmt.Errorf("run id %q: %w", id, err)
	}
	r.ID = parsed
	r.Fingerprint = common.HexToHash(fp)
	r.Root = common.HexToHash(root)
	r.BuildHash = common.HexToHash(buildHash)
	r.ChainID = uint64(chainID)
	r.Epoch = uint64(epoch)
	r.Ready = ready != 0
	r.CreatedAt = time.UnixMilli(createdAt)
	return r, nil
}
