// Package requests records capacity increase requests for administrators
// to review. Uses pure-Go SQLite (modernc.org/sqlite).
package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	_ "modernc.org/sqlite"

	"github.com/projecteru2/hatchery/types"
)

// Store is the request log.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil { //nolint:mnd
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck,gosec
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS capacity_requests (
			id                   TEXT PRIMARY KEY,
			username             TEXT NOT NULL,
			vm_name              TEXT NOT NULL,
			current_ram_mb       INTEGER NOT NULL,
			current_cpu          INTEGER NOT NULL,
			current_storage_gb   INTEGER NOT NULL,
			requested_ram_mb     INTEGER NOT NULL,
			requested_cpu        INTEGER NOT NULL,
			requested_storage_gb INTEGER NOT NULL,
			reason               TEXT NOT NULL,
			status               TEXT NOT NULL DEFAULT 'pending',
			created_at           TEXT NOT NULL,
			processed_at         TEXT NOT NULL DEFAULT '',
			admin_notes          TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS capacity_requests_user ON capacity_requests (username, created_at);
	`)
	return err
}

// Submission is a user's raw request. Empty or zero fields keep the
// current value.
type Submission struct {
	Username string
	VMName   string
	Current  Current
	RAM      string
	CPU      int
	Storage  string
	Reason   string
}

// Current is the VM's allocation at submission time.
type Current struct {
	RAMMB     int
	CPU       int
	StorageGB int
}

// Submit validates and records a request.
func (s *Store) Submit(ctx context.Context, sub Submission) (*types.CapacityRequest, error) {
	req, err := sub.build()
	if err != nil {
		return nil, err
	}
	req.ID = uuid.NewString()
	req.Status = types.RequestPending
	req.CreatedAt = s.now().UTC()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO capacity_requests (id, username, vm_name, current_ram_mb, current_cpu, current_storage_gb,
			requested_ram_mb, requested_cpu, requested_storage_gb, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.Username, req.VMName, req.CurrentRAMMB, req.CurrentCPU, req.CurrentStorageGB,
		req.RequestedRAMMB, req.RequestedCPU, req.RequestedStorageGB, req.Reason, string(req.Status),
		req.CreatedAt.Format(tsLayout)); err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}
	log.WithFunc("requests.Submit").Infof(ctx, "capacity request %s from %s for %s: ram %s, cpu %d, storage %dGB",
		req.ID, req.Username, req.VMName, HumanMB(req.RequestedRAMMB), req.RequestedCPU, req.RequestedStorageGB)
	return req, nil
}

func (sub Submission) build() (*types.CapacityRequest, error) {
	if strings.TrimSpace(sub.VMName) == "" {
		return nil, types.Validationf("VM name required")
	}
	reason := strings.TrimSpace(sub.Reason)
	if len([]rune(reason)) < MinReasonLen {
		return nil, types.Validationf("reason required (%d characters minimum)", MinReasonLen)
	}
	req := &types.CapacityRequest{
		Username:           sub.Username,
		VMName:             sub.VMName,
		CurrentRAMMB:       sub.Current.RAMMB,
		CurrentCPU:         sub.Current.CPU,
		CurrentStorageGB:   sub.Current.StorageGB,
		RequestedRAMMB:     sub.Current.RAMMB,
		RequestedCPU:       sub.Current.CPU,
		RequestedStorageGB: sub.Current.StorageGB,
		Reason:             reason,
	}
	changed := false
	if sub.RAM != "" {
		mb, err := ParseRAM(sub.RAM)
		if err != nil {
			return nil, err
		}
		if err := checkRange("RAM", mb, MinRAMMB, MaxRAMMB, "MB"); err != nil {
			return nil, err
		}
		req.RequestedRAMMB, changed = mb, true
	}
	if sub.CPU != 0 {
		if err := checkRange("CPU", sub.CPU, MinCPU, MaxCPU, ""); err != nil {
			return nil, err
		}
		req.RequestedCPU, changed = sub.CPU, true
	}
	if sub.Storage != "" {
		gb, err := ParseStorage(sub.Storage)
		if err != nil {
			return nil, err
		}
		if err := checkRange("storage", gb, MinStorageGB, MaxStorageGB, "GB"); err != nil {
			return nil, err
		}
		req.RequestedStorageGB, changed = gb, true
	}
	if !changed {
		return nil, types.Validationf("nothing requested: give RAM, CPU or storage")
	}
	return req, nil
}

// Filter narrows List. A zero Filter lists everything.
type Filter struct {
	Username string
	Status   types.RequestStatus
}

// List returns matching requests, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*types.CapacityRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.Username != "" {
		where, args = append(where, "username = ?"), append(args, f.Username)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	q := `SELECT ` + columns + ` FROM capacity_requests`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*types.CapacityRequest
	for rows.Next() {
		req, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Get returns one request.
func (s *Store) Get(ctx context.Context, id string) (*types.CapacityRequest, error) {
	req, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM capacity_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, types.ErrNotFound)
	}
	return req, err
}

// Decide approves or rejects a pending request.
func (s *Store) Decide(ctx context.Context, id string, status types.RequestStatus, notes string) (*types.CapacityRequest, error) {
	if status != types.RequestApproved && status != types.RequestRejected {
		return nil, types.Validationf("invalid decision %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE capacity_requests SET status = ?, processed_at = ?, admin_notes = ?
		WHERE id = ? AND status = ?
	`, string(status), s.now().UTC().Format(tsLayout), notes, id, string(types.RequestPending))
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("request %s already %s: %w", id, req.Status, types.ErrConflict)
	}
	log.WithFunc("requests.Decide").Infof(ctx, "capacity request %s %s", id, status)
	return s.Get(ctx, id)
}

// Fixed-width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

const columns = `id, username, vm_name, current_ram_mb, current_cpu, current_storage_gb,
	requested_ram_mb, requested_cpu, requested_storage_gb, reason, status, created_at, processed_at, admin_notes`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*types.CapacityRequest, error) {
	var (
		req                  types.CapacityRequest
		status               string
		createdAt, processed string
	)
	if err := row.Scan(&req.ID, &req.Username, &req.VMName, &req.CurrentRAMMB, &req.CurrentCPU, &req.CurrentStorageGB,
		&req.RequestedRAMMB, &req.RequestedCPU, &req.RequestedStorageGB, &req.Reason, &status,
		&createdAt, &processed, &req.AdminNotes); err != nil {
		return nil, err
	}
	req.Status = types.RequestStatus(status)
	req.CreatedAt, _ = time.Parse(tsLayout, createdAt)
	if processed != "" {
		if t, err := time.Parse(tsLayout, processed); err == nil {
			req.ProcessedAt = &t
		}
	}
	return &req, nil
}
