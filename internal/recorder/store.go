// Package recorder persists control-loop ticks and fused scans to SQLite
// so a run can be inspected after the fact.
package recorder

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/omnilaser/internal/monitoring"
)

// ErrNoRun is returned when ticks are recorded before StartRun.
var ErrNoRun = errors.New("recorder: no run started")

// Store records ticks of one or more runs. It implements
// monitoring.Observer.
type Store struct {
	db   *sql.DB
	path string
	logf func(format string, v ...interface{})

	mu    sync.RWMutex
	runID string
}

var _ monitoring.Observer = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	s := &Store{db: db, path: path, logf: monitoring.Component("Recorder")}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	version, dirty, err := s.MigrateVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		db.Close()
		return nil, fmt.Errorf("schema version %d is dirty", version)
	}
	s.logf("opened %s at schema version %d", path, version)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// RunInfo describes the loop that produced a run.
type RunInfo struct {
	Sensors    int
	Period     time.Duration
	FallbackMM int32
}

// Run is one recorded loop session.
type Run struct {
	ID         string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Sensors    int           `json:"sensors"`
	Period     time.Duration `json:"period_ns"`
	FallbackMM int32         `json:"fallback_mm"`
}

// StartRun opens a new run; later ticks are recorded under it.
func (s *Store) StartRun(ctx context.Context, info RunInfo, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix_ns, sensors, period_ns, fallback_mm) VALUES (?, ?, ?, ?, ?)`,
		id, at.UnixNano(), info.Sensors, int64(info.Period), info.FallbackMM)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
	s.logf("run %s started (%d sensors, period %v)", id, info.Sensors, info.Period)
	return id, nil
}

// RunID returns the current run, empty before StartRun.
func (s *Store) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// ObserveTick records r, logging instead of failing the loop.
func (s *Store) ObserveTick(r monitoring.TickReport) {
	if err := s.RecordTick(context.Background(), r); err != nil {
		s.logf("tick %d not recorded: %v", r.Seq, err)
	}
}

// RecordTick inserts the tick row and, when the tick fused a scan, its
// distances.
func (s *Store) RecordTick(ctx context.Context, r monitoring.TickReport) error {
	runID := s.RunID()
	if runID == "" {
		return ErrNoRun
	}
	var errText sql.NullString
	if r.Err != nil {
		errText = sql.NullString{String: r.Err.Error(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticks (run_id, seq, start_unix_ns, duration_ns, status, missed,
		                   laser_status, state_status, rgbd_status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(r.Seq), r.Start.UnixNano(), int64(r.Duration), string(r.Status), r.Missed,
		r.Laser.Status.String(), r.State.Status.String(), r.RGBD.Status.String(), errText)
	if err != nil {
		return fmt.Errorf("insert tick: %w", err)
	}

	if r.Distances != nil {
		dist, err := json.Marshal(r.Distances)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scans (run_id, seq, distances_json) VALUES (?, ?, ?)`,
			runID, int64(r.Seq), string(dist)); err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
	}
	return tx.Commit()
}

// TickRecord is one stored tick.
type TickRecord struct {
	Seq         uint64        `json:"seq"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration_ns"`
	Status      string        `json:"status"`
	Missed      int           `json:"missed"`
	LaserStatus string        `json:"laser_status"`
	StateStatus string        `json:"state_status"`
	RGBDStatus  string        `json:"rgbd_status"`
	Error       string        `json:"error,omitempty"`
}

// RecentTicks returns up to limit ticks of the current run, newest first.
func (s *Store) RecentTicks(ctx context.Context, limit int) ([]TickRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, start_unix_ns, duration_ns, status, missed,
		       laser_status, state_status, rgbd_status, COALESCE(error, '')
		FROM ticks WHERE run_id = ? ORDER BY seq DESC LIMIT ?`, s.RunID(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var (
			rec             TickRecord
			seq, start, dur int64
		)
		if err := rows.Scan(&seq, &start, &dur, &rec.Status, &rec.Missed,
			&rec.LaserStatus, &rec.StateStatus, &rec.RGBDStatus, &rec.Error); err != nil {
			return nil, err
		}
		rec.Seq = uint64(seq)
		rec.Start = time.Unix(0, start)
		rec.Duration = time.Duration(dur)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadScan returns the distances fused at seq in the current run.
func (s *Store) LoadScan(ctx context.Context, seq uint64) ([]int32, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT distances_json FROM scans WHERE run_id = ? AND seq = ?`, s.RunID(), int64(seq)).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var dist []int32
	if err := json.Unmarshal([]byte(raw), &dist); err != nil {
		return nil, fmt.Errorf("decode scan %d: %w", seq, err)
	}
	return dist, nil
}

// Runs lists all recorded runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started_unix_ns, sensors, period_ns, fallback_mm FROM runs ORDER BY started_unix_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r              Run
			started, perNs int64
		)
		if err := rows.Scan(&r.ID, &started, &r.Sensors, &perNs, &r.FallbackMM); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started)
		r.Period = time.Duration(perNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts tailsql and a backup download under /debug/.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.path), s.db, &tailsql.DBOptions{
		Label: "Omnilaser recorder",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the recorder database", http.HandlerFunc(s.handleBackup))
	return nil
}

func (s *Store) handleBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "omnilaser-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := s.db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		s.logf("backup stream failed: %v", err)
	}
}
