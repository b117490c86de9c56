package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MimeLyc/storyclip/internal/jobs"
	_ "modernc.org/sqlite"
)

// MaxErrorMessageLen bounds the stored failure message.
const MaxErrorMessageLen = 1000

//go:embed migrations/*.sql
var migrationFiles embed.FS

const jobColumns = `id, owner, source_url, status, stage, progress_percent, error_message,
	metadata_json, created_at, started_at, finished_at, updated_at`

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ jobs.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serializes writers; readers queue behind short statements
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job          jobs.Job
		owner        sql.NullString
		status       string
		stage        string
		metadataJSON string
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&owner,
		&job.SourceURL,
		&status,
		&stage,
		&job.ProgressPercent,
		&job.ErrorMessage,
		&metadataJSON,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = jobs.Status(status)
	job.Stage = jobs.Stage(stage)
	if owner.Valid {
		v := owner.String
		job.Owner = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		job.StartedAt = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		job.FinishedAt = &v
	}
	if err := decodeMetadata(metadataJSON, &job.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of job %s: %w", job.ID, err)
	}
	return &job, nil
}

func decodeMetadata(raw string, meta *jobs.Metadata) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), meta)
}

func encodeMetadata(meta jobs.Metadata) (string, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func nullableOwner(owner *string) sql.NullString {
	if owner == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *owner, Valid: true}
}

func (s *SQLiteStore) Create(ctx context.Context, job *jobs.Job) (bool, error) {
	return s.insert(ctx, s.db, job)
}

func (s *SQLiteStore) insert(ctx context.Context, q rowQueryer, job *jobs.Job) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return false, fmt.Errorf("job id is required")
	}
	metadataJSON, err := encodeMetadata(job.Metadata)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	createdAt := job.CreatedAt.UTC()
	if job.CreatedAt.IsZero() {
		createdAt = now
	}
	status := job.Status
	if status == "" {
		status = jobs.StatusQueued
	}
	stage := job.Stage
	if stage == "" {
		stage = jobs.StageQueued
	}
	res, err := q.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, owner, source_url, status, stage, progress_percent, error_message, metadata_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		job.ID,
		nullableOwner(job.Owner),
		job.SourceURL,
		string(status),
		string(stage),
		job.ProgressPercent,
		job.ErrorMessage,
		metadataJSON,
		createdAt,
		now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobs.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) FindReusable(ctx context.Context, owner *string, sourceURL string) (*jobs.Job, error) {
	return s.findReusable(ctx, s.db, owner, sourceURL)
}

func (s *SQLiteStore) findReusable(ctx context.Context, q rowQueryer, owner *string, sourceURL string) (*jobs.Job, error) {
	row := q.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE owner IS ? AND source_url = ? AND status IN (?, ?, ?)
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		nullableOwner(owner),
		sourceURL,
		string(jobs.StatusQueued),
		string(jobs.StatusProcessing),
		string(jobs.StatusDone),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// ResolveOrCreate runs the reusable lookup and the insert in one transaction
// so two near-simultaneous submissions cannot both miss the lookup.
func (s *SQLiteStore) ResolveOrCreate(ctx context.Context, job *jobs.Job) (existing *jobs.Job, created bool, err error) {
	if job == nil {
		return nil, false, fmt.Errorf("job is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	found, err := s.findReusable(ctx, tx, job.Owner, job.SourceURL)
	if err != nil {
		return nil, false, err
	}
	if found != nil {
		if err = tx.Commit(); err != nil {
			return nil, false, err
		}
		return found, false, nil
	}

	inserted, err := s.insert(ctx, tx, job)
	if err != nil {
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		return nil, false, err
	}
	if !inserted {
		got, getErr := s.Get(ctx, job.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return got, false, nil
	}
	return job, true, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE status IN (?, ?)
		 ORDER BY created_at ASC, rowid ASC`,
		string(jobs.StatusQueued),
		string(jobs.StatusProcessing),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, jobID string, percent int, stage jobs.Stage) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			status = ?,
			stage = ?,
			progress_percent = MAX(progress_percent, ?),
			started_at = COALESCE(started_at, ?),
			updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(jobs.StatusProcessing),
		string(stage),
		clampProgress(percent),
		now,
		now,
		jobID,
		string(jobs.StatusDone),
		string(jobs.StatusFailed),
	)
	return err
}

func (s *SQLiteStore) UpdateSegments(ctx context.Context, jobID string, parts []jobs.Segment) error {
	snapshot := jobs.CloneSegments(parts)
	return s.mutateActive(ctx, jobID, func(meta *jobs.Metadata) (string, []any) {
		meta.Parts = snapshot
		return "", nil
	})
}

func (s *SQLiteStore) MarkDone(ctx context.Context, jobID string, update jobs.DoneUpdate) error {
	now := s.now().UTC()
	return s.mutateActive(ctx, jobID, func(meta *jobs.Metadata) (string, []any) {
		if update.Output != "" {
			meta.Output = update.Output
		}
		if update.VideoID != "" {
			meta.VideoID = update.VideoID
		}
		if update.Title != "" {
			meta.Title = update.Title
		}
		if update.Parts != nil {
			meta.Parts = jobs.CloneSegments(update.Parts)
		}
		return `status = ?, stage = ?, progress_percent = 100, error_message = '',
			started_at = COALESCE(started_at, ?), finished_at = ?`,
			[]any{string(jobs.StatusDone), string(jobs.StageDone), now, now}
	})
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, jobID string, message string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET
			status = ?,
			stage = ?,
			error_message = ?,
			finished_at = ?,
			updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(jobs.StatusFailed),
		string(jobs.StageFailed),
		TruncateMessage(message, MaxErrorMessageLen),
		now,
		now,
		jobID,
		string(jobs.StatusDone),
		string(jobs.StatusFailed),
	)
	return err
}

// mutateActive rewrites the metadata of a non-terminal job in one
// transaction. fn may return extra SET clauses applied in the same UPDATE.
func (s *SQLiteStore) mutateActive(ctx context.Context, jobID string, fn func(meta *jobs.Metadata) (string, []any)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status, metadataJSON string
	err = tx.QueryRowContext(ctx, `SELECT status, metadata_json FROM jobs WHERE id = ?`, jobID).Scan(&status, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		// row removed by an administrative reset
		err = nil
		return tx.Rollback()
	}
	if err != nil {
		return err
	}
	if jobs.Status(status).Terminal() {
		return tx.Rollback()
	}

	var meta jobs.Metadata
	if err = decodeMetadata(metadataJSON, &meta); err != nil {
		return err
	}
	extraSet, extraArgs := fn(&meta)
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}

	query := `UPDATE jobs SET metadata_json = ?, updated_at = ?`
	args := []any{encoded, s.now().UTC()}
	if extraSet != "" {
		query += ", " + extraSet
		args = append(args, extraArgs...)
	}
	query += ` WHERE id = ?`
	args = append(args, jobID)
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteByOwner removes every job of owner and returns the deleted rows so
// the caller can remove their output files.
func (s *SQLiteStore) DeleteByOwner(ctx context.Context, owner string) (deleted []*jobs.Job, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE owner = ?`, owner)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			_ = rows.Close()
			err = scanErr
			return nil, err
		}
		deleted = append(deleted, job)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if _, err = tx.ExecContext(ctx, `DELETE FROM jobs WHERE owner = ?`, owner); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	// 100 is reserved for MarkDone
	if v > 99 {
		return 99
	}
	return v
}

// TruncateMessage shortens msg to at most limit bytes without splitting a
// UTF-8 sequence.
func TruncateMessage(msg string, limit int) string {
	msg = strings.TrimSpace(msg)
	if limit <= 0 || len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
