package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/batchgate/pkg/model"

	_ "modernc.org/sqlite"
)

// timeFormat has a fixed width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// ArchiveJob records a done status, replacing any earlier record of the job.
func (s *SQLiteStore) ArchiveJob(ctx context.Context, status *model.JobStatus) error {
	if status == nil || status.Job == nil {
		return model.NewError(model.CodeBadParameter, "", "status without job")
	}
	if !status.IsDone() {
		return model.NewError(model.CodeBadParameter, status.Job.Scheduler(), "job %s is not done", status.Job.Identifier())
	}
	a := model.NewArchivedJob(status, s.now())
	s.logger.Debug("sql", "op", "upsert", "table", "jobs", "scheduler", a.Scheduler, "id", a.JobID)

	descJSON, err := json.Marshal(a.Description)
	if err != nil {
		return fmt.Errorf("marshal description: %w", err)
	}
	info := a.SchedulerInfo
	if info == nil {
		info = map[string]string{}
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal scheduler info: %w", err)
	}
	var errCode, errMessage string
	if a.Error != nil {
		errCode, errMessage = string(a.Error.Code), a.Error.Message
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (scheduler, job_id, name, queue_name, executable, state, exit_code, error_code, error_message, description, scheduler_info, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (scheduler, job_id) DO UPDATE SET
		   name = excluded.name,
		   queue_name = excluded.queue_name,
		   executable = excluded.executable,
		   state = excluded.state,
		   exit_code = excluded.exit_code,
		   error_code = excluded.error_code,
		   error_message = excluded.error_message,
		   description = excluded.description,
		   scheduler_info = excluded.scheduler_info,
		   finished_at = excluded.finished_at`,
		a.Scheduler, a.JobID, a.Name, a.Queue, a.Description.Executable, a.State, nullInt(a.ExitCode),
		errCode, errMessage, string(descJSON), string(infoJSON),
		a.FinishedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", a.JobID, err)
	}
	return nil
}

const jobColumns = `scheduler, job_id, name, queue_name, state, exit_code, error_code, error_message, description, scheduler_info, finished_at`

// GetArchivedJob returns the archived record of a job, or nil if there is none.
func (s *SQLiteStore) GetArchivedJob(ctx context.Context, scheduler, id string) (*model.ArchivedJob, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "scheduler", scheduler, "id", id)

	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE scheduler = ? AND job_id = ?`, scheduler, id)
	a, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListArchivedJobs returns archived jobs newest first, filtered by
// scheduler and queue when set.
func (s *SQLiteStore) ListArchivedJobs(ctx context.Context, opts model.ListOptions) ([]*model.ArchivedJob, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var where []string
	var args []any
	if opts.Scheduler != "" {
		where = append(where, "scheduler = ?")
		args = append(args, opts.Scheduler)
	}
	if opts.Queue != "" {
		where = append(where, "queue_name = ?")
		args = append(args, opts.Queue)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+clause+` ORDER BY finished_at DESC, job_id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*model.ArchivedJob
	for rows.Next() {
		a, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, a)
	}
	return jobs, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.ArchivedJob, error) {
	var a model.ArchivedJob
	var exitCode sql.NullInt64
	var errCode, errMessage, descJSON, infoJSON, finishedAt string

	if err := row.Scan(&a.Scheduler, &a.JobID, &a.Name, &a.Queue, &a.State, &exitCode,
		&errCode, &errMessage, &descJSON, &infoJSON, &finishedAt); err != nil {
		return nil, err
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		a.ExitCode = &v
	}
	if errCode != "" {
		a.Error = &model.APIError{Code: model.ErrorCode(errCode), Message: errMessage}
	}
	if err := json.Unmarshal([]byte(descJSON), &a.Description); err != nil {
		return nil, fmt.Errorf("unmarshal description: %w", err)
	}
	if err := json.Unmarshal([]byte(infoJSON), &a.SchedulerInfo); err != nil {
		return nil, fmt.Errorf("unmarshal scheduler info: %w", err)
	}
	if len(a.SchedulerInfo) == 0 {
		a.SchedulerInfo = nil
	}
	a.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return &a, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
