package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkilian/splitagg/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the task store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex // Serializes writers
}

// NewSQLiteStore opens (creating if needed) the task database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateTask inserts a new task. CreatedAt and UpdatedAt are stamped when zero.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task == nil || task.ID == "" {
		return nil, types.ErrInvalidTaskID
	}
	t := task.Clone()
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = types.StatusQueued
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("store: %w: %q", types.ErrInvalidStatus, t.Status)
	}

	errs, err := encodeErrors(t.Errors)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, status, input_file_path, output_file_path, result_object,
			errors, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Status), nullString(t.InputFilePath), nullString(t.OutputFilePath),
		nullString(t.ResultObject), errs, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to insert task %s: %w", t.ID, err)
	}
	return t, nil
}

// GetTask returns the task with id. A missing task yields an error wrapping
// types.ErrTaskNotFound.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, input_file_path, output_file_path, result_object,
			errors, created_at, updated_at
		FROM tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: %w: %s", types.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask overwrites the mutable fields of an existing task and stamps
// UpdatedAt.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	if task == nil || task.ID == "" {
		return nil, types.ErrInvalidTaskID
	}
	if !task.Status.Valid() {
		return nil, fmt.Errorf("store: %w: %q", types.ErrInvalidStatus, task.Status)
	}
	t := task.Clone()
	t.UpdatedAt = time.Now().UTC()

	errs, err := encodeErrors(t.Errors)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?, input_file_path = ?, output_file_path = ?, result_object = ?,
			errors = ?, updated_at = ?
		WHERE id = ?`,
		string(t.Status), nullString(t.InputFilePath), nullString(t.OutputFilePath),
		nullString(t.ResultObject), errs, t.UpdatedAt.UnixNano(), t.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: failed to update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: failed to update task %s: %w", t.ID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("store: %w: %s", types.ErrTaskNotFound, t.ID)
	}

	var created int64
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM tasks WHERE id = ?`, t.ID).Scan(&created); err != nil {
		return nil, fmt.Errorf("store: failed to reload task %s: %w", t.ID, err)
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	return t, nil
}

// ListByStatus returns the tasks in status, oldest first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status types.TaskStatus) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, input_file_path, output_file_path, result_object,
			errors, created_at, updated_at
		FROM tasks WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(sc scanner) (*types.Task, error) {
	var (
		t                           types.Task
		status                      string
		input, output, object, errs sql.NullString
		created, updated            int64
	)
	if err := sc.Scan(&t.ID, &status, &input, &output, &object, &errs, &created, &updated); err != nil {
		return nil, err
	}

	t.Status = types.TaskStatus(status)
	t.InputFilePath = stringPtr(input)
	t.OutputFilePath = stringPtr(output)
	t.ResultObject = stringPtr(object)
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()

	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &t.Errors); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	return &t, nil
}

func encodeErrors(fe types.FieldErrors) (sql.NullString, error) {
	if len(fe) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fe)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("store: failed to encode errors: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return types.StringPtr(ns.String)
}
