package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/database"
)

// Repository defines persistence for registration requests.
type Repository interface {
	// Create inserts a PENDING request. Returns ErrDuplicateSerial when
	// another non-rejected request holds the serial number.
	Create(ctx context.Context, req *Request) error

	// GetByID returns ErrNotFound if the request does not exist.
	GetByID(ctx context.Context, id string) (*Request, error)

	// ExistsActiveBySerial reports whether a non-rejected request uses serial.
	ExistsActiveBySerial(ctx context.Context, serial string) (bool, error)

	// List returns one page ordered by requested_at descending and the total
	// number of matching requests.
	List(ctx context.Context, status Status, limit, offset int) ([]Request, int, error)

	// ApproveTx moves a PENDING request to APPROVED inside tx.
	ApproveTx(ctx context.Context, tx *sql.Tx, id, droneID string, processedAt time.Time) error

	// Reject moves a PENDING request to REJECTED.
	Reject(ctx context.Context, id, reason string, processedAt time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
	SELECT id, serial_number, model, notes, status, requested_at,
		processed_at, admin_notes, drone_id
	FROM registration_requests`

// Create inserts req.
func (r *SQLiteRepository) Create(ctx context.Context, req *Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registration_requests (id, serial_number, model, notes, status, requested_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.SerialNumber,
		req.Model,
		nullableString(req.Notes),
		string(req.Status),
		database.FormatTime(req.RequestedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSerial, req.SerialNumber)
		}
		return fmt.Errorf("inserting registration request: %w", err)
	}
	return nil
}

// GetByID retrieves a request by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Request, error) {
	req, err := scanRequest(r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying registration request: %w", err)
	}
	return req, nil
}

// ExistsActiveBySerial reports whether a PENDING or APPROVED request uses serial.
func (r *SQLiteRepository) ExistsActiveBySerial(ctx context.Context, serial string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM registration_requests WHERE serial_number = ? AND status <> 'REJECTED'",
		serial,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking active request: %w", err)
	}
	return count > 0, nil
}

// List returns a page of requests, optionally filtered by status.
func (r *SQLiteRepository) List(ctx context.Context, status Status, limit, offset int) ([]Request, int, error) {
	where := ""
	var args []any
	if status != "" {
		where = " WHERE status = ?"
		args = append(args, string(status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registration_requests"+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE is a constant fragment
		return nil, 0, fmt.Errorf("counting registration requests: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectColumns+where+" ORDER BY requested_at DESC, id LIMIT ? OFFSET ?", //nolint:gosec // WHERE is a constant fragment
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying registration requests: %w", err)
	}
	defer rows.Close()

	requests := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning registration request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating registration requests: %w", err)
	}
	return requests, total, nil
}

// ApproveTx approves a PENDING request. Zero affected rows means the request
// is missing or already decided; the two are told apart so the caller gets
// ErrNotFound or ErrInvalidState.
func (r *SQLiteRepository) ApproveTx(ctx context.Context, tx *sql.Tx, id, droneID string, processedAt time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE registration_requests
		SET status = 'APPROVED', processed_at = ?, drone_id = ?
		WHERE id = ? AND status = 'PENDING'`,
		database.FormatTime(processedAt), droneID, id,
	)
	if err != nil {
		return fmt.Errorf("approving registration request: %w", err)
	}
	return decisionOutcome(ctx, tx, result, id)
}

// Reject rejects a PENDING request, storing reason as the admin notes.
func (r *SQLiteRepository) Reject(ctx context.Context, id, reason string, processedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE registration_requests
		SET status = 'REJECTED', processed_at = ?, admin_notes = ?
		WHERE id = ? AND status = 'PENDING'`,
		database.FormatTime(processedAt), nullableString(reason), id,
	)
	if err != nil {
		return fmt.Errorf("rejecting registration request: %w", err)
	}
	return decisionOutcome(ctx, r.db, result, id)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func decisionOutcome(ctx context.Context, q queryer, result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM registration_requests WHERE id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("checking request exists: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrInvalidState
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(scanner rowScanner) (*Request, error) {
	var req Request
	var status, requestedAt string
	var notes, processedAt, adminNotes, droneID sql.NullString

	if err := scanner.Scan(
		&req.ID,
		&req.SerialNumber,
		&req.Model,
		&notes,
		&status,
		&requestedAt,
		&processedAt,
		&adminNotes,
		&droneID,
	); err != nil {
		return nil, err
	}

	req.Status = Status(status)
	req.Notes = notes.String
	req.AdminNotes = adminNotes.String
	req.DroneID = droneID.String

	var err error
	if req.RequestedAt, err = database.ParseTime(requestedAt); err != nil {
		return nil, err
	}
	if req.ProcessedAt, err = database.ParseNullTime(processedAt); err != nil {
		return nil, err
	}
	return &req, nil
}

// nullableString returns nil for empty strings so the column stays NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
