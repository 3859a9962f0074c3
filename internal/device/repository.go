package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/database"
)

// Repository defines the persistence operations on drones.
type Repository interface {
	// CreateTx inserts a drone inside the caller's transaction.
	// Returns ErrDroneExists on a serial, username or request conflict.
	CreateTx(ctx context.Context, tx *sql.Tx, drone *Drone) error

	// GetByID returns ErrDroneNotFound if the drone does not exist.
	GetByID(ctx context.Context, id string) (*Drone, error)

	GetBySerialNumber(ctx context.Context, serial string) (*Drone, error)
	GetByRegistrationRequestID(ctx context.Context, requestID string) (*Drone, error)
	ExistsBySerialNumber(ctx context.Context, serial string) (bool, error)
	List(ctx context.Context, filter Filter) ([]Drone, error)

	// TouchHeartbeat records a heartbeat for the drone identified by serial
	// number, or failing that by drone ID.
	TouchHeartbeat(ctx context.Context, identity string, at time.Time) error

	// ReplaceSecretHash stores a new broker secret hash unconditionally.
	ReplaceSecretHash(ctx context.Context, id, hash string, issuedAt time.Time) error

	// ClaimFirstIssue stores hash only if credentials were never issued for
	// the drone. It reports whether this call won.
	ClaimFirstIssue(ctx context.Context, id, hash string, issuedAt time.Time) (bool, error)
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
	SELECT id, serial_number, model, registration_request_id, mqtt_broker_url,
		mqtt_username, mqtt_secret_hash, telemetry_topic, command_topic,
		current_status, last_heartbeat_at, credentials_issued_at,
		approved_at, created_at, updated_at
	FROM drones`

// CreateTx inserts drone within tx. CreatedAt and UpdatedAt are stamped and
// an empty status defaults to OFFLINE.
func (r *SQLiteRepository) CreateTx(ctx context.Context, tx *sql.Tx, drone *Drone) error {
	now := time.Now().UTC()
	drone.CreatedAt = now
	drone.UpdatedAt = now
	if drone.CurrentStatus == "" {
		drone.CurrentStatus = StatusOffline
	}
	if drone.ApprovedAt.IsZero() {
		drone.ApprovedAt = now
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO drones (
			id, serial_number, model, registration_request_id, mqtt_broker_url,
			mqtt_username, mqtt_secret_hash, telemetry_topic, command_topic,
			current_status, last_heartbeat_at, credentials_issued_at,
			approved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		drone.ID,
		drone.SerialNumber,
		drone.Model,
		drone.RegistrationRequestID,
		drone.MQTTBrokerURL,
		drone.MQTTUsername,
		drone.MQTTSecretHash,
		drone.TelemetryTopic,
		drone.CommandTopic,
		string(drone.CurrentStatus),
		database.NullTime(drone.LastHeartbeatAt),
		database.NullTime(drone.CredentialsIssuedAt),
		database.FormatTime(drone.ApprovedAt),
		database.FormatTime(drone.CreatedAt),
		database.FormatTime(drone.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDroneExists, drone.SerialNumber)
		}
		return fmt.Errorf("inserting drone: %w", err)
	}
	return nil
}

// GetByID retrieves a drone by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Drone, error) {
	return r.getOne(ctx, "id", id)
}

// GetBySerialNumber retrieves a drone by its serial number.
func (r *SQLiteRepository) GetBySerialNumber(ctx context.Context, serial string) (*Drone, error) {
	return r.getOne(ctx, "serial_number", serial)
}

// GetByRegistrationRequestID retrieves the drone created by an approval.
func (r *SQLiteRepository) GetByRegistrationRequestID(ctx context.Context, requestID string) (*Drone, error) {
	return r.getOne(ctx, "registration_request_id", requestID)
}

func (r *SQLiteRepository) getOne(ctx context.Context, column, value string) (*Drone, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE "+column+" = ?", value) //nolint:gosec // column is a constant chosen by the caller
	drone, err := scanDrone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDroneNotFound
		}
		return nil, fmt.Errorf("querying drone by %s: %w", column, err)
	}
	return drone, nil
}

// ExistsBySerialNumber reports whether a drone uses serial.
func (r *SQLiteRepository) ExistsBySerialNumber(ctx context.Context, serial string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM drones WHERE serial_number = ?", serial).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking drone exists: %w", err)
	}
	return count > 0, nil
}

// List returns drones newest first, optionally filtered by status.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Drone, error) {
	query := selectColumns
	var args []any
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
		}
		query += " WHERE current_status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying drones: %w", err)
	}
	defer rows.Close()

	drones := []Drone{}
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning drone: %w", err)
		}
		drones = append(drones, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating drones: %w", err)
	}
	return drones, nil
}

// TouchHeartbeat sets last_heartbeat_at to at unless a newer heartbeat is
// already recorded, and moves an OFFLINE drone to ONLINE.
func (r *SQLiteRepository) TouchHeartbeat(ctx context.Context, identity string, at time.Time) error {
	id, err := r.resolveID(ctx, identity)
	if err != nil {
		return err
	}

	ts := database.FormatTime(at)
	result, err := r.db.ExecContext(ctx, `
		UPDATE drones
		SET last_heartbeat_at = ?,
			current_status = CASE WHEN current_status = 'OFFLINE' THEN 'ONLINE' ELSE current_status END,
			updated_at = ?
		WHERE id = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at <= ?)`,
		ts, database.FormatTime(time.Now()), id, ts,
	)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleHeartbeat
	}
	return nil
}

// resolveID maps a topic identity to a drone ID, trying the serial number
// before the drone ID.
func (r *SQLiteRepository) resolveID(ctx context.Context, identity string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, "SELECT id FROM drones WHERE serial_number = ?", identity).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.QueryRowContext(ctx, "SELECT id FROM drones WHERE id = ?", identity).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrDroneNotFound, identity)
	}
	if err != nil {
		return "", fmt.Errorf("resolving drone %s: %w", identity, err)
	}
	return id, nil
}

// ReplaceSecretHash overwrites the stored broker secret hash.
func (r *SQLiteRepository) ReplaceSecretHash(ctx context.Context, id, hash string, issuedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE drones SET mqtt_secret_hash = ?, credentials_issued_at = ?, updated_at = ?
		WHERE id = ?`,
		hash, database.FormatTime(issuedAt), database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating secret hash: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDroneNotFound
	}
	return nil
}

// ClaimFirstIssue stores hash only while credentials_issued_at is NULL.
func (r *SQLiteRepository) ClaimFirstIssue(ctx context.Context, id, hash string, issuedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE drones SET mqtt_secret_hash = ?, credentials_issued_at = ?, updated_at = ?
		WHERE id = ? AND credentials_issued_at IS NULL`,
		hash, database.FormatTime(issuedAt), database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("claiming first credential issue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrone(scanner rowScanner) (*Drone, error) {
	var d Drone
	var status string
	var lastHeartbeat, credentialsIssued sql.NullString
	var approvedAt, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.SerialNumber,
		&d.Model,
		&d.RegistrationRequestID,
		&d.MQTTBrokerURL,
		&d.MQTTUsername,
		&d.MQTTSecretHash,
		&d.TelemetryTopic,
		&d.CommandTopic,
		&status,
		&lastHeartbeat,
		&credentialsIssued,
		&approvedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.CurrentStatus = Status(status)

	if d.LastHeartbeatAt, err = database.ParseNullTime(lastHeartbeat); err != nil {
		return nil, err
	}
	if d.CredentialsIssuedAt, err = database.ParseNullTime(credentialsIssued); err != nil {
		return nil, err
	}
	if d.ApprovedAt, err = database.ParseTime(approvedAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
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
