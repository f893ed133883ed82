package incident

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores incidents in PostgreSQL, for deployments where several
// facecheck servers share one ledger.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres ledger requires a dsn")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

// initSchema creates the incidents table if it doesn't exist.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			image_path TEXT NOT NULL,
			incident_type TEXT NOT NULL CHECK (incident_type IN ('no_face', 'face_mismatch', 'processing_error'))
		);
		CREATE INDEX IF NOT EXISTS incidents_student_idx ON incidents (student_id, timestamp);
		CREATE INDEX IF NOT EXISTS incidents_type_idx ON incidents (incident_type, timestamp);
	`)
	return err
}

// Append inserts inc in its own transaction.
func (l *PostgresLedger) Append(ctx context.Context, inc *Incident) error {
	if err := validate(inc); err != nil {
		return err
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO incidents (id, student_id, timestamp, image_path, incident_type)
		VALUES ($1, $2, $3, $4, $5)
	`, inc.ID, inc.StudentID, inc.Timestamp, inc.ImagePath, string(inc.Type))
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}

	return tx.Commit(ctx)
}

// List implements Ledger.
func (l *PostgresLedger) List(ctx context.Context, f Filter) ([]Incident, error) {
	var where []string
	var args []any
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("incident_type = $%d", len(args)))
	}

	query := "SELECT id, student_id, timestamp, image_path, incident_type FROM incidents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	incidents := []Incident{}
	for rows.Next() {
		var inc Incident
		var typ string
		if err := rows.Scan(&inc.ID, &inc.StudentID, &inc.Timestamp, &inc.ImagePath, &typ); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Type = Type(typ)
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Close releases the connection pool.
func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
