package incident

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteLedger stores incidents in a local SQLite database.
type SQLiteLedger struct {
	conn *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers from every verification worker.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	l := &SQLiteLedger{conn: conn}
	if err := l.migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if l.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := l.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}
		if _, err := l.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		logging.Component("ledger").Debugf("Applied migration %s", name)
	}
	return nil
}

func (l *SQLiteLedger) isMigrationApplied(name string) bool {
	var exists int
	err := l.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = l.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// Append inserts inc in its own transaction.
func (l *SQLiteLedger) Append(ctx context.Context, inc *Incident) error {
	if err := validate(inc); err != nil {
		return err
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidents (id, student_id, timestamp, image_path, incident_type) VALUES (?, ?, ?, ?, ?)`,
		inc.ID, inc.StudentID, inc.Timestamp.UTC().Format(timeLayout), inc.ImagePath, string(inc.Type))
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit incident: %w", err)
	}
	return nil
}

// List implements Ledger.
func (l *SQLiteLedger) List(ctx context.Context, f Filter) ([]Incident, error) {
	var where []string
	var args []any
	if f.StudentID != "" {
		where = append(where, "student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.Type != "" {
		where = append(where, "incident_type = ?")
		args = append(args, string(f.Type))
	}

	query := "SELECT id, student_id, timestamp, image_path, incident_type FROM incidents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, f.limit())

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	incidents := []Incident{}
	for rows.Next() {
		var inc Incident
		var ts, typ string
		if err := rows.Scan(&inc.ID, &inc.StudentID, &ts, &inc.ImagePath, &typ); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Timestamp, err = time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		inc.Type = Type(typ)
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.conn.Close()
}
