// Package incident records evidence of failed frame verifications: an image
// file plus one ledger row per incident.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type classifies an incident.
type Type string

const (
	TypeNoFace          Type = "no_face"
	TypeFaceMismatch    Type = "face_mismatch"
	TypeProcessingError Type = "processing_error"
)

// Valid reports whether t is one of the known incident types.
func (t Type) Valid() bool {
	switch t {
	case TypeNoFace, TypeFaceMismatch, TypeProcessingError:
		return true
	}
	return false
}

// Incident is one ledger row.
type Incident struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Timestamp time.Time `json:"timestamp"`
	ImagePath string    `json:"image_path"`
	Type      Type      `json:"incident_type"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	StudentID string
	Type      Type
	// Limit caps the number of rows; 0 means DefaultListLimit.
	Limit int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Ledger is the append-only incident log.
// Append commits its row before returning and is safe for concurrent use.
type Ledger interface {
	Append(ctx context.Context, inc *Incident) error
	// List returns matching incidents, newest first.
	List(ctx context.Context, f Filter) ([]Incident, error)
	Close() error
}

// ErrInvalidIncident is returned for rows missing required fields.
var ErrInvalidIncident = errors.New("invalid incident")

// ErrUnknownDriver is returned by Open for unsupported ledger drivers.
var ErrUnknownDriver = errors.New("unknown ledger driver")

func validate(inc *Incident) error {
	switch {
	case inc == nil:
		return fmt.Errorf("%w: nil", ErrInvalidIncident)
	case inc.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidIncident)
	case inc.StudentID == "":
		return fmt.Errorf("%w: missing student id", ErrInvalidIncident)
	case inc.ImagePath == "":
		return fmt.Errorf("%w: missing image path", ErrInvalidIncident)
	case !inc.Type.Valid():
		return fmt.Errorf("%w: type %q", ErrInvalidIncident, inc.Type)
	}
	return nil
}

// Open returns the ledger for driver: "sqlite" uses path, "postgres" uses dsn.
func Open(ctx context.Context, driver, path, dsn string) (Ledger, error) {
	switch driver {
	case "sqlite", "":
		return OpenSQLite(path)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
