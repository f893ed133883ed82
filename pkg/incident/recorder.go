package incident

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

const (
	fileTimeLayout = "2006-01-02_15-04-05"
	createAttempts = 3
)

// Recorder writes incident evidence images and their ledger rows.
type Recorder struct {
	dir    string
	ledger Ledger
	now    func() time.Time
}

// NewRecorder creates a recorder writing images under dir.
func NewRecorder(dir string, ledger Ledger) (*Recorder, error) {
	if ledger == nil {
		return nil, errors.New("incident recorder requires a ledger")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create incident directory: %w", err)
	}
	return &Recorder{dir: dir, ledger: ledger, now: time.Now}, nil
}

// Dir returns the directory incident images are written to.
func (r *Recorder) Dir() string {
	return r.dir
}

// Ledger returns the underlying ledger.
func (r *Recorder) Ledger() Ledger {
	return r.ledger
}

// Record saves img as a JPEG named {studentID}_{timestamp}_{suffix}.jpg and
// appends one ledger row. The file is never overwritten. If the row cannot be
// appended the image is removed again and the error returned.
// Cancellation of ctx does not stop the write; ctx values are kept.
func (r *Recorder) Record(ctx context.Context, studentID string, img image.Image, typ Type) (*Incident, error) {
	if err := storage.ValidateStudentID(studentID); err != nil {
		return nil, err
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidIncident, typ)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidIncident)
	}

	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("encode incident image: %w", err)
	}

	ts := r.now()
	path, err := r.create(studentID, ts, data)
	if err != nil {
		return nil, err
	}

	inc := &Incident{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Timestamp: ts,
		ImagePath: path,
		Type:      typ,
	}
	if err := r.ledger.Append(context.WithoutCancel(ctx), inc); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logging.WithError(rmErr).Warnf("Failed to remove orphan incident image %s", path)
		}
		return nil, fmt.Errorf("append incident: %w", err)
	}

	logging.WithFields(logging.Fields{
		"component":  "incident",
		"student_id": studentID,
		"type":       typ,
	}).Infof("Recorded incident %s", filepath.Base(path))
	return inc, nil
}

// create writes data to a fresh file, retrying with a new suffix on collision.
func (r *Recorder) create(studentID string, ts time.Time, data []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		name := FileName(studentID, ts, uuid.NewString()[:8])
		path := filepath.Join(r.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			if os.IsExist(err) {
				lastErr = err
				continue
			}
			return "", fmt.Errorf("create incident image: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("write incident image: %w", err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("close incident image: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("create incident image: %w", lastErr)
}

// FileName builds the evidence file name for an incident.
func FileName(studentID string, ts time.Time, suffix string) string {
	return fmt.Sprintf("%s_%s_%s.jpg", studentID, ts.Format(fileTimeLayout), suffix)
}
