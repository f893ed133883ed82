// Package verification checks batches of exam frames against a student's
// reference profile and reduces the per-frame outcomes to a single verdict.
package verification

import (
	"fmt"

	"github.com/MrCodeEU/facecheck/pkg/incident"
)

// Status is the result of a frame or a batch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Reason explains a failed frame. Declaration order is the tie-break order
// used by Aggregate.
type Reason int

const (
	NoFaceDetected Reason = iota + 1
	Mismatch
	DecodeError
	ProcessingError
)

var reasonNames = map[Reason]string{
	NoFaceDetected:  "no_face_detected",
	Mismatch:        "mismatch",
	DecodeError:     "decode_error",
	ProcessingError: "processing_error",
}

var reasonMessages = map[Reason]string{
	NoFaceDetected:  "No face detected",
	Mismatch:        "Face mismatch",
	DecodeError:     "Processing error",
	ProcessingError: "Processing error",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Message is the client-facing text for r.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// IncidentType returns the incident recorded for r, if any.
func (r Reason) IncidentType() (incident.Type, bool) {
	switch r {
	case NoFaceDetected:
		return incident.TypeNoFace, true
	case Mismatch:
		return incident.TypeFaceMismatch, true
	case ProcessingError:
		return incident.TypeProcessingError, true
	}
	return "", false
}

// Outcome is the result of verifying one frame.
type Outcome struct {
	Index      int      `json:"index"`
	Status     Status   `json:"status"`
	Reason     Reason   `json:"reason,omitempty"`
	Message    string   `json:"message,omitempty"`
	Distance   *float64 `json:"distance,omitempty"`
	IncidentID string   `json:"incident_id,omitempty"`
}

// Succeeded reports whether the frame matched.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

func success(index int, distance float64) Outcome {
	return Outcome{Index: index, Status: StatusSuccess, Distance: &distance}
}

func failure(index int, reason Reason) Outcome {
	return Outcome{Index: index, Status: StatusError, Reason: reason, Message: reason.Message()}
}
