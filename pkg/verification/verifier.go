package verification

import (
	"context"
	"fmt"
	"image"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/incident"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// DefaultCropSize matches the crop size used at enrollment.
const DefaultCropSize = 160

// Stage is a step of the per-frame pipeline.
type Stage int

const (
	StageDecoding Stage = iota
	StageDetecting
	StageEmbedding
	StageComparing
)

func (s Stage) String() string {
	switch s {
	case StageDecoding:
		return "decoding"
	case StageDetecting:
		return "detecting"
	case StageEmbedding:
		return "embedding"
	case StageComparing:
		return "comparing"
	}
	return "unknown"
}

// IncidentRecorder persists evidence for a failed frame.
type IncidentRecorder interface {
	Record(ctx context.Context, studentID string, img image.Image, typ incident.Type) (*incident.Incident, error)
}

// Verifier runs one frame through decode, detect, embed and compare.
// Verify never panics and never returns an error: every failure is an Outcome.
type Verifier struct {
	detector   recognition.Detector
	recognizer recognition.Recognizer
	recorder   IncidentRecorder
	cropSize   int
}

// NewVerifier creates a Verifier. A cropSize of 0 uses DefaultCropSize.
func NewVerifier(detector recognition.Detector, recognizer recognition.Recognizer, recorder IncidentRecorder, cropSize int) *Verifier {
	if cropSize <= 0 {
		cropSize = DefaultCropSize
	}
	return &Verifier{
		detector:   detector,
		recognizer: recognizer,
		recorder:   recorder,
		cropSize:   cropSize,
	}
}

// Verify checks the frame at index against reference.
func (v *Verifier) Verify(ctx context.Context, studentID string, reference recognition.Embedding, index int, payload string) (out Outcome) {
	log := logging.ForStudent("verifier", studentID).WithField("frame", index)

	stage := StageDecoding
	var frame image.Image
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stage", stage).Errorf("Frame pipeline panicked: %v", r)
			out = v.fail(ctx, log.Data, studentID, index, frame, panicReason(stage))
		}
	}()

	frame, err := imaging.DecodeDataURI(payload)
	if err != nil {
		// Nothing usable exists to keep as evidence.
		log.WithError(err).Warn("Rejected undecodable frame")
		return failure(index, DecodeError)
	}

	stage = StageDetecting
	box, found, err := v.detector.DetectLargest(frame)
	if err != nil {
		log.WithError(err).Error("Face detection failed")
		return v.fail(ctx, log.Data, studentID, index, frame, ProcessingError)
	}
	if !found {
		log.Warn("No face detected in frame")
		return v.fail(ctx, log.Data, studentID, index, frame, NoFaceDetected)
	}

	stage = StageEmbedding
	crop, err := imaging.Crop(frame, box, v.cropSize)
	if err != nil {
		log.WithError(err).Error("Face crop failed")
		return v.fail(ctx, log.Data, studentID, index, frame, Mismatch)
	}
	probe, err := v.recognizer.Embed(crop)
	if err != nil {
		log.WithError(err).Error("Embedding failed")
		return v.fail(ctx, log.Data, studentID, index, frame, Mismatch)
	}

	stage = StageComparing
	distance, matched := v.recognizer.Compare(reference, probe)
	log.WithField("distance", fmt.Sprintf("%.4f", distance)).Debug("Compared frame")

	if !matched {
		out = v.fail(ctx, log.Data, studentID, index, frame, Mismatch)
		out.Distance = &distance
		return out
	}
	return success(index, distance)
}

// panicReason maps the stage a panic happened in to a failure reason.
func panicReason(stage Stage) Reason {
	switch stage {
	case StageDecoding:
		return DecodeError
	case StageDetecting:
		return ProcessingError
	}
	return Mismatch
}

// fail builds a failed outcome and records its incident. A recording error is
// logged and leaves the outcome unchanged.
func (v *Verifier) fail(ctx context.Context, fields logging.Fields, studentID string, index int, frame image.Image, reason Reason) Outcome {
	out := failure(index, reason)

	typ, ok := reason.IncidentType()
	if !ok || frame == nil || v.recorder == nil {
		return out
	}

	inc, err := v.recorder.Record(ctx, studentID, frame, typ)
	if err != nil {
		logging.WithFields(fields).WithError(err).Error("Failed to record incident")
		return out
	}
	out.IncidentID = inc.ID
	return out
}
