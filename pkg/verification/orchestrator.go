package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrCodeEU/facecheck/pkg/enrollment"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/workerpool"
)

var (
	// ErrMissingStudentID is returned when a batch names no student.
	ErrMissingStudentID = errors.New("missing student id")
	// ErrNoFrames is returned for an empty batch.
	ErrNoFrames = errors.New("no frames to verify")
)

// ProfileSource resolves a student's reference profile.
type ProfileSource interface {
	Profile(ctx context.Context, studentID string) (*enrollment.Profile, error)
}

// Orchestrator verifies batches of frames on a worker pool.
type Orchestrator struct {
	profiles ProfileSource
	verifier *Verifier
	pool     workerpool.Submitter
}

// NewOrchestrator creates an Orchestrator dispatching frames to pool.
func NewOrchestrator(profiles ProfileSource, verifier *Verifier, pool workerpool.Submitter) *Orchestrator {
	return &Orchestrator{
		profiles: profiles,
		verifier: verifier,
		pool:     pool,
	}
}

// VerifyBatch verifies every frame against the student's reference and applies
// the majority rule. Errors are returned only for bad input or when the
// reference cannot be resolved; in both cases no frame is processed.
// The call blocks until every frame has an outcome. Once frames are dispatched,
// cancelling ctx no longer affects the batch: every frame runs and every
// failure is recorded.
func (o *Orchestrator) VerifyBatch(ctx context.Context, studentID string, frames []string) (*Verdict, error) {
	if studentID == "" {
		return nil, ErrMissingStudentID
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	profile, err := o.profiles.Profile(ctx, studentID)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	log := logging.ForStudent("orchestrator", studentID)
	log.Debugf("Verifying %d frames", len(frames))

	results := make([]Outcome, len(frames))
	var wg sync.WaitGroup
	var submitErr error
	for i, frame := range frames {
		i, frame := i, frame
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			results[i] = o.verifier.Verify(ctx, studentID, profile.Embedding, i, frame)
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("dispatch frame %d: %w", i, err)
			break
		}
	}
	wg.Wait()

	if submitErr != nil {
		return nil, submitErr
	}

	verdict := Aggregate(results)
	successes, failures := verdict.Counts()
	log.WithField("status", verdict.Status).Infof("Batch verified: %d passed, %d failed", successes, failures)
	return &verdict, nil
}
