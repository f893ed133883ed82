package main

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/enrollment"
	"github.com/MrCodeEU/facecheck/pkg/incident"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/storage"
	"github.com/MrCodeEU/facecheck/pkg/verification"
	"github.com/MrCodeEU/facecheck/pkg/workerpool"
)

// profileService is implemented by both *enrollment.Builder and *enrollment.ProfileCache.
type profileService interface {
	Enroll(ctx context.Context, studentID string, images []string) (*enrollment.Profile, error)
	Profile(ctx context.Context, studentID string) (*enrollment.Profile, error)
}

// faceModel detects and embeds faces.
type faceModel interface {
	recognition.Detector
	recognition.Recognizer
	Close() error
}

// app holds the wired components shared by serve, enroll and verify.
type app struct {
	model        faceModel
	store        *storage.ReferenceStore
	ledger       incident.Ledger
	recorder     *incident.Recorder
	profiles     profileService
	pool         *workerpool.Pool
	orchestrator *verification.Orchestrator
}

// modelFactory is replaced in tests to avoid loading dlib models.
var modelFactory = func(c *config.Config) (faceModel, error) {
	r := recognition.NewRecognizer()
	r.SetThreshold(c.Recognition.Threshold)
	if err := r.LoadModels(c.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'facecheck download-models' first)", err)
	}
	return r, nil
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.store, err = storage.NewReferenceStore(c.ReferenceDir(), c.Storage.EncryptionEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.ledger, err = incident.Open(ctx, c.Ledger.Driver, c.Ledger.Path, c.Ledger.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open incident ledger: %w", err)
	}

	a.recorder, err = incident.NewRecorder(c.IncidentDir(), a.ledger)
	if err != nil {
		return nil, err
	}

	a.model, err = modelFactory(c)
	if err != nil {
		return nil, err
	}

	builder := enrollment.NewBuilder(a.model, a.model, a.store, enrollment.Options{
		ImageCount: c.Verification.EnrollmentImages,
		CropSize:   c.Recognition.CropSize,
	})
	if c.Verification.CacheProfiles {
		a.profiles = enrollment.NewProfileCache(builder, c.Verification.CacheTTL)
	} else {
		a.profiles = builder
	}

	a.pool = workerpool.New(c.Verification.Workers)
	verifier := verification.NewVerifier(a.model, a.model, a.recorder, c.Recognition.CropSize)
	a.orchestrator = verification.NewOrchestrator(a.profiles, verifier, a.pool)

	logging.WithFields(logging.Fields{
		"workers": c.Verification.Workers,
		"ledger":  c.Ledger.Driver,
		"cache":   c.Verification.CacheProfiles,
	}).Debug("Components initialized")

	ok = true
	return a, nil
}

// Close releases everything newApp acquired. Safe on a partially built app.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.model != nil {
		_ = a.model.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logging.WithError(err).Warnf("Failed to close incident ledger")
		}
	}
}
