package api

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrCodeEU/facecheck/pkg/enrollment"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/incident"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/storage"
	"github.com/MrCodeEU/facecheck/pkg/verification"
)

// Enroller replaces a student's reference images.
type Enroller interface {
	Enroll(ctx context.Context, studentID string, images []string) (*enrollment.Profile, error)
}

// BatchVerifier checks frames against a student's reference.
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, studentID string, frames []string) (*verification.Verdict, error)
}

// ReferenceImages reads stored reference crops.
type ReferenceImages interface {
	Load(studentID string, index int) (image.Image, error)
}

type ServerConfig struct {
	Address          string
	MaxRequestBytes  int64
	EnrollmentImages int
	Enroller         Enroller
	Verifier         BatchVerifier
	References       ReferenceImages
	Ledger           incident.Ledger
	IncidentDir      string
	StartTime        time.Time
	Version          string
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.EnrollmentImages <= 0 {
		cfg.EnrollmentImages = enrollment.DefaultImageCount
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())

	r.Get("/health", healthHandler(cfg))
	r.Get("/reference_images/{filename}", referenceImageHandler(cfg))
	r.Get("/incident_images/{filename}", incidentImageHandler(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Use(BodyLimitMiddleware(cfg.MaxRequestBytes))

		r.Post("/capture_reference_batch", captureReferenceHandler(cfg))
		r.Post("/batch_verify", batchVerifyHandler(cfg))
		r.Get("/incidents", listIncidentsHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

// parseForm accepts both multipart and urlencoded bodies.
func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(32 << 20)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

func captureReferenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := parseForm(r); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid form data", "BAD_REQUEST")
			return
		}

		studentID := r.FormValue("student_id")
		images := make([]string, cfg.EnrollmentImages)
		missing := studentID == ""
		for i := range images {
			images[i] = r.FormValue(fmt.Sprintf("image%d", i+1))
			if images[i] == "" {
				missing = true
			}
		}
		if missing {
			WriteError(w, http.StatusBadRequest, "Missing student_id or one or more images", "BAD_REQUEST")
			return
		}

		_, err := cfg.Enroller.Enroll(r.Context(), studentID, images)
		if err != nil {
			status, message := enrollmentError(err)
			if status >= http.StatusInternalServerError {
				logging.ForStudent("api", studentID).WithError(err).Error("Batch reference capture error")
			}
			code := "BAD_REQUEST"
			if status >= http.StatusInternalServerError {
				code = "INTERNAL_ERROR"
			}
			WriteError(w, status, message, code)
			return
		}

		WriteJSON(w, http.StatusOK, EnrollResponse{
			Success: true,
			Message: "All reference images saved successfully.",
		})
	}
}

func enrollmentError(err error) (int, string) {
	var imgErr *enrollment.ImageError
	switch {
	case errors.Is(err, enrollment.ErrInvalidEnrollmentImage) && errors.As(err, &imgErr):
		return http.StatusBadRequest, fmt.Sprintf("Invalid image data for image %d", imgErr.Index)
	case errors.Is(err, enrollment.ErrNoFaceInEnrollmentImage) && errors.As(err, &imgErr):
		return http.StatusBadRequest, fmt.Sprintf("No face detected in image %d", imgErr.Index)
	case errors.Is(err, enrollment.ErrMissingStudentID),
		errors.Is(err, enrollment.ErrWrongImageCount):
		return http.StatusBadRequest, "Missing student_id or one or more images"
	case errors.Is(err, storage.ErrInvalidStudentID):
		return http.StatusBadRequest, "Invalid student_id"
	}
	return http.StatusInternalServerError, "Failed to capture batch reference images"
}

func batchVerifyHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := parseForm(r); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid form data", "BAD_REQUEST")
			return
		}

		studentID := r.FormValue("student_id")
		frames := r.Form["images[]"]
		if len(frames) == 0 {
			frames = r.Form["images"]
		}
		if studentID == "" || len(frames) == 0 {
			WriteError(w, http.StatusBadRequest, "Missing data", "BAD_REQUEST")
			return
		}

		verdict, err := cfg.Verifier.VerifyBatch(r.Context(), studentID, frames)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrReferenceNotFound):
				WriteError(w, http.StatusNotFound, "Reference image(s) not found", "NOT_FOUND")
			case errors.Is(err, enrollment.ErrNoValidEmbeddings):
				WriteError(w, http.StatusInternalServerError, "No valid embeddings from reference images", "INTERNAL_ERROR")
			case errors.Is(err, storage.ErrInvalidStudentID),
				errors.Is(err, verification.ErrMissingStudentID),
				errors.Is(err, verification.ErrNoFrames):
				WriteError(w, http.StatusBadRequest, "Missing data", "BAD_REQUEST")
			default:
				logging.ForStudent("api", studentID).WithError(err).Error("Batch verification error")
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}

		WriteJSON(w, http.StatusOK, verdict)
	}
}

// parseReferenceName splits "{studentId}_{index}.{ext}".
func parseReferenceName(name string) (string, int, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	sep := strings.LastIndexByte(base, '_')
	if sep <= 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(base[sep+1:])
	if err != nil || index < 1 {
		return "", 0, false
	}
	return base[:sep], index, true
}

func referenceImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID, index, ok := parseReferenceName(chi.URLParam(r, "filename"))
		if !ok {
			WriteError(w, http.StatusNotFound, "not found", "NOT_FOUND")
			return
		}

		img, err := cfg.References.Load(studentID, index)
		if err != nil {
			if errors.Is(err, storage.ErrReferenceNotFound) || errors.Is(err, storage.ErrInvalidStudentID) {
				WriteError(w, http.StatusNotFound, "not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to read reference image", "INTERNAL_ERROR")
			return
		}

		data, err := imaging.EncodePNG(img)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to encode reference image", "INTERNAL_ERROR")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(data)
	}
}

func incidentImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".jpg" {
			WriteError(w, http.StatusNotFound, "not found", "NOT_FOUND")
			return
		}

		path := filepath.Join(cfg.IncidentDir, name)
		if _, err := os.Stat(path); err != nil {
			WriteError(w, http.StatusNotFound, "not found", "NOT_FOUND")
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, path)
	}
}

func listIncidentsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := incident.Filter{
			StudentID: r.URL.Query().Get("student_id"),
			Type:      incident.Type(r.URL.Query().Get("type")),
		}
		if filter.Type != "" && !filter.Type.Valid() {
			WriteError(w, http.StatusBadRequest, "invalid incident type", "BAD_REQUEST")
			return
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				WriteError(w, http.StatusBadRequest, "invalid limit", "BAD_REQUEST")
				return
			}
			filter.Limit = limit
		}

		incidents, err := cfg.Ledger.List(r.Context(), filter)
		if err != nil {
			logging.WithError(err).Error("Failed to list incidents")
			WriteError(w, http.StatusInternalServerError, "failed to list incidents", "INTERNAL_ERROR")
			return
		}

		resp := IncidentsResponse{Incidents: make([]IncidentResponse, len(incidents))}
		for i, inc := range incidents {
			resp.Incidents[i] = IncidentToResponse(inc)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
