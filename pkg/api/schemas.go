package api

import (
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/incident"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type EnrollResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type IncidentResponse struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"incident_type"`
	ImageURL  string `json:"image_url"`
}

type IncidentsResponse struct {
	Incidents []IncidentResponse `json:"incidents"`
}

func IncidentToResponse(inc incident.Incident) IncidentResponse {
	return IncidentResponse{
		ID:        inc.ID,
		StudentID: inc.StudentID,
		Timestamp: inc.Timestamp.Format(time.RFC3339),
		Type:      string(inc.Type),
		ImageURL:  "/incident_images/" + filepath.Base(inc.ImagePath),
	}
}
