package main

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/incident"
	"github.com/MrCodeEU/facecheck/pkg/recognition/recognitiontest"
	"github.com/MrCodeEU/facecheck/pkg/verification"
)

type fakeModel struct {
	*recognitiontest.Detector
	*recognitiontest.Recognizer
	closed bool
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

func useFakeModel(t *testing.T) *fakeModel {
	t.Helper()
	model := &fakeModel{
		Detector:   &recognitiontest.Detector{},
		Recognizer: &recognitiontest.Recognizer{},
	}
	orig := modelFactory
	modelFactory = func(*config.Config) (faceModel, error) { return model, nil }
	t.Cleanup(func() { modelFactory = orig })
	return model
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.DefaultConfig()
	c.Storage.DataDir = t.TempDir()
	c.Recognition.ModelPath = filepath.Join(c.Storage.DataDir, "models")
	c.Ledger.Path = filepath.Join(c.Storage.DataDir, "incidents.db")
	c.Verification.Workers = 2
	return c
}

func writeImage(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestNewApp_EnrollAndVerify(t *testing.T) {
	model := useFakeModel(t)
	c := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, c)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}

	dir := t.TempDir()
	red := recognitiontest.SolidImage(recognitiontest.Red, 64, 64)
	black := recognitiontest.SolidImage(recognitiontest.Black, 64, 64)

	var enrollPaths []string
	for i := 0; i < 3; i++ {
		enrollPaths = append(enrollPaths, writeImage(t, dir, "ref"+string(rune('a'+i))+".png", red))
	}
	refs, err := readImageFiles(enrollPaths, false)
	if err != nil {
		t.Fatalf("readImageFiles failed: %v", err)
	}
	if !strings.HasPrefix(refs[0], "data:image/png;base64,") {
		t.Errorf("payload = %.30q, want png data uri", refs[0])
	}
	if _, err := a.profiles.Enroll(ctx, "s1", refs); err != nil {
		t.Fatalf("Enroll failed: %v", err)
	}

	framePaths := []string{
		writeImage(t, dir, "f1.png", red),
		writeImage(t, dir, "f2.png", red),
		writeImage(t, dir, "f3.png", black),
	}
	frames, err := readImageFiles(framePaths, true)
	if err != nil {
		t.Fatalf("readImageFiles failed: %v", err)
	}

	verdict, err := a.orchestrator.VerifyBatch(ctx, "s1", frames)
	if err != nil {
		t.Fatalf("VerifyBatch failed: %v", err)
	}
	if verdict.Status != verification.StatusSuccess {
		t.Errorf("status = %s, want success", verdict.Status)
	}

	var out bytes.Buffer
	printVerdict(&out, framePaths, verdict)
	if !strings.Contains(out.String(), "2 passed, 1 failed") {
		t.Errorf("unexpected verdict output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "No face detected") {
		t.Errorf("missing failure message:\n%s", out.String())
	}

	incidents, err := a.ledger.List(ctx, incident.Filter{StudentID: "s1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Type != incident.TypeNoFace {
		t.Errorf("incidents = %+v, want one no_face", incidents)
	}

	a.Close()
	if !model.closed {
		t.Error("Close should release the model")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	useFakeModel(t)
	c := testConfig(t)
	c.Ledger.Driver = "mysql"

	if _, err := newApp(context.Background(), c); err == nil {
		t.Error("expected error for unknown ledger driver")
	}
}

func TestReadImageFiles_Missing(t *testing.T) {
	if _, err := readImageFiles([]string{filepath.Join(t.TempDir(), "nope.png")}, false); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPrintIncidents(t *testing.T) {
	var out bytes.Buffer
	printIncidents(&out, nil)
	if !strings.Contains(out.String(), "No incidents") {
		t.Errorf("empty output = %q", out.String())
	}

	out.Reset()
	printIncidents(&out, []incident.Incident{{
		ID:        "1",
		StudentID: "s1",
		Timestamp: time.Now(),
		ImagePath: "/data/incidents/s1_2024-01-01_10-00-00_abcd1234.jpg",
		Type:      incident.TypeFaceMismatch,
	}})
	for _, want := range []string{"s1", "face_mismatch", "s1_2024-01-01_10-00-00_abcd1234.jpg", "Total: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestDownloadModels_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.dat"), []byte("model"), 0644); err != nil {
		t.Fatal(err)
	}

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	models := []modelFile{{Name: "a.dat", URL: srv.URL + "/a.dat.bz2"}}
	if err := downloadModels(context.Background(), srv.Client(), dir, models); err != nil {
		t.Fatalf("downloadModels failed: %v", err)
	}
	if requests != 0 {
		t.Errorf("existing model was downloaded again (%d requests)", requests)
	}
}

func TestDownloadModels_BadStatus(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	models := []modelFile{{Name: "b.dat", URL: srv.URL + "/b.dat.bz2"}}
	if err := downloadModels(context.Background(), srv.Client(), dir, models); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := os.Stat(filepath.Join(dir, "b.dat")); !os.IsNotExist(err) {
		t.Error("failed download must not leave a model file")
	}
}

func TestDownloadModels_CorruptArchive(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not bzip2"))
	}))
	defer srv.Close()

	models := []modelFile{{Name: "c.dat", URL: srv.URL + "/c.dat.bz2"}}
	if err := downloadModels(context.Background(), srv.Client(), dir, models); err == nil {
		t.Fatal("expected error for corrupt archive")
	}
	for _, name := range []string{"c.dat", "c.dat.part"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should not exist after a failed download", name)
		}
	}
}
