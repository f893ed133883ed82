// Package recognition provides face detection and recognition functionality.
// It defines the narrow Detector and Recognizer contracts the verification core
// consumes, and implements both with dlib via go-face.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// DefaultThreshold is the Euclidean distance below which two embeddings match.
const DefaultThreshold = 0.75

// Embedding is a fixed-length face descriptor.
type Embedding []float32

// Detector locates the largest face in an image.
type Detector interface {
	// DetectLargest returns the tightest box around the largest face.
	// found is false when the image contains no face.
	DetectLargest(img image.Image) (box image.Rectangle, found bool, err error)
}

// Recognizer turns face crops into embeddings and compares them.
type Recognizer interface {
	Embed(crop image.Image) (Embedding, error)
	Compare(reference, probe Embedding) (distance float64, match bool)
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrNoEmbeddings is returned when averaging an empty set.
var ErrNoEmbeddings = errors.New("no embeddings to average")

// ErrDimensionMismatch is returned when embeddings differ in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// FaceEngine is the subset of *face.Recognizer used here.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

func newDlibEngine(modelPath string) (FaceEngine, error) {
	return face.NewRecognizer(modelPath)
}

// DlibRecognizer implements Detector and Recognizer using dlib via go-face.
type DlibRecognizer struct {
	engine    FaceEngine
	factory   func(modelPath string) (FaceEngine, error)
	modelPath string
	loaded    bool
	threshold float64
	mu        sync.RWMutex

	// dlib's detector keeps per-call scratch state, so calls are serialized.
	engineMu sync.Mutex
}

// NewRecognizer creates a new DlibRecognizer instance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory:   newDlibEngine,
		threshold: DefaultThreshold,
	}
}

// SetThreshold sets the match threshold.
// Lower values are more strict (fewer false positives).
func (r *DlibRecognizer) SetThreshold(threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = threshold
}

// LoadModels loads the dlib face recognition models from the specified path.
// The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// recognize runs the engine on img and returns faces in img's coordinate space.
func (r *DlibRecognizer) recognize(img image.Image) ([]face.Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	r.engineMu.Lock()
	faces, err := r.engine.Recognize(data)
	r.engineMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	// The encoded JPEG always starts at (0,0).
	offset := img.Bounds().Min
	for i := range faces {
		faces[i].Rectangle = faces[i].Rectangle.Add(offset).Intersect(img.Bounds())
	}
	return faces, nil
}

// largestFace picks the face with the biggest bounding box area.
func largestFace(faces []face.Face) (face.Face, bool) {
	if len(faces) == 0 {
		return face.Face{}, false
	}
	best := 0
	bestArea := -1
	for i, f := range faces {
		area := f.Rectangle.Dx() * f.Rectangle.Dy()
		if area > bestArea {
			best, bestArea = i, area
		}
	}
	return faces[best], true
}

// DetectLargest implements Detector.
func (r *DlibRecognizer) DetectLargest(img image.Image) (image.Rectangle, bool, error) {
	faces, err := r.recognize(img)
	if err != nil {
		return image.Rectangle{}, false, err
	}

	f, ok := largestFace(faces)
	if !ok || f.Rectangle.Empty() {
		return image.Rectangle{}, false, nil
	}

	logging.Debugf("Detected %d face(s), largest %v", len(faces), f.Rectangle)
	return f.Rectangle, true, nil
}

// Embed implements Recognizer.
func (r *DlibRecognizer) Embed(crop image.Image) (Embedding, error) {
	faces, err := r.recognize(crop)
	if err != nil {
		return nil, err
	}

	f, ok := largestFace(faces)
	if !ok {
		return nil, ErrNoFaceDetected
	}

	emb := make(Embedding, len(f.Descriptor))
	copy(emb, f.Descriptor[:])
	return emb, nil
}

// Compare implements Recognizer.
func (r *DlibRecognizer) Compare(reference, probe Embedding) (float64, bool) {
	r.mu.RLock()
	threshold := r.threshold
	r.mu.RUnlock()

	return Match(reference, probe, threshold)
}

// Match reports the distance between two embeddings and whether it is below threshold.
func Match(reference, probe Embedding, threshold float64) (float64, bool) {
	distance := EuclideanDistance(reference, probe)
	return distance, distance < threshold
}

// EuclideanDistance calculates the Euclidean distance between two embeddings.
// Embeddings of different length are infinitely far apart.
func EuclideanDistance(a, b Embedding) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// Mean computes the component-wise arithmetic mean of embeddings.
func Mean(embeddings []Embedding) (Embedding, error) {
	if len(embeddings) == 0 {
		return nil, ErrNoEmbeddings
	}

	dim := len(embeddings[0])
	sums := make([]float64, dim)
	for _, emb := range embeddings {
		if len(emb) != dim {
			return nil, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(emb), dim)
		}
		for i, v := range emb {
			sums[i] += float64(v)
		}
	}

	count := float64(len(embeddings))
	mean := make(Embedding, dim)
	for i, s := range sums {
		mean[i] = float32(s / count)
	}
	return mean, nil
}
