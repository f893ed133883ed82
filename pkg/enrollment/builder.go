// Package enrollment builds a student's reference profile from enrollment
// images and recomputes it from the stored crops at verification time.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

// DefaultImageCount is the number of images an enrollment requires.
const DefaultImageCount = 3

// DefaultCropSize is the edge length of stored face crops.
const DefaultCropSize = 160

var (
	// ErrMissingStudentID is returned when no student identifier was given.
	ErrMissingStudentID = errors.New("missing student id")
	// ErrWrongImageCount is returned when the number of images differs from the configured count.
	ErrWrongImageCount = errors.New("wrong number of enrollment images")
	// ErrInvalidEnrollmentImage wraps payloads that could not be decoded.
	ErrInvalidEnrollmentImage = errors.New("invalid image")
	// ErrNoFaceInEnrollmentImage is returned when an enrollment image has no detectable face.
	ErrNoFaceInEnrollmentImage = errors.New("no face detected")
	// ErrDetectionFailed wraps detector errors during enrollment.
	ErrDetectionFailed = errors.New("face detection failed")
	// ErrNoValidEmbeddings is returned when no crop yields an embedding.
	ErrNoValidEmbeddings = errors.New("no valid embeddings")
)

// ImageError reports which enrollment image (1-based) was rejected.
type ImageError struct {
	Index  int
	Reason error
	Cause  error
}

func (e *ImageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v in image %d: %v", e.Reason, e.Index, e.Cause)
	}
	return fmt.Sprintf("%v in image %d", e.Reason, e.Index)
}

func (e *ImageError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Reason, e.Cause}
	}
	return []error{e.Reason}
}

// Profile is a student's reference embedding.
type Profile struct {
	StudentID string
	Embedding recognition.Embedding
	// Samples is the number of crops that contributed to Embedding.
	Samples int
}

// CropStore is the part of storage.ReferenceStore the builder needs.
type CropStore interface {
	Put(studentID string, crops []image.Image) error
	Get(studentID string) ([]storage.Crop, error)
}

// Options configures a Builder.
type Options struct {
	ImageCount int
	CropSize   int
}

// Builder enrolls students and resolves their reference profiles.
type Builder struct {
	detector   recognition.Detector
	recognizer recognition.Recognizer
	store      CropStore
	imageCount int
	cropSize   int
}

// NewBuilder creates a Builder. Zero options take the package defaults.
func NewBuilder(detector recognition.Detector, recognizer recognition.Recognizer, store CropStore, opts Options) *Builder {
	if opts.ImageCount <= 0 {
		opts.ImageCount = DefaultImageCount
	}
	if opts.CropSize <= 0 {
		opts.CropSize = DefaultCropSize
	}
	return &Builder{
		detector:   detector,
		recognizer: recognizer,
		store:      store,
		imageCount: opts.ImageCount,
		cropSize:   opts.CropSize,
	}
}

// ImageCount returns the number of images Enroll expects.
func (b *Builder) ImageCount() int {
	return b.imageCount
}

// Enroll replaces the reference of studentID with the faces found in images.
// Every image must decode and contain a face; otherwise nothing is written.
func (b *Builder) Enroll(ctx context.Context, studentID string, images []string) (*Profile, error) {
	if studentID == "" {
		return nil, ErrMissingStudentID
	}
	if err := storage.ValidateStudentID(studentID); err != nil {
		return nil, err
	}
	if len(images) != b.imageCount {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongImageCount, len(images), b.imageCount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := logging.ForStudent("enrollment", studentID)

	decoded := make([]image.Image, len(images))
	for i, payload := range images {
		img, err := imaging.DecodeDataURI(payload)
		if err != nil {
			return nil, &ImageError{Index: i + 1, Reason: ErrInvalidEnrollmentImage, Cause: err}
		}
		decoded[i] = img
	}

	crops, err := b.detectAll(ctx, decoded)
	if err != nil {
		log.WithError(err).Warn("Enrollment rejected")
		return nil, err
	}

	embeddings := b.embedAll(log.Data, cropImages(crops))
	if len(embeddings) == 0 {
		return nil, ErrNoValidEmbeddings
	}
	mean, err := recognition.Mean(embeddings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidEmbeddings, err)
	}

	if err := b.store.Put(studentID, cropImages(crops)); err != nil {
		return nil, fmt.Errorf("store reference crops: %w", err)
	}

	log.Infof("Enrolled with %d images (%d embeddings)", len(images), len(embeddings))
	return &Profile{StudentID: studentID, Embedding: mean, Samples: len(embeddings)}, nil
}

// detectAll finds and crops the largest face of every image concurrently.
// On failure the error of the lowest-indexed image is returned.
func (b *Builder) detectAll(ctx context.Context, images []image.Image) ([]storage.Crop, error) {
	crops := make([]storage.Crop, len(images))
	errs := make([]error, len(images))

	g, _ := errgroup.WithContext(ctx)
	for i, img := range images {
		i, img := i, img
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("detector panic: %v", r)
					errs[i] = &ImageError{Index: i + 1, Reason: ErrDetectionFailed, Cause: err}
				}
			}()

			box, found, err := b.detector.DetectLargest(img)
			if err != nil {
				errs[i] = &ImageError{Index: i + 1, Reason: ErrDetectionFailed, Cause: err}
				return errs[i]
			}
			if !found {
				errs[i] = &ImageError{Index: i + 1, Reason: ErrNoFaceInEnrollmentImage}
				return errs[i]
			}

			crop, err := imaging.Crop(img, box, b.cropSize)
			if err != nil {
				errs[i] = &ImageError{Index: i + 1, Reason: ErrNoFaceInEnrollmentImage, Cause: err}
				return errs[i]
			}
			crops[i] = storage.Crop{Index: i + 1, Image: crop}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, e := range errs {
			if e != nil {
				return nil, e
			}
		}
		return nil, err
	}
	return crops, nil
}

// embedAll embeds each crop, skipping and logging those that fail.
func (b *Builder) embedAll(fields logging.Fields, crops []image.Image) []recognition.Embedding {
	embeddings := make([]recognition.Embedding, 0, len(crops))
	for i, crop := range crops {
		emb, err := b.embed(crop)
		if err != nil {
			logging.WithFields(fields).WithError(err).Warnf("Skipping crop %d: no embedding", i+1)
			continue
		}
		embeddings = append(embeddings, emb)
	}
	return embeddings
}

func (b *Builder) embed(crop image.Image) (emb recognition.Embedding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panic: %v", r)
		}
	}()
	return b.recognizer.Embed(crop)
}

// Profile recomputes the reference profile of studentID from its stored crops.
func (b *Builder) Profile(ctx context.Context, studentID string) (*Profile, error) {
	if studentID == "" {
		return nil, ErrMissingStudentID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	crops, err := b.store.Get(studentID)
	if err != nil {
		return nil, err
	}

	log := logging.ForStudent("enrollment", studentID)
	embeddings := b.embedAll(log.Data, cropImages(crops))
	if len(embeddings) == 0 {
		return nil, ErrNoValidEmbeddings
	}

	mean, err := recognition.Mean(embeddings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidEmbeddings, err)
	}

	log.Debugf("Resolved reference from %d of %d crops", len(embeddings), len(crops))
	return &Profile{StudentID: studentID, Embedding: mean, Samples: len(embeddings)}, nil
}

func cropImages(crops []storage.Crop) []image.Image {
	out := make([]image.Image, len(crops))
	for i, c := range crops {
		out[i] = c.Image
	}
	return out
}
