// Package storage keeps the enrollment face crops of every student.
// Crops are stored as lossless PNG files keyed by student and slot, and can be
// encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	extPlain     = ".png"
	extEncrypted = ".enc"
)

// Crop is one stored enrollment slot.
type Crop struct {
	Index int
	Image image.Image
}

// ErrReferenceNotFound is returned when a student has no stored crops.
var ErrReferenceNotFound = errors.New("reference images not found")

// ErrInvalidStudentID is returned for identifiers that cannot be used as a file key.
var ErrInvalidStudentID = errors.New("invalid student id")

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

var studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)

// ValidateStudentID checks that id is safe to embed in a file name.
func ValidateStudentID(id string) error {
	if !studentIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidStudentID, id)
	}
	return nil
}

// ReferenceStore implements per-student crop storage on the local filesystem.
// Files are named {studentId}_{index}.png (or .enc when encrypted).
type ReferenceStore struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu sync.RWMutex
}

// NewReferenceStore creates a store rooted at dir.
func NewReferenceStore(dir string, encryptionEnabled bool) (*ReferenceStore, error) {
	s := &ReferenceStore{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		s.encryptionKey = key
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create reference directory: %w", err)
	}

	return s, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted crops to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(strconv.Itoa(os.Getuid()))
	identity.WriteString("facecheck-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

func (s *ReferenceStore) ext() string {
	if s.encryptionEnabled {
		return extEncrypted
	}
	return extPlain
}

// FileName returns the on-disk name of a slot.
func (s *ReferenceStore) FileName(studentID string, index int) string {
	return fmt.Sprintf("%s_%d%s", studentID, index, s.ext())
}

// parseSlot splits "{id}_{index}{ext}" into its parts.
func parseSlot(name string) (id string, index int, ext string, ok bool) {
	ext = filepath.Ext(name)
	if ext != extPlain && ext != extEncrypted {
		return "", 0, "", false
	}
	base := strings.TrimSuffix(name, ext)
	sep := strings.LastIndexByte(base, '_')
	if sep <= 0 || sep == len(base)-1 {
		return "", 0, "", false
	}
	digits := base[sep+1:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", 0, "", false
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 1 {
		return "", 0, "", false
	}
	return base[:sep], index, ext, true
}

type slotFile struct {
	name  string
	index int
	ext   string
}

// slots lists the files belonging to exactly studentID, ordered by index.
func (s *ReferenceStore) slots(studentID string) ([]slotFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	var out []slotFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, index, ext, ok := parseSlot(entry.Name())
		if !ok || id != studentID {
			continue
		}
		out = append(out, slotFile{name: entry.Name(), index: index, ext: ext})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

// Put replaces the stored enrollment of studentID with crops.
// Slot i+1 holds crops[i]; slots beyond len(crops) are removed.
func (s *ReferenceStore) Put(studentID string, crops []image.Image) error {
	if err := ValidateStudentID(studentID); err != nil {
		return err
	}
	if len(crops) == 0 {
		return errors.New("no crops to store")
	}

	// Encode everything before touching the disk.
	payloads := make([][]byte, len(crops))
	for i, crop := range crops {
		data, err := imaging.EncodePNG(crop)
		if err != nil {
			return fmt.Errorf("failed to encode crop %d: %w", i+1, err)
		}
		if s.encryptionEnabled {
			data, err = s.encrypt(data)
			if err != nil {
				return fmt.Errorf("failed to encrypt crop %d: %w", i+1, err)
			}
		}
		payloads[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, data := range payloads {
		path := filepath.Join(s.dir, s.FileName(studentID, i+1))
		if err := writeFileAtomic(path, data); err != nil {
			return fmt.Errorf("failed to write crop %d: %w", i+1, err)
		}
	}

	existing, err := s.slots(studentID)
	if err != nil {
		return err
	}
	for _, slot := range existing {
		if slot.index <= len(crops) && slot.ext == s.ext() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, slot.name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale crop %s: %w", slot.name, err)
		}
	}

	logging.Component("storage").Debugf("Stored %d reference crops for %s", len(crops), studentID)
	return nil
}

// writeFileAtomic writes data to a temp file in the same directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".crop-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Get returns the stored crops of studentID ordered by slot.
// Slots that cannot be read or decoded are logged and skipped, so a student whose
// files all turned unreadable gets an empty slice rather than ErrReferenceNotFound.
func (s *ReferenceStore) Get(studentID string) ([]Crop, error) {
	if err := ValidateStudentID(studentID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	slots, err := s.slots(studentID)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, ErrReferenceNotFound
	}

	log := logging.ForStudent("storage", studentID)
	crops := make([]Crop, 0, len(slots))
	for _, slot := range slots {
		img, err := s.readSlot(slot)
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable reference crop %s", slot.name)
			continue
		}
		crops = append(crops, Crop{Index: slot.index, Image: img})
	}
	return crops, nil
}

// Load returns a single slot of studentID.
func (s *ReferenceStore) Load(studentID string, index int) (image.Image, error) {
	if err := ValidateStudentID(studentID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	slots, err := s.slots(studentID)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		if slot.index == index {
			return s.readSlot(slot)
		}
	}
	return nil, ErrReferenceNotFound
}

func (s *ReferenceStore) readSlot(slot slotFile) (image.Image, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, slot.name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}

	if slot.ext == extEncrypted {
		if !s.encryptionEnabled {
			return nil, fmt.Errorf("%w: encrypted crop but encryption is disabled", ErrEncryption)
		}
		data, err = s.decrypt(data)
		if err != nil {
			return nil, err
		}
	}

	return imaging.Decode(data)
}

// Delete removes every crop of studentID.
func (s *ReferenceStore) Delete(studentID string) error {
	if err := ValidateStudentID(studentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slots, err := s.slots(studentID)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return ErrReferenceNotFound
	}
	for _, slot := range slots {
		if err := os.Remove(filepath.Join(s.dir, slot.name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", slot.name, err)
		}
	}

	logging.Component("storage").Infof("Deleted reference crops for %s", studentID)
	return nil
}

// List returns all enrolled student IDs in sorted order.
func (s *ReferenceStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, _, _, ok := parseSlot(entry.Name()); ok {
			seen[id] = true
		}
	}

	students := make([]string, 0, len(seen))
	for id := range seen {
		students = append(students, id)
	}
	sort.Strings(students)
	return students, nil
}

// encrypt encrypts data using NaCl secretbox.
func (s *ReferenceStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (s *ReferenceStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
