package recognition

import (
	"sync/atomic"

	"github.com/Kagami/go-face"
)

// MockFaceEngine stands in for the dlib engine so DlibRecognizer can be tested
// without model files. Unset funcs report no faces and a no-op close.
type MockFaceEngine struct {
	RecognizeFunc func(data []byte) ([]face.Face, error)
	CloseFunc     func()

	recognized atomic.Int64
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	m.recognized.Add(1)
	if m.RecognizeFunc == nil {
		return nil, nil
	}
	return m.RecognizeFunc(data)
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// Recognized returns how many images the engine was asked to scan.
func (m *MockFaceEngine) Recognized() int {
	return int(m.recognized.Load())
}
