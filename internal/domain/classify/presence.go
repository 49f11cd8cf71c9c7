package classify

import (
	"fmt"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// DefaultFaceAbsentDwell is how long the frame may stay empty before noFace fires.
const DefaultFaceAbsentDwell = 10 * time.Second

// FacePresence fires when no person region is detected.
type FacePresence struct{ base }

// NewFacePresence builds the noFace classifier.
func NewFacePresence(opts ...Option) *FacePresence {
	return &FacePresence{base: newBase(model.NoFace, SourceObjects, DefaultFaceAbsentDwell, 0, opts)}
}

// Evaluate implements Classifier.
func (c *FacePresence) Evaluate(obs Observation) (bool, string) {
	if countClass(obs.Objects, personClass) == 0 {
		return true, "No face detected"
	}
	return false, ""
}

// MeshPresence is the landmark path of noFace: the face mesh found no face.
type MeshPresence struct{ base }

// NewMeshPresence builds the noFace classifier for the landmark pass.
func NewMeshPresence(opts ...Option) *MeshPresence {
	return &MeshPresence{base: newBase(model.NoFace, SourceLandmarks, DefaultFaceAbsentDwell, 0, opts)}
}

// Evaluate implements Classifier.
func (c *MeshPresence) Evaluate(obs Observation) (bool, string) {
	if len(obs.Faces) == 0 {
		return true, "No face detected"
	}
	return false, ""
}

// MultipleFace fires on any pass that sees more than one person region.
type MultipleFace struct{ base }

// NewMultipleFace builds the multipleFace classifier.
func NewMultipleFace(opts ...Option) *MultipleFace {
	return &MultipleFace{base: newBase(model.MultipleFace, SourceObjects, 0, 0, opts)}
}

// Evaluate implements Classifier.
func (c *MultipleFace) Evaluate(obs Observation) (bool, string) {
	if n := countClass(obs.Objects, personClass); n > 1 {
		return true, fmt.Sprintf("Multiple faces detected (%d)", n)
	}
	return false, ""
}
