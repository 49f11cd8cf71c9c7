package classify

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/okian/proctor/internal/domain/model"
)

// Drowsiness defaults.
const (
	DefaultDrowsyDwell  = 3 * time.Second
	DefaultEARThreshold = 0.25
)

// Eye landmark indexes in p1..p6 order: outer corner, two upper lid points,
// inner corner, two lower lid points.
var (
	LeftEye  = [6]int{33, 160, 158, 133, 153, 144}
	RightEye = [6]int{362, 385, 387, 263, 373, 380}
)

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|). A degenerate
// eye returns ok=false.
func EyeAspectRatio(p [6]mgl64.Vec2) (float64, bool) {
	horizontal := p[0].Sub(p[3]).Len()
	if horizontal == 0 {
		return 0, false
	}
	vertical := p[1].Sub(p[5]).Len() + p[2].Sub(p[4]).Len()
	return vertical / (2 * horizontal), true
}

// FaceEAR averages both eyes of one face.
func FaceEAR(f Face) (float64, bool) {
	left, ok := eye(f, LeftEye)
	if !ok {
		return 0, false
	}
	right, ok := eye(f, RightEye)
	if !ok {
		return 0, false
	}
	l, lok := EyeAspectRatio(left)
	r, rok := EyeAspectRatio(right)
	if !lok || !rok {
		return 0, false
	}
	return (l + r) / 2, true
}

func eye(f Face, idx [6]int) ([6]mgl64.Vec2, bool) {
	var pts [6]mgl64.Vec2
	for i, j := range idx {
		if j >= len(f.Landmarks) {
			return pts, false
		}
		pts[i] = f.Landmarks[j]
	}
	return pts, true
}

// Drowsiness fires when the eyes stay closed.
type Drowsiness struct{ base }

// NewDrowsiness builds the EAR classifier.
func NewDrowsiness(opts ...Option) *Drowsiness {
	return &Drowsiness{base: newBase(model.Drowsiness, SourceLandmarks, DefaultDrowsyDwell, DefaultEARThreshold, opts)}
}

// Evaluate implements Classifier.
func (c *Drowsiness) Evaluate(obs Observation) (bool, string) {
	if len(obs.Faces) == 0 {
		return false, ""
	}
	ear, ok := FaceEAR(obs.Faces[0])
	if !ok || ear >= c.threshold {
		return false, ""
	}
	return true, fmt.Sprintf("Drowsiness detected (EAR %.2f)", ear)
}
