package classify

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/okian/proctor/internal/domain/model"
)

// Gaze defaults.
const (
	DefaultGazeDwell  = 5 * time.Second
	DefaultGazeMargin = 0.10
	DefaultBandLow    = 0.30
	DefaultBandHigh   = 0.70

	// NoseTip is the nose landmark in the face mesh topology.
	NoseTip = 1

	lookedAwayMsg = "Candidate looked away from the screen"
	refocusedMsg  = "Candidate refocused"
)

// GazeFocus fires when the candidate's face drifts to the edge of the frame.
type GazeFocus struct{ base }

// NewGazeFocus tracks the nose tip against the outer edge margin.
func NewGazeFocus(opts ...Option) *GazeFocus {
	return &GazeFocus{base: newBase(model.FocusLost, SourceLandmarks, DefaultGazeDwell, DefaultGazeMargin, opts)}
}

// Evaluate implements Classifier. A frame with no face is not looking away;
// FacePresence owns that case.
func (c *GazeFocus) Evaluate(obs Observation) (bool, string) {
	if len(obs.Faces) == 0 || obs.Width <= 0 {
		return false, ""
	}
	face := obs.Faces[0]
	var ref mgl64.Vec2
	if len(face.Landmarks) > NoseTip {
		ref = face.Landmarks[NoseTip]
	} else {
		ref = face.Box.Center()
	}
	x := ref.X() / obs.Width
	if x < c.threshold || x > 1-c.threshold {
		return true, lookedAwayMsg
	}
	return false, ""
}

// Recovery implements Recoverer.
func (c *GazeFocus) Recovery() (model.EventType, string) {
	return model.Refocused, refocusedMsg
}

// BoxGaze is the object-detector path: the largest person box centre must
// stay inside the central band.
type BoxGaze struct{ base }

// NewBoxGaze builds the box-based focus classifier.
func NewBoxGaze(opts ...Option) *BoxGaze {
	b := newBase(model.FocusLost, SourceObjects, DefaultGazeDwell, 0, nil)
	b.bandLow, b.bandHigh = DefaultBandLow, DefaultBandHigh
	for _, opt := range opts {
		opt(&b)
	}
	return &BoxGaze{base: b}
}

// Evaluate implements Classifier.
func (c *BoxGaze) Evaluate(obs Observation) (bool, string) {
	if obs.Width <= 0 {
		return false, ""
	}
	var primary *Detection
	for i := range obs.Objects {
		o := &obs.Objects[i]
		if o.Class != personClass {
			continue
		}
		if primary == nil || o.Box.Area() > primary.Box.Area() {
			primary = o
		}
	}
	if primary == nil {
		return false, ""
	}
	x := primary.Box.Center().X() / obs.Width
	if x < c.bandLow || x > c.bandHigh {
		return true, lookedAwayMsg
	}
	return false, ""
}

// Recovery implements Recoverer.
func (c *BoxGaze) Recovery() (model.EventType, string) {
	return model.Refocused, refocusedMsg
}
