// Package classify turns raw sensor observations into suspicious-condition
// decisions and tracks how long each condition has held.
package classify

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/okian/proctor/internal/domain/model"
)

// Source identifies which sensor pass feeds a classifier.
type Source int

const (
	// SourceObjects is the object-detector pass over a video frame.
	SourceObjects Source = iota + 1
	// SourceLandmarks is the facial landmark pass over a video frame.
	SourceLandmarks
	// SourceAudio is the microphone spectrum sample.
	SourceAudio
)

func (s Source) String() string {
	switch s {
	case SourceObjects:
		return "objects"
	case SourceLandmarks:
		return "landmarks"
	case SourceAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// personClass is the detector label for a face-bearing region.
const personClass = "person"

// Box is an axis-aligned bounding box in frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b Box) Center() mgl64.Vec2 {
	return mgl64.Vec2{b.X + b.Width/2, b.Y + b.Height/2}
}

// Area returns width times height.
func (b Box) Area() float64 { return b.Width * b.Height }

// Detection is one object-detector hit.
type Detection struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
	Box   Box     `json:"bbox"`
}

// Face is one landmark-model hit. Landmarks are indexed by the mesh topology.
type Face struct {
	Landmarks []mgl64.Vec2
	Box       Box
}

// Observation is one sampling tick. Only the fields of the pass that produced
// it are populated.
type Observation struct {
	At       time.Time
	Width    float64
	Height   float64
	Objects  []Detection
	Faces    []Face
	Spectrum []uint8
}

// Classifier decides whether a suspicious condition holds for one observation.
type Classifier interface {
	Type() model.EventType
	Source() Source
	// Dwell is how long the condition must hold before it fires. Zero fires
	// on every qualifying pass.
	Dwell() time.Duration
	Evaluate(obs Observation) (bool, string)
}

// Recoverer is implemented by classifiers that announce when a fired
// condition clears.
type Recoverer interface {
	Recovery() (model.EventType, string)
}

// base carries the constants every classifier owns.
type base struct {
	eventType model.EventType
	source    Source
	dwell     time.Duration
	threshold float64
	bandLow   float64
	bandHigh  float64
}

func (b *base) Type() model.EventType { return b.eventType }
func (b *base) Source() Source        { return b.source }
func (b *base) Dwell() time.Duration  { return b.dwell }

// Option overrides a classifier constant.
type Option func(*base)

// WithDwell overrides the dwell duration. Negative values are ignored.
func WithDwell(d time.Duration) Option {
	return func(b *base) {
		if d >= 0 {
			b.dwell = d
		}
	}
}

// WithThreshold overrides the classifier's numeric threshold: EAR for
// drowsiness, mean amplitude for audio, edge margin fraction for gaze and
// minimum score for objects.
func WithThreshold(v float64) Option {
	return func(b *base) {
		if v > 0 {
			b.threshold = v
		}
	}
}

// WithBand overrides the central band used by box-based gaze tracking.
func WithBand(low, high float64) Option {
	return func(b *base) {
		if low >= 0 && high <= 1 && low < high {
			b.bandLow, b.bandHigh = low, high
		}
	}
}

func newBase(t model.EventType, src Source, dwell time.Duration, threshold float64, opts []Option) base {
	b := base{eventType: t, source: src, dwell: dwell, threshold: threshold}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func countClass(objs []Detection, class string) int {
	n := 0
	for _, o := range objs {
		if o.Class == class {
			n++
		}
	}
	return n
}
