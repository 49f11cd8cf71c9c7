package classify

import "time"

// Overrides replaces classifier defaults. Zero fields keep the default.
type Overrides struct {
	FaceAbsentDwell time.Duration
	GazeDwell       time.Duration
	DrowsyDwell     time.Duration
	EARThreshold    float64
	AudioThreshold  float64
	GazeMargin      float64
}

func dwell(d time.Duration) []Option {
	if d <= 0 {
		return nil
	}
	return []Option{WithDwell(d)}
}

// Standard builds a fresh instance of every classifier. Each call returns new
// instances so sessions never share state.
func Standard(o Overrides) []Classifier {
	return []Classifier{
		NewFacePresence(dwell(o.FaceAbsentDwell)...),
		NewMultipleFace(),
		NewCellPhone(),
		NewProhibitedObject(),
		NewGazeFocus(append(dwell(o.GazeDwell), WithThreshold(o.GazeMargin))...),
		NewDrowsiness(append(dwell(o.DrowsyDwell), WithThreshold(o.EARThreshold))...),
		NewAudioLevel(WithThreshold(o.AudioThreshold)),
	}
}

// WithBoxGaze adds the object-detector gaze path, for sessions whose
// landmark model is unavailable.
func WithBoxGaze(set []Classifier, o Overrides) []Classifier {
	return append(set, NewBoxGaze(dwell(o.GazeDwell)...))
}

// WithMeshPresence adds the landmark noFace path, for sessions without an
// object detector.
func WithMeshPresence(set []Classifier, o Overrides) []Classifier {
	return append(set, NewMeshPresence(dwell(o.FaceAbsentDwell)...))
}

// BySource groups classifiers into detectors per sampling loop.
func BySource(set []Classifier) map[Source][]*Detector {
	out := make(map[Source][]*Detector)
	for _, c := range set {
		out[c.Source()] = append(out[c.Source()], NewDetector(c))
	}
	return out
}
