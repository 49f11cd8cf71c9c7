package classify

import (
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
)

// DefaultAudioThreshold is the mean spectrum amplitude (0-255) considered loud.
const DefaultAudioThreshold = 120

// AudioLevel fires on any loud sample.
type AudioLevel struct{ base }

// NewAudioLevel builds the audioAlert classifier.
func NewAudioLevel(opts ...Option) *AudioLevel {
	return &AudioLevel{base: newBase(model.AudioAlert, SourceAudio, 0, DefaultAudioThreshold, opts)}
}

// MeanAmplitude averages the frequency bins.
func MeanAmplitude(spectrum []uint8) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	sum := 0
	for _, v := range spectrum {
		sum += int(v)
	}
	return float64(sum) / float64(len(spectrum))
}

// Evaluate implements Classifier.
func (c *AudioLevel) Evaluate(obs Observation) (bool, string) {
	if len(obs.Spectrum) == 0 {
		return false, ""
	}
	if mean := MeanAmplitude(obs.Spectrum); mean > c.threshold {
		return true, fmt.Sprintf("Loud background noise detected (level %.0f)", mean)
	}
	return false, ""
}
