package simulate

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/classify"
)

// errCameraOff is what the scripted camera reports during CameraOff segments.
var errCameraOff = errors.New("simulate: camera unavailable")

// Sensors plays a scenario back as camera, microphone and both models. Exam
// time runs scale times faster than wall time.
type Sensors struct {
	scenario Scenario
	scale    float64
	now      func() time.Time

	mu     sync.Mutex
	start  time.Time
	closed bool
}

// NewSensors prepares a playback. Call Begin when the session starts.
func NewSensors(s Scenario, scale float64) *Sensors {
	if scale <= 0 {
		scale = 1
	}
	return &Sensors{scenario: s, scale: scale, now: time.Now}
}

// Begin anchors exam time zero.
func (p *Sensors) Begin() {
	p.mu.Lock()
	p.start = p.now()
	p.mu.Unlock()
}

func (p *Sensors) current() Segment {
	p.mu.Lock()
	start := p.start
	p.mu.Unlock()
	elapsed := time.Duration(float64(p.now().Sub(start)) * p.scale)
	return p.scenario.At(elapsed)
}

// Frame implements agent.FrameSource.
func (p *Sensors) Frame(context.Context) (image.Image, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, errCameraOff
	}
	if p.current().CameraOff {
		return nil, errCameraOff
	}
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	for x := 0; x < frameWidth; x += 8 {
		img.Set(x, frameHeight/2, color.RGBA{R: 200, G: 180, B: 160, A: 255})
	}
	return img, nil
}

// Spectrum implements agent.AudioAnalyser.
func (p *Sensors) Spectrum(context.Context) ([]uint8, error) {
	level := uint8(quietLevel)
	if p.current().Loud {
		level = loudLevel
	}
	return bytes.Repeat([]byte{level}, spectrumN), nil
}

// Close implements agent.MediaStream.
func (p *Sensors) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Detect implements agent.ObjectDetector.
func (p *Sensors) Detect(context.Context, image.Image) ([]classify.Detection, error) {
	return append([]classify.Detection(nil), p.current().Objects...), nil
}

// EstimateFaces implements agent.LandmarkModel.
func (p *Sensors) EstimateFaces(context.Context, image.Image) ([]classify.Face, error) {
	return append([]classify.Face(nil), p.current().Faces...), nil
}

// NextChunk implements agent.ChunkSource with a few KiB of noise per call.
func (p *Sensors) NextChunk(context.Context) (io.Reader, error) {
	buf := make([]byte, 4<<10)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}
