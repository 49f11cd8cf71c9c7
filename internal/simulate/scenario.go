package simulate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/okian/proctor/internal/domain/classify"
	"github.com/okian/proctor/internal/domain/model"
)

// Frame geometry the scripted camera reports.
const (
	frameWidth  = 640
	frameHeight = 480
	meshSize    = 468
)

// Spectrum levels.
const (
	quietLevel = 20
	loudLevel  = 200
	spectrumN  = 64
)

// Segment is one stretch of scripted sensor output, in exam time.
type Segment struct {
	For       time.Duration
	Objects   []classify.Detection
	Faces     []classify.Face
	Loud      bool
	CameraOff bool
}

// Scenario is a named script plus the events it must produce at minimum.
type Scenario struct {
	Name     string
	Segments []Segment
	Expect   map[model.EventType]int
}

// Length is the total scripted exam time.
func (s Scenario) Length() time.Duration {
	var d time.Duration
	for _, seg := range s.Segments {
		d += seg.For
	}
	return d
}

// At returns the segment active at offset, the last one once the script ran out.
func (s Scenario) At(offset time.Duration) Segment {
	for _, seg := range s.Segments {
		if offset < seg.For {
			return seg
		}
		offset -= seg.For
	}
	if len(s.Segments) == 0 {
		return Segment{}
	}
	return s.Segments[len(s.Segments)-1]
}

// Clean reports whether the scenario should finish without counted events.
func (s Scenario) Clean() bool { return len(s.Expect) == 0 }

func person(x float64) classify.Detection {
	return classify.Detection{Class: "person", Score: 0.92, Box: classify.Box{X: x - 60, Y: 120, Width: 120, Height: 240}}
}

func object(class string) classify.Detection {
	return classify.Detection{Class: class, Score: 0.85, Box: classify.Box{X: 480, Y: 300, Width: 60, Height: 90}}
}

// face builds a mesh with the nose at x and the eye lids open by lid pixels.
func face(x, lid float64) classify.Face {
	pts := make([]mgl64.Vec2, meshSize)
	centre := mgl64.Vec2{x, frameHeight / 2}
	for i := range pts {
		pts[i] = centre
	}
	pts[classify.NoseTip] = centre
	setEye(pts, classify.LeftEye, mgl64.Vec2{x - 40, 200}, lid)
	setEye(pts, classify.RightEye, mgl64.Vec2{x + 40, 200}, lid)
	return classify.Face{Landmarks: pts, Box: classify.Box{X: x - 60, Y: 120, Width: 120, Height: 240}}
}

func setEye(pts []mgl64.Vec2, idx [6]int, c mgl64.Vec2, lid float64) {
	pts[idx[0]] = mgl64.Vec2{c.X() - 15, c.Y()}
	pts[idx[1]] = mgl64.Vec2{c.X() - 5, c.Y() - lid}
	pts[idx[2]] = mgl64.Vec2{c.X() + 5, c.Y() - lid}
	pts[idx[3]] = mgl64.Vec2{c.X() + 15, c.Y()}
	pts[idx[4]] = mgl64.Vec2{c.X() + 5, c.Y() + lid}
	pts[idx[5]] = mgl64.Vec2{c.X() - 5, c.Y() + lid}
}

func attentive(d time.Duration) Segment {
	return Segment{For: d, Objects: []classify.Detection{person(frameWidth / 2)}, Faces: []classify.Face{face(frameWidth/2, 5)}}
}

var scenarios = map[string]Scenario{
	"clean": {
		Name:     "clean",
		Segments: []Segment{attentive(20 * time.Second)},
	},
	"absent": {
		Name: "absent",
		Segments: []Segment{
			attentive(3 * time.Second),
			{For: 12 * time.Second},
			attentive(3 * time.Second),
		},
		Expect: map[model.EventType]int{model.NoFace: 1},
	},
	"phone": {
		Name: "phone",
		Segments: []Segment{
			attentive(2 * time.Second),
			{
				For:     5 * time.Second,
				Objects: []classify.Detection{person(frameWidth / 2), object("cell phone")},
				Faces:   []classify.Face{face(frameWidth/2, 5)},
			},
			attentive(2 * time.Second),
		},
		Expect: map[model.EventType]int{model.CellPhone: 1},
	},
	"crowd": {
		Name: "crowd",
		Segments: []Segment{
			attentive(2 * time.Second),
			{
				For:     4 * time.Second,
				Objects: []classify.Detection{person(200), person(440)},
				Faces:   []classify.Face{face(frameWidth/2, 5), face(440, 5)},
			},
			attentive(2 * time.Second),
		},
		Expect: map[model.EventType]int{model.MultipleFace: 1},
	},
	"wandering": {
		Name: "wandering",
		Segments: []Segment{
			attentive(2 * time.Second),
			{
				For:     7 * time.Second,
				Objects: []classify.Detection{person(40)},
				Faces:   []classify.Face{face(30, 5)},
			},
			attentive(2 * time.Second),
		},
		Expect: map[model.EventType]int{model.FocusLost: 1},
	},
	"drowsy": {
		Name: "drowsy",
		Segments: []Segment{
			attentive(2 * time.Second),
			{
				For:     4500 * time.Millisecond,
				Objects: []classify.Detection{person(frameWidth / 2)},
				Faces:   []classify.Face{face(frameWidth/2, 1)},
			},
			attentive(2 * time.Second),
		},
		Expect: map[model.EventType]int{model.Drowsiness: 1},
	},
	"noisy": {
		Name: "noisy",
		Segments: []Segment{
			attentive(4 * time.Second),
			func() Segment { s := attentive(6 * time.Second); s.Loud = true; return s }(),
			attentive(2 * time.Second),
		},
		Expect: map[model.EventType]int{model.AudioAlert: 1},
	},
	"camera-off": {
		Name: "camera-off",
		Segments: []Segment{
			attentive(2 * time.Second),
			{For: 15 * time.Second, CameraOff: true},
			attentive(2 * time.Second),
		},
	},
}

// Names lists the built-in scenarios in sorted order.
func Names() []string {
	out := make([]string, 0, len(scenarios))
	for name := range scenarios {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns a built-in scenario. "mixed" assembles a random one.
func Lookup(name string) (Scenario, error) {
	if name == "mixed" {
		return Mixed(3), nil
	}
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q", name)
	}
	return s, nil
}

// Mixed concatenates n randomly chosen scenarios, merging their expectations.
func Mixed(n int) Scenario {
	names := Names()
	out := Scenario{Name: "mixed", Expect: map[model.EventType]int{}}
	for i := 0; i < n; i++ {
		pick, _ := rand.Int(rand.Reader, big.NewInt(int64(len(names))))
		s := scenarios[names[pick.Int64()]]
		out.Segments = append(out.Segments, s.Segments...)
		for t, c := range s.Expect {
			out.Expect[t] += c
		}
	}
	if len(out.Expect) == 0 {
		out.Expect = nil
	}
	return out
}
