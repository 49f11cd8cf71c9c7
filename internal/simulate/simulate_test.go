package simulate

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/proctor/internal/adapters/http/api"
	service "github.com/okian/proctor/internal/app"
	"github.com/okian/proctor/internal/auth"
	"github.com/okian/proctor/internal/domain/classify"
	"github.com/okian/proctor/internal/domain/model"
	logging "github.com/okian/proctor/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

const simSecret = "simulate-test-secret-0123456789"

func TestScenarios(t *testing.T) {
	convey.Convey("Given the built-in scenarios", t, func() {
		convey.Convey("Every name resolves and has a positive length", func() {
			for _, name := range Names() {
				sc, err := Lookup(name)
				convey.So(err, convey.ShouldBeNil)
				convey.So(sc.Length(), convey.ShouldBeGreaterThan, 0)
			}
		})

		convey.Convey("Unknown names are rejected", func() {
			_, err := Lookup("nope")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("At walks the segments and holds the last one", func() {
			sc, _ := Lookup("absent")
			convey.So(sc.At(time.Second).Objects, convey.ShouldHaveLength, 1)
			convey.So(sc.At(5*time.Second).Objects, convey.ShouldBeEmpty)
			convey.So(sc.At(time.Hour).Objects, convey.ShouldHaveLength, 1)
		})

		convey.Convey("Mixed merges expectations", func() {
			sc := Mixed(4)
			convey.So(sc.Segments, convey.ShouldNotBeEmpty)
			convey.So(sc.Name, convey.ShouldEqual, "mixed")
		})

		convey.Convey("Scripted faces read as open or closed eyes", func() {
			open, ok := classify.FaceEAR(face(320, 5))
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(open, convey.ShouldBeGreaterThan, classify.DefaultEARThreshold)
			closed, _ := classify.FaceEAR(face(320, 1))
			convey.So(closed, convey.ShouldBeLessThan, classify.DefaultEARThreshold)
		})
	})
}

func TestSensors(t *testing.T) {
	convey.Convey("Given sensors replaying the camera-off scenario at 10x", t, func() {
		sc, _ := Lookup("camera-off")
		p := NewSensors(sc, 10)
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		now := base
		p.now = func() time.Time { return now }
		p.Begin()
		ctx := context.Background()

		convey.Convey("The camera works before the outage", func() {
			img, err := p.Frame(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(img.Bounds().Dx(), convey.ShouldEqual, frameWidth)
		})

		convey.Convey("Frames fail during the outage", func() {
			now = base.Add(500 * time.Millisecond) // five exam seconds in
			_, err := p.Frame(ctx)
			convey.So(err, convey.ShouldEqual, errCameraOff)
		})

		convey.Convey("Close releases the camera", func() {
			convey.So(p.Close(), convey.ShouldBeNil)
			_, err := p.Frame(ctx)
			convey.So(err, convey.ShouldEqual, errCameraOff)
		})

		convey.Convey("Quiet audio stays under the alert threshold", func() {
			bins, err := p.Spectrum(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(classify.MeanAmplitude(bins), convey.ShouldBeLessThan, classify.DefaultAudioThreshold)
		})
	})
}

func TestVerifyOutcome(t *testing.T) {
	convey.Convey("Given an absent scenario", t, func() {
		sc, _ := Lookup("absent")
		var counts model.Counts
		counts.Inc(model.NoFace)
		o := Outcome{
			CandidateID: "c1",
			Submitted:   model.CheatingLog{Counts: counts},
			Timeline:    model.Timeline{Counts: counts, IntegrityScore: 90},
		}

		convey.Convey("Matching counts verify", func() {
			convey.So(verifyOutcome(sc, 100, o), convey.ShouldBeEmpty)
		})

		convey.Convey("A missing detection is reported", func() {
			o.Timeline.Counts = model.Counts{}
			o.Submitted.Counts = model.Counts{}
			o.Timeline.IntegrityScore = 100
			convey.So(verifyOutcome(sc, 100, o), convey.ShouldNotBeEmpty)
		})

		convey.Convey("Server and agent disagreeing is reported", func() {
			o.Timeline.Counts.Inc(model.CellPhone)
			convey.So(verifyOutcome(sc, 100, o), convey.ShouldHaveLength, 1)
		})

		convey.Convey("Full integrity on a flagged attempt is reported", func() {
			o.Timeline.IntegrityScore = 100
			convey.So(verifyOutcome(sc, 100, o), convey.ShouldHaveLength, 1)
		})

		convey.Convey("Reports must carry the timeline score", func() {
			o.Result = model.Result{ID: "r1", CandidateID: "c1"}
			rep := model.Report{Result: o.Result, IntegrityScore: 85}
			convey.So(verifyReports([]Outcome{o}, []model.Report{rep}), convey.ShouldHaveLength, 1)
			rep.IntegrityScore = 90
			convey.So(verifyReports([]Outcome{o}, []model.Report{rep}), convey.ShouldBeEmpty)
			convey.So(verifyReports([]Outcome{o}, nil), convey.ShouldHaveLength, 1)
		})
	})
}

func TestRunAgainstServer(t *testing.T) {
	if testing.Short() {
		t.Skip("runs every scenario in real time")
	}
	convey.Convey("Given a live server", t, func() {
		convey.So(logging.Init(logging.WithWriter(io.Discard)), convey.ShouldBeNil)

		svc := service.New(
			service.WithInMemory(true),
			service.WithEvidenceDir(t.TempDir()),
			service.WithRecordingsDir(t.TempDir()),
			service.WithLogger(logging.Nop()),
		)
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		defer svc.Stop()

		tokens, err := auth.NewTokenManager(simSecret)
		convey.So(err, convey.ShouldBeNil)
		authz, err := auth.NewAuthorizer()
		convey.So(err, convey.ShouldBeNil)
		srv := httptest.NewServer(api.NewServer(svc, svc, tokens, authz).Routes())
		defer srv.Close()

		convey.Convey("Every scenario verifies end to end", func() {
			cfg := &Config{
				BaseURL:    srv.URL,
				Secret:     simSecret,
				Scenario:   "all",
				Candidates: len(Names()),
				Workers:    len(Names()),
				Timeout:    5 * time.Second,
				Speed:      20,
				MaxScore:   100,
				OutputFile: filepath.Join(t.TempDir(), "outcomes.json"),
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			convey.So(Run(ctx, cfg), convey.ShouldBeNil)
		})
	})
}
