package debounce_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/debounce"
	"github.com/okian/proctor/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestGate(t *testing.T) {
	Convey("Given a gate with the default interval", t, func() {
		g := debounce.NewGate()

		Convey("When the same type fires twice within 3 seconds", func() {
			first := g.Allow(model.CellPhone, t0)
			second := g.Allow(model.CellPhone, t0.Add(2*time.Second))

			Convey("Then only the first is admitted and the rejection leaves no trace", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
				at, ok := g.LastFired(model.CellPhone)
				So(ok, ShouldBeTrue)
				So(at, ShouldEqual, t0)
			})
		})

		Convey("When the interval has elapsed", func() {
			g.Allow(model.CellPhone, t0)

			Convey("Then the type fires again", func() {
				So(g.Allow(model.CellPhone, t0.Add(3*time.Second)), ShouldBeTrue)
			})
		})

		Convey("When different types fire together", func() {
			Convey("Then each has its own window", func() {
				So(g.Allow(model.CellPhone, t0), ShouldBeTrue)
				So(g.Allow(model.MultipleFace, t0), ShouldBeTrue)
				So(g.Size(), ShouldEqual, 2)
			})
		})

		Convey("When the clock moves backwards", func() {
			g.Allow(model.AudioAlert, t0)

			Convey("Then the call is suppressed", func() {
				So(g.Allow(model.AudioAlert, t0.Add(-time.Minute)), ShouldBeFalse)
			})
		})

		Convey("When reset", func() {
			g.Allow(model.NoFace, t0)
			g.Reset()

			Convey("Then the window is forgotten", func() {
				So(g.Size(), ShouldEqual, 0)
				So(g.Allow(model.NoFace, t0.Add(time.Second)), ShouldBeTrue)
			})
		})
	})

	Convey("Given a gate with a per-type override", t, func() {
		g := debounce.NewGate(
			debounce.WithInterval(time.Second),
			debounce.WithTypeInterval(model.AudioAlert, 10*time.Second),
		)

		Convey("Then each type uses its own interval", func() {
			So(g.Allow(model.AudioAlert, t0), ShouldBeTrue)
			So(g.Allow(model.AudioAlert, t0.Add(5*time.Second)), ShouldBeFalse)
			So(g.Allow(model.CellPhone, t0), ShouldBeTrue)
			So(g.Allow(model.CellPhone, t0.Add(time.Second)), ShouldBeTrue)
		})
	})

	Convey("Given a gate with rate limiting disabled", t, func() {
		g := debounce.NewGate(debounce.WithInterval(0))

		Convey("Then every call is admitted", func() {
			So(g.Allow(model.CellPhone, t0), ShouldBeTrue)
			So(g.Allow(model.CellPhone, t0), ShouldBeTrue)
		})
	})

	Convey("Given concurrent callers racing on one type", t, func() {
		g := debounce.NewGate()
		var admitted atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if g.Allow(model.MultipleFace, t0) {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one is admitted", func() {
			So(admitted.Load(), ShouldEqual, int32(1))
		})
	})
}
