package live

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

type frame struct {
	Type string `json:"type"`
	Data Alert  `json:"data"`
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func dial(srv *httptest.Server, query string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func TestLiveFeed(t *testing.T) {
	Convey("Given a running broadcaster, relay and hub", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		b := NewBroadcaster(16)
		hub := NewHub(logger.Nop())
		relay := NewRelay(b, hub, logger.Nop())
		go func() { _ = hub.Serve(ctx) }()
		go func() { _ = relay.Serve(ctx) }()
		<-relay.Ready()

		srv := httptest.NewServer(NewHandler(hub, nil))

		Reset(func() {
			cancel()
			srv.Close()
			_ = b.Close()
		})

		Convey("A connected dashboard receives published alerts", func() {
			conn, err := dial(srv, "")
			So(err, ShouldBeNil)
			defer conn.Close()
			So(waitFor(func() bool { return hub.ClientCount() == 1 }), ShouldBeTrue)

			ev := model.CheatingEvent{
				ID:          "ev-1",
				ExamID:      "exam-1",
				CandidateID: "cand-1",
				Type:        model.CellPhone,
				Message:     "Cell phone detected",
				DetectedAt:  time.Unix(1700000000, 0).UTC(),
			}
			So(b.Publish(ctx, AlertFrom(ev)), ShouldBeNil)

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var got frame
			So(conn.ReadJSON(&got), ShouldBeNil)
			So(got.Type, ShouldEqual, MessageTypeCheatingEvent)
			So(got.Data.Event, ShouldEqual, model.CellPhone)
			So(got.Data.ExamID, ShouldEqual, "exam-1")
			So(got.Data.EventID, ShouldEqual, "ev-1")
			So(got.Data.Time.Equal(ev.DetectedAt), ShouldBeTrue)
		})

		Convey("An exam filter hides other exams", func() {
			conn, err := dial(srv, "?examId=exam-2")
			So(err, ShouldBeNil)
			defer conn.Close()
			So(waitFor(func() bool { return hub.ClientCount() == 1 }), ShouldBeTrue)

			So(b.Publish(ctx, Alert{Event: model.NoFace, ExamID: "exam-1"}), ShouldBeNil)
			So(b.Publish(ctx, Alert{Event: model.MultipleFace, ExamID: "exam-2"}), ShouldBeNil)

			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var got frame
			So(conn.ReadJSON(&got), ShouldBeNil)
			So(got.Data.Event, ShouldEqual, model.MultipleFace)
		})

		Convey("Alerts published before a dashboard connects are not replayed", func() {
			So(b.Publish(ctx, Alert{Event: model.NoFace, ExamID: "exam-1"}), ShouldBeNil)
			// Give the relay time to drain the alert to zero clients.
			time.Sleep(50 * time.Millisecond)

			conn, err := dial(srv, "")
			So(err, ShouldBeNil)
			defer conn.Close()
			So(waitFor(func() bool { return hub.ClientCount() == 1 }), ShouldBeTrue)

			So(b.Publish(ctx, Alert{Event: model.AudioAlert, ExamID: "exam-1"}), ShouldBeNil)
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var got frame
			So(conn.ReadJSON(&got), ShouldBeNil)
			So(got.Data.Event, ShouldEqual, model.AudioAlert)
		})

		Convey("Closing the dashboard unregisters it", func() {
			conn, err := dial(srv, "")
			So(err, ShouldBeNil)
			So(waitFor(func() bool { return hub.ClientCount() == 1 }), ShouldBeTrue)
			_ = conn.Close()
			So(waitFor(func() bool { return hub.ClientCount() == 0 }), ShouldBeTrue)
		})
	})
}

func TestBroadcasterQuietWithoutDashboards(t *testing.T) {
	Convey("Given a broadcaster with no subscribers", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithWriter(&buf)), ShouldBeNil)
		b := NewBroadcaster(4)
		Reset(func() { _ = b.Close() })

		Convey("Publishing does not log per alert", func() {
			for i := 0; i < 5; i++ {
				So(b.Publish(context.Background(), Alert{Event: model.NoFace, ExamID: "exam-1"}), ShouldBeNil)
			}
			So(buf.String(), ShouldNotContainSubstring, "No subscribers")
		})
	})
}

func TestHubDropsWithoutServe(t *testing.T) {
	Convey("Broadcast never blocks when the hub is saturated", t, func() {
		hub := NewHub(logger.Nop())
		for i := 0; i < hubBroadcastBuffer; i++ {
			So(hub.Broadcast(Alert{Event: model.NoFace}), ShouldBeTrue)
		}
		So(hub.Broadcast(Alert{Event: model.NoFace}), ShouldBeFalse)
	})

	Convey("Register fails once the hub has stopped", t, func() {
		hub := NewHub(logger.Nop())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() { _ = hub.Serve(ctx); close(done) }()
		cancel()
		<-done
		So(hub.Register(&Client{hub: hub, send: make(chan Message, 1)}), ShouldBeFalse)
	})
}
