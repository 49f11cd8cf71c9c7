package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "unknown log format")
			})
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithFormat(FormatJSON), WithWriter(&buf)), ShouldBeNil)
		ctx := context.Background()

		Convey("When logging with typed fields", func() {
			Named("agent").Info(ctx, "event recorded",
				String("type", "noFace"),
				Int("count", 2),
				Bool("screenshot", true),
				Duration("dwell", 10*time.Second),
				Error(errors.New("upload failed")),
			)
			out := buf.String()

			Convey("Then every field is present", func() {
				So(out, ShouldContainSubstring, `"msg":"event recorded"`)
				So(out, ShouldContainSubstring, `"component":"agent"`)
				So(out, ShouldContainSubstring, `"type":"noFace"`)
				So(out, ShouldContainSubstring, `"count":2`)
				So(out, ShouldContainSubstring, `"dwell":"10s"`)
				So(out, ShouldContainSubstring, `"error":"upload failed"`)
				So(out, ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level is raised to warn", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			Get().Info(ctx, "hidden")
			Get().Warn(ctx, "shown")

			Convey("Then info is filtered out", func() {
				So(buf.String(), ShouldNotContainSubstring, "hidden")
				So(buf.String(), ShouldContainSubstring, "shown")
			})
		})

		Convey("When an invalid level is given", func() {
			So(SetLevelString("loud"), ShouldNotBeNil)
		})

		Convey("Then Slog exposes the handler", func() {
			So(Slog(), ShouldNotBeNil)
		})

		Convey("When a library logs through SlogAtLeast(warn)", func() {
			quiet := SlogAtLeast(slog.LevelWarn).With("pkg", "pubsub")
			quiet.Info("No subscribers to send message")
			quiet.Warn("subscriber lagging")

			Convey("Then only warnings reach the output", func() {
				So(buf.String(), ShouldNotContainSubstring, "No subscribers")
				So(buf.String(), ShouldContainSubstring, "subscriber lagging")
				So(buf.String(), ShouldContainSubstring, `"pkg":"pubsub"`)
			})
		})
	})
}
