package objectstore_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/okian/proctor/internal/adapters/objectstore"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDirStore(t *testing.T) {
	Convey("Given a store in a temp dir", t, func() {
		s, err := objectstore.NewDirStore(t.TempDir(), "http://localhost:9080/", objectstore.WithMaxBytes(16))
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When the same frame is stored twice", func() {
			a, err := s.Put(ctx, "image/jpeg", strings.NewReader("frame-bytes"))
			So(err, ShouldBeNil)
			b, _ := s.Put(ctx, "image/jpeg", strings.NewReader("frame-bytes"))

			Convey("Then both share one content-hash name that opens back", func() {
				So(a, ShouldEqual, b)
				So(a, ShouldEndWith, ".jpg")
				f, err := s.Open(a)
				So(err, ShouldBeNil)
				defer f.Close()
				data, _ := io.ReadAll(f)
				So(string(data), ShouldEqual, "frame-bytes")
			})
		})

		Convey("When uploading through the evidence interface", func() {
			url, err := s.Upload(ctx, "ignored.jpg", "image/png", strings.NewReader("png"))

			Convey("Then the public URL points at the evidence route", func() {
				So(err, ShouldBeNil)
				So(url, ShouldStartWith, "http://localhost:9080/api/evidence/")
				So(url, ShouldEndWith, ".png")
			})
		})

		Convey("When the input is unacceptable", func() {
			_, big := s.Put(ctx, "image/jpeg", strings.NewReader(strings.Repeat("x", 17)))
			_, kind := s.Put(ctx, "text/html", strings.NewReader("<p>"))
			_, empty := s.Put(ctx, "image/jpeg", strings.NewReader(""))

			Convey("Then it is rejected", func() {
				So(errors.Is(big, objectstore.ErrTooLarge), ShouldBeTrue)
				So(errors.Is(kind, objectstore.ErrInvalidName), ShouldBeTrue)
				So(errors.Is(empty, objectstore.ErrInvalidName), ShouldBeTrue)
			})
		})

		Convey("When opening names the store never issued", func() {
			_, traversal := s.Open("../../etc/passwd")
			_, missing := s.Open("0123456789abcdef.jpg")

			Convey("Then traversal is refused and unknown names are not found", func() {
				So(errors.Is(traversal, objectstore.ErrInvalidName), ShouldBeTrue)
				So(errors.Is(missing, objectstore.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}
