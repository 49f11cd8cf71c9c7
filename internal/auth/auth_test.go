package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/auth"
)

const secret = "test-secret-of-enough-length"

func TestTokenManager(t *testing.T) {
	Convey("Given a token manager", t, func() {
		now := time.Unix(1700000000, 0)
		m, err := auth.NewTokenManager(secret, auth.WithTTL(time.Hour), auth.WithTokenClock(func() time.Time { return now }))
		So(err, ShouldBeNil)

		p := auth.Principal{ID: "cand-1", Name: "Ada", Email: "ada@example.com", Role: auth.RoleCandidate}

		Convey("An issued token verifies to the same principal", func() {
			raw, err := m.Issue(p)
			So(err, ShouldBeNil)
			got, err := m.Verify(raw)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, p)
		})

		Convey("An expired token is rejected", func() {
			raw, err := m.Issue(p)
			So(err, ShouldBeNil)
			now = now.Add(2 * time.Hour)
			_, err = m.Verify(raw)
			So(errors.Is(err, auth.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("A token signed with another secret is rejected", func() {
			other, _ := auth.NewTokenManager("another-secret-entirely", auth.WithTokenClock(func() time.Time { return now }))
			raw, err := other.Issue(p)
			So(err, ShouldBeNil)
			_, err = m.Verify(raw)
			So(errors.Is(err, auth.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("A token using another algorithm is rejected", func() {
			claims := auth.Claims{Role: auth.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}
			raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(secret))
			So(err, ShouldBeNil)
			_, err = m.Verify(raw)
			So(errors.Is(err, auth.ErrInvalidToken), ShouldBeTrue)
		})

		Convey("An empty token is missing", func() {
			_, err := m.Verify("")
			So(errors.Is(err, auth.ErrMissingToken), ShouldBeTrue)
		})

		Convey("Unknown roles are not issued", func() {
			_, err := m.Issue(auth.Principal{ID: "x", Role: "proctor"})
			So(errors.Is(err, auth.ErrUnknownRole), ShouldBeTrue)
		})
	})

	Convey("An empty secret is refused", t, func() {
		_, err := auth.NewTokenManager("")
		So(err, ShouldNotBeNil)
	})
}

func TestAuthorizer(t *testing.T) {
	Convey("Given the built-in policy", t, func() {
		a, err := auth.NewAuthorizer()
		So(err, ShouldBeNil)

		Convey("Candidates ingest but cannot read others' data", func() {
			So(a.Allow(auth.RoleCandidate, auth.ObjCheatingLogs, auth.ActWrite), ShouldBeTrue)
			So(a.Allow(auth.RoleCandidate, auth.ObjOwnResults, auth.ActRead), ShouldBeTrue)
			So(a.Allow(auth.RoleCandidate, auth.ObjCheatingLogs, auth.ActRead), ShouldBeFalse)
			So(a.Allow(auth.RoleCandidate, auth.ObjResults, auth.ActRead), ShouldBeFalse)
			So(a.Allow(auth.RoleCandidate, auth.ObjLive, auth.ActRead), ShouldBeFalse)
			So(a.Allow(auth.RoleCandidate, auth.ObjVisibility, auth.ActWrite), ShouldBeFalse)
		})

		Convey("Examiners inherit candidate permissions", func() {
			So(a.Allow(auth.RoleExaminer, auth.ObjCheatingLogs, auth.ActWrite), ShouldBeTrue)
			So(a.Allow(auth.RoleExaminer, auth.ObjResults, auth.ActRead), ShouldBeTrue)
			So(a.Allow(auth.RoleExaminer, auth.ObjReports, auth.ActRead), ShouldBeTrue)
		})

		Convey("Admins may do anything", func() {
			So(a.Allow(auth.RoleAdmin, "anything", "delete"), ShouldBeTrue)
		})

		Convey("Check wraps ErrForbidden", func() {
			err := a.Check(auth.Principal{ID: "c", Role: auth.RoleCandidate}, auth.ObjResults, auth.ActRead)
			So(errors.Is(err, auth.ErrForbidden), ShouldBeTrue)
		})
	})
}

func TestPrincipalContext(t *testing.T) {
	Convey("A principal round-trips through a context", t, func() {
		_, ok := auth.FromContext(context.Background())
		So(ok, ShouldBeFalse)

		p := auth.Principal{ID: "e1", Role: auth.RoleExaminer}
		got, ok := auth.FromContext(auth.WithPrincipal(context.Background(), p))
		So(ok, ShouldBeTrue)
		So(got, ShouldResemble, p)
	})
}
