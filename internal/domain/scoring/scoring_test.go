package scoring_test

import (
	"testing"
	"time"

	"github.com/okian/proctor/internal/domain/model"
	scoring "github.com/okian/proctor/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func entry(exam, cand string, t model.EventType, at time.Time) model.CheatingLog {
	l := model.NewCheatingLog(exam, cand)
	ev := model.NewCheatingEvent(t, "m", "", at, exam, cand)
	l.ID = ev.ID
	l.Counts.Inc(t)
	l.Events = append(l.Events, ev)
	return l
}

func TestIntegrity(t *testing.T) {
	Convey("Given the default scorer", t, func() {
		s := scoring.NewScorer()

		Convey("Then the score is 100 minus 5 per detection, clamped at zero", func() {
			So(s.Integrity(0), ShouldEqual, 100)
			So(s.Integrity(2), ShouldEqual, 90)
			So(s.Integrity(20), ShouldEqual, 0)
			So(s.Integrity(500), ShouldEqual, 0)
			So(s.Integrity(-3), ShouldEqual, 100)
		})

		Convey("Then it never increases with the detection count", func() {
			prev := s.Integrity(0)
			for n := 1; n <= 30; n++ {
				cur := s.Integrity(n)
				So(cur, ShouldBeLessThanOrEqualTo, prev)
				So(cur, ShouldBeGreaterThanOrEqualTo, 0)
				prev = cur
			}
		})
	})

	Convey("Given a custom penalty", t, func() {
		s := scoring.NewScorer(scoring.WithPenalty(10), scoring.WithMaxScore(50))
		So(s.Integrity(2), ShouldEqual, 30)
		So(s.Integrity(6), ShouldEqual, 0)
	})

	Convey("Given entries with and without detections", t, func() {
		clean := model.NewCheatingLog("e", "c")
		info := entry("e", "c", model.Refocused, t0)
		hit := entry("e", "c", model.CellPhone, t0)

		Convey("Then only detections are penalised", func() {
			So(scoring.PenaltyCount([]model.CheatingLog{clean}), ShouldEqual, 0)
			So(scoring.PenaltyCount([]model.CheatingLog{info}), ShouldEqual, 0)
			So(scoring.PenaltyCount([]model.CheatingLog{clean, info, hit}), ShouldEqual, 1)
		})

		Convey("Then an event repeated in another entry counts once", func() {
			again := model.NewCheatingLog("e", "c")
			again.Events = append(again.Events, hit.Events[0])
			again.CellPhone = 1
			So(scoring.PenaltyCount([]model.CheatingLog{hit, again}), ShouldEqual, 1)
		})
	})
}

func TestGrade(t *testing.T) {
	Convey("Given three questions", t, func() {
		qs := []model.Question{
			{ID: "q1", Options: []model.Option{{ID: "a", IsCorrect: true}, {ID: "b"}}, Marks: 2},
			{ID: "q2", Options: []model.Option{{ID: "a"}, {ID: "b", IsCorrect: true}}},
			{ID: "q3", Options: []model.Option{{ID: "a", IsCorrect: true}}},
		}

		Convey("When two are answered correctly and one wrongly", func() {
			total, pct := scoring.Grade(qs, []model.Answer{
				{QuestionID: "q1", SelectedOption: "a"},
				{QuestionID: "q2", SelectedOption: "b"},
				{QuestionID: "q3", SelectedOption: "zzz"},
			})

			Convey("Then marks default to one and percentage counts questions", func() {
				So(total, ShouldEqual, 3)
				So(pct, ShouldAlmostEqual, 200.0/3, 1e-9)
			})
		})

		Convey("When answers reference unknown questions", func() {
			total, pct := scoring.Grade(qs, []model.Answer{{QuestionID: "nope", SelectedOption: "a"}})
			So(total, ShouldEqual, 0)
			So(pct, ShouldEqual, 0.0)
		})

		Convey("When the exam has no questions", func() {
			_, pct := scoring.Grade(nil, []model.Answer{{QuestionID: "q1", SelectedOption: "a"}})
			So(pct, ShouldEqual, 0.0)
		})
	})
}

func TestReport(t *testing.T) {
	Convey("Given results, submissions and logs for two candidates", t, func() {
		s := scoring.NewScorer()
		results := []model.Result{
			{ID: "r1", ExamID: "e1", CandidateID: "alice"},
			{ID: "r2", ExamID: "e1", CandidateID: "bob"},
		}
		subs := []model.CodeSubmission{
			{ID: "s1", ExamID: "e1", CandidateID: "alice"},
			{ID: "s2", ExamID: "e2", CandidateID: "alice"},
			{ID: "s3", ExamID: "e1", CandidateID: "bob"},
		}
		logs := []model.CheatingLog{
			entry("e1", "alice", model.CellPhone, t0.Add(2*time.Second)),
			entry("e1", "alice", model.NoFace, t0),
			entry("e2", "alice", model.NoFace, t0),
		}

		reports := s.Reports(results, subs, logs)

		Convey("Then two matched entries give alice 90", func() {
			So(reports, ShouldHaveLength, 2)
			So(reports[0].ID, ShouldEqual, "r1")
			So(reports[0].CheatingLogs, ShouldHaveLength, 2)
			So(reports[0].IntegrityScore, ShouldEqual, 90)
			So(reports[0].CodingSubmissions, ShouldHaveLength, 1)
			So(reports[0].CodingSubmissions[0].ID, ShouldEqual, "s1")
		})

		Convey("Then events are merged in detection order", func() {
			So(reports[0].Events, ShouldHaveLength, 2)
			So(reports[0].Events[0].Type, ShouldEqual, model.NoFace)
			So(reports[0].Events[1].Type, ShouldEqual, model.CellPhone)
		})

		Convey("Then a candidate with no logs keeps full integrity", func() {
			So(reports[1].IntegrityScore, ShouldEqual, 100)
			So(reports[1].CheatingLogs, ShouldBeEmpty)
			So(reports[1].Events, ShouldNotBeNil)
		})
	})
}

func TestTimeline(t *testing.T) {
	Convey("Given per-event entries and a final log that repeats them", t, func() {
		s := scoring.NewScorer()
		a := entry("e1", "alice", model.NoFace, t0.Add(10*time.Second))
		b := entry("e1", "alice", model.CellPhone, t0.Add(70*time.Second))
		final := model.NewCheatingLog("e1", "alice")
		final.Events = append(final.Events, a.Events[0], b.Events[0])
		final.NoFace, final.CellPhone = 1, 1

		tl := s.Timeline("e1", "alice", []model.CheatingLog{b, a, final, entry("e1", "bob", model.NoFace, t0)})

		Convey("Then each event appears once, ordered, with the attempt span", func() {
			So(tl.Events, ShouldHaveLength, 2)
			So(tl.Events[0].Type, ShouldEqual, model.NoFace)
			So(tl.Counts.NoFace, ShouldEqual, 1)
			So(tl.Counts.CellPhone, ShouldEqual, 1)
			So(tl.StartedAt, ShouldEqual, t0.Add(10*time.Second))
			So(tl.Duration, ShouldEqual, "1m0s")
			So(tl.IntegrityScore, ShouldEqual, 90)
		})

		Convey("Then losing the live entries leaves the score unchanged", func() {
			lost := s.Timeline("e1", "alice", []model.CheatingLog{final})
			So(lost.Events, ShouldHaveLength, 2)
			So(lost.IntegrityScore, ShouldEqual, tl.IntegrityScore)
		})

		Convey("Then the report agrees with the timeline", func() {
			r := model.Result{ID: "r1", ExamID: "e1", CandidateID: "alice"}
			delivered := s.Report(r, nil, []model.CheatingLog{a, b, final})
			lost := s.Report(r, nil, []model.CheatingLog{final})
			So(delivered.Events, ShouldHaveLength, 2)
			So(delivered.CheatingLogs, ShouldHaveLength, 3)
			So(delivered.IntegrityScore, ShouldEqual, 90)
			So(lost.IntegrityScore, ShouldEqual, delivered.IntegrityScore)
		})
	})

	Convey("Given counter-only entries without events", t, func() {
		l := model.NewCheatingLog("e1", "alice")
		l.NoFace, l.CellPhone = 2, 1
		tl := scoring.NewScorer().Timeline("e1", "alice", []model.CheatingLog{l})
		So(tl.Events, ShouldBeEmpty)
		So(tl.Counts.Total(), ShouldEqual, 3)
		So(tl.IntegrityScore, ShouldEqual, 85)
	})

	Convey("Given no entries", t, func() {
		tl := scoring.NewScorer().Timeline("e1", "alice", nil)
		So(tl.Events, ShouldBeEmpty)
		So(tl.Duration, ShouldEqual, "0s")
		So(tl.IntegrityScore, ShouldEqual, 100)
	})
}
