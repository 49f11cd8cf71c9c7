// Package scoring grades quiz answers and derives the combined per-candidate
// report with its integrity score.
package scoring

import (
	"sort"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultPenalty    = 5
	defaultMaxScore   = 100
	defaultQuestionMk = 1
)

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithPenalty sets the integrity cost of one recorded detection.
func WithPenalty(p int) Option {
	return func(s *Scorer) {
		if p > 0 {
			s.penalty = p
		}
	}
}

// WithMaxScore sets the integrity score of a clean attempt.
func WithMaxScore(m int) Option {
	return func(s *Scorer) {
		if m > 0 {
			s.maxScore = m
		}
	}
}

// Scorer is stateless apart from its constants and safe for concurrent use.
type Scorer struct {
	penalty  int
	maxScore int
}

// NewScorer creates a scorer with the 100 - 5n rule.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{penalty: defaultPenalty, maxScore: defaultMaxScore}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Integrity returns max(0, max - penalty*n). It never increases with n.
func (s *Scorer) Integrity(n int) int {
	if n < 0 {
		n = 0
	}
	score := s.maxScore - s.penalty*n
	if score < 0 {
		return 0
	}
	return score
}

// attempt is the merged record of one candidate's entries. An event that
// reached the backend both live and in the final log appears once.
type attempt struct {
	events []model.CheatingEvent
	counts model.Counts
}

func merge(logs []model.CheatingLog) attempt {
	a := attempt{events: []model.CheatingEvent{}}
	seen := make(map[string]struct{})
	for _, l := range logs {
		if len(l.Events) == 0 {
			// Counter-only entries carry no event IDs to merge on.
			a.counts.Add(l.Counts)
			continue
		}
		for _, ev := range l.Events {
			if ev.ID != "" {
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
			}
			a.events = append(a.events, ev)
			a.counts.Inc(ev.Type)
		}
	}
	sortEvents(a.events)
	return a
}

// PenaltyCount counts the distinct counted detections across logs. Events
// are matched by ID, so the score does not depend on whether the live feed
// delivered them.
func PenaltyCount(logs []model.CheatingLog) int {
	return merge(logs).counts.Total()
}

// Grade scores answers against questions. Each correct answer earns the
// question's marks (1 when unset); percentage is correct/total*100.
func Grade(questions []model.Question, answers []model.Answer) (int, float64) {
	selected := make(map[string]string, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = a.SelectedOption
	}

	total, correct := 0, 0
	for _, q := range questions {
		choice, ok := selected[q.ID]
		if !ok || choice == "" {
			continue
		}
		for _, opt := range q.Options {
			if opt.IsCorrect && opt.ID == choice {
				marks := q.Marks
				if marks <= 0 {
					marks = defaultQuestionMk
				}
				total += marks
				correct++
				break
			}
		}
	}
	if len(questions) == 0 {
		return total, 0
	}
	return total, float64(correct) / float64(len(questions)) * 100
}

func sameAttempt(examID, candidateID, otherExam, otherCandidate string) bool {
	return examID == otherExam && candidateID == otherCandidate
}

// Report joins one result with the submissions and logs of the same exam and
// candidate.
func (s *Scorer) Report(r model.Result, subs []model.CodeSubmission, logs []model.CheatingLog) model.Report {
	rep := model.Report{
		Result:            r,
		CodingSubmissions: []model.CodeSubmission{},
		CheatingLogs:      []model.CheatingLog{},
		Events:            []model.CheatingEvent{},
	}
	for _, sub := range subs {
		if sameAttempt(r.ExamID, r.CandidateID, sub.ExamID, sub.CandidateID) {
			rep.CodingSubmissions = append(rep.CodingSubmissions, sub)
		}
	}
	for _, l := range logs {
		if sameAttempt(r.ExamID, r.CandidateID, l.ExamID, l.CandidateID) {
			rep.CheatingLogs = append(rep.CheatingLogs, l)
		}
	}
	a := merge(rep.CheatingLogs)
	rep.Events = a.events
	rep.IntegrityScore = s.Integrity(a.counts.Total())
	return rep
}

// Reports applies Report to every result in order.
func (s *Scorer) Reports(results []model.Result, subs []model.CodeSubmission, logs []model.CheatingLog) []model.Report {
	out := make([]model.Report, 0, len(results))
	for _, r := range results {
		out = append(out, s.Report(r, subs, logs))
	}
	return out
}

// Timeline collects every event of one attempt in detection order, each
// event ID listed once.
func (s *Scorer) Timeline(examID, candidateID string, logs []model.CheatingLog) model.Timeline {
	matched := make([]model.CheatingLog, 0, len(logs))
	for _, l := range logs {
		if sameAttempt(examID, candidateID, l.ExamID, l.CandidateID) {
			matched = append(matched, l)
		}
	}
	a := merge(matched)
	tl := model.Timeline{ExamID: examID, CandidateID: candidateID, Events: a.events, Counts: a.counts}
	if n := len(tl.Events); n > 0 {
		tl.StartedAt = tl.Events[0].DetectedAt
		tl.EndedAt = tl.Events[n-1].DetectedAt
	}
	tl.Duration = tl.EndedAt.Sub(tl.StartedAt).Round(time.Second).String()
	tl.IntegrityScore = s.Integrity(a.counts.Total())
	return tl
}

func sortEvents(evs []model.CheatingEvent) {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].DetectedAt.Before(evs[j].DetectedAt) })
}
