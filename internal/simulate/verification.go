package simulate

import (
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
)

// verifyOutcome compares what the agent submitted, what the server reports
// and what the scenario must have produced.
func verifyOutcome(sc Scenario, maxScore int, o Outcome) []string {
	var problems []string

	for _, t := range model.CountedTypes() {
		if minimum := sc.Expect[t]; o.Timeline.Counts.Get(t) < minimum {
			problems = append(problems, fmt.Sprintf("%s: want at least %d, server has %d", t, minimum, o.Timeline.Counts.Get(t)))
		}
		if got, sent := o.Timeline.Counts.Get(t), o.Submitted.Counts.Get(t); got != sent {
			problems = append(problems, fmt.Sprintf("%s: submitted %d, server has %d", t, sent, got))
		}
	}

	switch {
	case sc.Clean() && o.Submitted.Counts.Total() == 0 && o.Timeline.IntegrityScore != maxScore:
		problems = append(problems, fmt.Sprintf("clean attempt scored %d, want %d", o.Timeline.IntegrityScore, maxScore))
	case o.Submitted.Counts.Total() > 0 && o.Timeline.IntegrityScore >= maxScore:
		problems = append(problems, fmt.Sprintf("flagged attempt kept full integrity %d", o.Timeline.IntegrityScore))
	}

	if o.Result.ID != "" && o.Result.CandidateID != o.CandidateID {
		problems = append(problems, fmt.Sprintf("result belongs to %q", o.Result.CandidateID))
	}
	return problems
}

// verifyReports checks that every candidate's result report carries the same
// integrity score as its timeline.
func verifyReports(outcomes []Outcome, reports []model.Report) []string {
	byCandidate := make(map[string]model.Report, len(reports))
	for _, r := range reports {
		byCandidate[r.Result.CandidateID] = r
	}

	var problems []string
	for _, o := range outcomes {
		if o.Err != "" || o.Result.ID == "" {
			continue
		}
		rep, ok := byCandidate[o.CandidateID]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: no result report", o.CandidateID))
			continue
		}
		if rep.IntegrityScore != o.Timeline.IntegrityScore {
			problems = append(problems, fmt.Sprintf("%s: report integrity %d, timeline %d",
				o.CandidateID, rep.IntegrityScore, o.Timeline.IntegrityScore))
		}
	}
	return problems
}
