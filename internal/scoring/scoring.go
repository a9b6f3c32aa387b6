package scoring

import (
	"math"
	"sort"

	"classroom-quiz-service/internal/domain"
)

// QuestionScore is the outcome for one snapshot question.
type QuestionScore struct {
	SessionQuestionID string  `json:"sessionQuestionId"`
	Answered          bool    `json:"answered"`
	Exact             bool    `json:"exact"`
	Score             float64 `json:"score"`
}

// Result is the total for an attempt.
type Result struct {
	Score        float64         `json:"score"`
	CorrectCount int             `json:"correctCount"`
	Questions    []QuestionScore `json:"questions"`
}

// Score walks every snapshot of the session. Questions without a stored answer score 0.
func Score(snapshots []domain.SessionQuestionSnapshot, answers map[string][]int, cfg domain.ScoringConfig) Result {
	res := Result{Questions: make([]QuestionScore, 0, len(snapshots))}
	total := 0.0
	for _, snap := range snapshots {
		qs := QuestionScore{SessionQuestionID: snap.ID}
		selected, ok := answers[snap.ID]
		if ok {
			qs.Answered = true
			sel := Normalize(selected)
			qs.Exact = exactMatch(sel, snap.Options)
			qs.Score = scoreQuestion(sel, snap.Options, cfg)
			if qs.Exact {
				res.CorrectCount++
			}
		}
		total += qs.Score
		res.Questions = append(res.Questions, qs)
	}
	res.Score = Round(total, cfg.Rounding)
	return res
}

// Normalize dedupes and sorts a selection.
func Normalize(selected []int) []int {
	seen := make(map[int]struct{}, len(selected))
	out := make([]int, 0, len(selected))
	for _, s := range selected {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Round applies the final rounding policy.
func Round(v float64, policy string) float64 {
	if policy == domain.Rounding2 {
		return math.Round(v*100) / 100
	}
	return v
}

func scoreQuestion(sel []int, options []domain.Option, cfg domain.ScoringConfig) float64 {
	switch cfg.Mode {
	case domain.ScoringPartial:
		if cfg.PartialMethod == domain.PartialHalves {
			return halves(sel, options)
		}
		return everyDecisionCounts(sel, options)
	case domain.ScoringPenalty:
		return penalty(sel, options, cfg.PenaltyPerWrongOption)
	default:
		if exactMatch(sel, options) {
			return 1
		}
		return 0
	}
}

func selectedSet(sel []int) map[int]bool {
	m := make(map[int]bool, len(sel))
	for _, s := range sel {
		m[s] = true
	}
	return m
}

func exactMatch(sel []int, options []domain.Option) bool {
	picked := selectedSet(sel)
	correct := 0
	for _, o := range options {
		if o.IsCorrect {
			correct++
		}
		if o.IsCorrect != picked[o.Order] {
			return false
		}
	}
	return len(sel) == correct
}

// everyDecisionCounts credits each option where selection agrees with correctness.
func everyDecisionCounts(sel []int, options []domain.Option) float64 {
	if len(options) == 0 {
		return 0
	}
	picked := selectedSet(sel)
	agree := 0
	for _, o := range options {
		if o.IsCorrect == picked[o.Order] {
			agree++
		}
	}
	return float64(agree) / float64(len(options))
}

// halves halves the credit for every wrong or missed option, down to zero at three.
func halves(sel []int, options []domain.Option) float64 {
	picked := selectedSet(sel)
	errs := 0
	for _, o := range options {
		if o.IsCorrect != picked[o.Order] {
			errs++
		}
	}
	switch errs {
	case 0:
		return 1
	case 1:
		return 0.5
	case 2:
		return 0.25
	default:
		return 0
	}
}

// penalty gives full credit for touching any correct option and subtracts per wrong
// selection. Missed correct options cost nothing.
func penalty(sel []int, options []domain.Option, perWrong float64) float64 {
	correct := make(map[int]bool, len(options))
	for _, o := range options {
		if o.IsCorrect {
			correct[o.Order] = true
		}
	}
	base := 0.0
	wrong := 0
	for _, s := range sel {
		if correct[s] {
			base = 1
		} else {
			wrong++
		}
	}
	return math.Max(0, base-perWrong*float64(wrong))
}
