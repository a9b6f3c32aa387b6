package scoring

import (
	"math"
	"reflect"
	"testing"

	"classroom-quiz-service/internal/domain"
)

func twoQuestionQuiz() []domain.SessionQuestionSnapshot {
	return []domain.SessionQuestionSnapshot{
		{
			ID:   "q1",
			Type: domain.QuestionMCQSingle,
			Options: []domain.Option{
				{Order: 0, Text: "yes", IsCorrect: true},
				{Order: 1, Text: "no"},
			},
		},
		{
			ID:   "q2",
			Type: domain.QuestionMCQMulti,
			Options: []domain.Option{
				{Order: 0, Text: "a", IsCorrect: true},
				{Order: 1, Text: "b"},
				{Order: 2, Text: "c", IsCorrect: true},
			},
		},
	}
}

func studentAnswers() map[string][]int {
	return map[string][]int{"q1": {0}, "q2": {0, 1}}
}

func TestScoreModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     domain.ScoringConfig
		want    float64
		correct int
	}{
		{"all or nothing", domain.ScoringConfig{Mode: domain.ScoringAllOrNothing}, 1, 1},
		{"edc rounded", domain.ScoringConfig{Mode: domain.ScoringPartial, PartialMethod: domain.PartialEDC, Rounding: domain.Rounding2}, 1.33, 1},
		{"halves", domain.ScoringConfig{Mode: domain.ScoringPartial, PartialMethod: domain.PartialHalves}, 1.25, 1},
		{"penalty", domain.ScoringConfig{Mode: domain.ScoringPenalty, PenaltyPerWrongOption: 0.25}, 1.75, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Score(twoQuestionQuiz(), studentAnswers(), tc.cfg)
			if math.Abs(res.Score-tc.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tc.want, res.Score)
			}
			if res.CorrectCount != tc.correct {
				t.Fatalf("expected %d exact, got %d", tc.correct, res.CorrectCount)
			}
		})
	}
}

func TestEDCWithoutRounding(t *testing.T) {
	res := Score(twoQuestionQuiz(), studentAnswers(), domain.ScoringConfig{Mode: domain.ScoringPartial, PartialMethod: domain.PartialEDC, Rounding: domain.RoundingNone})
	if math.Abs(res.Score-(1+1.0/3)) > 1e-12 {
		t.Fatalf("expected 1+1/3, got %v", res.Score)
	}
}

func TestUnansweredQuestionsScoreZero(t *testing.T) {
	cfg := domain.ScoringConfig{Mode: domain.ScoringPartial, PartialMethod: domain.PartialEDC}
	res := Score(twoQuestionQuiz(), map[string][]int{}, cfg)
	if res.Score != 0 || res.CorrectCount != 0 {
		t.Fatalf("expected zero for no answers, got %+v", res)
	}
	if len(res.Questions) != 2 || res.Questions[0].Answered {
		t.Fatalf("expected every snapshot walked, got %+v", res.Questions)
	}
}

func TestPenaltyIgnoresMissedCorrectAndFloors(t *testing.T) {
	snaps := twoQuestionQuiz()[1:]
	cfg := domain.ScoringConfig{Mode: domain.ScoringPenalty, PenaltyPerWrongOption: 0.6}

	if got := Score(snaps, map[string][]int{"q2": {0}}, cfg).Score; got != 1 {
		t.Fatalf("missing option 2 must not be penalized, got %v", got)
	}
	if got := Score(snaps, map[string][]int{"q2": {0, 1}}, cfg).Score; math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("expected 0.4, got %v", got)
	}
	if got := Score(snaps, map[string][]int{"q2": {1}}, cfg).Score; got != 0 {
		t.Fatalf("expected floor at zero, got %v", got)
	}
}

func TestHalvesLadder(t *testing.T) {
	snaps := []domain.SessionQuestionSnapshot{{
		ID: "q",
		Options: []domain.Option{
			{Order: 0, IsCorrect: true}, {Order: 1}, {Order: 2}, {Order: 3, IsCorrect: true},
		},
	}}
	cfg := domain.ScoringConfig{Mode: domain.ScoringPartial, PartialMethod: domain.PartialHalves}
	for sel, want := range map[string]float64{"03": 1, "0": 0.5, "01": 0.25, "12": 0} {
		var picked []int
		for _, c := range sel {
			picked = append(picked, int(c-'0'))
		}
		if got := Score(snaps, map[string][]int{"q": picked}, cfg).Score; got != want {
			t.Fatalf("selection %s: expected %v, got %v", sel, want, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize([]int{2, 0, 2, 1, 0}); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("unexpected normalize result %v", got)
	}
	res := Score(twoQuestionQuiz(), map[string][]int{"q2": {2, 0, 0}}, domain.ScoringConfig{})
	if res.Score != 1 {
		t.Fatalf("duplicates must not break exact match, got %v", res.Score)
	}
}
