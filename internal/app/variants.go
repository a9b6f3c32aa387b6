package app

import (
	"context"
	"fmt"
	"log/slog"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/seedrand"
)

// VariantAssigner materializes the per-attempt question list of variant-set quizzes.
type VariantAssigner struct {
	snapshots SnapshotRepository
	log       *slog.Logger
}

func NewVariantAssigner(snapshots SnapshotRepository, log *slog.Logger) *VariantAssigner {
	if log == nil {
		log = slog.Default()
	}
	return &VariantAssigner{snapshots: snapshots, log: log}
}

// Assign returns the attempt's rows, creating them on first call. Same-set rules
// contribute nothing; their questions come straight from the session snapshot.
func (v *VariantAssigner) Assign(ctx context.Context, attempt domain.Attempt, quiz domain.Quiz) ([]domain.AttemptQuestion, error) {
	existing, err := v.snapshots.ListAttemptQuestions(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}
	if len(existing) > 0 || !quiz.HasVariantRules() {
		return existing, nil
	}

	snaps, err := v.snapshots.ListSnapshots(ctx, attempt.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var rows []domain.AttemptQuestion
	retried := false
	for _, rule := range quiz.Rules {
		if !rule.IsVariantSet() {
			continue
		}
		common, err := v.snapshots.ListCommonQuestions(ctx, attempt.SessionID, rule.TagID)
		if err != nil {
			return nil, fmt.Errorf("list common questions: %w", err)
		}
		if len(common) == 0 && rule.CommonCount > 0 && !retried {
			// Attempt rows are permanent, so the shared subset must exist first.
			retried = true
			if err := assignCommon(ctx, v.snapshots, attempt.SessionID, quiz); err != nil {
				return nil, fmt.Errorf("assign common questions: %w", err)
			}
			if common, err = v.snapshots.ListCommonQuestions(ctx, attempt.SessionID, rule.TagID); err != nil {
				return nil, fmt.Errorf("list common questions: %w", err)
			}
		}
		isCommon := make(map[string]bool, len(common))
		for _, c := range common {
			isCommon[c.SnapshotID] = true
			rows = append(rows, domain.AttemptQuestion{AttemptID: attempt.ID, SnapshotID: c.SnapshotID, TagID: rule.TagID, Ord: len(rows)})
		}

		var pool []string
		for _, id := range snapshotIDsForTag(snaps, rule.TagID) {
			if !isCommon[id] {
				pool = append(pool, id)
			}
		}
		seedrand.Shuffle(seedrand.Key(attempt.ID, rule.TagID), pool)
		if len(pool) > rule.VariantCount {
			pool = pool[:rule.VariantCount]
		}
		for _, id := range pool {
			rows = append(rows, domain.AttemptQuestion{AttemptID: attempt.ID, SnapshotID: id, TagID: rule.TagID, Ord: len(rows)})
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	inserted, err := v.snapshots.InsertAttemptQuestions(ctx, attempt.ID, rows)
	if err != nil {
		return nil, fmt.Errorf("insert attempt questions: %w", err)
	}
	if !inserted {
		v.log.Debug("attempt questions assigned concurrently", "attempt", attempt.ID)
		return v.snapshots.ListAttemptQuestions(ctx, attempt.ID)
	}
	return rows, nil
}
