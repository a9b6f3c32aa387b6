package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/seedrand"
	"github.com/google/uuid"
)

// BuildConfig tunes candidate fetching and oversampling.
type BuildConfig struct {
	DefaultExtraPercent float64
	MaxCandidates       int
	OversampleFactor    int
}

// DefaultBuildConfig oversamples variant tags by 20% and caps bank fetches at 2000 rows.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{DefaultExtraPercent: 0.2, MaxCandidates: 2000, OversampleFactor: 8}
}

// RuleReport tells the quiz owner how a rule was satisfied.
type RuleReport struct {
	TagID      string `json:"tagId"`
	VariantSet bool   `json:"variantSet"`
	Requested  int    `json:"requested"`
	Picked     int    `json:"picked"`
	PoolSize   int    `json:"poolSize"`
	Shortage   bool   `json:"shortage"`
}

// BuildReport is the outcome of a snapshot build. AlreadyBuilt is a success.
type BuildReport struct {
	AlreadyBuilt bool         `json:"alreadyBuilt"`
	Count        int          `json:"count"`
	PerRule      []RuleReport `json:"perRule,omitempty"`
}

// SnapshotBuilder freezes a session's questions exactly once.
type SnapshotBuilder struct {
	sessions  SessionRepository
	quizzes   QuizRepository
	bank      QuestionBank
	snapshots SnapshotRepository
	markers   SnapshotMarkers
	cfg       BuildConfig
	log       *slog.Logger
	newID     func() string
}

func NewSnapshotBuilder(sessions SessionRepository, quizzes QuizRepository, bank QuestionBank, snapshots SnapshotRepository, markers SnapshotMarkers, cfg BuildConfig, log *slog.Logger) *SnapshotBuilder {
	if markers == nil {
		markers = noMarkers{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotBuilder{
		sessions:  sessions,
		quizzes:   quizzes,
		bank:      bank,
		snapshots: snapshots,
		markers:   markers,
		cfg:       cfg,
		log:       log,
		newID:     uuid.NewString,
	}
}

// Build materializes the snapshot set of sessionID. Concurrent callers are safe: the
// loser of a race reports AlreadyBuilt instead of writing a second set.
func (b *SnapshotBuilder) Build(ctx context.Context, sessionID string) (BuildReport, error) {
	session, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return BuildReport{}, err
	}
	if n, ok := b.markers.Built(ctx, sessionID); ok {
		return BuildReport{AlreadyBuilt: true, Count: n}, nil
	}

	existing, err := b.snapshots.CountSnapshots(ctx, sessionID)
	if err != nil {
		return BuildReport{}, fmt.Errorf("count snapshots: %w", err)
	}
	if existing > 0 {
		b.finish(ctx, session, existing)
		return BuildReport{AlreadyBuilt: true, Count: existing}, nil
	}

	quiz, err := b.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return BuildReport{}, err
	}

	report := BuildReport{PerRule: make([]RuleReport, 0, len(quiz.Rules))}
	picked := make(map[string]struct{})
	var snaps []domain.SessionQuestionSnapshot
	for _, rule := range quiz.Rules {
		rr := RuleReport{
			TagID:      rule.TagID,
			VariantSet: rule.IsVariantSet(),
			Requested:  rule.RequestedBase(),
			PoolSize:   b.poolSize(quiz, rule),
		}
		if rr.PoolSize > 0 {
			candidates, err := b.bank.Candidates(ctx, domain.CandidateQuery{
				TagID:   rule.TagID,
				PoolIDs: rule.PoolIDs,
				Limit:   b.fetchLimit(rr.PoolSize),
			})
			if err != nil {
				return BuildReport{}, fmt.Errorf("load candidates for tag %s: %w", rule.TagID, err)
			}
			seedrand.Shuffle(seedrand.Key(sessionID, rule.TagID), candidates)
			for _, q := range candidates {
				if rr.Picked >= rr.PoolSize {
					break
				}
				if _, dup := picked[q.ID]; dup {
					continue
				}
				picked[q.ID] = struct{}{}
				snaps = append(snaps, b.freeze(sessionID, rule.TagID, len(snaps), q))
				rr.Picked++
			}
		}
		// Same-set rules take exactly what the bank has and report no shortage.
		rr.Shortage = rr.VariantSet && rr.Picked < rr.Requested
		if rr.Shortage {
			b.log.Warn("question bank shortage", "session", sessionID, "tag", rule.TagID, "requested", rr.Requested, "picked", rr.Picked)
		}
		report.PerRule = append(report.PerRule, rr)
	}

	inserted, err := b.snapshots.InsertSnapshots(ctx, sessionID, snaps)
	if err != nil {
		return BuildReport{}, fmt.Errorf("insert snapshots: %w", err)
	}
	if !inserted {
		n, err := b.snapshots.CountSnapshots(ctx, sessionID)
		if err != nil {
			return BuildReport{}, fmt.Errorf("count snapshots: %w", err)
		}
		// The winner may still be writing common rows; the pass picks the same ones.
		b.finishWithQuiz(ctx, session, quiz, n)
		return BuildReport{AlreadyBuilt: true, Count: n}, nil
	}

	report.Count = len(snaps)
	b.log.Info("snapshot built", "session", sessionID, "questions", report.Count)
	b.finishWithQuiz(ctx, session, quiz, report.Count)
	return report, nil
}

// finish runs the common-question pass for an existing set whose marker is missing.
func (b *SnapshotBuilder) finish(ctx context.Context, session domain.Session, count int) {
	quiz, err := b.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		b.log.Warn("load quiz for common questions", "session", session.ID, "err", err)
		return
	}
	b.finishWithQuiz(ctx, session, quiz, count)
}

func (b *SnapshotBuilder) finishWithQuiz(ctx context.Context, session domain.Session, quiz domain.Quiz, count int) {
	if err := assignCommon(ctx, b.snapshots, session.ID, quiz); err != nil {
		// Retried on the next build call because the marker stays unset, and by
		// variant assignment before it writes any attempt rows.
		b.log.Warn("assign common questions", "session", session.ID, "err", err)
		return
	}
	b.markers.MarkBuilt(ctx, session.ID, count)
}

// assignCommon picks the shared subset of every variant tag. Tags that already have
// rows are left alone, and the pick depends only on the session, so the pass can be
// repeated or run concurrently.
func assignCommon(ctx context.Context, repo SnapshotRepository, sessionID string, quiz domain.Quiz) error {
	var snaps []domain.SessionQuestionSnapshot
	loaded := false
	for _, rule := range quiz.Rules {
		if rule.CommonCount <= 0 {
			continue
		}
		existing, err := repo.ListCommonQuestions(ctx, sessionID, rule.TagID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if !loaded {
			if snaps, err = repo.ListSnapshots(ctx, sessionID); err != nil {
				return err
			}
			loaded = true
		}
		ids := snapshotIDsForTag(snaps, rule.TagID)
		seedrand.Shuffle(seedrand.Key(sessionID, "common", rule.TagID), ids)
		if len(ids) > rule.CommonCount {
			ids = ids[:rule.CommonCount]
		}
		if len(ids) == 0 {
			continue
		}
		rows := make([]domain.SessionCommonQuestion, len(ids))
		for i, id := range ids {
			rows[i] = domain.SessionCommonQuestion{SessionID: sessionID, TagID: rule.TagID, SnapshotID: id, Ord: i}
		}
		if err := repo.InsertCommonQuestions(ctx, rows); err != nil {
			return err
		}
	}
	return nil
}

func (b *SnapshotBuilder) freeze(sessionID, tagID string, ord int, q domain.Question) domain.SessionQuestionSnapshot {
	options := make([]domain.Option, len(q.Options))
	copy(options, q.Options)
	return domain.SessionQuestionSnapshot{
		ID:               b.newID(),
		SessionID:        sessionID,
		SourceQuestionID: q.ID,
		TagID:            tagID,
		Ord:              ord,
		Type:             q.Type,
		Prompt:           q.Prompt,
		Options:          options,
	}
}

// poolSize is exact for same-set rules and oversampled for variant-set rules.
func (b *SnapshotBuilder) poolSize(quiz domain.Quiz, rule domain.Rule) int {
	base := rule.RequestedBase()
	if base <= 0 {
		return 0
	}
	if !rule.IsVariantSet() {
		return base
	}
	extra := b.extraPercent(quiz, rule)
	// Tolerance keeps 10*(1+0.2) at 12 rather than 13.
	return int(math.Ceil(float64(base)*(1+extra) - 1e-9))
}

func (b *SnapshotBuilder) extraPercent(quiz domain.Quiz, rule domain.Rule) float64 {
	extra := b.cfg.DefaultExtraPercent
	switch {
	case rule.ExtraPercent != nil:
		extra = *rule.ExtraPercent
	case quiz.ExtraPercentByTag != nil:
		if v, ok := quiz.ExtraPercentByTag[rule.TagID]; ok {
			extra = v
		} else if quiz.DefaultExtraPercent != nil {
			extra = *quiz.DefaultExtraPercent
		}
	case quiz.DefaultExtraPercent != nil:
		extra = *quiz.DefaultExtraPercent
	}
	if extra < 0 {
		return 0
	}
	return extra
}

func (b *SnapshotBuilder) fetchLimit(poolSize int) int {
	limit := poolSize * b.cfg.OversampleFactor
	if limit < poolSize {
		limit = poolSize
	}
	if b.cfg.MaxCandidates > 0 && limit > b.cfg.MaxCandidates {
		limit = b.cfg.MaxCandidates
	}
	return limit
}

func snapshotIDsForTag(snaps []domain.SessionQuestionSnapshot, tagID string) []string {
	var ids []string
	for _, s := range snaps {
		if s.TagID == tagID {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
