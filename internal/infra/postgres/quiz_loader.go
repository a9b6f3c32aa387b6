package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"classroom-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader reads quiz settings and rules from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz := domain.Quiz{ID: quizID}
	var byTag []byte
	err := l.pool.QueryRow(ctx, `
		SELECT title, default_extra_percent, extra_percent_by_tag,
		       scoring_mode, partial_method, penalty_per_wrong_option, rounding
		FROM quizzes WHERE id = $1`, quizID).Scan(
		&quiz.Title,
		&quiz.DefaultExtraPercent,
		&byTag,
		&quiz.Scoring.Mode,
		&quiz.Scoring.PartialMethod,
		&quiz.Scoring.PenaltyPerWrongOption,
		&quiz.Scoring.Rounding,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	if len(byTag) > 0 {
		if err := json.Unmarshal(byTag, &quiz.ExtraPercentByTag); err != nil {
			return domain.Quiz{}, fmt.Errorf("unmarshal extra percent by tag: %w", err)
		}
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, tag_id, count, common_count, variant_count, extra_percent, pool_ids, ord
		FROM quiz_rules WHERE quiz_id = $1
		ORDER BY ord, id`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r := domain.Rule{QuizID: quizID}
		if err := rows.Scan(&r.ID, &r.TagID, &r.Count, &r.CommonCount, &r.VariantCount, &r.ExtraPercent, &r.PoolIDs, &r.Ord); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan quiz rule: %w", err)
		}
		quiz.Rules = append(quiz.Rules, r)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz rules: %w", err)
	}
	return quiz, nil
}
