package postgres

import (
	"context"
	"fmt"

	"classroom-quiz-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionBank reads candidate questions straight from the bank tables. Soft-deleted
// questions are never candidates.
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

func (b *QuestionBank) Candidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Question, error) {
	pools := q.PoolIDs
	if pools == nil {
		pools = []string{}
	}
	rows, err := b.pool.Query(ctx, `
		SELECT q.id, q.pool_id, q.type, q.prompt, q.created_at
		FROM questions q
		JOIN question_tags t ON t.question_id = q.id
		WHERE t.tag_id = $1
		  AND q.deleted_at IS NULL
		  AND (cardinality($2::text[]) = 0 OR q.pool_id = ANY($2))
		ORDER BY q.created_at DESC, q.id
		LIMIT $3`, q.TagID, pools, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	index := map[string]int{}
	for rows.Next() {
		var question domain.Question
		if err := rows.Scan(&question.ID, &question.PoolID, &question.Type, &question.Prompt, &question.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		index[question.ID] = len(out)
		out = append(out, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, question := range out {
		ids[i] = question.ID
	}
	optRows, err := b.pool.Query(ctx, `
		SELECT question_id, ord, text, is_correct
		FROM question_options
		WHERE question_id = ANY($1)
		ORDER BY question_id, ord`, ids)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var questionID string
		var opt domain.Option
		if err := optRows.Scan(&questionID, &opt.Order, &opt.Text, &opt.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		i := index[questionID]
		out[i].Options = append(out[i].Options, opt)
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	return out, nil
}
