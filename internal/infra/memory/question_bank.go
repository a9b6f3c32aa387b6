package memory

import (
	"context"
	"sort"
	"sync"

	"classroom-quiz-service/internal/domain"
)

// QuestionBank is an in-memory implementation of app.QuestionBank.
type QuestionBank struct {
	mu        sync.RWMutex
	questions map[string]domain.Question
	tags      map[string][]string
	deleted   map[string]bool
}

func NewQuestionBank() *QuestionBank {
	return &QuestionBank{
		questions: make(map[string]domain.Question),
		tags:      make(map[string][]string),
		deleted:   make(map[string]bool),
	}
}

// AddQuestion stores q under the given tags.
func (b *QuestionBank) AddQuestion(q domain.Question, tags ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions[q.ID] = cloneQuestion(q)
	b.tags[q.ID] = append([]string(nil), tags...)
	delete(b.deleted, q.ID)
}

// UpdateQuestion replaces a question's content, keeping its tags.
func (b *QuestionBank) UpdateQuestion(q domain.Question) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.questions[q.ID] = cloneQuestion(q)
}

// DeleteQuestion soft-deletes a question; it stops being a candidate.
func (b *QuestionBank) DeleteQuestion(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted[id] = true
}

// Candidates returns live questions of the tag, newest first, bounded by q.Limit.
func (b *QuestionBank) Candidates(_ context.Context, q domain.CandidateQuery) ([]domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pools := make(map[string]bool, len(q.PoolIDs))
	for _, p := range q.PoolIDs {
		pools[p] = true
	}
	var out []domain.Question
	for id, question := range b.questions {
		if b.deleted[id] || !hasTag(b.tags[id], q.TagID) {
			continue
		}
		if len(pools) > 0 && !pools[question.PoolID] {
			continue
		}
		out = append(out, cloneQuestion(question))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func cloneQuestion(q domain.Question) domain.Question {
	q.Options = append([]domain.Option(nil), q.Options...)
	return q
}
