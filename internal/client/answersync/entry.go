// Package answersync keeps a student's answers on the device first and pushes them
// to the server when it can. Local edits that have not reached the server always
// win over server state.
package answersync

import (
	"slices"
	"time"

	"classroom-quiz-service/internal/domain"
)

// Entry is the local copy of one answer.
type Entry struct {
	Selected  []int     `json:"selected"`
	UpdatedAt time.Time `json:"updatedAt"`
	Dirty     bool      `json:"dirty"`
}

// Reconcile merges server answers into the local set. A server answer replaces the
// local entry when there is none, or when the local entry is clean and not newer.
// local is not modified.
func Reconcile(local map[string]Entry, server []domain.Answer) map[string]Entry {
	out := make(map[string]Entry, len(local)+len(server))
	for id, e := range local {
		out[id] = e
	}
	for _, a := range server {
		cur, ok := out[a.SessionQuestionID]
		if ok && (cur.Dirty || a.UpdatedAt.Before(cur.UpdatedAt)) {
			continue
		}
		out[a.SessionQuestionID] = Entry{Selected: slices.Clone(a.Selected), UpdatedAt: a.UpdatedAt}
	}
	return out
}

func pending(entries map[string]Entry) []string {
	var ids []string
	for id, e := range entries {
		if e.Dirty {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
