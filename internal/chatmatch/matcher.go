// Package chatmatch picks the reply template for an inbound chat message.
package chatmatch

import (
	"sort"
	"strings"

	"arbflow/internal/domain"
)

type Result struct {
	Template domain.ChatTemplate
	Matched  []string
	Score    int
}

// Match scores every template by how many of its keywords occur in message
// and returns the best one. Higher score wins, then higher priority; equal
// candidates keep their input order. ok is false when no keyword matched.
func Match(message string, templates []domain.ChatTemplate) (Result, bool) {
	text := strings.ToLower(message)

	var candidates []Result
	for _, tpl := range templates {
		var matched []string
		for _, kw := range tpl.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		candidates = append(candidates, Result{Template: tpl, Matched: matched, Score: len(matched)})
	}
	if len(candidates) == 0 {
		return Result{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Template.Priority > candidates[j].Template.Priority
	})
	return candidates[0], true
}
