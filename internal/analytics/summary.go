// Package analytics derives session statistics from the session log.
package analytics

import (
	"sort"

	"github.com/dj-oyu/live-detect-client/internal/history"
)

const (
	topN    = 5
	recentN = 10
)

// ClassCount is one row of the class distribution.
type ClassCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
	// Share is Count as a percentage of all entries.
	Share float64 `json:"share"`
	// Relative is Count as a percentage of the most frequent class.
	Relative float64 `json:"relative"`
}

// Summary is the analytics view of one session log.
type Summary struct {
	Total           int             `json:"total"`
	PerLabel        map[string]int  `json:"per_label"`
	TopClasses      []ClassCount    `json:"top_classes"`
	AvgConfidence   float64         `json:"avg_confidence"`
	DistinctClasses int             `json:"distinct_classes"`
	Recent          []history.Entry `json:"recent"`
}

// Summarize computes the summary of a chronological session log. It
// returns nil for an empty log so "no data" is distinct from zero counts.
func Summarize(entries []history.Entry) *Summary {
	if len(entries) == 0 {
		return nil
	}

	perLabel := make(map[string]int)
	firstSeen := make(map[string]int)
	var order []string
	var confidence float64

	for i, e := range entries {
		if _, ok := perLabel[e.Label]; !ok {
			firstSeen[e.Label] = i
			order = append(order, e.Label)
		}
		perLabel[e.Label]++
		confidence += e.Confidence
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if perLabel[a] != perLabel[b] {
			return perLabel[a] > perLabel[b]
		}
		return firstSeen[a] < firstSeen[b]
	})
	if len(order) > topN {
		order = order[:topN]
	}

	total := len(entries)
	maxCount := perLabel[order[0]]
	top := make([]ClassCount, len(order))
	for i, label := range order {
		count := perLabel[label]
		top[i] = ClassCount{
			Label:    label,
			Count:    count,
			Share:    float64(count) / float64(total) * 100,
			Relative: float64(count) / float64(maxCount) * 100,
		}
	}

	n := min(recentN, total)
	recent := make([]history.Entry, n)
	for i := 0; i < n; i++ {
		recent[i] = entries[total-1-i]
	}

	return &Summary{
		Total:           total,
		PerLabel:        perLabel,
		TopClasses:      top,
		AvgConfidence:   confidence / float64(total) * 100,
		DistinctClasses: len(perLabel),
		Recent:          recent,
	}
}
