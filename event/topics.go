package event

import (
	"sort"
	"strings"
)

// NormalizeTopics trims, drops empty entries, deduplicates and sorts.
func NormalizeTopics(topics []string) []string {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if len(t) == 0 {
			continue
		}
		set[t] = struct{}{}
	}
	result := make([]string, 0, len(set))
	for t := range set {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

func UnionTopics(a, b []string) []string {
	return NormalizeTopics(append(append([]string{}, a...), b...))
}

func SubtractTopics(a, b []string) []string {
	remove := make(map[string]struct{}, len(b))
	for _, t := range NormalizeTopics(b) {
		remove[t] = struct{}{}
	}
	var result []string
	for _, t := range NormalizeTopics(a) {
		if _, ok := remove[t]; !ok {
			result = append(result, t)
		}
	}
	return NormalizeTopics(result)
}
