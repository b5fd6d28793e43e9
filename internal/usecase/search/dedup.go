package search

import (
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
)

// Dedup removes excluded ids (and the anchor of a similar query), then
// collapses duplicate ids to their highest-scored occurrence. Order is kept.
func Dedup(list []candidate.Candidate, d *query.Descriptor) []candidate.Candidate {
	best := make(map[string]int, len(list))
	for i := range list {
		id := list[i].ID()
		j, seen := best[id]
		if !seen || list[i].Relevance > list[j].Relevance {
			best[id] = i
		}
	}

	out := make([]candidate.Candidate, 0, len(best))
	for i := range list {
		id := list[i].ID()
		if best[id] != i || d.Excluded(id) || (d.Anchor() != "" && id == d.Anchor()) {
			continue
		}
		out = append(out, list[i])
	}
	return out
}
