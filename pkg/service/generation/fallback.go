package generation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

func genericJustification(c *model.RankedCandidate) string {
	if len(c.Badge.Skills) > 0 {
		return fmt.Sprintf("This badge closely matches your profile and covers %s.", strings.Join(c.Badge.Skills, ", "))
	}
	return "This badge closely matches the skills and interests in your profile."
}

// Fallback orders candidates by raw similarity (ties by ascending badge id) and
// attaches a generic justification. It is the result used whenever generation fails.
func Fallback(candidates []*model.RankedCandidate, maxItems int) []model.RecommendationItem {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b *model.RankedCandidate) int {
		if a.Similarity != b.Similarity {
			if a.Similarity > b.Similarity {
				return -1
			}
			return 1
		}
		return strings.Compare(string(a.Badge.ID), string(b.Badge.ID))
	})
	if maxItems > 0 && len(ordered) > maxItems {
		ordered = ordered[:maxItems]
	}

	items := make([]model.RecommendationItem, len(ordered))
	for i, c := range ordered {
		items[i] = model.RecommendationItem{
			BadgeID:       c.Badge.ID,
			Title:         c.Badge.Title,
			Score:         c.Score,
			Similarity:    c.Similarity,
			Justification: genericJustification(c),
		}
	}
	return items
}
