package generation

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

var errMalformed = goerr.New("malformed generation output")

// llmResponse is the structured output from the LLM
type llmResponse struct {
	Recommendations []llmRecommendation `json:"recommendations"`
}

type llmRecommendation struct {
	BadgeID          string   `json:"badge_id"`
	Justification    string   `json:"justification"`
	PreparationSteps []string `json:"preparation_steps"`
	ExpectedBenefits string   `json:"expected_benefits"`
}

// responseSchema creates the JSON schema for structured output
func responseSchema() *gollem.Parameter {
	return &gollem.Parameter{
		Title:       "BadgeRecommendationResponse",
		Description: "Ranked subset of the candidate badges with a justification for each",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"recommendations": {
				Type:        gollem.TypeArray,
				Description: "Recommended badges, best first",
				Required:    true,
				Items: &gollem.Parameter{
					Type: gollem.TypeObject,
					Properties: map[string]*gollem.Parameter{
						"badge_id": {
							Type:        gollem.TypeString,
							Description: "ID of the recommended badge, copied exactly from the candidate list",
							Required:    true,
						},
						"justification": {
							Type:        gollem.TypeString,
							Description: "One sentence explaining why the badge fits the learner",
							Required:    true,
						},
						"preparation_steps": {
							Type:        gollem.TypeArray,
							Description: "Concrete steps to prepare for earning the badge",
							Items:       &gollem.Parameter{Type: gollem.TypeString},
						},
						"expected_benefits": {
							Type:        gollem.TypeString,
							Description: "What the learner gains by earning the badge",
						},
					},
				},
			},
		},
	}
}

// stripCodeFence removes a surrounding markdown code fence some models add despite JSON mode
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

// parseResponse decodes the model output and keeps only items that reference a
// candidate. Unknown and repeated badge ids are dropped and logged. An output without
// any valid item is malformed.
func parseResponse(text string, candidates []*model.RankedCandidate, logger *slog.Logger) ([]model.RecommendationItem, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, goerr.Wrap(errMalformed, "empty response")
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, goerr.Wrap(errMalformed, "failed to parse LLM response",
			goerr.V("cause", err.Error()), goerr.V("response", text))
	}

	byID := make(map[model.BadgeID]*model.RankedCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.Badge.ID] = c
	}

	seen := make(map[model.BadgeID]struct{}, len(resp.Recommendations))
	items := make([]model.RecommendationItem, 0, len(resp.Recommendations))
	for _, rec := range resp.Recommendations {
		id := model.BadgeID(strings.TrimSpace(rec.BadgeID))
		candidate, ok := byID[id]
		if !ok {
			logger.Warn("dropping hallucinated badge id", model.BadgeIDKey, rec.BadgeID)
			continue
		}
		if _, dup := seen[id]; dup {
			logger.Warn("dropping duplicated badge id", model.BadgeIDKey, id)
			continue
		}
		seen[id] = struct{}{}

		justification := strings.TrimSpace(rec.Justification)
		if justification == "" {
			justification = genericJustification(candidate)
		}
		items = append(items, model.RecommendationItem{
			BadgeID:          id,
			Title:            candidate.Badge.Title,
			Score:            candidate.Score,
			Similarity:       candidate.Similarity,
			Justification:    justification,
			PreparationSteps: rec.PreparationSteps,
			ExpectedBenefits: strings.TrimSpace(rec.ExpectedBenefits),
		})
	}

	if len(items) == 0 {
		return nil, goerr.Wrap(errMalformed, "no valid recommendation in response",
			goerr.V("returned", len(resp.Recommendations)))
	}
	return items, nil
}
