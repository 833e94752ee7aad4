package usecase

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/badgewise/pkg/domain/model"
)

//go:embed prompt/recommend_system.md
var recommendSystemPromptTmpl string

var recommendSystemPrompt = template.Must(template.New("recommend_system").Parse(recommendSystemPromptTmpl))

// maxDescriptionRunes caps the description of a single candidate in the prompt
const maxDescriptionRunes = 600

// Prompt is an assembled prompt for the generation model
type Prompt struct {
	System string
	User   string

	// Candidates are the ranked candidates that fit in User, in rank order
	Candidates []*model.RankedCandidate
}

// PromptOption customizes prompt assembly
type PromptOption func(*promptData)

type promptData struct {
	K        int
	Language string
}

// WithPromptLanguage asks the model to answer in the given language
func WithPromptLanguage(language string) PromptOption {
	return func(d *promptData) {
		d.Language = language
	}
}

// BuildPrompt assembles the generation prompt within budget characters of user
// prompt. The profile summary takes at most half of the budget. Candidates are
// appended in rank order while they fit; the first one that does not fit ends the
// list. ErrBudgetTooSmall is returned when not even the top candidate fits.
func BuildPrompt(profile *model.UserProfile, ranked []*model.RankedCandidate, k, budget int, opts ...PromptOption) (*Prompt, error) {
	if budget <= 0 {
		return nil, goerr.Wrap(model.ErrBudgetTooSmall, "prompt budget must be positive", goerr.V("budget", budget))
	}

	data := promptData{K: k}
	for _, opt := range opts {
		opt(&data)
	}

	var system bytes.Buffer
	if err := recommendSystemPrompt.Execute(&system, data); err != nil {
		return nil, goerr.Wrap(err, "failed to execute recommend system prompt template")
	}

	head := "## Learner profile\n\n" + truncateRunes(profileSummary(profile), budget/2) + "\n\n## Candidate badges\n"
	tail := fmt.Sprintf("\nRecommend up to %d badges from the candidates above.", k)

	var user strings.Builder
	user.WriteString(head)
	used := utf8.RuneCountInString(head) + utf8.RuneCountInString(tail)

	included := make([]*model.RankedCandidate, 0, len(ranked))
	for i, c := range ranked {
		block := candidateBlock(i+1, c)
		size := utf8.RuneCountInString(block)
		if used+size > budget {
			break
		}
		user.WriteString(block)
		used += size
		included = append(included, c)
	}

	if len(ranked) > 0 && len(included) == 0 {
		return nil, goerr.Wrap(model.ErrBudgetTooSmall, "prompt budget cannot hold the top candidate",
			goerr.V("budget", budget),
			goerr.V("required", used+utf8.RuneCountInString(candidateBlock(1, ranked[0]))),
		)
	}
	user.WriteString(tail)

	return &Prompt{
		System:     system.String(),
		User:       user.String(),
		Candidates: included,
	}, nil
}

func profileSummary(profile *model.UserProfile) string {
	var b strings.Builder
	if profile.Name != "" {
		b.WriteString("Name: " + profile.Name + "\n")
	}
	b.WriteString(profile.ProfileText())
	if len(profile.BadgeHistory) > 0 {
		held := make([]string, len(profile.BadgeHistory))
		for i, id := range profile.BadgeHistory {
			held[i] = string(id)
		}
		b.WriteString("\nBadges already earned: " + strings.Join(held, ", "))
	}
	return b.String()
}

func candidateBlock(n int, c *model.RankedCandidate) string {
	b := c.Badge

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n[%d] badge_id: %s\n", n, b.ID)
	fmt.Fprintf(&sb, "Title: %s\n", b.Title)
	if b.Issuer != "" {
		fmt.Fprintf(&sb, "Issuer: %s\n", b.Issuer)
	}
	if len(b.Skills) > 0 {
		fmt.Fprintf(&sb, "Skills: %s\n", strings.Join(b.Skills, ", "))
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", truncateRunes(b.Description, maxDescriptionRunes))
	}
	if b.Criteria != "" {
		fmt.Fprintf(&sb, "Criteria: %s\n", truncateRunes(b.Criteria, maxDescriptionRunes))
	}
	if b.EmploymentOutcome != "" {
		fmt.Fprintf(&sb, "Employment outcome: %s\n", b.EmploymentOutcome)
	}
	fmt.Fprintf(&sb, "Relevance: %.3f\n", c.Score)
	return sb.String()
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return string(runes[:1])
	}
	return string(runes[:limit-1]) + "…"
}
