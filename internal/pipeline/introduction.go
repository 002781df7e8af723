package pipeline

import (
	"context"
	"fmt"

	"caseweaver/internal/llm"
)

// generateIntroduction writes the opening prose, finalises the title, and
// picks the seed facts the player starts with.
func generateIntroduction(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		Title               string   `json:"title"`
		IntroductionFactIDs []string `json:"introductionFactIds"`
		Introduction        string   `json:"introduction"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageIntroduction)), systemPrompt, introductionPrompt(st), &out); err != nil {
		return fmt.Errorf("introduction generation: %w", err)
	}

	if out.Title != "" {
		st.Title = out.Title
	}
	st.IntroductionFactIDs = uniqueSorted(out.IntroductionFactIDs)
	st.Introduction = out.Introduction
	return nil
}

func validateIntroduction(st *State) *ValidationResult {
	var errs []string

	if st.Introduction == "" {
		errs = append(errs, "no introduction prose")
	}
	if st.Title == "" {
		errs = append(errs, "no title")
	}
	if n := len(st.IntroductionFactIDs); n < 2 || n > 4 {
		errs = append(errs, fmt.Sprintf("need 2-4 introduction facts, got %d", n))
	}
	for _, factID := range st.IntroductionFactIDs {
		f := st.FactByID(factID)
		if f == nil {
			errs = append(errs, fmt.Sprintf("introduction fact %s does not exist", factID))
			continue
		}
		if !f.Veracity {
			errs = append(errs, fmt.Sprintf("introduction fact %s is false", factID))
		}
	}

	return validationFailure(errs)
}
