package pipeline

import (
	"context"
	"fmt"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// generateQuestions produces the quiz the player answers after
// investigating.
func generateQuestions(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		Questions []mystery.Question `json:"questions"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageQuestions)), systemPrompt, questionsPrompt(st), &out); err != nil {
		return fmt.Errorf("question generation: %w", err)
	}
	st.Questions = out.Questions
	return nil
}

func validateQuestions(st *State) *ValidationResult {
	var errs []string
	if len(st.Questions) == 0 {
		return validationFailure([]string{"no questions generated"})
	}

	seen := make(map[string]bool, len(st.Questions))
	for _, q := range st.Questions {
		if q.ID == "" {
			errs = append(errs, "question with empty id")
			continue
		}
		if seen[q.ID] {
			errs = append(errs, fmt.Sprintf("duplicate question id %s", q.ID))
		}
		seen[q.ID] = true
		if q.Text == "" {
			errs = append(errs, fmt.Sprintf("question %s has no text", q.ID))
		}
		if len(q.Answer.AcceptedIDs) == 0 {
			errs = append(errs, fmt.Sprintf("question %s accepts no answers", q.ID))
		}

		switch q.Answer.Type {
		case mystery.AnswerFact:
			if q.Answer.FactCategory == "" {
				errs = append(errs, fmt.Sprintf("question %s has a fact answer without a category", q.ID))
			} else if !mystery.ValidFactCategory(q.Answer.FactCategory) {
				errs = append(errs, fmt.Sprintf("question %s has invalid category %q", q.ID, q.Answer.FactCategory))
			}
			for _, id := range q.Answer.AcceptedIDs {
				f := st.FactByID(id)
				if f == nil {
					errs = append(errs, fmt.Sprintf("question %s accepts unknown fact %s", q.ID, id))
					continue
				}
				if !f.Veracity {
					errs = append(errs, fmt.Sprintf("question %s accepts false fact %s", q.ID, id))
				}
				if !contains(st.ReachableFactIDs, id) {
					errs = append(errs, fmt.Sprintf("question %s accepts undiscoverable fact %s", q.ID, id))
				}
				if f.Category != q.Answer.FactCategory {
					errs = append(errs, fmt.Sprintf("question %s accepts fact %s of category %q, want %q",
						q.ID, id, f.Category, q.Answer.FactCategory))
				}
			}
		case mystery.AnswerPerson:
			for _, id := range q.Answer.AcceptedIDs {
				if !st.IsCharacterID(id) {
					errs = append(errs, fmt.Sprintf("question %s accepts unknown character %s", q.ID, id))
				}
			}
		case mystery.AnswerLocation:
			for _, id := range q.Answer.AcceptedIDs {
				if !st.IsLocationID(id) {
					errs = append(errs, fmt.Sprintf("question %s accepts unknown location %s", q.ID, id))
				}
			}
		default:
			errs = append(errs, fmt.Sprintf("question %s has invalid answer type %q", q.ID, q.Answer.Type))
		}
	}

	return validationFailure(errs)
}
