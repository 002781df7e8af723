package pipeline

import (
	"context"
	"fmt"
	"strings"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// generateFactDescriptions asks the model to describe and categorise every
// skeleton, then merges: the skeleton keeps id, subjects and veracity; the
// model contributes description and category.
func generateFactDescriptions(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		Facts []struct {
			FactID      string               `json:"factId"`
			Description string               `json:"description"`
			Category    mystery.FactCategory `json:"category"`
			Subjects    []string             `json:"subjects"`
			Veracity    bool                 `json:"veracity"`
		} `json:"facts"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageFactDescriptions)), systemPrompt, factDescriptionsPrompt(st), &out); err != nil {
		return fmt.Errorf("fact description generation: %w", err)
	}

	type described struct {
		description string
		category    mystery.FactCategory
		subjects    []string
		veracity    bool
	}
	byID := make(map[string]described, len(out.Facts))
	for _, f := range out.Facts {
		byID[f.FactID] = described{f.Description, f.Category, f.Subjects, f.Veracity}
	}

	facts := make([]mystery.Fact, 0, len(st.FactSkeletons))
	for _, sk := range st.FactSkeletons {
		d := byID[sk.ID]
		facts = append(facts, mystery.Fact{
			ID:          sk.ID,
			Description: d.description,
			Category:    d.category,
			Subjects:    append([]string(nil), sk.Subjects...),
			Veracity:    sk.Veracity,
		})
	}
	st.Facts = facts

	// Stash the model's echoes for the validator to cross-check.
	st.factEchoes = make(map[string]factEcho, len(out.Facts))
	for _, f := range out.Facts {
		st.factEchoes[f.FactID] = factEcho{Subjects: f.Subjects, Veracity: f.Veracity}
	}
	return nil
}

func validateFacts(st *State) *ValidationResult {
	var errs []string

	for _, sk := range st.FactSkeletons {
		f := st.FactByID(sk.ID)
		if f == nil || f.Description == "" {
			errs = append(errs, fmt.Sprintf("fact %s has no description", sk.ID))
			continue
		}
		if !mystery.ValidFactCategory(f.Category) {
			errs = append(errs, fmt.Sprintf("fact %s has invalid category %q", sk.ID, f.Category))
		}
		if echo, ok := st.factEchoes[sk.ID]; ok {
			if echo.Veracity != sk.Veracity {
				errs = append(errs, fmt.Sprintf("fact %s veracity was altered (want %t)", sk.ID, sk.Veracity))
			}
			if !sameIDSet(echo.Subjects, sk.Subjects) {
				errs = append(errs, fmt.Sprintf("fact %s subjects were altered (want %s)", sk.ID, strings.Join(sk.Subjects, ", ")))
			}
		}
		for _, sub := range f.Subjects {
			if !st.IsCharacterID(sub) && !st.IsLocationID(sub) {
				errs = append(errs, fmt.Sprintf("fact %s subject %s is neither a character nor a location", sk.ID, sub))
			}
		}
	}

	return validationFailure(errs)
}

func sameIDSet(a, b []string) bool {
	as, bs := uniqueSorted(a), uniqueSorted(b)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
