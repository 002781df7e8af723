package pipeline

import (
	"context"
	"fmt"
	"strings"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// locationPlaceholders collects every loc_ id the events reference, from
// event locations and reveal subjects.
func locationPlaceholders(st *State) []string {
	set := make(map[string]struct{})
	for _, e := range st.Events {
		set[e.Location] = struct{}{}
		for _, r := range e.Reveals {
			for _, sub := range r.Subjects {
				if strings.HasPrefix(sub, "loc_") {
					set[sub] = struct{}{}
				}
			}
		}
	}
	return sortedSet(set)
}

// generateLocations turns event location placeholders into a spatial world.
func generateLocations(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		Locations []mystery.Location `json:"locations"`
	}
	prompt := locationsPrompt(st, locationPlaceholders(st))
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageLocations)), systemPrompt, prompt, &out); err != nil {
		return fmt.Errorf("location generation: %w", err)
	}
	st.Locations = out.Locations
	return nil
}

func validateLocations(st *State) *ValidationResult {
	var errs, warnings []string
	if len(st.Locations) == 0 {
		return validationFailure([]string{"no locations generated"})
	}

	locIDs := make(map[string]bool, len(st.Locations))
	for _, l := range st.Locations {
		if l.ID == "" {
			errs = append(errs, "location with empty id")
			continue
		}
		if locIDs[l.ID] {
			errs = append(errs, fmt.Sprintf("duplicate location id %s", l.ID))
		}
		locIDs[l.ID] = true
	}

	for _, placeholder := range locationPlaceholders(st) {
		if !locIDs[placeholder] {
			errs = append(errs, fmt.Sprintf("events reference location %s but no location with that id exists", placeholder))
		}
	}

	accessible := make(map[string]map[string]bool, len(st.Locations))
	for _, l := range st.Locations {
		accessible[l.ID] = make(map[string]bool, len(l.AccessibleFrom))
		for _, edges := range [][]string{l.AccessibleFrom, l.VisibleFrom, l.AudibleFrom} {
			for _, other := range edges {
				if !locIDs[other] {
					errs = append(errs, fmt.Sprintf("location %s references unknown location %s", l.ID, other))
				}
			}
		}
		for _, other := range l.AccessibleFrom {
			accessible[l.ID][other] = true
		}
	}
	for _, l := range st.Locations {
		for _, other := range l.AccessibleFrom {
			if m, ok := accessible[other]; ok && !m[l.ID] {
				warnings = append(warnings, fmt.Sprintf("%s is accessible from %s but not the reverse", l.ID, other))
			}
		}
	}

	vr := validationFailure(errs)
	vr.Warnings = warnings
	return vr
}
