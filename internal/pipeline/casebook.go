package pipeline

import (
	"context"
	"fmt"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// generateCasebook builds the player-facing entry graph: a deterministic
// skeleton (ids, reveals, gates, locations), then a generative polish pass
// that only touches labels, addresses and character presence.
func generateCasebook(ctx context.Context, p *Pipeline, st *State) error {
	st.Casebook = casebookSkeleton(st)

	var out struct {
		Entries []struct {
			EntryID      string   `json:"entryId"`
			Label        string   `json:"label"`
			Address      string   `json:"address"`
			CharacterIDs []string `json:"characterIds"`
		} `json:"entries"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageCasebook)), systemPrompt, casebookPolishPrompt(st), &out); err != nil {
		return fmt.Errorf("casebook polish: %w", err)
	}

	for _, polished := range out.Entries {
		for i := range st.Casebook {
			if st.Casebook[i].ID != polished.EntryID {
				continue
			}
			if polished.Label != "" {
				st.Casebook[i].Label = polished.Label
			}
			if polished.Address != "" {
				st.Casebook[i].Address = polished.Address
			}
			if len(polished.CharacterIDs) > 0 {
				st.Casebook[i].CharacterIDs = uniqueSorted(polished.CharacterIDs)
			}
			break
		}
	}
	return nil
}

// casebookSkeleton derives the structural entries: one per character, one
// per location with revealable facts, with OR-gates computed from fact
// subjects and the introduction seeds.
func casebookSkeleton(st *State) []mystery.CasebookEntry {
	intro := make(map[string]bool, len(st.IntroductionFactIDs))
	for _, factID := range st.IntroductionFactIDs {
		intro[factID] = true
	}

	// gatesFor: facts mentioning the subject minus intro facts, else intro
	// facts mentioning the subject, else the first intro fact.
	gatesFor := func(subjectID string) []string {
		var nonIntro, introMentions []string
		for _, f := range st.Facts {
			if !contains(f.Subjects, subjectID) {
				continue
			}
			if intro[f.ID] {
				introMentions = append(introMentions, f.ID)
			} else {
				nonIntro = append(nonIntro, f.ID)
			}
		}
		if len(nonIntro) > 0 {
			return nonIntro
		}
		if len(introMentions) > 0 {
			return introMentions
		}
		if len(st.IntroductionFactIDs) > 0 {
			return []string{st.IntroductionFactIDs[0]}
		}
		return nil
	}

	var entries []mystery.CasebookEntry
	for _, charID := range st.SortedCharacterIDs() {
		locID := ""
		for _, f := range st.Facts {
			if !contains(f.Subjects, charID) {
				continue
			}
			for _, sub := range f.Subjects {
				if st.IsLocationID(sub) {
					locID = sub
					break
				}
			}
			if locID != "" {
				break
			}
		}
		entries = append(entries, mystery.CasebookEntry{
			ID:              "entry_" + charID,
			LocationID:      locID,
			CharacterIDs:    []string{charID},
			RevealsFactIDs:  append([]string(nil), st.FactGraph.SubjectToFacts[charID]...),
			RequiresAnyFact: gatesFor(charID),
		})
	}

	for _, locID := range st.SortedLocationIDs() {
		reveals := st.FactGraph.SubjectToFacts[locID]
		if len(reveals) == 0 {
			continue
		}
		entries = append(entries, mystery.CasebookEntry{
			ID:              "entry_" + locID,
			LocationID:      locID,
			RevealsFactIDs:  append([]string(nil), reveals...),
			RequiresAnyFact: gatesFor(locID),
		})
	}

	rescueOrphans(st, entries, intro)
	return entries
}

// rescueOrphans appends facts nothing reveals to the first entry whose
// subject overlaps theirs, falling back to the first entry.
func rescueOrphans(st *State, entries []mystery.CasebookEntry, intro map[string]bool) {
	revealed := make(map[string]bool)
	for _, e := range entries {
		for _, factID := range e.RevealsFactIDs {
			revealed[factID] = true
		}
	}

	entrySubject := func(e mystery.CasebookEntry) string {
		if len(e.CharacterIDs) == 1 {
			return e.CharacterIDs[0]
		}
		return e.LocationID
	}

	for _, f := range st.Facts {
		if revealed[f.ID] || intro[f.ID] {
			continue
		}
		target := -1
		for i := range entries {
			if contains(f.Subjects, entrySubject(entries[i])) {
				target = i
				break
			}
		}
		if target == -1 && len(entries) > 0 {
			target = 0
		}
		if target >= 0 {
			entries[target].RevealsFactIDs = append(entries[target].RevealsFactIDs, f.ID)
			revealed[f.ID] = true
		}
	}
}

// validateCasebook checks referential integrity, then runs the bipartite
// fixpoint from the introduction facts. Everything must be reachable; the
// reachable fact set is carried forward for question validation.
func validateCasebook(st *State) *ValidationResult {
	var errs []string

	factExists := func(id string) bool { return st.FactByID(id) != nil }
	entryIDs := make(map[string]bool, len(st.Casebook))

	for _, factID := range st.IntroductionFactIDs {
		if !factExists(factID) {
			errs = append(errs, fmt.Sprintf("introduction fact %s does not exist", factID))
		}
	}

	for _, e := range st.Casebook {
		if entryIDs[e.ID] {
			errs = append(errs, fmt.Sprintf("duplicate entry id %s", e.ID))
		}
		entryIDs[e.ID] = true
		if e.LocationID != "" && !st.IsLocationID(e.LocationID) {
			errs = append(errs, fmt.Sprintf("entry %s references unknown location %s", e.ID, e.LocationID))
		}
		for _, charID := range e.CharacterIDs {
			if !st.IsCharacterID(charID) {
				errs = append(errs, fmt.Sprintf("entry %s references unknown character %s", e.ID, charID))
			}
		}
		for _, factID := range e.RevealsFactIDs {
			if !factExists(factID) {
				errs = append(errs, fmt.Sprintf("entry %s reveals unknown fact %s", e.ID, factID))
			}
		}
		if len(e.RequiresAnyFact) == 0 {
			errs = append(errs, fmt.Sprintf("entry %s has an empty gate", e.ID))
		}
		for _, factID := range e.RequiresAnyFact {
			if !factExists(factID) {
				errs = append(errs, fmt.Sprintf("entry %s gated on unknown fact %s", e.ID, factID))
			}
		}
	}
	if len(errs) > 0 {
		return validationFailure(errs)
	}

	reachableFacts, reachableEntries := casebookReachability(st.Casebook, st.IntroductionFactIDs)

	gatedOnIntro := false
	intro := make(map[string]bool, len(st.IntroductionFactIDs))
	for _, factID := range st.IntroductionFactIDs {
		intro[factID] = true
	}
	for _, e := range st.Casebook {
		for _, gate := range e.RequiresAnyFact {
			if intro[gate] {
				gatedOnIntro = true
			}
		}
	}
	if !gatedOnIntro {
		errs = append(errs, "nowhere to go from the start: no entry is gated on an introduction fact")
	}

	for _, f := range st.Facts {
		if !reachableFacts[f.ID] {
			errs = append(errs, fmt.Sprintf("fact %s is unreachable from the introduction", f.ID))
		}
	}
	for _, e := range st.Casebook {
		if !reachableEntries[e.ID] {
			errs = append(errs, fmt.Sprintf("entry %s is unreachable from the introduction", e.ID))
		}
	}

	vr := validationFailure(errs)
	vr.ReachableFactIDs = sortedTrue(reachableFacts)
	vr.ReachableEntryIDs = sortedTrue(reachableEntries)
	if vr.Valid {
		st.ReachableFactIDs = vr.ReachableFactIDs
	}
	return vr
}

// casebookReachability computes the gate/reveal fixpoint from the seed facts.
func casebookReachability(entries []mystery.CasebookEntry, seedFacts []string) (facts, reached map[string]bool) {
	facts = make(map[string]bool, len(seedFacts))
	for _, factID := range seedFacts {
		facts[factID] = true
	}
	reached = make(map[string]bool)

	for changed := true; changed; {
		changed = false
		for _, e := range entries {
			if reached[e.ID] {
				continue
			}
			for _, gate := range e.RequiresAnyFact {
				if facts[gate] {
					reached[e.ID] = true
					changed = true
					break
				}
			}
			if !reached[e.ID] {
				continue
			}
			for _, factID := range e.RevealsFactIDs {
				if !facts[factID] {
					facts[factID] = true
					changed = true
				}
			}
		}
	}
	return facts, reached
}

func sortedTrue(set map[string]bool) []string {
	filtered := make(map[string]struct{}, len(set))
	for id, ok := range set {
		if ok {
			filtered[id] = struct{}{}
		}
	}
	return sortedSet(filtered)
}
