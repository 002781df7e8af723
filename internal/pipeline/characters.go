package pipeline

import (
	"context"
	"fmt"
	"strings"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// generateCharacters creates the cast, enforces the derived knowledge
// baseline, and rewrites events from role ids to character ids.
func generateCharacters(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		RoleMapping map[string]string   `json:"roleMapping"`
		Characters  []mystery.Character `json:"characters"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageCharacters)), systemPrompt, charactersPrompt(st), &out); err != nil {
		return fmt.Errorf("character generation: %w", err)
	}

	st.RoleMapping = out.RoleMapping
	st.Characters = out.Characters

	enforceBaseline(st)
	rewriteEventRoles(st)
	return nil
}

// enforceBaseline reconciles each character's claimed knowledge with what the
// events actually let their role perceive. The baseline is authoritative:
// missing facts are inserted as knows, invalid statuses become knows, and
// entries outside the baseline are dropped unless the character merely
// believes them (a false belief costs nothing).
func enforceBaseline(st *State) {
	charToRole := make(map[string]string, len(st.RoleMapping))
	for roleID, charID := range st.RoleMapping {
		charToRole[charID] = roleID
	}

	for i := range st.Characters {
		c := &st.Characters[i]
		baseline := st.Knowledge.RoleKnowledge[charToRole[c.ID]]
		if c.Knowledge == nil {
			c.Knowledge = make(map[string]mystery.KnowledgeStatus)
		}

		for factID := range baseline {
			status, ok := c.Knowledge[factID]
			if !ok || !mystery.ValidKnowledgeStatus(status) {
				c.Knowledge[factID] = mystery.StatusKnows
			}
		}
		for _, factID := range sortedKeys(c.Knowledge) {
			if _, inBaseline := baseline[factID]; inBaseline {
				continue
			}
			if c.Knowledge[factID] != mystery.StatusBelieves {
				delete(c.Knowledge, factID)
			}
		}
	}
}

// rewriteEventRoles swaps role ids for character ids in event agents,
// involvement keys and reveal subjects.
func rewriteEventRoles(st *State) {
	for i := range st.Events {
		e := &st.Events[i]
		if charID, ok := st.RoleMapping[e.Agent]; ok {
			e.Agent = charID
		}

		involvement := make(map[string]mystery.Involvement, len(e.Involvement))
		for roleID, inv := range e.Involvement {
			if charID, ok := st.RoleMapping[roleID]; ok {
				involvement[charID] = inv
			} else {
				involvement[roleID] = inv
			}
		}
		e.Involvement = involvement

		for j := range e.Reveals {
			for k, sub := range e.Reveals[j].Subjects {
				if charID, ok := st.RoleMapping[sub]; ok {
					e.Reveals[j].Subjects[k] = charID
				}
			}
		}
	}
}

func validateCharacters(st *State) *ValidationResult {
	var errs []string
	if len(st.Characters) == 0 {
		return validationFailure([]string{"no characters generated"})
	}

	charIDs := make(map[string]bool, len(st.Characters))
	for _, c := range st.Characters {
		if c.ID == "" {
			errs = append(errs, "character with empty id")
			continue
		}
		if !strings.HasPrefix(c.ID, "char_") {
			errs = append(errs, fmt.Sprintf("character id %s lacks the char_ prefix", c.ID))
		}
		if charIDs[c.ID] {
			errs = append(errs, fmt.Sprintf("duplicate character id %s", c.ID))
		}
		charIDs[c.ID] = true
		if c.Name == "" {
			errs = append(errs, fmt.Sprintf("character %s has no name", c.ID))
		}
		if c.SocietalRole == "" {
			errs = append(errs, fmt.Sprintf("character %s has no societal role", c.ID))
		} else {
			lowered := strings.ToLower(c.SocietalRole)
			for _, banned := range []string{"culprit", "red herring", "suspect", "witness"} {
				if strings.Contains(lowered, banned) {
					errs = append(errs, fmt.Sprintf("character %s societal role leaks mystery label %q", c.ID, banned))
				}
			}
		}
		for _, factID := range sortedKeys(c.Knowledge) {
			if !mystery.ValidKnowledgeStatus(c.Knowledge[factID]) {
				errs = append(errs, fmt.Sprintf("character %s has invalid status %q for %s", c.ID, c.Knowledge[factID], factID))
			}
		}
	}

	mapped := make(map[string]bool, len(st.RoleMapping))
	for _, r := range st.Template.Roles {
		charID, ok := st.RoleMapping[r.ID]
		if !ok {
			errs = append(errs, fmt.Sprintf("role %s has no character mapping", r.ID))
			continue
		}
		if !charIDs[charID] {
			errs = append(errs, fmt.Sprintf("role %s maps to unknown character %s", r.ID, charID))
		}
		if mapped[charID] {
			errs = append(errs, fmt.Sprintf("character %s serves more than one role", charID))
		}
		mapped[charID] = true
	}

	// Events were rewritten; any surviving role id means the mapping missed it.
	for _, e := range st.Events {
		if !charIDs[e.Agent] {
			errs = append(errs, fmt.Sprintf("event %s agent %s was not mapped to a character", e.ID, e.Agent))
		}
		for _, key := range sortedKeys(e.Involvement) {
			if !charIDs[key] {
				errs = append(errs, fmt.Sprintf("event %s involvement key %s was not mapped to a character", e.ID, key))
			}
		}
	}

	return validationFailure(errs)
}
