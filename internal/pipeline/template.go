package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// generateTemplate produces the structural skeleton: crime, era, tone, event
// slots and role slots.
func generateTemplate(ctx context.Context, p *Pipeline, st *State) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var tmpl mystery.Template
	prompt := templatePrompt(st, pickFlavor(rng))
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageTemplate)), systemPrompt, prompt, &tmpl); err != nil {
		return fmt.Errorf("template generation: %w", err)
	}

	if tmpl.Date == "" {
		tmpl.Date = st.Input.CaseDate
	}
	if tmpl.Difficulty == "" {
		tmpl.Difficulty = st.Input.Difficulty
	}
	if tmpl.Difficulty == "" {
		tmpl.Difficulty = mystery.DifficultyMedium
	}

	st.Template = &tmpl
	st.Title = tmpl.Title
	return nil
}

// templateBounds returns the slot and role count ranges per difficulty.
func templateBounds(d mystery.Difficulty) (minSlots, maxSlots, minRoles, maxRoles int) {
	switch d {
	case mystery.DifficultyEasy:
		return 5, 6, 5, 6
	case mystery.DifficultyHard:
		return 8, 10, 8, 12
	default:
		return 6, 8, 6, 8
	}
}

func validateTemplate(st *State) *ValidationResult {
	var errs []string
	tmpl := st.Template
	if tmpl == nil {
		return validationFailure([]string{"no template generated"})
	}

	minSlots, maxSlots, minRoles, maxRoles := templateBounds(tmpl.Difficulty)
	if n := len(tmpl.EventSlots); n < minSlots || n > maxSlots {
		errs = append(errs, fmt.Sprintf("difficulty %s needs %d-%d event slots, got %d",
			tmpl.Difficulty, minSlots, maxSlots, n))
	}
	if n := len(tmpl.Roles); n < minRoles || n > maxRoles {
		errs = append(errs, fmt.Sprintf("difficulty %s needs %d-%d roles, got %d",
			tmpl.Difficulty, minRoles, maxRoles, n))
	}

	switch tmpl.Style {
	case mystery.StyleIsolated, mystery.StyleSprawling, mystery.StyleTimeLimited,
		mystery.StyleLayered, mystery.StyleParallel:
	default:
		errs = append(errs, fmt.Sprintf("unknown style %q", tmpl.Style))
	}
	toneOK := false
	for _, t := range mystery.Tones {
		if tmpl.Tone == t {
			toneOK = true
			break
		}
	}
	if !toneOK {
		errs = append(errs, fmt.Sprintf("unknown tone %q", tmpl.Tone))
	}

	slotIDs := make(map[string]bool, len(tmpl.EventSlots))
	for _, slot := range tmpl.EventSlots {
		if slot.ID == "" {
			errs = append(errs, "event slot with empty id")
			continue
		}
		if slotIDs[slot.ID] {
			errs = append(errs, fmt.Sprintf("duplicate event slot id %s", slot.ID))
		}
		slotIDs[slot.ID] = true
	}

	roots, required := 0, 0
	for _, slot := range tmpl.EventSlots {
		if len(slot.CausedBy) == 0 {
			roots++
		}
		if slot.Required {
			required++
		}
		for _, cause := range slot.CausedBy {
			if !slotIDs[cause] {
				errs = append(errs, fmt.Sprintf("slot %s caused by unknown slot %s", slot.ID, cause))
			}
		}
	}
	if roots == 0 {
		errs = append(errs, "no root event slot (every slot has causes)")
	}
	if required < 3 {
		errs = append(errs, fmt.Sprintf("need at least 3 required event slots, got %d", required))
	}

	roleIDs := make(map[string]bool, len(tmpl.Roles))
	for _, role := range tmpl.Roles {
		if role.ID == "" {
			errs = append(errs, "role with empty id")
			continue
		}
		if roleIDs[role.ID] {
			errs = append(errs, fmt.Sprintf("duplicate role id %s", role.ID))
		}
		roleIDs[role.ID] = true
	}

	if cycle := slotCycle(tmpl.EventSlots); cycle != "" {
		errs = append(errs, fmt.Sprintf("causedBy edges contain a cycle involving %s", cycle))
	}

	return validationFailure(errs)
}

// slotCycle returns a slot id on a causedBy cycle, or "" when the slots form
// a DAG. Kahn's algorithm; any slot surviving elimination is on a cycle.
func slotCycle(slots []mystery.EventSlot) string {
	indegree := make(map[string]int, len(slots))
	dependents := make(map[string][]string)
	for _, slot := range slots {
		if _, ok := indegree[slot.ID]; !ok {
			indegree[slot.ID] = 0
		}
		for _, cause := range slot.CausedBy {
			indegree[slot.ID]++
			dependents[cause] = append(dependents[cause], slot.ID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if seen == len(indegree) {
		return ""
	}
	for _, id := range sortedKeys(indegree) {
		if indegree[id] > 0 {
			return id
		}
	}
	return ""
}
