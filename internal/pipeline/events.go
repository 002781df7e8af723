package pipeline

import (
	"context"
	"fmt"
	"strings"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

// generateEvents fills the template's slots with concrete events: agents,
// locations, involvement maps and reveals.
func generateEvents(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		Events []mystery.Event `json:"events"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageEvents)), systemPrompt, eventsPrompt(st), &out); err != nil {
		return fmt.Errorf("event generation: %w", err)
	}
	st.Events = out.Events
	return nil
}

func validateEvents(st *State) *ValidationResult {
	var errs []string
	if len(st.Events) == 0 {
		return validationFailure([]string{"no events generated"})
	}

	roleIDs := make(map[string]bool)
	for _, r := range st.Template.Roles {
		roleIDs[r.ID] = true
	}

	eventIDs := make(map[string]bool, len(st.Events))
	for _, e := range st.Events {
		if e.ID == "" {
			errs = append(errs, "event with empty id")
			continue
		}
		if eventIDs[e.ID] {
			errs = append(errs, fmt.Sprintf("duplicate event id %s", e.ID))
		}
		eventIDs[e.ID] = true
	}

	for _, e := range st.Events {
		if e.Agent == "" {
			errs = append(errs, fmt.Sprintf("event %s has no agent", e.ID))
		} else {
			if !roleIDs[e.Agent] {
				errs = append(errs, fmt.Sprintf("event %s agent %s is not a template role", e.ID, e.Agent))
			}
			if e.Involvement[e.Agent] != mystery.InvolvementAgent {
				errs = append(errs, fmt.Sprintf("event %s agent %s must appear in involvement as agent", e.ID, e.Agent))
			}
		}
		if e.Location == "" {
			errs = append(errs, fmt.Sprintf("event %s has no location", e.ID))
		} else if !strings.HasPrefix(e.Location, "loc_") {
			errs = append(errs, fmt.Sprintf("event %s location %q is not a loc_ placeholder", e.ID, e.Location))
		}

		for _, roleID := range sortedKeys(e.Involvement) {
			inv := e.Involvement[roleID]
			if !roleIDs[roleID] {
				errs = append(errs, fmt.Sprintf("event %s involvement names unknown role %s", e.ID, roleID))
			}
			if !mystery.ValidInvolvement(inv) {
				errs = append(errs, fmt.Sprintf("event %s role %s has invalid involvement %q", e.ID, roleID, inv))
			}
		}

		for _, caused := range e.Causes {
			if !eventIDs[caused] {
				errs = append(errs, fmt.Sprintf("event %s causes unknown event %s", e.ID, caused))
			}
		}

		if len(e.Reveals) == 0 {
			errs = append(errs, fmt.Sprintf("event %s reveals nothing", e.ID))
		}
		for _, r := range e.Reveals {
			if r.FactID == "" {
				errs = append(errs, fmt.Sprintf("event %s has a reveal with empty factId", e.ID))
				continue
			}
			if !strings.HasPrefix(r.FactID, "fact_") {
				errs = append(errs, fmt.Sprintf("event %s reveal %s lacks the fact_ prefix", e.ID, r.FactID))
			}
			if len(r.Subjects) == 0 {
				errs = append(errs, fmt.Sprintf("event %s reveal %s has no subjects", e.ID, r.FactID))
			}
			for _, sub := range r.Subjects {
				if !roleIDs[sub] && !strings.HasPrefix(sub, "loc_") {
					errs = append(errs, fmt.Sprintf("event %s reveal %s subject %q is neither a role nor a loc_ placeholder", e.ID, r.FactID, sub))
				}
			}
		}
	}

	if cycle := eventCycle(st.Events); cycle != "" {
		errs = append(errs, fmt.Sprintf("causes edges contain a cycle involving %s", cycle))
	}

	return validationFailure(errs)
}

// eventCycle returns an event id on a causes cycle, or "".
func eventCycle(events []mystery.Event) string {
	indegree := make(map[string]int, len(events))
	for _, e := range events {
		if _, ok := indegree[e.ID]; !ok {
			indegree[e.ID] = 0
		}
		for _, caused := range e.Causes {
			indegree[caused]++
		}
	}
	forward := make(map[string][]string, len(events))
	for _, e := range events {
		forward[e.ID] = e.Causes
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
		for _, next := range forward[id] {
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
