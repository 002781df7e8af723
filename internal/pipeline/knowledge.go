package pipeline

import (
	"context"

	"caseweaver/internal/mystery"
)

// computeEventKnowledge derives, for every role, what the events let it
// perceive, plus the physical traces each location retains. Purely
// deterministic; no validator.
//
// Perception channels per involvement:
//
//	agent, present        -> every reveal of the event
//	witness_visual        -> reveals with visible true
//	witness_auditory      -> reveals with audible true
//	discovered_evidence   -> reveals with physical true
func computeEventKnowledge(ctx context.Context, p *Pipeline, st *State) error {
	roleKnowledge := make(map[string]map[string]mystery.KnowledgeStatus)
	learn := func(roleID, factID string) {
		if roleKnowledge[roleID] == nil {
			roleKnowledge[roleID] = make(map[string]mystery.KnowledgeStatus)
		}
		roleKnowledge[roleID][factID] = mystery.StatusKnows
	}

	// physicalAt tracks which events left a physical trace of a fact at a
	// location. A later event at the same location that re-reveals the fact
	// without the physical channel is a cleanup: the trace is gone.
	type trace struct{ cleaned bool }
	physicalAt := make(map[string]map[string]*trace)

	for _, e := range st.eventsByTimestamp() {
		for _, roleID := range sortedKeys(e.Involvement) {
			inv := e.Involvement[roleID]
			for _, r := range e.Reveals {
				switch inv {
				case mystery.InvolvementAgent, mystery.InvolvementPresent:
					learn(roleID, r.FactID)
				case mystery.InvolvementWitnessVisual:
					if r.Visible {
						learn(roleID, r.FactID)
					}
				case mystery.InvolvementWitnessAuditory:
					if r.Audible {
						learn(roleID, r.FactID)
					}
				case mystery.InvolvementDiscoveredEvidence:
					if r.Physical {
						learn(roleID, r.FactID)
					}
				}
			}
		}

		for _, r := range e.Reveals {
			if physicalAt[e.Location] == nil {
				physicalAt[e.Location] = make(map[string]*trace)
			}
			existing := physicalAt[e.Location][r.FactID]
			if r.Physical {
				if existing == nil {
					physicalAt[e.Location][r.FactID] = &trace{}
				} else {
					existing.cleaned = false
				}
			} else if existing != nil {
				// The fact resurfaced here without a physical channel:
				// something removed the trace.
				existing.cleaned = true
			}
		}
	}

	locationReveals := make(map[string][]string)
	for _, loc := range sortedKeys(physicalAt) {
		var facts []string
		for _, factID := range sortedKeys(physicalAt[loc]) {
			if !physicalAt[loc][factID].cleaned {
				facts = append(facts, factID)
			}
		}
		if len(facts) > 0 {
			locationReveals[loc] = facts
		}
	}

	st.Knowledge = &mystery.ComputedKnowledge{
		RoleKnowledge:   roleKnowledge,
		LocationReveals: locationReveals,
	}
	return nil
}
