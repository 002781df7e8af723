package pipeline

import (
	"context"
	"fmt"
	"strings"

	"caseweaver/internal/mystery"
)

// computeOptimalPath finds a gate-feasible entry sequence that satisfies
// every question, greedily maximising newly satisfied questions per visit
// and falling back to bridge steps that unlock further entries. The result
// is replayed as a self-check before it is accepted.
func computeOptimalPath(ctx context.Context, p *Pipeline, st *State) error {
	discovered := make(map[string]bool, len(st.IntroductionFactIDs))
	for _, factID := range st.IntroductionFactIDs {
		discovered[factID] = true
	}
	visited := make(map[string]bool, len(st.Casebook))
	satisfied := make(map[string]bool, len(st.Questions))

	markSatisfied := func() {
		for _, q := range st.Questions {
			if !satisfied[q.ID] && questionSatisfied(st, q, discovered) {
				satisfied[q.ID] = true
			}
		}
	}
	markSatisfied()

	var path []string
	for len(satisfied) < len(st.Questions) {
		eligible := eligibleEntries(st, visited, discovered)
		if len(eligible) == 0 {
			return fmt.Errorf("optimal path: no eligible entry with %d of %d questions satisfied (path so far: %s)",
				len(satisfied), len(st.Questions), strings.Join(path, " -> "))
		}

		best, bestNew, bestReveals := -1, 0, 0
		for _, idx := range eligible {
			n := newlySatisfied(st, st.Casebook[idx], discovered, satisfied)
			if n > bestNew || (n == bestNew && n > 0 && len(st.Casebook[idx].RevealsFactIDs) > bestReveals) {
				best, bestNew, bestReveals = idx, n, len(st.Casebook[idx].RevealsFactIDs)
			}
		}

		if bestNew == 0 {
			// Bridge step: no entry answers anything, so pick the one that
			// opens the most doors.
			best = bridgeStep(st, eligible, visited, discovered)
			if best == -1 {
				return fmt.Errorf("optimal path: stuck with %d of %d questions satisfied (path so far: %s)",
					len(satisfied), len(st.Questions), strings.Join(path, " -> "))
			}
		}

		entry := st.Casebook[best]
		visited[entry.ID] = true
		path = append(path, entry.ID)
		for _, factID := range entry.RevealsFactIDs {
			discovered[factID] = true
		}
		markSatisfied()
	}

	if err := replayPath(st, path); err != nil {
		return fmt.Errorf("optimal path: replay check failed: %w", err)
	}
	st.OptimalPath = path
	return nil
}

// eligibleEntries returns indexes of unvisited entries whose gate is open.
func eligibleEntries(st *State, visited, discovered map[string]bool) []int {
	var out []int
	for i, e := range st.Casebook {
		if visited[e.ID] {
			continue
		}
		if gateOpen(e, discovered) {
			out = append(out, i)
		}
	}
	return out
}

func gateOpen(e mystery.CasebookEntry, discovered map[string]bool) bool {
	if len(e.RequiresAnyFact) == 0 {
		return true
	}
	for _, gate := range e.RequiresAnyFact {
		if discovered[gate] {
			return true
		}
	}
	return false
}

// newlySatisfied counts questions this entry's reveals would answer.
func newlySatisfied(st *State, e mystery.CasebookEntry, discovered, satisfied map[string]bool) int {
	after := make(map[string]bool, len(discovered)+len(e.RevealsFactIDs))
	for id := range discovered {
		after[id] = true
	}
	for _, factID := range e.RevealsFactIDs {
		after[factID] = true
	}

	n := 0
	for _, q := range st.Questions {
		if !satisfied[q.ID] && questionSatisfied(st, q, after) {
			n++
		}
	}
	return n
}

// bridgeStep picks the eligible entry that newly unlocks the most
// currently-ineligible entries, ties broken by more newly revealed facts.
// Returns -1 when no entry makes any progress.
func bridgeStep(st *State, eligible []int, visited, discovered map[string]bool) int {
	best, bestUnlocked, bestNewFacts := -1, -1, -1
	for _, idx := range eligible {
		e := st.Casebook[idx]

		after := make(map[string]bool, len(discovered)+len(e.RevealsFactIDs))
		for id := range discovered {
			after[id] = true
		}
		newFacts := 0
		for _, factID := range e.RevealsFactIDs {
			if !after[factID] {
				after[factID] = true
				newFacts++
			}
		}

		unlocked := 0
		for _, other := range st.Casebook {
			if visited[other.ID] || other.ID == e.ID {
				continue
			}
			if !gateOpen(other, discovered) && gateOpen(other, after) {
				unlocked++
			}
		}

		if unlocked == 0 && newFacts == 0 {
			continue
		}
		if unlocked > bestUnlocked || (unlocked == bestUnlocked && newFacts > bestNewFacts) {
			best, bestUnlocked, bestNewFacts = idx, unlocked, newFacts
		}
	}
	return best
}

// questionSatisfied reports whether any accepted answer is discoverable
// given the accumulated facts.
func questionSatisfied(st *State, q mystery.Question, discovered map[string]bool) bool {
	switch q.Answer.Type {
	case mystery.AnswerFact:
		for _, id := range q.Answer.AcceptedIDs {
			if discovered[id] {
				return true
			}
		}
	case mystery.AnswerPerson, mystery.AnswerLocation:
		for factID := range discovered {
			f := st.FactByID(factID)
			if f == nil {
				continue
			}
			for _, sub := range f.Subjects {
				if contains(q.Answer.AcceptedIDs, sub) {
					return true
				}
			}
		}
	}
	return false
}

// replayPath walks the computed path from scratch, confirming every gate is
// open at visit time and every question ends satisfied.
func replayPath(st *State, path []string) error {
	discovered := make(map[string]bool, len(st.IntroductionFactIDs))
	for _, factID := range st.IntroductionFactIDs {
		discovered[factID] = true
	}

	for _, entryID := range path {
		var entry *mystery.CasebookEntry
		for i := range st.Casebook {
			if st.Casebook[i].ID == entryID {
				entry = &st.Casebook[i]
				break
			}
		}
		if entry == nil {
			return fmt.Errorf("path names unknown entry %s", entryID)
		}
		if !gateOpen(*entry, discovered) {
			return fmt.Errorf("entry %s is gated at visit time", entryID)
		}
		for _, factID := range entry.RevealsFactIDs {
			discovered[factID] = true
		}
	}

	for _, q := range st.Questions {
		if !questionSatisfied(st, q, discovered) {
			return fmt.Errorf("question %s is never satisfied", q.ID)
		}
	}
	return nil
}
