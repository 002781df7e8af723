package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"caseweaver/internal/mystery"
)

// bridgeIterationCap bounds the reachability repair loop. A well-formed case
// converges in a handful of iterations; hitting the cap means an invariant
// broke upstream.
const bridgeIterationCap = 100

// buildFactGraph constructs the fact skeletons and the bipartite
// fact/subject graph, synthesising bridge facts until the graph is
// directed-reachable, then seeds red herrings. Deterministic; fatal on
// irreparable graphs.
func buildFactGraph(ctx context.Context, p *Pipeline, st *State) error {
	cleanSynthesisedKnowledge(st)

	skeletons := collectRevealSkeletons(st)
	skeletons = append(skeletons, collectDenialSkeletons(st, skeletons)...)

	skeletons, graph, err := ensureReachable(st, skeletons)
	if err != nil {
		return err
	}

	skeletons = append(skeletons, seedRedHerrings(st, skeletons, graph)...)
	graph = buildGraph(st, skeletons)

	st.FactSkeletons = skeletons
	st.FactGraph = graph
	return nil
}

// cleanSynthesisedKnowledge strips bridge and red-herring entries left by a
// previous run of this stage, so reruns never accumulate them.
func cleanSynthesisedKnowledge(st *State) {
	for i := range st.Characters {
		for factID := range st.Characters[i].Knowledge {
			if strings.HasPrefix(factID, mystery.BridgeFactPrefix) ||
				strings.HasPrefix(factID, mystery.RedHerringFactPrefix) {
				delete(st.Characters[i].Knowledge, factID)
			}
		}
	}
}

// collectRevealSkeletons walks events in timestamp order and produces one
// skeleton per distinct fact id, unioning subjects across occurrences. The
// source records the first revealing event.
func collectRevealSkeletons(st *State) []mystery.FactSkeleton {
	var order []string
	subjects := make(map[string]map[string]struct{})
	firstEvent := make(map[string]string)

	for _, e := range st.eventsByTimestamp() {
		for _, r := range e.Reveals {
			if subjects[r.FactID] == nil {
				subjects[r.FactID] = make(map[string]struct{})
				firstEvent[r.FactID] = e.ID
				order = append(order, r.FactID)
			}
			for _, sub := range r.Subjects {
				if charID, ok := st.RoleMapping[sub]; ok {
					sub = charID
				}
				subjects[r.FactID][sub] = struct{}{}
			}
		}
	}

	skeletons := make([]mystery.FactSkeleton, 0, len(order))
	for _, factID := range order {
		skeletons = append(skeletons, mystery.FactSkeleton{
			ID:       factID,
			Subjects: sortedSet(subjects[factID]),
			Veracity: true,
			Source:   mystery.FactSource{Type: mystery.SourceEventReveal, EventID: firstEvent[factID]},
		})
	}
	return skeletons
}

// collectDenialSkeletons emits a false counterpart {factId}_false for every
// denied fact that actually exists, deduplicated across deniers.
func collectDenialSkeletons(st *State, existing []mystery.FactSkeleton) []mystery.FactSkeleton {
	byID := make(map[string]*mystery.FactSkeleton, len(existing))
	for i := range existing {
		byID[existing[i].ID] = &existing[i]
	}

	var out []mystery.FactSkeleton
	emitted := make(map[string]bool)
	for _, charID := range st.SortedCharacterIDs() {
		c := st.CharacterByID(charID)
		for _, factID := range sortedKeys(c.Knowledge) {
			if c.Knowledge[factID] != mystery.StatusDenies {
				continue
			}
			denied, ok := byID[factID]
			if !ok {
				continue
			}
			falseID := factID + "_false"
			if emitted[falseID] {
				continue
			}
			emitted[falseID] = true
			out = append(out, mystery.FactSkeleton{
				ID:       falseID,
				Subjects: append([]string(nil), denied.Subjects...),
				Veracity: false,
				Source:   mystery.FactSource{Type: mystery.SourceDenial, CharacterID: charID, DeniedFactID: factID},
			})
		}
	}
	return out
}

// buildGraph derives the bipartite maps from the skeleton list and character
// knowledge. A denier reveals the false counterpart of the fact it denies;
// without that edge a denial fact with character-only subjects could never
// be surfaced by anyone.
func buildGraph(st *State, skeletons []mystery.FactSkeleton) *mystery.FactGraph {
	exists := make(map[string]bool, len(skeletons))
	factToSubjects := make(map[string][]string, len(skeletons))
	for _, sk := range skeletons {
		exists[sk.ID] = true
		factToSubjects[sk.ID] = append([]string(nil), sk.Subjects...)
	}

	subjectToFacts := make(map[string][]string)
	for _, charID := range st.SortedCharacterIDs() {
		c := st.CharacterByID(charID)
		var facts []string
		for _, factID := range sortedKeys(c.Knowledge) {
			switch c.Knowledge[factID] {
			case mystery.StatusKnows, mystery.StatusSuspects, mystery.StatusBelieves:
				if exists[factID] {
					facts = append(facts, factID)
				}
			case mystery.StatusDenies:
				if falseID := factID + "_false"; exists[falseID] {
					facts = append(facts, falseID)
				}
			}
		}
		if len(facts) > 0 {
			subjectToFacts[charID] = uniqueSorted(facts)
		}
	}

	for _, locID := range st.SortedLocationIDs() {
		set := make(map[string]struct{})
		for _, factID := range st.Knowledge.LocationReveals[locID] {
			if exists[factID] {
				set[factID] = struct{}{}
			}
		}
		for _, sk := range skeletons {
			if contains(sk.Subjects, locID) {
				set[sk.ID] = struct{}{}
			}
		}
		if len(set) > 0 {
			subjectToFacts[locID] = sortedSet(set)
		}
	}

	return &mystery.FactGraph{FactToSubjects: factToSubjects, SubjectToFacts: subjectToFacts}
}

// reachability runs BFS over fact -> subjects -> revealable facts from the
// seed fact, returning the reachable fact and subject sets.
func reachability(graph *mystery.FactGraph, seed string) (facts, subjects map[string]bool) {
	facts = map[string]bool{seed: true}
	subjects = make(map[string]bool)
	queue := []string{seed}
	for len(queue) > 0 {
		factID := queue[0]
		queue = queue[1:]
		for _, sub := range graph.FactToSubjects[factID] {
			if subjects[sub] {
				continue
			}
			subjects[sub] = true
			for _, next := range graph.SubjectToFacts[sub] {
				if !facts[next] {
					facts[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	return facts, subjects
}

// subjectUniverse is every id reachability must cover: the whole cast plus
// every subject any skeleton references.
func subjectUniverse(st *State, skeletons []mystery.FactSkeleton) []string {
	set := make(map[string]struct{})
	for _, c := range st.Characters {
		set[c.ID] = struct{}{}
	}
	for _, sk := range skeletons {
		for _, sub := range sk.Subjects {
			set[sub] = struct{}{}
		}
	}
	return sortedSet(set)
}

// ensureReachable synthesises bridge facts until every subject and fact is
// reachable from the first skeleton, rebuilding the graph between rounds.
func ensureReachable(st *State, skeletons []mystery.FactSkeleton) ([]mystery.FactSkeleton, *mystery.FactGraph, error) {
	if len(skeletons) == 0 {
		return nil, nil, fmt.Errorf("fact graph: no skeletons to connect")
	}

	var graph *mystery.FactGraph
	for iter := 0; iter < bridgeIterationCap; iter++ {
		graph = buildGraph(st, skeletons)
		seed := skeletons[0].ID
		reachedFacts, reachedSubjects := reachability(graph, seed)

		var unreachableSubjects []string
		for _, sub := range subjectUniverse(st, skeletons) {
			if !reachedSubjects[sub] {
				unreachableSubjects = append(unreachableSubjects, sub)
			}
		}
		var unreachableFacts []string
		for _, sk := range skeletons {
			if !reachedFacts[sk.ID] {
				unreachableFacts = append(unreachableFacts, sk.ID)
			}
		}
		if len(unreachableSubjects) == 0 && len(unreachableFacts) == 0 {
			return skeletons, graph, nil
		}

		var sources []string
		for _, charID := range st.SortedCharacterIDs() {
			if reachedSubjects[charID] {
				sources = append(sources, charID)
			}
		}
		if len(sources) == 0 {
			return nil, nil, fmt.Errorf(
				"fact graph: no reachable character to bridge from (seed %s, unreachable subjects: %s)",
				seed, strings.Join(unreachableSubjects, ", "))
		}

		before := len(skeletons)
		rr := 0
		bridged := make(map[string]bool)
		bridge := func(target string) {
			if bridged[target] {
				return
			}
			bridged[target] = true
			charID := sources[rr%len(sources)]
			rr++
			bridgeID := fmt.Sprintf("%s%s_to_%s", mystery.BridgeFactPrefix, charID, target)
			skeletons = append(skeletons, mystery.FactSkeleton{
				ID:       bridgeID,
				Subjects: []string{charID, target},
				Veracity: true,
				Source:   mystery.FactSource{Type: mystery.SourceBridge, FromCharacterID: charID, ToSubject: target},
			})
			st.CharacterByID(charID).Knowledge[bridgeID] = mystery.StatusKnows
		}

		for _, sub := range unreachableSubjects {
			bridge(sub)
		}
		for _, factID := range unreachableFacts {
			// A fact stranded with its whole component: bridging its first
			// subject pulls the component in.
			subs := graph.FactToSubjects[factID]
			allUnreachable := len(subs) > 0
			for _, sub := range subs {
				if reachedSubjects[sub] {
					allUnreachable = false
					break
				}
			}
			if allUnreachable {
				bridge(subs[0])
			}
		}

		if len(skeletons) == before {
			return nil, nil, fmt.Errorf(
				"fact graph: reachability stalled (unreachable subjects: %s; unreachable facts: %s)",
				strings.Join(unreachableSubjects, ", "), strings.Join(unreachableFacts, ", "))
		}
	}

	return nil, nil, fmt.Errorf("fact graph: reachability did not converge within %d iterations", bridgeIterationCap)
}

// seedRedHerrings gives the least-connected characters one true-but-useless
// fact each, paired with the location sharing the least knowledge with them.
func seedRedHerrings(st *State, skeletons []mystery.FactSkeleton, graph *mystery.FactGraph) []mystery.FactSkeleton {
	count := len(skeletons) / 5
	if count < 1 {
		count = 1
	}
	if count > 3 {
		count = 3
	}
	if count > len(st.Characters) {
		count = len(st.Characters)
	}

	charIDs := st.SortedCharacterIDs()
	sort.SliceStable(charIDs, func(i, j int) bool {
		return len(graph.SubjectToFacts[charIDs[i]]) < len(graph.SubjectToFacts[charIDs[j]])
	})

	var out []mystery.FactSkeleton
	for _, charID := range charIDs[:count] {
		charFacts := make(map[string]bool, len(graph.SubjectToFacts[charID]))
		for _, factID := range graph.SubjectToFacts[charID] {
			charFacts[factID] = true
		}

		bestLoc, bestOverlap := "", -1
		for _, locID := range st.SortedLocationIDs() {
			overlap := 0
			for _, factID := range graph.SubjectToFacts[locID] {
				if charFacts[factID] {
					overlap++
				}
			}
			if bestOverlap == -1 || overlap < bestOverlap {
				bestLoc, bestOverlap = locID, overlap
			}
		}

		herringID := mystery.RedHerringFactPrefix + charID
		subjects := []string{charID}
		if bestLoc != "" {
			subjects = append(subjects, bestLoc)
		}
		out = append(out, mystery.FactSkeleton{
			ID:       herringID,
			Subjects: subjects,
			Veracity: true,
			Source:   mystery.FactSource{Type: mystery.SourceRedHerring},
		})
		st.CharacterByID(charID).Knowledge[herringID] = mystery.StatusKnows
	}
	return out
}
