package pipeline

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"caseweaver/internal/mystery"
)

// twoClusterState builds two event clusters whose facts reference disjoint
// character sets, with no shared facts.
func twoClusterState() *State {
	return &State{
		Events: []mystery.Event{
			{
				ID: "E1", Timestamp: 1, Agent: "char_c1", Location: "loc_a",
				Involvement: map[string]mystery.Involvement{"char_c1": mystery.InvolvementAgent},
				Reveals:     []mystery.EventReveal{{FactID: "fact_a", Visible: true, Subjects: []string{"char_c1", "char_c2"}}},
			},
			{
				ID: "E2", Timestamp: 2, Agent: "char_c3", Location: "loc_b",
				Involvement: map[string]mystery.Involvement{"char_c3": mystery.InvolvementAgent},
				Reveals:     []mystery.EventReveal{{FactID: "fact_b", Visible: true, Subjects: []string{"char_c3", "char_c4"}}},
			},
		},
		Characters: []mystery.Character{
			testCharacter("char_c1", knowsAll("fact_a")),
			testCharacter("char_c2", nil),
			testCharacter("char_c3", knowsAll("fact_b")),
			testCharacter("char_c4", nil),
		},
		Locations: []mystery.Location{testLocation("loc_a"), testLocation("loc_b")},
		Knowledge: &mystery.ComputedKnowledge{LocationReveals: map[string][]string{}},
	}
}

func TestBuildFactGraphBridgesDisjointClusters(t *testing.T) {
	st := twoClusterState()
	if err := buildFactGraph(context.Background(), nil, st); err != nil {
		t.Fatalf("buildFactGraph() error: %v", err)
	}

	var bridges []mystery.FactSkeleton
	for _, sk := range st.FactSkeletons {
		if sk.Source.Type == mystery.SourceBridge {
			bridges = append(bridges, sk)
		}
	}
	if len(bridges) == 0 {
		t.Fatal("expected at least one bridge skeleton")
	}
	for _, b := range bridges {
		if !strings.HasPrefix(b.ID, mystery.BridgeFactPrefix) {
			t.Errorf("bridge id %s lacks prefix", b.ID)
		}
		if !b.Veracity {
			t.Errorf("bridge %s must be true", b.ID)
		}
		from := st.CharacterByID(b.Source.FromCharacterID)
		if from == nil {
			t.Fatalf("bridge %s from unknown character %s", b.ID, b.Source.FromCharacterID)
		}
		if from.Knowledge[b.ID] != mystery.StatusKnows {
			t.Errorf("bridge %s missing from %s knowledge", b.ID, from.ID)
		}
	}

	// The repaired graph must reach every subject and fact from the seed.
	facts, subjects := reachability(st.FactGraph, st.FactSkeletons[0].ID)
	for _, sk := range st.FactSkeletons {
		if !facts[sk.ID] {
			t.Errorf("fact %s unreachable after bridging", sk.ID)
		}
	}
	for _, c := range st.Characters {
		if !subjects[c.ID] {
			t.Errorf("character %s unreachable after bridging", c.ID)
		}
	}
}

func TestBuildFactGraphRerunIsIdempotent(t *testing.T) {
	st := twoClusterState()
	if err := buildFactGraph(context.Background(), nil, st); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := skeletonIDs(st)

	if err := buildFactGraph(context.Background(), nil, st); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := skeletonIDs(st)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("rerun changed the skeleton set (-first +second):\n%s", diff)
	}

	// Reruns must not accumulate synthesised knowledge entries.
	for _, c := range st.Characters {
		seen := make(map[string]int)
		for factID := range c.Knowledge {
			if strings.HasPrefix(factID, mystery.BridgeFactPrefix) {
				seen[factID]++
			}
		}
		for id, n := range seen {
			if n > 1 {
				t.Errorf("character %s accumulated %d copies of %s", c.ID, n, id)
			}
		}
	}
}

func TestBuildFactGraphDenialSkeleton(t *testing.T) {
	st := twoClusterState()
	st.Characters[1] = testCharacter("char_c2", map[string]mystery.KnowledgeStatus{
		"fact_a": mystery.StatusDenies,
	})

	if err := buildFactGraph(context.Background(), nil, st); err != nil {
		t.Fatalf("buildFactGraph() error: %v", err)
	}

	sk := st.SkeletonByID("fact_a_false")
	if sk == nil {
		t.Fatal("expected fact_a_false skeleton")
	}
	if sk.Veracity {
		t.Error("denial fact must be false")
	}
	if sk.Source.Type != mystery.SourceDenial || sk.Source.DeniedFactID != "fact_a" {
		t.Errorf("unexpected source %+v", sk.Source)
	}
	want := append([]string(nil), st.SkeletonByID("fact_a").Subjects...)
	sort.Strings(want)
	if diff := cmp.Diff(want, sk.Subjects); diff != "" {
		t.Errorf("denial subjects differ (-want +got):\n%s", diff)
	}

	// The denier is the one who surfaces the false version.
	if !contains(st.FactGraph.SubjectToFacts["char_c2"], "fact_a_false") {
		t.Error("denier char_c2 should reveal fact_a_false")
	}
}

func TestBuildFactGraphRedHerrings(t *testing.T) {
	st := twoClusterState()
	if err := buildFactGraph(context.Background(), nil, st); err != nil {
		t.Fatalf("buildFactGraph() error: %v", err)
	}

	var herrings []mystery.FactSkeleton
	for _, sk := range st.FactSkeletons {
		if sk.Source.Type == mystery.SourceRedHerring {
			herrings = append(herrings, sk)
		}
	}
	total := len(st.FactSkeletons) - len(herrings)
	want := total / 5
	if want < 1 {
		want = 1
	}
	if want > 3 {
		want = 3
	}
	if len(herrings) != want {
		t.Fatalf("herrings = %d, want %d (of %d skeletons)", len(herrings), want, total)
	}
	for _, h := range herrings {
		if !h.Veracity {
			t.Errorf("red herring %s must be true", h.ID)
		}
		charID := strings.TrimPrefix(h.ID, mystery.RedHerringFactPrefix)
		c := st.CharacterByID(charID)
		if c == nil {
			t.Fatalf("herring %s names unknown character", h.ID)
		}
		if c.Knowledge[h.ID] != mystery.StatusKnows {
			t.Errorf("%s should know its herring", charID)
		}
	}
}

func TestBuildFactGraphNoSkeletonsFatal(t *testing.T) {
	st := &State{
		Characters: []mystery.Character{testCharacter("char_c1", nil)},
		Knowledge:  &mystery.ComputedKnowledge{},
	}
	if err := buildFactGraph(context.Background(), nil, st); err == nil {
		t.Fatal("expected error with no events")
	}
}

func skeletonIDs(st *State) []string {
	ids := make([]string, 0, len(st.FactSkeletons))
	for _, sk := range st.FactSkeletons {
		ids = append(ids, sk.ID)
	}
	sort.Strings(ids)
	return ids
}
