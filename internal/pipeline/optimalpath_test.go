package pipeline

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"caseweaver/internal/mystery"
)

func factQuestion(id, category string, accepted ...string) mystery.Question {
	return mystery.Question{
		ID:     id,
		Text:   "question " + id,
		Answer: mystery.Answer{Type: mystery.AnswerFact, FactCategory: mystery.FactCategory(category), AcceptedIDs: accepted},
	}
}

func TestComputeOptimalPathGateFeasible(t *testing.T) {
	st := &State{
		Facts: []mystery.Fact{
			testFact("fact_intro", true, "char_c1"),
			testFact("fact_key", true, "char_c1"),
			testFact("fact_final", true, "char_c2"),
		},
		IntroductionFactIDs: []string{"fact_intro"},
		Casebook: []mystery.CasebookEntry{
			{ID: "E1", RevealsFactIDs: []string{"fact_key"}, RequiresAnyFact: []string{"fact_intro"}},
			{ID: "E2", RevealsFactIDs: []string{"fact_final"}, RequiresAnyFact: []string{"fact_key"}},
		},
		Questions: []mystery.Question{
			factQuestion("q_1", "timeline", "fact_key"),
			factQuestion("q_2", "timeline", "fact_final"),
		},
	}

	if err := computeOptimalPath(context.Background(), nil, st); err != nil {
		t.Fatalf("computeOptimalPath() error: %v", err)
	}
	if diff := cmp.Diff([]string{"E1", "E2"}, st.OptimalPath); diff != "" {
		t.Errorf("path differs (-want +got):\n%s", diff)
	}
}

func TestComputeOptimalPathBridgeStep(t *testing.T) {
	// E4 satisfies no question by itself but unlocks E5, which does.
	st := &State{
		Facts: []mystery.Fact{
			testFact("fact_intro", true, "char_c1"),
			testFact("fact_f6", true, "char_c1"),
			testFact("fact_f7", true, "char_c2"),
		},
		IntroductionFactIDs: []string{"fact_intro"},
		Casebook: []mystery.CasebookEntry{
			{ID: "E4", RevealsFactIDs: []string{"fact_f6"}, RequiresAnyFact: []string{"fact_intro"}},
			{ID: "E5", RevealsFactIDs: []string{"fact_f7"}, RequiresAnyFact: []string{"fact_f6"}},
		},
		Questions: []mystery.Question{
			factQuestion("q_1", "timeline", "fact_f7"),
		},
	}

	if err := computeOptimalPath(context.Background(), nil, st); err != nil {
		t.Fatalf("computeOptimalPath() error: %v", err)
	}
	if diff := cmp.Diff([]string{"E4", "E5"}, st.OptimalPath); diff != "" {
		t.Errorf("path differs (-want +got):\n%s", diff)
	}
}

func TestComputeOptimalPathPersonAnswerBySubject(t *testing.T) {
	st := &State{
		Facts: []mystery.Fact{
			testFact("fact_intro", true, "loc_a"),
			testFact("fact_sighting", true, "char_culprit", "loc_a"),
		},
		IntroductionFactIDs: []string{"fact_intro"},
		Casebook: []mystery.CasebookEntry{
			{ID: "entry_loc_a", RevealsFactIDs: []string{"fact_sighting"}, RequiresAnyFact: []string{"fact_intro"}},
		},
		Questions: []mystery.Question{
			{ID: "q_who", Text: "Who did it?", Answer: mystery.Answer{
				Type: mystery.AnswerPerson, AcceptedIDs: []string{"char_culprit"}}},
		},
	}

	if err := computeOptimalPath(context.Background(), nil, st); err != nil {
		t.Fatalf("computeOptimalPath() error: %v", err)
	}
	if len(st.OptimalPath) != 1 || st.OptimalPath[0] != "entry_loc_a" {
		t.Errorf("path = %v", st.OptimalPath)
	}
}

func TestComputeOptimalPathIntroAlreadySatisfies(t *testing.T) {
	st := &State{
		Facts:               []mystery.Fact{testFact("fact_intro", true, "char_c1")},
		IntroductionFactIDs: []string{"fact_intro"},
		Questions: []mystery.Question{
			factQuestion("q_1", "timeline", "fact_intro"),
		},
	}

	if err := computeOptimalPath(context.Background(), nil, st); err != nil {
		t.Fatalf("computeOptimalPath() error: %v", err)
	}
	if len(st.OptimalPath) != 0 {
		t.Errorf("path = %v, want empty", st.OptimalPath)
	}
}

func TestComputeOptimalPathStuck(t *testing.T) {
	st := &State{
		Facts: []mystery.Fact{
			testFact("fact_intro", true, "char_c1"),
			testFact("fact_locked", true, "char_c2"),
			testFact("fact_answer", true, "char_c2"),
		},
		IntroductionFactIDs: []string{"fact_intro"},
		Casebook: []mystery.CasebookEntry{
			// Gated on a fact nothing reveals: never eligible.
			{ID: "E1", RevealsFactIDs: []string{"fact_answer"}, RequiresAnyFact: []string{"fact_locked"}},
		},
		Questions: []mystery.Question{
			factQuestion("q_1", "timeline", "fact_answer"),
		},
	}

	if err := computeOptimalPath(context.Background(), nil, st); err == nil {
		t.Fatal("expected error when no progress is possible")
	}
}
