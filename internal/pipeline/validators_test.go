package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseweaver/internal/mystery"
)

func validTemplate() *mystery.Template {
	return &mystery.Template{
		CrimeType:  "theft",
		Title:      "The Missing Ledger",
		Era:        "1890s",
		Date:       "2026-08-24",
		Atmosphere: "fog over the docks",
		Style:      mystery.StyleIsolated,
		Tone:       mystery.ToneSomber,
		Difficulty: mystery.DifficultyMedium,
		EventSlots: []mystery.EventSlot{
			{ID: "slot_1", Description: "the theft", Required: true},
			{ID: "slot_2", Description: "the discovery", Required: true, CausedBy: []string{"slot_1"}},
			{ID: "slot_3", Description: "the coverup", Required: true, CausedBy: []string{"slot_1"}},
			{ID: "slot_4", Description: "an argument", CausedBy: []string{"slot_2"}},
			{ID: "slot_5", Description: "a sighting", CausedBy: []string{"slot_3"}},
			{ID: "slot_6", Description: "the confession", CausedBy: []string{"slot_4", "slot_5"}},
		},
		Roles: []mystery.RoleSlot{
			{ID: "role_1", Label: "the clerk"}, {ID: "role_2", Label: "the owner"},
			{ID: "role_3", Label: "the porter"}, {ID: "role_4", Label: "the rival"},
			{ID: "role_5", Label: "the lodger"}, {ID: "role_6", Label: "the constable"},
		},
	}
}

func TestValidateTemplate(t *testing.T) {
	st := &State{Template: validTemplate()}
	vr := validateTemplate(st)
	require.True(t, vr.Valid, "errors: %v", vr.Errors)
}

func TestValidateTemplateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*mystery.Template)
		wantErr string
	}{
		{
			name:    "too few slots for difficulty",
			mutate:  func(tmpl *mystery.Template) { tmpl.EventSlots = tmpl.EventSlots[:4] },
			wantErr: "event slots",
		},
		{
			name: "no root slot",
			mutate: func(tmpl *mystery.Template) {
				tmpl.EventSlots[0].CausedBy = []string{"slot_6"}
			},
			wantErr: "root",
		},
		{
			name: "too few required slots",
			mutate: func(tmpl *mystery.Template) {
				tmpl.EventSlots[2].Required = false
			},
			wantErr: "required",
		},
		{
			name:    "unknown style",
			mutate:  func(tmpl *mystery.Template) { tmpl.Style = "cozy" },
			wantErr: "style",
		},
		{
			name:    "unknown tone",
			mutate:  func(tmpl *mystery.Template) { tmpl.Tone = "cheerful" },
			wantErr: "tone",
		},
		{
			name: "cycle in causedBy",
			mutate: func(tmpl *mystery.Template) {
				tmpl.EventSlots[0].CausedBy = []string{"slot_6"}
				tmpl.EventSlots[1].CausedBy = nil
			},
			wantErr: "cycle",
		},
		{
			name: "unknown cause reference",
			mutate: func(tmpl *mystery.Template) {
				tmpl.EventSlots[1].CausedBy = []string{"slot_99"}
			},
			wantErr: "unknown slot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := validTemplate()
			tt.mutate(tmpl)
			vr := validateTemplate(&State{Template: tmpl})
			assert.False(t, vr.Valid)
			assert.True(t, hasErrorContaining(vr.Errors, tt.wantErr), "errors: %v", vr.Errors)
		})
	}
}

func eventsState() *State {
	return &State{
		Template: validTemplate(),
		Events: []mystery.Event{
			{
				ID: "E1", Timestamp: 1, Agent: "role_1", Location: "loc_office",
				Involvement: map[string]mystery.Involvement{"role_1": mystery.InvolvementAgent},
				Causes:      []string{"E2"},
				Reveals:     []mystery.EventReveal{{FactID: "fact_theft", Visible: true, Subjects: []string{"role_1"}}},
			},
			{
				ID: "E2", Timestamp: 2, Agent: "role_2", Location: "loc_office",
				Involvement: map[string]mystery.Involvement{"role_2": mystery.InvolvementAgent},
				Reveals:     []mystery.EventReveal{{FactID: "fact_discovery", Visible: true, Subjects: []string{"role_2", "loc_office"}}},
			},
		},
	}
}

func TestValidateEvents(t *testing.T) {
	vr := validateEvents(eventsState())
	require.True(t, vr.Valid, "errors: %v", vr.Errors)
}

func TestValidateEventsRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*State)
		wantErr string
	}{
		{
			name:    "agent missing from involvement",
			mutate:  func(st *State) { delete(st.Events[0].Involvement, "role_1") },
			wantErr: "must appear in involvement",
		},
		{
			name: "invalid involvement value",
			mutate: func(st *State) {
				st.Events[0].Involvement["role_2"] = "bystander"
			},
			wantErr: "invalid involvement",
		},
		{
			name:    "cause references unknown event",
			mutate:  func(st *State) { st.Events[0].Causes = []string{"E9"} },
			wantErr: "unknown event",
		},
		{
			name:    "empty reveals",
			mutate:  func(st *State) { st.Events[1].Reveals = nil },
			wantErr: "reveals nothing",
		},
		{
			name: "reveal without subjects",
			mutate: func(st *State) {
				st.Events[0].Reveals[0].Subjects = nil
			},
			wantErr: "no subjects",
		},
		{
			name: "causal cycle",
			mutate: func(st *State) {
				st.Events[1].Causes = []string{"E1"}
			},
			wantErr: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := eventsState()
			tt.mutate(st)
			vr := validateEvents(st)
			assert.False(t, vr.Valid)
			assert.True(t, hasErrorContaining(vr.Errors, tt.wantErr), "errors: %v", vr.Errors)
		})
	}
}

func TestEnforceBaseline(t *testing.T) {
	st := &State{
		RoleMapping: map[string]string{"role_1": "char_a"},
		Knowledge: &mystery.ComputedKnowledge{
			RoleKnowledge: map[string]map[string]mystery.KnowledgeStatus{
				"role_1": {"fact_x": mystery.StatusKnows, "fact_y": mystery.StatusKnows},
			},
		},
		Characters: []mystery.Character{
			testCharacter("char_a", map[string]mystery.KnowledgeStatus{
				"fact_x":    mystery.StatusHides,     // valid downgrade, kept
				"fact_out":  mystery.StatusKnows,     // outside baseline, dropped
				"fact_myth": mystery.StatusBelieves,  // false belief, kept
				"fact_y":    "misremembers",          // invalid status, reset
			}),
		},
	}

	enforceBaseline(st)
	k := st.Characters[0].Knowledge

	assert.Equal(t, mystery.StatusHides, k["fact_x"])
	assert.Equal(t, mystery.StatusKnows, k["fact_y"])
	assert.Equal(t, mystery.StatusBelieves, k["fact_myth"])
	_, ok := k["fact_out"]
	assert.False(t, ok, "non-baseline knows must be dropped")
}

func TestRewriteEventRoles(t *testing.T) {
	st := &State{
		RoleMapping: map[string]string{"role_1": "char_a", "role_2": "char_b"},
		Events: []mystery.Event{
			{
				ID: "E1", Agent: "role_1",
				Involvement: map[string]mystery.Involvement{
					"role_1": mystery.InvolvementAgent,
					"role_2": mystery.InvolvementPresent,
				},
				Reveals: []mystery.EventReveal{
					{FactID: "fact_x", Subjects: []string{"role_2", "loc_yard"}},
				},
			},
		},
	}

	rewriteEventRoles(st)
	e := st.Events[0]
	assert.Equal(t, "char_a", e.Agent)
	assert.Equal(t, mystery.InvolvementAgent, e.Involvement["char_a"])
	assert.Equal(t, mystery.InvolvementPresent, e.Involvement["char_b"])
	assert.Equal(t, []string{"char_b", "loc_yard"}, e.Reveals[0].Subjects)
}

func TestValidateQuestions(t *testing.T) {
	base := func() *State {
		return &State{
			Characters:       []mystery.Character{testCharacter("char_a", nil)},
			Locations:        []mystery.Location{testLocation("loc_a")},
			Facts:            []mystery.Fact{testFact("fact_x", true, "char_a"), testFact("fact_lie", false, "char_a")},
			ReachableFactIDs: []string{"fact_x"},
		}
	}

	st := base()
	st.Questions = []mystery.Question{factQuestion("q_1", "timeline", "fact_x")}
	vr := validateQuestions(st)
	require.True(t, vr.Valid, "errors: %v", vr.Errors)

	tests := []struct {
		name    string
		q       mystery.Question
		wantErr string
	}{
		{
			name:    "false fact rejected",
			q:       factQuestion("q_1", "timeline", "fact_lie"),
			wantErr: "false fact",
		},
		{
			name:    "undiscoverable fact rejected",
			q:       factQuestion("q_1", "timeline", "fact_ghost"),
			wantErr: "unknown fact",
		},
		{
			name: "category mismatch",
			q:    factQuestion("q_1", "motive", "fact_x"),
			wantErr: "category",
		},
		{
			name: "unknown person",
			q: mystery.Question{ID: "q_1", Text: "who", Answer: mystery.Answer{
				Type: mystery.AnswerPerson, AcceptedIDs: []string{"char_nobody"}}},
			wantErr: "unknown character",
		},
		{
			name: "invalid answer type",
			q: mystery.Question{ID: "q_1", Text: "eh", Answer: mystery.Answer{
				Type: "essay", AcceptedIDs: []string{"fact_x"}}},
			wantErr: "answer type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := base()
			st.Questions = []mystery.Question{tt.q}
			vr := validateQuestions(st)
			assert.False(t, vr.Valid)
			assert.True(t, hasErrorContaining(vr.Errors, tt.wantErr), "errors: %v", vr.Errors)
		})
	}
}

func TestValidateQuestionsUnreachableFact(t *testing.T) {
	st := &State{
		Facts:            []mystery.Fact{testFact("fact_far", true, "char_a")},
		Characters:       []mystery.Character{testCharacter("char_a", nil)},
		ReachableFactIDs: []string{},
		Questions:        []mystery.Question{factQuestion("q_1", "timeline", "fact_far")},
	}
	vr := validateQuestions(st)
	assert.False(t, vr.Valid)
	assert.True(t, hasErrorContaining(vr.Errors, "undiscoverable"), "errors: %v", vr.Errors)
}

func TestValidateLocationsAsymmetryWarns(t *testing.T) {
	st := &State{
		Events: []mystery.Event{{ID: "E1", Location: "loc_a",
			Reveals: []mystery.EventReveal{{FactID: "fact_x", Subjects: []string{"loc_b"}}}}},
		Locations: []mystery.Location{
			{ID: "loc_a", Name: "A", Type: "room", AccessibleFrom: []string{"loc_b"}},
			{ID: "loc_b", Name: "B", Type: "room"},
		},
	}
	vr := validateLocations(st)
	assert.True(t, vr.Valid, "errors: %v", vr.Errors)
	assert.NotEmpty(t, vr.Warnings)
}

func TestValidateLocationsMissingPlaceholder(t *testing.T) {
	st := &State{
		Events:    []mystery.Event{{ID: "E1", Location: "loc_missing", Reveals: []mystery.EventReveal{{FactID: "fact_x", Subjects: []string{"char_a"}}}}},
		Locations: []mystery.Location{testLocation("loc_other")},
	}
	vr := validateLocations(st)
	assert.False(t, vr.Valid)
	assert.True(t, hasErrorContaining(vr.Errors, "loc_missing"), "errors: %v", vr.Errors)
}

func TestValidateIntroduction(t *testing.T) {
	st := &State{
		Title:               "The Missing Ledger",
		Introduction:        "It began with fog.",
		Facts:               []mystery.Fact{testFact("fact_a", true, "char_a"), testFact("fact_b", true, "char_a"), testFact("fact_lie", false, "char_a")},
		IntroductionFactIDs: []string{"fact_a", "fact_b"},
	}
	require.True(t, validateIntroduction(st).Valid)

	st.IntroductionFactIDs = []string{"fact_a"}
	assert.False(t, validateIntroduction(st).Valid, "one seed is too few")

	st.IntroductionFactIDs = []string{"fact_a", "fact_lie"}
	vr := validateIntroduction(st)
	assert.False(t, vr.Valid)
	assert.True(t, hasErrorContaining(vr.Errors, "false"), "errors: %v", vr.Errors)
}
