package pipeline

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"caseweaver/internal/mystery"
)

const systemPrompt = `You are a mystery-case architect. You design internally
consistent detective cases: causal event chains, casts with limited and
conflicting knowledge, spatial worlds, and evidence trails.

Rules you never break:
- Output ONLY a single JSON document matching the requested schema.
- Never invent identifiers; use exactly the ids you are given, with the
  prefixes shown.
- Characters only know what their involvement lets them perceive.
- Societal roles shown to players never mention mystery-role labels like
  "culprit" or "red herring".`

// settingFlavors biases variety when the caller supplied no crime-type
// hint. The pick is hidden from the output schema.
var settingFlavors = []string{
	"a grand hotel out of season",
	"a university college at examinations",
	"a shipping office on the docks",
	"a touring theatre company",
	"a country estate during a storm",
	"a printing house on deadline night",
	"a spa town sanatorium",
	"an auction house before a major sale",
	"a railway terminus hotel",
	"a cathedral close",
}

func difficultyBrief(d mystery.Difficulty) string {
	switch d {
	case mystery.DifficultyEasy:
		return "easy: 5-6 events, 5-6 character roles, a single clean thread"
	case mystery.DifficultyHard:
		return "hard: 8-10 events, 8-12 character roles, multiple misleading threads"
	default:
		return "medium: 6-8 events, 6-8 character roles, one red-herring thread"
	}
}

// repairSection renders the previous validator rejection for re-prompting.
// Empty when the last attempt passed.
func repairSection(st *State) string {
	if st.Validation == nil || st.Validation.Valid || len(st.Validation.Errors) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nPREVIOUS ATTEMPT FAILED VALIDATION — fix these errors:\n")
	for _, e := range st.Validation.Errors {
		sb.WriteString("- ")
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	return sb.String()
}

func templatePrompt(st *State, flavor string) string {
	crime := st.Input.CrimeType
	if crime == "" {
		crime = fmt.Sprintf("your choice; set it in %s", flavor)
	}
	difficulty := st.Input.Difficulty
	if difficulty == "" {
		difficulty = mystery.DifficultyMedium
	}

	return fmt.Sprintf(`Design the structural skeleton for a detective case.

Case date: %s
Crime type: %s
Difficulty: %s (%s)

Requirements:
- At least one event slot with an empty causedBy list (a root cause).
- At least three event slots marked required.
- causedBy references must form a DAG over slot ids.
- style is one of: isolated, sprawling, time-limited, layered, parallel.
- tone is one of: somber, wry, gothic, clinical, melancholic, breathless, sardonic, genteel, hardboiled.

Output JSON:
{
  "crimeType": "...",
  "title": "working title",
  "era": "e.g. 1890s",
  "date": "%s",
  "atmosphere": "one sentence",
  "style": "...",
  "tone": "...",
  "eventSlots": [
    {"id": "slot_1", "description": "...", "required": true, "causedBy": []}
  ],
  "roles": [
    {"id": "role_witness_1", "label": "...", "description": "..."}
  ],
  "difficulty": "%s"
}%s`, st.Input.CaseDate, crime, difficulty, difficultyBrief(difficulty),
		st.Input.CaseDate, difficulty, repairSection(st))
}

func eventsPrompt(st *State) string {
	tmplJSON, _ := json.MarshalIndent(st.Template, "", "  ")

	return fmt.Sprintf(`Fill each event slot of this case template with a concrete event.

TEMPLATE:
%s

Requirements:
- One event per slot, id "E1", "E2", ... in causal order; timestamps are
  monotonic integers (gaps allowed).
- agent is a role id from the template and MUST appear in the involvement
  map with type "agent".
- involvement values: agent, present, witness_visual, witness_auditory,
  discovered_evidence.
- causes lists the event ids this event directly causes; the relation over
  all events must stay acyclic and mirror the template's causedBy edges.
- Every event has at least one reveal. Reveal fact ids use the prefix
  "fact_". subjects lists the role ids and/or location placeholder ids
  (prefix "loc_") the fact is about, never empty.
- location is a "loc_" placeholder; reuse placeholders across events.

Output JSON:
{
  "events": [
    {
      "id": "E1",
      "description": "...",
      "timestamp": 1,
      "agent": "role_x",
      "location": "loc_y",
      "involvement": {"role_x": "agent", "role_z": "witness_auditory"},
      "required": true,
      "causes": ["E2"],
      "reveals": [
        {"factId": "fact_a", "audible": true, "visible": false, "physical": false, "subjects": ["role_x", "loc_y"]}
      ]
    }
  ]
}%s`, tmplJSON, repairSection(st))
}

func charactersPrompt(st *State) string {
	var baseline strings.Builder
	for _, roleID := range sortedKeys(st.Knowledge.RoleKnowledge) {
		baseline.WriteString(fmt.Sprintf("- %s knows: %s\n",
			roleID, strings.Join(sortedKeys(st.Knowledge.RoleKnowledge[roleID]), ", ")))
	}

	var roles strings.Builder
	for _, r := range st.Template.Roles {
		roles.WriteString(fmt.Sprintf("- %s: %s — %s\n", r.ID, r.Label, r.Description))
	}

	return fmt.Sprintf(`Create one character per role for this case.

Era: %s. Atmosphere: %s. Tone: %s.

ROLES:
%s
KNOWLEDGE BASELINE (authoritative; a character may downgrade "knows" to
"suspects", "hides" or "denies", but may not know facts outside their
baseline; "believes" is allowed only for falsehoods):
%s
Requirements:
- Character ids use the prefix "char_".
- societalRole is what players see; it never uses mystery labels.
- toneProfile controls the character's voice in later prose.
- currentStatus only when relevant (e.g. "deceased", "missing").

Output JSON:
{
  "roleMapping": {"role_x": "char_x"},
  "characters": [
    {
      "id": "char_x",
      "name": "...",
      "mysteryRole": "...",
      "societalRole": "...",
      "description": "...",
      "motivations": ["..."],
      "knowledge": {"fact_a": "knows", "fact_b": "hides"},
      "tone": {"register": "formal", "vocabulary": ["..."], "quirk": "..."},
      "status": ""
    }
  ]
}%s`, st.Template.Era, st.Template.Atmosphere, st.Template.Tone,
		roles.String(), baseline.String(), repairSection(st))
}

func locationsPrompt(st *State, placeholders []string) string {
	return fmt.Sprintf(`Create the spatial world for this case.

Era: %s. Atmosphere: %s.

Location placeholders already referenced by events (every one must become a
location, keeping its exact id):
%s

Requirements:
- accessibleFrom / visibleFrom / audibleFrom are perception edges to other
  location ids in this same list.
- Accessibility should be symmetric: if A is accessible from B, B should be
  accessible from A.

Output JSON:
{
  "locations": [
    {
      "id": "loc_y",
      "name": "...",
      "type": "building|room|street|...",
      "description": "...",
      "accessibleFrom": ["loc_z"],
      "visibleFrom": [],
      "audibleFrom": []
    }
  ]
}%s`, st.Template.Era, st.Template.Atmosphere,
		"- "+strings.Join(placeholders, "\n- "), repairSection(st))
}

func factDescriptionsPrompt(st *State) string {
	var sb strings.Builder
	for _, sk := range st.FactSkeletons {
		sb.WriteString(fmt.Sprintf("- %s (subjects: %s; veracity: %t; source: %s)\n",
			sk.ID, strings.Join(sk.Subjects, ", "), sk.Veracity, describeSource(sk.Source)))
	}

	return fmt.Sprintf(`Write a one-sentence description and assign a category for every fact
skeleton below. Echo id, subjects and veracity unchanged.

Categories: motive, means, opportunity, alibi, relationship, timeline,
physical_evidence, background, person, place.

Facts with veracity false are lies in circulation; describe the false claim
itself. Bridge facts connect two subjects socially; red-herring facts are
true but irrelevant color.

SKELETONS:
%s
Output JSON:
{
  "facts": [
    {"factId": "fact_a", "description": "...", "category": "timeline", "subjects": ["char_x"], "veracity": true}
  ]
}%s`, sb.String(), repairSection(st))
}

func describeSource(src mystery.FactSource) string {
	switch src.Type {
	case mystery.SourceEventReveal:
		return fmt.Sprintf("revealed by event %s", src.EventID)
	case mystery.SourceDenial:
		return fmt.Sprintf("denial of %s by %s", src.DeniedFactID, src.CharacterID)
	case mystery.SourceBridge:
		return fmt.Sprintf("bridge from %s to %s", src.FromCharacterID, src.ToSubject)
	case mystery.SourceRedHerring:
		return "red herring"
	}
	return string(src.Type)
}

func introductionPrompt(st *State) string {
	var sb strings.Builder
	for _, f := range st.Facts {
		if f.Veracity {
			sb.WriteString(fmt.Sprintf("- %s: %s (subjects: %s)\n", f.ID, f.Description, strings.Join(f.Subjects, ", ")))
		}
	}

	return fmt.Sprintf(`Write the opening of this case and choose its seed facts.

Working title: %s. Era: %s. Tone: %s. Crime: %s.

Pick 2-4 introduction facts from the TRUE facts below. Prefer facts whose
subjects span several characters and locations, so the player has multiple
first moves.

TRUE FACTS:
%s
Output JSON:
{
  "title": "final title",
  "introductionFactIds": ["fact_a", "fact_b"],
  "introduction": "2-3 paragraphs of opening prose"
}%s`, st.Title, st.Template.Era, st.Template.Tone, st.Template.CrimeType,
		sb.String(), repairSection(st))
}

func casebookPolishPrompt(st *State) string {
	var sb strings.Builder
	for _, e := range st.Casebook {
		sb.WriteString(fmt.Sprintf("- %s (location %s, characters: %s)\n",
			e.ID, e.LocationID, strings.Join(e.CharacterIDs, ", ")))
	}
	var locs strings.Builder
	for _, l := range st.Locations {
		locs.WriteString(fmt.Sprintf("- %s: %s (%s)\n", l.ID, l.Name, l.Type))
	}
	var cast strings.Builder
	for _, c := range st.Characters {
		cast.WriteString(fmt.Sprintf("- %s: %s, %s\n", c.ID, c.Name, c.SocietalRole))
	}

	return fmt.Sprintf(`Polish the casebook entries below. For each entry provide a short label,
a street-style address, and the characters present there.

Era: %s.

ENTRIES:
%s
LOCATIONS:
%s
CHARACTERS:
%s
Output JSON (one item per entry id; only these three fields are applied):
{
  "entries": [
    {"entryId": "entry_x", "label": "...", "address": "...", "characterIds": ["char_x"]}
  ]
}%s`, st.Template.Era, sb.String(), locs.String(), cast.String(), repairSection(st))
}

func prosePrompt(st *State) string {
	var sb strings.Builder
	for _, e := range st.Casebook {
		var reveals []string
		for _, fid := range e.RevealsFactIDs {
			if f := st.FactByID(fid); f != nil {
				reveals = append(reveals, f.Description)
			}
		}
		sb.WriteString(fmt.Sprintf("- %s (%s at %s): reveals — %s\n",
			e.ID, e.Label, e.Address, strings.Join(reveals, "; ")))
	}

	return fmt.Sprintf(`Write a short scene for every casebook entry. Tone: %s. Era: %s.

Each scene is 1-2 paragraphs. Work every revealed fact into the scene
naturally; characters speak in their own registers.

ENTRIES:
%s
Output JSON:
{
  "scenes": [
    {"entryId": "entry_x", "prose": "..."}
  ]
}%s`, st.Template.Tone, st.Template.Era, sb.String(), repairSection(st))
}

func questionsPrompt(st *State) string {
	var sb strings.Builder
	for _, f := range st.Facts {
		if f.Veracity && contains(st.ReachableFactIDs, f.ID) {
			sb.WriteString(fmt.Sprintf("- %s [%s]: %s\n", f.ID, f.Category, f.Description))
		}
	}
	var cast strings.Builder
	for _, c := range st.Characters {
		cast.WriteString(fmt.Sprintf("- %s: %s\n", c.ID, c.Name))
	}
	var locs strings.Builder
	for _, l := range st.Locations {
		locs.WriteString(fmt.Sprintf("- %s: %s\n", l.ID, l.Name))
	}

	return fmt.Sprintf(`Write the quiz for this case: 3-5 questions a player answers after
investigating.

Answer types:
- person: acceptedIds are character ids
- location: acceptedIds are location ids
- fact: acceptedIds are TRUE fact ids sharing one factCategory

Never accept a false fact. Question ids use the prefix "q_".

TRUE, DISCOVERABLE FACTS:
%s
CHARACTERS:
%s
LOCATIONS:
%s
Output JSON:
{
  "questions": [
    {
      "id": "q_1",
      "text": "...",
      "answer": {"type": "fact", "factCategory": "motive", "acceptedIds": ["fact_a"]},
      "points": 10,
      "difficulty": "%s"
    }
  ]
}%s`, sb.String(), cast.String(), locs.String(), st.Template.Difficulty, repairSection(st))
}

// pickFlavor selects a hidden setting flavor for template generation.
func pickFlavor(rng *rand.Rand) string {
	return settingFlavors[rng.Intn(len(settingFlavors))]
}
