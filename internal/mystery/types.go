// Package mystery defines the domain model for generated detective cases:
// the structural template, the causal event chain, the cast, the spatial
// world, the fact graph, the player-facing casebook, and the quiz.
package mystery

import "time"

// Difficulty selects the size and deviousness of a generated case.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// MysteryStyle shapes the overall topology of the case.
type MysteryStyle string

const (
	StyleIsolated    MysteryStyle = "isolated"
	StyleSprawling   MysteryStyle = "sprawling"
	StyleTimeLimited MysteryStyle = "time-limited"
	StyleLayered     MysteryStyle = "layered"
	StyleParallel    MysteryStyle = "parallel"
)

// Tone is the narrative register the prose stages write in.
type Tone string

const (
	ToneSomber      Tone = "somber"
	ToneWry         Tone = "wry"
	ToneGothic      Tone = "gothic"
	ToneClinical    Tone = "clinical"
	ToneMelancholic Tone = "melancholic"
	ToneBreathless  Tone = "breathless"
	ToneSardonic    Tone = "sardonic"
	ToneGenteel     Tone = "genteel"
	ToneHardboiled  Tone = "hardboiled"
)

// Tones lists every accepted narrative tone.
var Tones = []Tone{
	ToneSomber, ToneWry, ToneGothic, ToneClinical, ToneMelancholic,
	ToneBreathless, ToneSardonic, ToneGenteel, ToneHardboiled,
}

// EventSlot is a placeholder in the template's causal skeleton. CausedBy
// references other slot ids and must form a DAG.
type EventSlot struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Required    bool     `json:"required,omitempty"`
	CausedBy    []string `json:"causedBy,omitempty"`
}

// RoleSlot is a character role the template demands (role_* id).
type RoleSlot struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Template is the root structural skeleton produced by the first stage.
type Template struct {
	CrimeType  string       `json:"crimeType"`
	Title      string       `json:"title"`
	Era        string       `json:"era"`
	Date       string       `json:"date"`
	Atmosphere string       `json:"atmosphere"`
	Style      MysteryStyle `json:"style"`
	Tone       Tone         `json:"tone"`
	EventSlots []EventSlot  `json:"eventSlots"`
	Roles      []RoleSlot   `json:"roles"`
	Difficulty Difficulty   `json:"difficulty"`
}

// Involvement describes how a subject participated in an event, which in
// turn decides which perception channels reach them.
type Involvement string

const (
	InvolvementAgent              Involvement = "agent"
	InvolvementPresent            Involvement = "present"
	InvolvementWitnessVisual      Involvement = "witness_visual"
	InvolvementWitnessAuditory    Involvement = "witness_auditory"
	InvolvementDiscoveredEvidence Involvement = "discovered_evidence"
)

// ValidInvolvement reports whether v is one of the allowed involvement types.
func ValidInvolvement(v Involvement) bool {
	switch v {
	case InvolvementAgent, InvolvementPresent, InvolvementWitnessVisual,
		InvolvementWitnessAuditory, InvolvementDiscoveredEvidence:
		return true
	}
	return false
}

// EventReveal is an atomic piece of knowledge produced by an event. The three
// booleans are the perception channels through which it can be learned.
type EventReveal struct {
	FactID   string   `json:"factId"`
	Audible  bool     `json:"audible"`
	Visible  bool     `json:"visible"`
	Physical bool     `json:"physical"`
	Subjects []string `json:"subjects"`
}

// Event is a node in the causal DAG. Agent and involvement keys hold role
// ids when the event is first generated and are rewritten to character ids
// once the cast exists.
type Event struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Timestamp   int                    `json:"timestamp"`
	Agent       string                 `json:"agent"`
	Location    string                 `json:"location"`
	Involvement map[string]Involvement `json:"involvement"`
	Required    bool                   `json:"required,omitempty"`
	Causes      []string               `json:"causes,omitempty"`
	Reveals     []EventReveal          `json:"reveals"`
}

// KnowledgeStatus is a character's stance toward a fact.
type KnowledgeStatus string

const (
	StatusKnows    KnowledgeStatus = "knows"
	StatusSuspects KnowledgeStatus = "suspects"
	StatusHides    KnowledgeStatus = "hides"
	StatusDenies   KnowledgeStatus = "denies"
	StatusBelieves KnowledgeStatus = "believes"
)

// ValidKnowledgeStatus reports whether s is one of the five permitted statuses.
func ValidKnowledgeStatus(s KnowledgeStatus) bool {
	switch s {
	case StatusKnows, StatusSuspects, StatusHides, StatusDenies, StatusBelieves:
		return true
	}
	return false
}

// ToneProfile controls how a character speaks in generated prose.
type ToneProfile struct {
	Register   string   `json:"register"`
	Vocabulary []string `json:"vocabulary,omitempty"`
	Quirk      string   `json:"quirk,omitempty"`
}

// Character is a cast member. MysteryRole is internal bookkeeping; players
// only ever see the societal role.
type Character struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	MysteryRole  string                     `json:"mysteryRole"`
	SocietalRole string                     `json:"societalRole"`
	Description  string                     `json:"description"`
	Motivations  []string                   `json:"motivations,omitempty"`
	Knowledge    map[string]KnowledgeStatus `json:"knowledge"`
	Tone         ToneProfile                `json:"tone"`
	Status       string                     `json:"status,omitempty"`
}

// Location is a node in the spatial world. The three *From lists are
// perception edges to other location ids.
type Location struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	AccessibleFrom []string `json:"accessibleFrom,omitempty"`
	VisibleFrom    []string `json:"visibleFrom,omitempty"`
	AudibleFrom    []string `json:"audibleFrom,omitempty"`
}

// FactCategory buckets facts for the quiz and the casebook.
type FactCategory string

const (
	CategoryMotive           FactCategory = "motive"
	CategoryMeans            FactCategory = "means"
	CategoryOpportunity      FactCategory = "opportunity"
	CategoryAlibi            FactCategory = "alibi"
	CategoryRelationship     FactCategory = "relationship"
	CategoryTimeline         FactCategory = "timeline"
	CategoryPhysicalEvidence FactCategory = "physical_evidence"
	CategoryBackground       FactCategory = "background"
	CategoryPerson           FactCategory = "person"
	CategoryPlace            FactCategory = "place"
)

// ValidFactCategory reports whether c is one of the ten categories.
func ValidFactCategory(c FactCategory) bool {
	switch c {
	case CategoryMotive, CategoryMeans, CategoryOpportunity, CategoryAlibi,
		CategoryRelationship, CategoryTimeline, CategoryPhysicalEvidence,
		CategoryBackground, CategoryPerson, CategoryPlace:
		return true
	}
	return false
}

// Fact is a finished fact: skeleton plus generated description and category.
type Fact struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Category    FactCategory `json:"category"`
	Subjects    []string     `json:"subjects"`
	Veracity    bool         `json:"veracity"`
}

// FactSourceType discriminates the fact-source variants.
type FactSourceType string

const (
	SourceEventReveal FactSourceType = "event_reveal"
	SourceDenial      FactSourceType = "denial"
	SourceBridge      FactSourceType = "bridge"
	SourceRedHerring  FactSourceType = "red_herring"
)

// FactSource records where a skeleton came from. Type selects which payload
// fields are meaningful.
type FactSource struct {
	Type FactSourceType `json:"type"`

	// event_reveal
	EventID string `json:"eventId,omitempty"`

	// denial
	CharacterID  string `json:"characterId,omitempty"`
	DeniedFactID string `json:"deniedFactId,omitempty"`

	// bridge
	FromCharacterID string `json:"fromCharacterId,omitempty"`
	ToSubject       string `json:"toSubject,omitempty"`
}

// FactSkeleton is a fact before its description and category exist.
type FactSkeleton struct {
	ID       string     `json:"id"`
	Subjects []string   `json:"subjects"`
	Veracity bool       `json:"veracity"`
	Source   FactSource `json:"source"`
}

// FactGraph is the bipartite fact/subject graph. Subjects are character and
// location ids.
type FactGraph struct {
	FactToSubjects map[string][]string `json:"factToSubjects"`
	SubjectToFacts map[string][]string `json:"subjectToFacts"`
}

// ComputedKnowledge holds the deterministic products of the event-knowledge
// stage: the per-role baseline and the physically persistent facts.
type ComputedKnowledge struct {
	RoleKnowledge   map[string]map[string]KnowledgeStatus `json:"roleKnowledge"`
	LocationReveals map[string][]string                   `json:"locationReveals"`
}

// CasebookEntry is a visitable node in the player-facing graph. The gate
// list is OR-gated and must never be empty.
type CasebookEntry struct {
	ID              string   `json:"id"`
	Label           string   `json:"label"`
	Address         string   `json:"address"`
	LocationID      string   `json:"locationId"`
	CharacterIDs    []string `json:"characterIds"`
	RevealsFactIDs  []string `json:"revealsFactIds"`
	RequiresAnyFact []string `json:"requiresAnyFact"`
}

// AnswerType discriminates quiz answer variants.
type AnswerType string

const (
	AnswerPerson   AnswerType = "person"
	AnswerLocation AnswerType = "location"
	AnswerFact     AnswerType = "fact"
)

// Answer is a typed quiz answer. FactCategory is set only for fact answers.
type Answer struct {
	Type         AnswerType   `json:"type"`
	FactCategory FactCategory `json:"factCategory,omitempty"`
	AcceptedIDs  []string     `json:"acceptedIds"`
}

// Question is one quiz question.
type Question struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Answer     Answer     `json:"answer"`
	Points     int        `json:"points"`
	Difficulty Difficulty `json:"difficulty"`
}

// RunInput is the external request that starts a generation run. ModelConfig
// routes stage names to short model aliases.
type RunInput struct {
	CaseDate    string            `json:"caseDate"`
	Difficulty  Difficulty        `json:"difficulty,omitempty"`
	CrimeType   string            `json:"crimeType,omitempty"`
	ModelConfig map[string]string `json:"modelConfig,omitempty"`
}

// Case is the finished, playable artifact stored under its date key.
type Case struct {
	Date                string            `json:"date"`
	Title               string            `json:"title"`
	Template            Template          `json:"template"`
	Events              []Event           `json:"events"`
	Characters          []Character       `json:"characters"`
	Locations           []Location        `json:"locations"`
	Facts               []Fact            `json:"facts"`
	IntroductionFactIDs []string          `json:"introductionFactIds"`
	Introduction        string            `json:"introduction"`
	Casebook            []CasebookEntry   `json:"casebook"`
	Prose               map[string]string `json:"prose,omitempty"`
	Questions           []Question        `json:"questions"`
	OptimalPath         []string          `json:"optimalPath"`
	GeneratedAt         time.Time         `json:"generatedAt"`
}

// BridgeFactPrefix and RedHerringFactPrefix mark synthesised facts appended
// to character knowledge by the fact-graph stage. Re-running the stage
// strips entries with these prefixes before rebuilding.
const (
	BridgeFactPrefix     = "fact_bridge_"
	RedHerringFactPrefix = "fact_red_herring_"
)
