// Package pipeline drives case generation: a linear sequence of stages with
// embedded retry loops over a single progressive accumulator. Generative
// stages call the model; deterministic stages derive knowledge, build the
// fact graph, assemble the casebook, and compute the optimal path.
package pipeline

import (
	"sort"

	"caseweaver/internal/mystery"
)

// StageName identifies a pipeline stage. The values are serialised into
// drafts and accepted as resume points.
type StageName string

const (
	StageTemplate         StageName = "generateTemplate"
	StageEvents           StageName = "generateEvents"
	StageEventKnowledge   StageName = "computeEventKnowledge"
	StageCharacters       StageName = "generateCharacters"
	StageLocations        StageName = "generateLocations"
	StageFactGraph        StageName = "buildFactGraph"
	StageFactDescriptions StageName = "generateFactDescriptions"
	StageIntroduction     StageName = "generateIntroduction"
	StageCasebook         StageName = "buildCasebook"
	StageProse            StageName = "generateProse"
	StageQuestions        StageName = "generateQuestions"
	StageOptimalPath      StageName = "computeOptimalPath"
	StageStore            StageName = "storeCase"
)

// stageOrder is the single source of stage sequencing. Only the
// orchestrator consults it.
var stageOrder = []StageName{
	StageTemplate,
	StageEvents,
	StageEventKnowledge,
	StageCharacters,
	StageLocations,
	StageFactGraph,
	StageFactDescriptions,
	StageIntroduction,
	StageCasebook,
	StageProse,
	StageQuestions,
	StageOptimalPath,
	StageStore,
}

// NextStage returns the stage after name, or false when name is the last
// stage or unknown.
func NextStage(name StageName) (StageName, bool) {
	for i, s := range stageOrder {
		if s == name && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// ValidResumePoint reports whether name can be resumed from. The template
// seeds the whole run, so it is excluded.
func ValidResumePoint(name StageName) bool {
	if name == StageTemplate {
		return false
	}
	for _, s := range stageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// ValidationResult is the outcome of a deterministic validator. Reachable
// sets are carried forward from casebook validation for question validation.
type ValidationResult struct {
	Valid             bool     `json:"valid"`
	Errors            []string `json:"errors,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	ReachableFactIDs  []string `json:"reachableFactIds,omitempty"`
	ReachableEntryIDs []string `json:"reachableEntryIds,omitempty"`
}

func validationFailure(errs []string) *ValidationResult {
	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// State is the progressive accumulator threaded through all stages. Each
// stage writes one group of fields; the orchestrator checkpoints the whole
// struct after every successful stage.
type State struct {
	DraftID string           `json:"draftId"`
	Input   mystery.RunInput `json:"input"`

	Template            *mystery.Template          `json:"template,omitempty"`
	Events              []mystery.Event            `json:"events,omitempty"`
	Knowledge           *mystery.ComputedKnowledge `json:"computedKnowledge,omitempty"`
	Characters          []mystery.Character        `json:"characters,omitempty"`
	RoleMapping         map[string]string          `json:"roleMapping,omitempty"`
	Locations           []mystery.Location         `json:"locations,omitempty"`
	FactSkeletons       []mystery.FactSkeleton     `json:"factSkeletons,omitempty"`
	FactGraph           *mystery.FactGraph         `json:"factGraph,omitempty"`
	Facts               []mystery.Fact             `json:"facts,omitempty"`
	IntroductionFactIDs []string                   `json:"introductionFactIds,omitempty"`
	Introduction        string                     `json:"introduction,omitempty"`
	Title               string                     `json:"title,omitempty"`
	Casebook            []mystery.CasebookEntry    `json:"casebook,omitempty"`
	Prose               map[string]string          `json:"prose,omitempty"`
	Questions           []mystery.Question         `json:"questions,omitempty"`
	OptimalPath         []string                   `json:"optimalPath,omitempty"`
	ReachableFactIDs    []string                   `json:"reachableFactIds,omitempty"`

	// Per-stage transients.
	Validation *ValidationResult `json:"validationResult,omitempty"`
	Attempts   map[string]int    `json:"attempts,omitempty"`

	// factEchoes holds the subject/veracity echoes from the last
	// fact-description call, for the validator to cross-check. Not
	// persisted; re-generation repopulates it.
	factEchoes map[string]factEcho
}

type factEcho struct {
	Subjects []string
	Veracity bool
}

// NewState creates an accumulator for a fresh run.
func NewState(draftID string, input mystery.RunInput) *State {
	return &State{
		DraftID:  draftID,
		Input:    input,
		Attempts: make(map[string]int),
	}
}

// CharacterByID returns a pointer into the cast, or nil.
func (st *State) CharacterByID(id string) *mystery.Character {
	for i := range st.Characters {
		if st.Characters[i].ID == id {
			return &st.Characters[i]
		}
	}
	return nil
}

// LocationByID returns a pointer into the location list, or nil.
func (st *State) LocationByID(id string) *mystery.Location {
	for i := range st.Locations {
		if st.Locations[i].ID == id {
			return &st.Locations[i]
		}
	}
	return nil
}

// FactByID returns a pointer into the finished fact list, or nil.
func (st *State) FactByID(id string) *mystery.Fact {
	for i := range st.Facts {
		if st.Facts[i].ID == id {
			return &st.Facts[i]
		}
	}
	return nil
}

// SkeletonByID returns a pointer into the skeleton list, or nil.
func (st *State) SkeletonByID(id string) *mystery.FactSkeleton {
	for i := range st.FactSkeletons {
		if st.FactSkeletons[i].ID == id {
			return &st.FactSkeletons[i]
		}
	}
	return nil
}

// IsCharacterID reports whether id names a cast member.
func (st *State) IsCharacterID(id string) bool {
	return st.CharacterByID(id) != nil
}

// IsLocationID reports whether id names a location.
func (st *State) IsLocationID(id string) bool {
	return st.LocationByID(id) != nil
}

// SortedCharacterIDs returns the cast ids in lexical order.
func (st *State) SortedCharacterIDs() []string {
	ids := make([]string, 0, len(st.Characters))
	for _, c := range st.Characters {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids
}

// SortedLocationIDs returns the location ids in lexical order.
func (st *State) SortedLocationIDs() []string {
	ids := make([]string, 0, len(st.Locations))
	for _, l := range st.Locations {
		ids = append(ids, l.ID)
	}
	sort.Strings(ids)
	return ids
}

// eventsByTimestamp returns a copy of the events sorted by timestamp,
// breaking ties by event id so downstream stages are order-stable.
func (st *State) eventsByTimestamp() []mystery.Event {
	events := make([]mystery.Event, len(st.Events))
	copy(events, st.Events)
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// sortedKeys returns map keys in lexical order. Deterministic stages never
// iterate raw map order when emitting output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedSet returns a sorted slice of the set's members.
func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// uniqueSorted dedupes and sorts ids.
func uniqueSorted(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return sortedSet(set)
}

// contains reports whether ids holds id.
func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
