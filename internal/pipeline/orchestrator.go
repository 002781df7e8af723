package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
	"caseweaver/internal/store"
)

// Options tunes orchestration behavior.
type Options struct {
	// RetryBudget is the number of re-attempts after a validator rejects a
	// generative stage. Default 1 (two attempts total).
	RetryBudget int
	// StageTimeout bounds each generative stage attempt. Zero disables the
	// per-attempt timeout.
	StageTimeout time.Duration
	// KeepDrafts leaves the draft row in place after a successful store.
	KeepDrafts bool
}

// PipelineFailure reports a run aborted because a stage exhausted its retry
// budget or hit a fatal invariant failure.
type PipelineFailure struct {
	DraftID    string
	Stage      StageName
	Reason     string
	LastErrors []string
}

func (e *PipelineFailure) Error() string {
	if len(e.LastErrors) == 0 {
		return fmt.Sprintf("pipeline failed at %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("pipeline failed at %s: %s: %s", e.Stage, e.Reason, strings.Join(e.LastErrors, "; "))
}

// Pipeline executes generation runs. It is the only component that knows
// stage order; stages read and extend the accumulator.
type Pipeline struct {
	router *llm.Router
	store  *store.Store
	logger *zap.Logger
	opts   Options
}

// New creates a pipeline. store may be nil, which disables checkpointing
// and the final persist stage (used by tests).
func New(router *llm.Router, st *store.Store, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	return &Pipeline{router: router, store: st, logger: logger, opts: opts}
}

// stageDef couples an optional generative step with its deterministic
// validator. Stages with a nil gen func are pure deterministic work whose
// errors are fatal.
type stageDef struct {
	name     StageName
	gen      func(ctx context.Context, p *Pipeline, st *State) error
	run      func(ctx context.Context, p *Pipeline, st *State) error
	validate func(st *State) *ValidationResult
}

func stages() []stageDef {
	return []stageDef{
		{name: StageTemplate, gen: generateTemplate, validate: validateTemplate},
		{name: StageEvents, gen: generateEvents, validate: validateEvents},
		{name: StageEventKnowledge, run: computeEventKnowledge},
		{name: StageCharacters, gen: generateCharacters, validate: validateCharacters},
		{name: StageLocations, gen: generateLocations, validate: validateLocations},
		{name: StageFactGraph, run: buildFactGraph},
		{name: StageFactDescriptions, gen: generateFactDescriptions, validate: validateFacts},
		{name: StageIntroduction, gen: generateIntroduction, validate: validateIntroduction},
		{name: StageCasebook, gen: generateCasebook, validate: validateCasebook},
		{name: StageProse, gen: generateProse},
		{name: StageQuestions, gen: generateQuestions, validate: validateQuestions},
		{name: StageOptimalPath, run: computeOptimalPath},
		{name: StageStore, run: storeCase},
	}
}

// Run executes a full generation run from the template stage.
func (p *Pipeline) Run(ctx context.Context, input mystery.RunInput) (*mystery.Case, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	st := NewState(uuid.New().String()[:8], input)
	return p.runFrom(ctx, st, StageTemplate)
}

// Resume loads a draft and continues from the named stage. Earlier stages
// are skipped entirely; the template stage is not a valid resume point.
func (p *Pipeline) Resume(ctx context.Context, draftID string, from StageName) (*mystery.Case, error) {
	if !ValidResumePoint(from) {
		return nil, fmt.Errorf("invalid resume point %q", from)
	}
	if p.store == nil {
		return nil, fmt.Errorf("resume requires a store")
	}

	var st State
	if _, err := p.store.LoadDraft(draftID, &st); err != nil {
		return nil, err
	}
	if st.Attempts == nil {
		st.Attempts = make(map[string]int)
	}
	st.DraftID = draftID
	return p.runFrom(ctx, &st, from)
}

func (p *Pipeline) runFrom(ctx context.Context, st *State, from StageName) (*mystery.Case, error) {
	started := false
	for _, def := range stages() {
		if !started {
			if def.name != from {
				continue
			}
			started = true
		}

		p.logger.Info("running stage",
			zap.String("stage", string(def.name)),
			zap.String("draft", st.DraftID))

		if err := p.runStage(ctx, def, st); err != nil {
			return nil, err
		}

		if err := p.checkpoint(st, def.name); err != nil {
			return nil, fmt.Errorf("failed to checkpoint after %s: %w", def.name, err)
		}
	}
	if !started {
		return nil, fmt.Errorf("unknown stage %q", from)
	}

	return buildCase(st), nil
}

// runStage executes one stage. Generative stages loop under the retry
// protocol: invoke the generator (with any prior validation errors in the
// prompt), run the validator, and either advance or re-attempt.
func (p *Pipeline) runStage(ctx context.Context, def stageDef, st *State) error {
	if def.gen == nil {
		if err := def.run(ctx, p, st); err != nil {
			return err
		}
		if def.validate != nil {
			if vr := def.validate(st); !vr.Valid {
				return &PipelineFailure{DraftID: st.DraftID, Stage: def.name, Reason: "deterministic stage failed validation", LastErrors: vr.Errors}
			}
		}
		return nil
	}

	for {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.opts.StageTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.opts.StageTimeout)
		}
		genErr := def.gen(attemptCtx, p, st)
		if cancel != nil {
			cancel()
		}
		if ctx.Err() != nil {
			// Cancelled run: leave the accumulator at the last checkpoint.
			return ctx.Err()
		}

		var vr *ValidationResult
		if genErr != nil {
			vr = &ValidationResult{Errors: []string{genErr.Error()}}
		} else if def.validate != nil {
			vr = def.validate(st)
		} else {
			vr = &ValidationResult{Valid: true}
		}

		if len(vr.Warnings) > 0 {
			for _, w := range vr.Warnings {
				p.logger.Warn("stage warning", zap.String("stage", string(def.name)), zap.String("warning", w))
			}
		}

		if vr.Valid {
			st.Validation = vr
			st.Attempts[string(def.name)] = 0
			return nil
		}

		st.Validation = vr
		st.Attempts[string(def.name)]++
		attempts := st.Attempts[string(def.name)]
		p.logger.Warn("stage attempt failed",
			zap.String("stage", string(def.name)),
			zap.Int("attempt", attempts),
			zap.Strings("errors", vr.Errors))

		if attempts > p.opts.RetryBudget {
			return &PipelineFailure{
				DraftID:    st.DraftID,
				Stage:      def.name,
				Reason:     fmt.Sprintf("retry budget exhausted after %d attempts", attempts),
				LastErrors: vr.Errors,
			}
		}
	}
}

// checkpoint persists the accumulator after a successful stage.
func (p *Pipeline) checkpoint(st *State, completed StageName) error {
	if p.store == nil {
		return nil
	}
	return p.store.SaveDraft(st.DraftID, st.Input.CaseDate, string(completed), st)
}

// validateInput rejects malformed run requests at entry.
func validateInput(input mystery.RunInput) error {
	if _, err := time.Parse("2006-01-02", input.CaseDate); err != nil {
		return fmt.Errorf("caseDate must be YYYY-MM-DD: %w", err)
	}
	switch input.Difficulty {
	case "", mystery.DifficultyEasy, mystery.DifficultyMedium, mystery.DifficultyHard:
	default:
		return fmt.Errorf("unknown difficulty %q", input.Difficulty)
	}
	return nil
}

// buildCase assembles the final artifact from a completed accumulator.
func buildCase(st *State) *mystery.Case {
	c := &mystery.Case{
		Date:                st.Input.CaseDate,
		Title:               st.Title,
		Events:              st.Events,
		Characters:          st.Characters,
		Locations:           st.Locations,
		Facts:               st.Facts,
		IntroductionFactIDs: st.IntroductionFactIDs,
		Introduction:        st.Introduction,
		Casebook:            st.Casebook,
		Prose:               st.Prose,
		Questions:           st.Questions,
		OptimalPath:         st.OptimalPath,
		GeneratedAt:         time.Now().UTC(),
	}
	if st.Template != nil {
		c.Template = *st.Template
	}
	return c
}

// storeCase persists the finished case and clears the draft.
func storeCase(ctx context.Context, p *Pipeline, st *State) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.SaveCase(buildCase(st)); err != nil {
		return err
	}
	if !p.opts.KeepDrafts {
		return p.store.DeleteDraft(st.DraftID)
	}
	return nil
}
