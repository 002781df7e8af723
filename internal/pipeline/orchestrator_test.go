package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"caseweaver/internal/mystery"
)

func TestRunStageRetriesUntilValid(t *testing.T) {
	p := New(nil, nil, nil, Options{RetryBudget: 1})
	st := NewState("d1", mystery.RunInput{CaseDate: "2026-08-24"})

	attempt := 0
	def := stageDef{
		name: StageEvents,
		gen: func(ctx context.Context, p *Pipeline, st *State) error {
			attempt++
			return nil
		},
		validate: func(st *State) *ValidationResult {
			if attempt < 2 {
				return &ValidationResult{Errors: []string{"first attempt is broken"}}
			}
			return &ValidationResult{Valid: true}
		},
	}

	if err := p.runStage(context.Background(), def, st); err != nil {
		t.Fatalf("runStage() error: %v", err)
	}
	if attempt != 2 {
		t.Errorf("attempts = %d, want 2", attempt)
	}
	if st.Attempts[string(StageEvents)] != 0 {
		t.Error("attempt counter should reset after success")
	}
}

func TestRunStageExhaustsRetryBudget(t *testing.T) {
	p := New(nil, nil, nil, Options{RetryBudget: 1})
	st := NewState("d1", mystery.RunInput{CaseDate: "2026-08-24"})

	calls := 0
	def := stageDef{
		name: StageEvents,
		gen: func(ctx context.Context, p *Pipeline, st *State) error {
			calls++
			return nil
		},
		validate: func(st *State) *ValidationResult {
			return &ValidationResult{Errors: []string{"always broken"}}
		},
	}

	err := p.runStage(context.Background(), def, st)
	var pf *PipelineFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want *PipelineFailure", err)
	}
	if pf.Stage != StageEvents || pf.DraftID != "d1" {
		t.Errorf("failure = %+v", pf)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (budget 1 means two attempts)", calls)
	}
	if len(pf.LastErrors) == 0 {
		t.Error("failure should carry the last validation errors")
	}
}

func TestRunStageFeedsErrorsToNextAttempt(t *testing.T) {
	p := New(nil, nil, nil, Options{RetryBudget: 1})
	st := NewState("d1", mystery.RunInput{CaseDate: "2026-08-24"})

	var sawRepair bool
	def := stageDef{
		name: StageEvents,
		gen: func(ctx context.Context, p *Pipeline, st *State) error {
			if st.Validation != nil && !st.Validation.Valid {
				sawRepair = true
			}
			return nil
		},
		validate: func(st *State) *ValidationResult {
			if sawRepair {
				return &ValidationResult{Valid: true}
			}
			return &ValidationResult{Errors: []string{"fix the agent"}}
		},
	}

	if err := p.runStage(context.Background(), def, st); err != nil {
		t.Fatalf("runStage() error: %v", err)
	}
	if !sawRepair {
		t.Error("second attempt should see the previous validation errors")
	}
}

func TestRunStageGenErrorCountsAgainstBudget(t *testing.T) {
	p := New(nil, nil, nil, Options{RetryBudget: 0})
	st := NewState("d1", mystery.RunInput{CaseDate: "2026-08-24"})

	def := stageDef{
		name: StageProse,
		gen: func(ctx context.Context, p *Pipeline, st *State) error {
			return fmt.Errorf("model unreachable")
		},
	}

	err := p.runStage(context.Background(), def, st)
	var pf *PipelineFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want *PipelineFailure", err)
	}
}

func TestRunStageDeterministicFailureIsFatal(t *testing.T) {
	p := New(nil, nil, nil, Options{RetryBudget: 5})
	st := NewState("d1", mystery.RunInput{CaseDate: "2026-08-24"})

	calls := 0
	def := stageDef{
		name: StageFactGraph,
		run: func(ctx context.Context, p *Pipeline, st *State) error {
			calls++
			return fmt.Errorf("graph cannot be repaired")
		},
	}

	if err := p.runStage(context.Background(), def, st); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("deterministic stages must not retry, calls = %d", calls)
	}
}

func TestRunStageCancellation(t *testing.T) {
	p := New(nil, nil, nil, Options{RetryBudget: 3})
	st := NewState("d1", mystery.RunInput{CaseDate: "2026-08-24"})

	ctx, cancel := context.WithCancel(context.Background())
	def := stageDef{
		name: StageProse,
		gen: func(ctx context.Context, p *Pipeline, st *State) error {
			cancel()
			return ctx.Err()
		},
	}

	err := p.runStage(ctx, def, st)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestValidateInput(t *testing.T) {
	tests := []struct {
		name    string
		input   mystery.RunInput
		wantErr bool
	}{
		{name: "valid", input: mystery.RunInput{CaseDate: "2026-08-24", Difficulty: mystery.DifficultyHard}},
		{name: "empty difficulty allowed", input: mystery.RunInput{CaseDate: "2026-08-24"}},
		{name: "bad date", input: mystery.RunInput{CaseDate: "24/08/2026"}, wantErr: true},
		{name: "bad difficulty", input: mystery.RunInput{CaseDate: "2026-08-24", Difficulty: "brutal"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInput(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateInput() = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestResumeRejectsTemplateStage(t *testing.T) {
	p := New(nil, nil, nil, Options{})
	if _, err := p.Resume(context.Background(), "d1", StageTemplate); err == nil {
		t.Error("template stage must not be a resume point")
	}
	if _, err := p.Resume(context.Background(), "d1", "notAStage"); err == nil {
		t.Error("unknown stage must not be a resume point")
	}
}

func TestNextStage(t *testing.T) {
	next, ok := NextStage(StageTemplate)
	if !ok || next != StageEvents {
		t.Errorf("NextStage(template) = %s, %t", next, ok)
	}
	if _, ok := NextStage(StageStore); ok {
		t.Error("the last stage has no successor")
	}
	if _, ok := NextStage("bogus"); ok {
		t.Error("unknown stages have no successor")
	}
}
