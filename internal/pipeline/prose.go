package pipeline

import (
	"context"
	"fmt"

	"caseweaver/internal/llm"
)

// generateProse writes a scene for every casebook entry. There is no
// validator; weak prose is a quality problem, not a structural one.
func generateProse(ctx context.Context, p *Pipeline, st *State) error {
	var out struct {
		Scenes []struct {
			EntryID string `json:"entryId"`
			Prose   string `json:"prose"`
		} `json:"scenes"`
	}
	if err := llm.CompleteJSON(ctx, p.router.For(string(StageProse)), systemPrompt, prosePrompt(st), &out); err != nil {
		return fmt.Errorf("prose generation: %w", err)
	}

	prose := make(map[string]string, len(out.Scenes))
	for _, s := range out.Scenes {
		if s.EntryID != "" && s.Prose != "" {
			prose[s.EntryID] = s.Prose
		}
	}
	st.Prose = prose
	return nil
}
