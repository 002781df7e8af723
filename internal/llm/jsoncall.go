package llm

import (
	"context"
	"fmt"
)

// parseRepairAttempts bounds the local retry loop when model output fails to
// parse as JSON. The repair turn replays the bad output as an assistant
// message and demands JSON only.
const parseRepairAttempts = 2

// CompleteJSON runs a completion and unmarshals the response into out. On a
// parse failure it retries locally: the failed text goes back to the model
// as an assistant turn, followed by a user turn naming the parse error. The
// whole call counts as one attempt against the caller's retry budget.
func CompleteJSON(ctx context.Context, c Client, systemPrompt, userPrompt string, out any) error {
	messages := make([]Message, 0, 2+2*parseRepairAttempts)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: userPrompt})

	var lastErr error
	for attempt := 0; attempt <= parseRepairAttempts; attempt++ {
		raw, err := c.CompleteMessages(ctx, messages)
		if err != nil {
			return err
		}

		if err := ParseJSON(raw, out); err != nil {
			lastErr = err
			failed := raw
			if failed == "" {
				failed = "(empty response)"
			}
			messages = append(messages,
				Message{Role: RoleAssistant, Content: failed},
				Message{Role: RoleUser, Content: fmt.Sprintf(
					"Your previous response could not be parsed as JSON: %v\nRespond again with ONLY the JSON document. No prose, no markdown fences.", err)},
			)
			continue
		}
		return nil
	}

	return lastErr
}

// Router resolves pipeline stage names to clients. Stages mapped in
// StageModels get the aliased model; everything else uses the default.
type Router struct {
	cfg     Config
	byModel map[string]Client
}

// NewRouter builds one client per distinct model named by the config.
func NewRouter(cfg Config) (*Router, error) {
	r := &Router{cfg: cfg, byModel: make(map[string]Client)}

	models := map[string]struct{}{cfg.Model: {}}
	for _, alias := range cfg.StageModels {
		models[r.resolveAlias(alias)] = struct{}{}
	}

	for model := range models {
		clientCfg := cfg
		clientCfg.Model = model
		client, err := NewClient(clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build client for model %q: %w", model, err)
		}
		r.byModel[model] = client
	}
	return r, nil
}

// NewRouterWithClient wraps a single prebuilt client; every stage routes to
// it. Used by tests and by callers that construct clients themselves.
func NewRouterWithClient(c Client) *Router {
	return &Router{byModel: map[string]Client{"": c}}
}

// For returns the client serving the named pipeline stage.
func (r *Router) For(stage string) Client {
	if c, ok := r.byModel[""]; ok {
		return c
	}
	model := r.cfg.Model
	if alias, ok := r.cfg.StageModels[stage]; ok {
		model = r.resolveAlias(alias)
	}
	if c, ok := r.byModel[model]; ok {
		return c
	}
	return r.byModel[r.cfg.Model]
}

func (r *Router) resolveAlias(alias string) string {
	if full, ok := r.cfg.Aliases[alias]; ok {
		return full
	}
	return alias
}
