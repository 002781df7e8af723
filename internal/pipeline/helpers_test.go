package pipeline

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"caseweaver/internal/llm"
	"caseweaver/internal/mystery"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedClient returns canned responses in order.
type scriptedClient struct {
	model     string
	responses []string
	calls     int
}

func (s *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteMessages(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
}

func (s *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.CompleteMessages(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: userPrompt},
	})
}

func (s *scriptedClient) CompleteMessages(ctx context.Context, messages []llm.Message) (string, error) {
	s.calls++
	if len(s.responses) == 0 {
		return "{}", nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedClient) SetModel(model string) { s.model = model }
func (s *scriptedClient) GetModel() string      { return s.model }

func testPipeline(c llm.Client) *Pipeline {
	return New(llm.NewRouterWithClient(c), nil, nil, Options{RetryBudget: 1})
}

// knowsAll builds a knowledge map with status knows for every fact id.
func knowsAll(factIDs ...string) map[string]mystery.KnowledgeStatus {
	m := make(map[string]mystery.KnowledgeStatus, len(factIDs))
	for _, id := range factIDs {
		m[id] = mystery.StatusKnows
	}
	return m
}

func testCharacter(id string, knowledge map[string]mystery.KnowledgeStatus) mystery.Character {
	if knowledge == nil {
		knowledge = make(map[string]mystery.KnowledgeStatus)
	}
	return mystery.Character{
		ID:           id,
		Name:         "Test " + id,
		MysteryRole:  "filler",
		SocietalRole: "clerk",
		Knowledge:    knowledge,
	}
}

func testLocation(id string) mystery.Location {
	return mystery.Location{ID: id, Name: "The " + id, Type: "room"}
}

func hasErrorContaining(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func testFact(id string, veracity bool, subjects ...string) mystery.Fact {
	return mystery.Fact{
		ID:          id,
		Description: "fact " + id,
		Category:    mystery.CategoryTimeline,
		Subjects:    subjects,
		Veracity:    veracity,
	}
}
