// Package llm provides the generative-model clients the pipeline calls.
// Providers sit behind a small Client interface; everything above it deals
// in prompts and parsed JSON, never in provider wire formats.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to a provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client is the interface every provider implements.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteMessages(ctx context.Context, messages []Message) (string, error)
	SetModel(model string)
	GetModel() string
}

// Config holds provider settings. Aliases maps short model names to concrete
// model identifiers; StageModels routes pipeline stage names to aliases.
type Config struct {
	Provider    string            `yaml:"provider"`
	APIKey      string            `yaml:"-"`
	BaseURL     string            `yaml:"base_url"`
	Model       string            `yaml:"model"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	Timeout     time.Duration     `yaml:"timeout"`
	MaxInFlight int64             `yaml:"max_in_flight"`
	Aliases     map[string]string `yaml:"aliases"`
	StageModels map[string]string `yaml:"stage_models"`
}

// DefaultConfig returns sensible provider defaults.
func DefaultConfig() Config {
	return Config{
		Provider:    "gemini",
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		MaxTokens:   16384,
		Timeout:     4 * time.Minute,
		MaxInFlight: 4,
	}
}

// NewClient constructs a provider client from config.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		return NewGeminiClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// throttle bounds concurrent requests across runs and enforces a minimum
// spacing between request starts. Providers share one per process.
type throttle struct {
	sem         *semaphore.Weighted
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func newThrottle(maxInFlight int64, minInterval time.Duration) *throttle {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &throttle{
		sem:         semaphore.NewWeighted(maxInFlight),
		minInterval: minInterval,
	}
}

// acquire blocks until a request slot is free and the spacing interval has
// elapsed. The returned release func must be called when the request ends.
func (t *throttle) acquire(ctx context.Context) (func(), error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	t.mu.Lock()
	elapsed := time.Since(t.lastRequest)
	if elapsed < t.minInterval {
		t.mu.Unlock()
		select {
		case <-time.After(t.minInterval - elapsed):
		case <-ctx.Done():
			t.sem.Release(1)
			return nil, ctx.Err()
		}
		t.mu.Lock()
	}
	t.lastRequest = time.Now()
	t.mu.Unlock()

	return func() { t.sem.Release(1) }, nil
}

// backoffDelay returns the exponential delay before retry attempt i (1-based).
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}
