// File: api/schemas/interfaces.go
// Description: Collaborator contracts consumed by the orchestrator. Concrete
// implementations live in internal/planner and internal/browser; tests inject
// mocks against these interfaces.
package schemas

import (
	"context"
	"time"
)

// GenerationRequest carries the prompts and decoding options for one
// planning-model call.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	ForceJSON    bool
}

// GenerationResult is the model's raw text plus the observed round trip.
type GenerationResult struct {
	Text    string
	Latency time.Duration
}

// LLMClient is the single capability the planner adapter needs from the
// underlying planning model.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error)
}

// Planner turns a natural-language goal into an immutable, validated
// ActionPlan. It performs no retries of its own; retry policy belongs to the
// orchestrator.
type Planner interface {
	Plan(ctx context.Context, goal, siteHint string) (ActionPlan, error)
}

// BrowserSession is one live, exclusively owned browser tab. Every method that
// drives the page is a suspension point and must respect the per-action
// timeout baked into the implementation.
type BrowserSession interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	// OuterHTML returns the outer HTML of every element matching selector.
	// Zero matches yields ErrNoMatch.
	OuterHTML(ctx context.Context, selector string) ([]string, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Alive reports whether the underlying tab context is still usable.
	Alive() bool
	Close(ctx context.Context) error
}

// BrowserManager creates sessions against the shared browser process.
type BrowserManager interface {
	NewSession(ctx context.Context, headless bool) (BrowserSession, error)
	Shutdown(ctx context.Context) error
}
