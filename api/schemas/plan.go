// File: api/schemas/plan.go
package schemas

import (
	"fmt"
	"time"
)

// ActionKind enumerates the abstract browser operations a plan may contain.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionSearch   ActionKind = "search"
	ActionExtract  ActionKind = "extract"
	ActionClick    ActionKind = "click"
	ActionFill     ActionKind = "fill"
	ActionWait     ActionKind = "wait"
)

var validActionKinds = map[ActionKind]bool{
	ActionNavigate: true,
	ActionSearch:   true,
	ActionExtract:  true,
	ActionClick:    true,
	ActionFill:     true,
	ActionWait:     true,
}

// Action is one abstract step. Target is a locator name resolved per-site
// through the selector registry at execution time, never a raw CSS selector.
type Action struct {
	Kind            ActionKind        `json:"kind"`
	Target          string            `json:"target,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	ExpectedOutcome string            `json:"expected_outcome,omitempty"`
}

// ActionPlan is the ordered sequence of actions produced once per goal.
// It is immutable once accepted by the orchestrator.
type ActionPlan struct {
	ID       string   `json:"id"`
	Site     string   `json:"site"`
	Query    string   `json:"query"`
	MaxPrice float64  `json:"max_price,omitempty"` // 0 means unbounded
	MustHave []string `json:"must_have,omitempty"`
	Actions  []Action `json:"actions"`

	// ModelLatency is the raw planning-model round trip, exposed for
	// observability only.
	ModelLatency time.Duration `json:"-"`
}

// Validate enforces plan shape before execution. The planner is an untrusted
// producer of structured data; nothing speculative or incomplete may run.
func (p ActionPlan) Validate() error {
	if p.Site == "" {
		return fmt.Errorf("plan has no site")
	}
	if p.Query == "" {
		return fmt.Errorf("plan has no search query")
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("plan has no actions")
	}
	if p.MaxPrice < 0 {
		return fmt.Errorf("plan max_price is negative: %f", p.MaxPrice)
	}
	for i, a := range p.Actions {
		if !validActionKinds[a.Kind] {
			return fmt.Errorf("action %d has unknown kind %q", i, a.Kind)
		}
		switch a.Kind {
		case ActionNavigate:
			if a.Parameters["url"] == "" {
				return fmt.Errorf("action %d (navigate) has no url parameter", i)
			}
		case ActionExtract, ActionClick, ActionFill, ActionSearch:
			if a.Target == "" {
				return fmt.Errorf("action %d (%s) has no target", i, a.Kind)
			}
		}
	}
	return nil
}
