// File: internal/planner/planner.go
// Description: Converts a natural-language shopping goal into a typed,
// immutable ActionPlan. The planning model is treated as an untrusted
// producer of structured data: its output is schema-validated before anything
// touches a browser, and a malformed or late response is PlanningFailed, never
// a partial plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
)

// Adapter implements schemas.Planner on top of an LLMClient and the selector
// registry.
type Adapter struct {
	llm      schemas.LLMClient
	registry *selectors.Registry
	cfg      config.PlannerConfig
	logger   *zap.Logger
}

var _ schemas.Planner = (*Adapter)(nil)

// NewAdapter wires the planner adapter.
func NewAdapter(llm schemas.LLMClient, registry *selectors.Registry, cfg config.PlannerConfig, logger *zap.Logger) *Adapter {
	return &Adapter{
		llm:      llm,
		registry: registry,
		cfg:      cfg,
		logger:   logger.Named("planner"),
	}
}

// goalSpec is the strict schema the model must produce.
type goalSpec struct {
	Query    string   `json:"query"`
	Site     string   `json:"site"`
	MaxPrice float64  `json:"max_price"`
	MustHave []string `json:"must_have"`
}

var jsonBlockRegex = regexp.MustCompile("(?s)(?:```json\\s*|)(\\{.*\\})(?:```|)")

// Plan turns a goal (plus optional site hint) into a validated ActionPlan.
func (a *Adapter) Plan(ctx context.Context, goal, siteHint string) (schemas.ActionPlan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return schemas.ActionPlan{}, schemas.NewStageError(schemas.CodePlanningFailed, "goal must be non-empty")
	}
	if siteHint != "" && !a.registry.Known(siteHint) {
		return schemas.ActionPlan{}, schemas.NewStageError(schemas.CodeUnknownSite, "site hint %q is not a known site", siteHint)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	result, err := a.llm.Generate(callCtx, schemas.GenerationRequest{
		SystemPrompt: a.systemPrompt(),
		UserPrompt:   a.userPrompt(goal, siteHint),
		Temperature:  a.cfg.Temperature,
		ForceJSON:    true,
	})
	if err != nil {
		return schemas.ActionPlan{}, schemas.WrapStageError(schemas.CodePlanningFailed, err, "planning model call failed")
	}

	spec, err := a.parseGoalSpec(result.Text)
	if err != nil {
		a.logger.Warn("Rejecting non-conformant planner output", zap.String("raw", result.Text), zap.Error(err))
		return schemas.ActionPlan{}, schemas.WrapStageError(schemas.CodePlanningFailed, err, "planning model produced non-conformant output")
	}

	site := siteHint
	if site == "" {
		site = spec.Site
	}
	if site == "" || !a.registry.Known(site) {
		return schemas.ActionPlan{}, schemas.NewStageError(schemas.CodeUnknownSite, "could not resolve a known site for goal (model suggested %q)", spec.Site)
	}

	profile, err := a.registry.Site(site)
	if err != nil {
		return schemas.ActionPlan{}, err
	}

	plan := schemas.ActionPlan{
		ID:           uuid.NewString(),
		Site:         site,
		Query:        spec.Query,
		MaxPrice:     spec.MaxPrice,
		MustHave:     spec.MustHave,
		ModelLatency: result.Latency,
		Actions: []schemas.Action{
			{
				Kind:            schemas.ActionNavigate,
				Parameters:      map[string]string{"url": fmt.Sprintf(profile.SearchURL, url.QueryEscape(spec.Query))},
				ExpectedOutcome: "search results page for the query is loaded",
			},
			{
				Kind:            schemas.ActionWait,
				Parameters:      map[string]string{"duration_ms": "1500"},
				ExpectedOutcome: "asynchronous listing content has settled",
			},
			{
				Kind:            schemas.ActionExtract,
				Target:          selectors.TargetSearchResults,
				ExpectedOutcome: "structured product records extracted from the listing",
			},
		},
	}

	if err := plan.Validate(); err != nil {
		return schemas.ActionPlan{}, schemas.WrapStageError(schemas.CodePlanningFailed, err, "composed plan failed validation")
	}

	a.logger.Info("Plan accepted",
		zap.String("plan_id", plan.ID),
		zap.String("site", plan.Site),
		zap.String("query", plan.Query),
		zap.Float64("max_price", plan.MaxPrice),
		zap.Duration("model_latency", plan.ModelLatency),
	)
	return plan, nil
}

// parseGoalSpec extracts and strictly decodes the model's JSON object.
func (a *Adapter) parseGoalSpec(raw string) (goalSpec, error) {
	raw = strings.TrimSpace(raw)
	candidate := raw
	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		candidate = matches[1]
	}

	var spec goalSpec
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return goalSpec{}, fmt.Errorf("failed to unmarshal goal spec: %w", err)
	}
	if spec.Query == "" {
		return goalSpec{}, fmt.Errorf("goal spec missing required 'query' field")
	}
	if spec.MaxPrice < 0 {
		return goalSpec{}, fmt.Errorf("goal spec has negative max_price")
	}
	return spec, nil
}

func (a *Adapter) systemPrompt() string {
	return fmt.Sprintf(`You convert shopping requests into a single JSON object with these fields:
- "query": a short search phrase
- "site": one of [%s] or "" when the request names no site
- "max_price": numeric price ceiling, or 0 when the request has none
- "must_have": list of keywords the product title must contain

Respond ONLY with that JSON object. No prose, no extra fields.`, strings.Join(a.registry.Sites(), ", "))
}

func (a *Adapter) userPrompt(goal, siteHint string) string {
	if siteHint != "" {
		return fmt.Sprintf("Request: %q\nThe caller has already chosen the site %q.", goal, siteHint)
	}
	return fmt.Sprintf("Request: %q", goal)
}
