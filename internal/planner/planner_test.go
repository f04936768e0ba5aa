// File: internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
)

// mockLLM returns a canned response or error and records the request.
type mockLLM struct {
	response string
	err      error
	lastReq  schemas.GenerationRequest
	calls    int
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResult, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return schemas.GenerationResult{}, m.err
	}
	return schemas.GenerationResult{Text: m.response, Latency: 42 * time.Millisecond}, nil
}

func newTestAdapter(llm schemas.LLMClient) *Adapter {
	cfg := config.PlannerConfig{Timeout: 5 * time.Second, Temperature: 0.2}
	return NewAdapter(llm, selectors.NewRegistry(), cfg, zap.NewNop())
}

func TestPlanHappyPath(t *testing.T) {
	llm := &mockLLM{response: `{"query":"mechanical keyboard","site":"ebay","max_price":80,"must_have":["mechanical"]}`}
	a := newTestAdapter(llm)

	plan, err := a.Plan(context.Background(), "find me a mechanical keyboard under $80 on ebay", "")
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "ebay", plan.Site)
	assert.Equal(t, "mechanical keyboard", plan.Query)
	assert.InDelta(t, 80.0, plan.MaxPrice, 0.001)
	assert.Equal(t, []string{"mechanical"}, plan.MustHave)
	assert.Equal(t, 42*time.Millisecond, plan.ModelLatency)

	require.Len(t, plan.Actions, 3)
	assert.Equal(t, schemas.ActionNavigate, plan.Actions[0].Kind)
	assert.Contains(t, plan.Actions[0].Parameters["url"], "ebay.com/sch/i.html?_nkw=mechanical+keyboard")
	assert.Equal(t, schemas.ActionWait, plan.Actions[1].Kind)
	assert.Equal(t, schemas.ActionExtract, plan.Actions[2].Kind)
	assert.Equal(t, selectors.TargetSearchResults, plan.Actions[2].Target)

	assert.True(t, llm.lastReq.ForceJSON)
	assert.Equal(t, 1, llm.calls, "planner must not retry")
}

func TestPlanSiteHintOverridesModel(t *testing.T) {
	llm := &mockLLM{response: `{"query":"usb hub","site":"ebay","max_price":0,"must_have":[]}`}
	a := newTestAdapter(llm)

	plan, err := a.Plan(context.Background(), "a usb hub", "amazon")
	require.NoError(t, err)
	assert.Equal(t, "amazon", plan.Site)
	assert.Contains(t, plan.Actions[0].Parameters["url"], "amazon.com/s?k=usb+hub")
}

func TestPlanMarkdownFencedOutput(t *testing.T) {
	llm := &mockLLM{response: "```json\n{\"query\":\"ssd\",\"site\":\"amazon\",\"max_price\":100,\"must_have\":[]}\n```"}
	a := newTestAdapter(llm)

	plan, err := a.Plan(context.Background(), "an ssd", "")
	require.NoError(t, err)
	assert.Equal(t, "ssd", plan.Query)
}

func TestPlanFailures(t *testing.T) {
	testCases := []struct {
		name     string
		goal     string
		siteHint string
		llm      *mockLLM
		wantCode schemas.ErrorCode
	}{
		{
			name:     "empty goal",
			goal:     "   ",
			llm:      &mockLLM{},
			wantCode: schemas.CodePlanningFailed,
		},
		{
			name:     "unknown site hint",
			goal:     "a keyboard",
			siteHint: "etsy",
			llm:      &mockLLM{},
			wantCode: schemas.CodeUnknownSite,
		},
		{
			name:     "model call fails",
			goal:     "a keyboard",
			llm:      &mockLLM{err: errors.New("upstream 500")},
			wantCode: schemas.CodePlanningFailed,
		},
		{
			name:     "model returns prose",
			goal:     "a keyboard",
			llm:      &mockLLM{response: "Sure! I suggest searching for a keyboard."},
			wantCode: schemas.CodePlanningFailed,
		},
		{
			name:     "model returns extra fields",
			goal:     "a keyboard",
			llm:      &mockLLM{response: `{"query":"keyboard","site":"ebay","max_price":0,"must_have":[],"card_number":"4111"}`},
			wantCode: schemas.CodePlanningFailed,
		},
		{
			name:     "model omits query",
			goal:     "a keyboard",
			llm:      &mockLLM{response: `{"query":"","site":"ebay","max_price":0,"must_have":[]}`},
			wantCode: schemas.CodePlanningFailed,
		},
		{
			name:     "negative max price",
			goal:     "a keyboard",
			llm:      &mockLLM{response: `{"query":"keyboard","site":"ebay","max_price":-5,"must_have":[]}`},
			wantCode: schemas.CodePlanningFailed,
		},
		{
			name:     "model suggests unknown site",
			goal:     "a keyboard",
			llm:      &mockLLM{response: `{"query":"keyboard","site":"etsy","max_price":0,"must_have":[]}`},
			wantCode: schemas.CodeUnknownSite,
		},
		{
			name:     "model suggests no site",
			goal:     "a keyboard",
			llm:      &mockLLM{response: `{"query":"keyboard","site":"","max_price":0,"must_have":[]}`},
			wantCode: schemas.CodeUnknownSite,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(tc.llm)
			_, err := a.Plan(context.Background(), tc.goal, tc.siteHint)
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, schemas.CodeOf(err))
		})
	}
}

func TestPlanRespectsContextCancellation(t *testing.T) {
	llm := &mockLLM{err: context.Canceled}
	a := newTestAdapter(llm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Plan(ctx, "a keyboard", "")
	require.Error(t, err)
	assert.Equal(t, schemas.CodePlanningFailed, schemas.CodeOf(err))
}
