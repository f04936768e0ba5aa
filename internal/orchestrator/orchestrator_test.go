// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
	"github.com/xkilldash9x/cartpilot/internal/session"
)

// -- mocks --

type mockPlanner struct {
	plan schemas.ActionPlan
	err  error
}

func (m *mockPlanner) Plan(ctx context.Context, goal, siteHint string) (schemas.ActionPlan, error) {
	if m.err != nil {
		return schemas.ActionPlan{}, m.err
	}
	return m.plan, nil
}

// mockBrowser is scriptable per method; unset hooks behave benignly.
type mockBrowser struct {
	mu         sync.Mutex
	navigated  []string
	clicked    []string
	filled     map[string]string
	closed     bool
	currentURL string

	onClick     func(selector string) error
	onOuterHTML func(selector string) ([]string, error)
	onNavigate  func(url string) error
}

func newMockBrowser() *mockBrowser {
	return &mockBrowser{filled: make(map[string]string), currentURL: "https://www.ebay.com/sch/i.html?_nkw=x"}
}

func (m *mockBrowser) ID() string { return "mock-tab" }

func (m *mockBrowser) Navigate(ctx context.Context, url string) error {
	m.mu.Lock()
	m.navigated = append(m.navigated, url)
	m.mu.Unlock()
	if m.onNavigate != nil {
		return m.onNavigate(url)
	}
	return nil
}

func (m *mockBrowser) Click(ctx context.Context, selector string) error {
	m.mu.Lock()
	m.clicked = append(m.clicked, selector)
	m.mu.Unlock()
	if m.onClick != nil {
		return m.onClick(selector)
	}
	return nil
}

func (m *mockBrowser) Fill(ctx context.Context, selector, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filled[selector] = value
	return nil
}

func (m *mockBrowser) OuterHTML(ctx context.Context, selector string) ([]string, error) {
	if m.onOuterHTML != nil {
		return m.onOuterHTML(selector)
	}
	return nil, fmt.Errorf("selector %q: %w", selector, schemas.ErrNoMatch)
}

func (m *mockBrowser) CurrentURL(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentURL, nil
}

func (m *mockBrowser) setURL(u string) {
	m.mu.Lock()
	m.currentURL = u
	m.mu.Unlock()
}

func (m *mockBrowser) Screenshot(ctx context.Context) ([]byte, error) { return []byte{0x89}, nil }

func (m *mockBrowser) Alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mockBrowser) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockManager struct {
	browser *mockBrowser
	err     error
}

func (m *mockManager) NewSession(ctx context.Context, headless bool) (schemas.BrowserSession, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.browser, nil
}

func (m *mockManager) Shutdown(ctx context.Context) error { return nil }

// -- fixtures --

func ebayPlan() schemas.ActionPlan {
	return schemas.ActionPlan{
		ID:    "plan-1",
		Site:  "ebay",
		Query: "keyboard",
		Actions: []schemas.Action{
			{Kind: schemas.ActionNavigate, Parameters: map[string]string{"url": "https://www.ebay.com/sch/i.html?_nkw=keyboard"}},
			{Kind: schemas.ActionWait, Parameters: map[string]string{"duration_ms": "0"}},
			{Kind: schemas.ActionExtract, Target: selectors.TargetSearchResults},
		},
	}
}

func ebayFragment(title, price, href string) string {
	return `<li class="s-item"><a class="s-item__link" href="` + href + `">` +
		`<span class="s-item__title">` + title + `</span></a>` +
		`<span class="s-item__price">` + price + `</span></li>`
}

type fixture struct {
	orch    *Orchestrator
	store   *session.Store
	browser *mockBrowser
	manager *mockManager
	planner *mockPlanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = time.Millisecond
	cfg.Browser.PostLoadWait = 0
	cfg.Session.TTL = time.Minute
	cfg.Session.ReapInterval = time.Minute

	store := session.NewStore(cfg.Session, zap.NewNop())
	t.Cleanup(func() { store.Close(context.Background()) })

	browser := newMockBrowser()
	manager := &mockManager{browser: browser}
	p := &mockPlanner{plan: ebayPlan()}

	return &fixture{
		orch:    New(p, manager, selectors.NewRegistry(), store, cfg, zap.NewNop()),
		store:   store,
		browser: browser,
		manager: manager,
		planner: p,
	}
}

// searchedFixture runs PlanAndSearch and returns the session ID.
func searchedFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t)
	f.browser.onOuterHTML = func(selector string) ([]string, error) {
		return []string{
			ebayFragment("Cheap Keyboard", "$19.99", "https://www.ebay.com/itm/1"),
			ebayFragment("Pricey Keyboard", "$89.99", "https://www.ebay.com/itm/2"),
		}, nil
	}

	resp, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "a keyboard"})
	require.NoError(t, err)
	require.Len(t, resp.Products, 2)
	return f, resp.SessionID
}

// -- plan and search --

func TestPlanAndSearch(t *testing.T) {
	t.Run("success creates a ranked session", func(t *testing.T) {
		f, sessionID := searchedFixture(t)

		assert.True(t, strings.HasPrefix(sessionID, "ebay_"))
		assert.Equal(t, 1, f.store.Len())
		assert.Contains(t, f.browser.navigated[0], "_nkw=keyboard")

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageSearching, s.Stage)
		assert.Equal(t, "Cheap Keyboard", s.LastResults[0].Title, "cheapest first")
		assert.Equal(t, 0, s.LastResults[0].Index)
		assert.Equal(t, 1, s.LastResults[1].Index)
	})

	t.Run("planner failure creates no session or browser", func(t *testing.T) {
		f := newFixture(t)
		f.planner.err = schemas.NewStageError(schemas.CodePlanningFailed, "model said no")

		_, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.Error(t, err)
		assert.Equal(t, schemas.CodePlanningFailed, schemas.CodeOf(err))
		assert.Equal(t, 0, f.store.Len())
		assert.Empty(t, f.browser.navigated)
	})

	t.Run("browser start failure maps to BrowserUnavailable", func(t *testing.T) {
		f := newFixture(t)
		f.manager.err = errors.New("session limit reached")

		_, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeBrowserUnavailable, schemas.CodeOf(err))
	})

	t.Run("all strategies exhausted closes the browser", func(t *testing.T) {
		f := newFixture(t)
		// onOuterHTML unset: every strategy reports ErrNoMatch.

		_, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeExtractionFailed, schemas.CodeOf(err))
		assert.True(t, errors.Is(err, schemas.ErrNoMatch))
		assert.Equal(t, 0, f.store.Len())
		assert.False(t, f.browser.Alive())
	})

	t.Run("layout mismatch advances to the next strategy", func(t *testing.T) {
		f := newFixture(t)
		f.browser.onOuterHTML = func(selector string) ([]string, error) {
			if selector == "li.s-item" {
				return nil, fmt.Errorf("selector %q: %w", selector, schemas.ErrNoMatch)
			}
			return []string{ebayFragment("Fallback Item", "$5.00", "https://www.ebay.com/itm/9")}, nil
		}

		resp, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.NoError(t, err)
		require.Len(t, resp.Products, 1)
		assert.Equal(t, "Fallback Item", resp.Products[0].Title)
	})

	t.Run("constraints filter the listing", func(t *testing.T) {
		f := newFixture(t)
		plan := ebayPlan()
		plan.MaxPrice = 50
		plan.MustHave = []string{"keyboard"}
		f.planner.plan = plan
		f.browser.onOuterHTML = func(selector string) ([]string, error) {
			return []string{
				ebayFragment("Cheap Keyboard", "$19.99", "https://www.ebay.com/itm/1"),
				ebayFragment("Pricey Keyboard", "$89.99", "https://www.ebay.com/itm/2"),
				ebayFragment("Cheap Mouse", "$9.99", "https://www.ebay.com/itm/3"),
			}, nil
		}

		resp, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.NoError(t, err)
		require.Len(t, resp.Products, 1)
		assert.Equal(t, "Cheap Keyboard", resp.Products[0].Title)
	})

	t.Run("zero products with drops is a success", func(t *testing.T) {
		f := newFixture(t)
		f.browser.onOuterHTML = func(selector string) ([]string, error) {
			return []string{ebayFragment("Broken", "no price here", "https://www.ebay.com/itm/1")}, nil
		}

		resp, err := f.orch.PlanAndSearch(context.Background(), schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.NoError(t, err)
		assert.Empty(t, resp.Products)
		assert.Equal(t, 1, resp.Dropped)
	})

	t.Run("cancelled context does not register a session", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		f.browser.onOuterHTML = func(selector string) ([]string, error) {
			cancel()
			return []string{ebayFragment("Item", "$1.00", "https://www.ebay.com/itm/1")}, nil
		}

		_, err := f.orch.PlanAndSearch(ctx, schemas.PlanAndSearchRequest{UserRequest: "x"})
		require.Error(t, err)
		assert.Equal(t, 0, f.store.Len())
		assert.False(t, f.browser.Alive())
	})
}

// -- choose --

func TestChoose(t *testing.T) {
	index := func(i int) *int { return &i }

	t.Run("success advances to selected", func(t *testing.T) {
		f, sessionID := searchedFixture(t)
		f.browser.onClick = func(selector string) error {
			if strings.Contains(selector, "cart.ebay.com") {
				f.browser.setURL("https://cart.ebay.com/")
			}
			return nil
		}

		resp, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(0)})
		require.NoError(t, err)
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, schemas.StageSelected, resp.Stage)
		assert.Equal(t, "https://cart.ebay.com/", resp.PageURL)
		assert.NotEmpty(t, resp.ScreenshotBase64)
		assert.Contains(t, f.browser.navigated, "https://www.ebay.com/itm/1")

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageSelected, s.Stage)
		require.NotNil(t, s.Selected)
		assert.Equal(t, "Cheap Keyboard", s.Selected.Title)
	})

	t.Run("missing index mutates nothing", func(t *testing.T) {
		f, sessionID := searchedFixture(t)

		_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeInvalidIndex, schemas.CodeOf(err))
	})

	t.Run("out of range index mutates nothing", func(t *testing.T) {
		f, sessionID := searchedFixture(t)
		navsBefore := len(f.browser.navigated)

		for _, bad := range []int{-1, 2, 99} {
			_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(bad)})
			require.Error(t, err)
			assert.Equal(t, schemas.CodeInvalidIndex, schemas.CodeOf(err))
		}
		assert.Len(t, f.browser.navigated, navsBefore)

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageSearching, s.Stage)
		assert.Nil(t, s.Selected)
	})

	t.Run("unknown session is expired", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.Choose(context.Background(), "ebay_123", schemas.ChooseRequest{ProductIndex: index(0)})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeSessionExpired, schemas.CodeOf(err))
	})

	t.Run("dead browser is expired", func(t *testing.T) {
		f, sessionID := searchedFixture(t)
		require.NoError(t, f.browser.Close(context.Background()))

		_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(0)})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeSessionExpired, schemas.CodeOf(err))
	})

	t.Run("add to cart failure keeps the searching stage", func(t *testing.T) {
		f, sessionID := searchedFixture(t)
		f.browser.onClick = func(selector string) error {
			return fmt.Errorf("selector %q: %w", selector, schemas.ErrNoMatch)
		}

		_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(0)})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeSelectionFailed, schemas.CodeOf(err))

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageSearching, s.Stage)
	})

	t.Run("cart verification failure degrades the session", func(t *testing.T) {
		f, sessionID := searchedFixture(t)
		// Clicks succeed but the page never lands on cart.ebay.com.
		f.browser.setURL("https://www.ebay.com/itm/1")

		resp, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(0)})
		require.NoError(t, err)
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, schemas.StageDegraded, resp.Stage)

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageDegraded, s.Stage)
	})

	t.Run("checking out session cannot re-select", func(t *testing.T) {
		f, sessionID := selectedFixture(t)
		_, err := f.orch.Checkout(context.Background(), sessionID, schemas.CheckoutRequest{})
		require.NoError(t, err)
		navsBefore := len(f.browser.navigated)

		_, err = f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(1)})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeSelectionFailed, schemas.CodeOf(err))
		assert.Len(t, f.browser.navigated, navsBefore)

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageCheckingOut, s.Stage)
	})

	t.Run("concurrent choose on one session serializes as busy", func(t *testing.T) {
		f, sessionID := searchedFixture(t)

		entered := make(chan struct{})
		proceed := make(chan struct{})
		var once sync.Once
		f.browser.onClick = func(selector string) error {
			once.Do(func() {
				close(entered)
				<-proceed
			})
			if strings.Contains(selector, "cart.ebay.com") {
				f.browser.setURL("https://cart.ebay.com/")
			}
			return nil
		}

		errCh := make(chan error, 1)
		go func() {
			_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(0)})
			errCh <- err
		}()

		<-entered
		_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: index(1)})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeSessionBusy, schemas.CodeOf(err))

		close(proceed)
		require.NoError(t, <-errCh)
	})
}

// -- checkout --

func selectedFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	f, sessionID := searchedFixture(t)
	f.browser.onClick = func(selector string) error {
		if strings.Contains(selector, "cart.ebay.com") {
			f.browser.setURL("https://cart.ebay.com/")
		}
		if strings.Contains(selector, "cta-top") || strings.Contains(selector, "pay.ebay.com") {
			f.browser.setURL("https://pay.ebay.com/rxo?action=view")
		}
		return nil
	}
	idx := 0
	_, err := f.orch.Choose(context.Background(), sessionID, schemas.ChooseRequest{ProductIndex: &idx})
	require.NoError(t, err)
	return f, sessionID
}

func TestCheckout(t *testing.T) {
	shipping := &schemas.ShippingInfo{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Address1:  "12 Analytical Way",
		City:      "London",
		Zip:       "N1 9GU",
	}

	t.Run("reaches checkout and fills shipping", func(t *testing.T) {
		f, sessionID := selectedFixture(t)

		resp, err := f.orch.Checkout(context.Background(), sessionID, schemas.CheckoutRequest{Shipping: shipping})
		require.NoError(t, err)
		assert.Contains(t, resp.CheckoutURL, "pay.ebay.com")
		assert.True(t, resp.FilledShipping)
		assert.NotEmpty(t, resp.Note)
		assert.NotEmpty(t, resp.ScreenshotBase64)
		assert.Contains(t, f.browser.filled, `input[name='firstName']`)
		assert.Equal(t, "Ada", f.browser.filled[`input[name='firstName']`])

		s, release, err := f.store.Acquire(sessionID)
		require.NoError(t, err)
		defer release()
		assert.Equal(t, schemas.StageCheckingOut, s.Stage)
	})

	t.Run("works without shipping info", func(t *testing.T) {
		f, sessionID := selectedFixture(t)

		resp, err := f.orch.Checkout(context.Background(), sessionID, schemas.CheckoutRequest{})
		require.NoError(t, err)
		assert.False(t, resp.FilledShipping)
		assert.Empty(t, f.browser.filled)
	})

	t.Run("requires a selected product first", func(t *testing.T) {
		f, sessionID := searchedFixture(t)

		_, err := f.orch.Checkout(context.Background(), sessionID, schemas.CheckoutRequest{})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeCheckoutFailed, schemas.CodeOf(err))
	})

	t.Run("rejects incomplete shipping before touching the page", func(t *testing.T) {
		f, sessionID := selectedFixture(t)
		clicksBefore := len(f.browser.clicked)

		_, err := f.orch.Checkout(context.Background(), sessionID, schemas.CheckoutRequest{
			Shipping: &schemas.ShippingInfo{FirstName: "Ada"},
		})
		require.Error(t, err)
		assert.Equal(t, schemas.CodeCheckoutFailed, schemas.CodeOf(err))
		assert.Len(t, f.browser.clicked, clicksBefore)
	})

	t.Run("intermediate page degrades with a note and skips the form", func(t *testing.T) {
		f, sessionID := selectedFixture(t)
		f.browser.onClick = func(selector string) error {
			f.browser.setURL("https://signin.ebay.com/")
			return nil
		}

		resp, err := f.orch.Checkout(context.Background(), sessionID, schemas.CheckoutRequest{Shipping: shipping})
		require.NoError(t, err)
		assert.False(t, resp.FilledShipping)
		assert.Contains(t, resp.Note, "sign-in")
		assert.Empty(t, f.browser.filled)
	})
}

func TestCloseSession(t *testing.T) {
	f, sessionID := searchedFixture(t)

	require.NoError(t, f.orch.CloseSession(context.Background(), sessionID))
	assert.Equal(t, 0, f.store.Len())
	assert.False(t, f.browser.Alive())

	err := f.orch.CloseSession(context.Background(), sessionID)
	require.Error(t, err)
	assert.Equal(t, schemas.CodeSessionExpired, schemas.CodeOf(err))
}
