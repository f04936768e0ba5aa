// File: internal/orchestrator/orchestrator.go
// Description: The stage state machine. Each public method is one stage
// transition over an exclusively leased session: plan-and-search creates the
// session, choose moves it to selected, checkout moves it to checking_out and
// stops before payment. A failed transition leaves the session at its last
// consistent stage; a partial success that still leaves the tab usable lands
// in degraded instead of tearing the session down.
package orchestrator

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/extract"
	"github.com/xkilldash9x/cartpilot/internal/selectors"
	"github.com/xkilldash9x/cartpilot/internal/session"
)

// Orchestrator coordinates the planner, the browser fleet, the selector
// registry and the session store.
type Orchestrator struct {
	planner   schemas.Planner
	browsers  schemas.BrowserManager
	registry  *selectors.Registry
	extractor *extract.Extractor
	store     *session.Store
	cfg       *config.Config
	logger    *zap.Logger
}

// New wires the orchestrator.
func New(planner schemas.Planner, browsers schemas.BrowserManager, registry *selectors.Registry, store *session.Store, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		browsers:  browsers,
		registry:  registry,
		extractor: extract.NewExtractor(logger),
		store:     store,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// PlanAndSearch turns a goal into a plan, executes its search actions in a
// fresh browser session and registers the session on success. An empty product
// list is a success; callers distinguish "nothing matched the constraints"
// from "extraction broke" via the dropped count and the error.
func (o *Orchestrator) PlanAndSearch(ctx context.Context, req schemas.PlanAndSearchRequest) (schemas.PlanAndSearchResponse, error) {
	plan, err := o.planner.Plan(ctx, req.UserRequest, req.SiteHint)
	if err != nil {
		return schemas.PlanAndSearchResponse{}, err
	}

	browser, err := o.browsers.NewSession(ctx, o.headless(req.Headless))
	if err != nil {
		return schemas.PlanAndSearchResponse{}, schemas.WrapStageError(schemas.CodeBrowserUnavailable, err, "could not start a browser session")
	}

	records, dropped, err := o.executeSearch(ctx, browser, plan)
	if err != nil {
		o.closeBrowser(browser)
		return schemas.PlanAndSearchResponse{}, err
	}

	ranked := extract.Rank(records, plan.MaxPrice, plan.MustHave)

	// A cancelled request must not leave a half-registered session behind.
	if err := ctx.Err(); err != nil {
		o.closeBrowser(browser)
		return schemas.PlanAndSearchResponse{}, err
	}

	s := o.store.Create(plan.Site, plan, browser)
	s.LastResults = ranked

	o.logger.Info("Search stage complete.",
		zap.String("session_id", s.ID),
		zap.String("site", plan.Site),
		zap.Int("products", len(ranked)),
		zap.Int("dropped", dropped),
		zap.Duration("model_latency", plan.ModelLatency),
	)
	return schemas.PlanAndSearchResponse{
		SessionID: s.ID,
		Products:  ranked,
		Dropped:   dropped,
	}, nil
}

// executeSearch runs the plan's actions against the browser and returns the
// extracted records.
func (o *Orchestrator) executeSearch(ctx context.Context, browser schemas.BrowserSession, plan schemas.ActionPlan) ([]schemas.ProductRecord, int, error) {
	var (
		records []schemas.ProductRecord
		dropped int
	)

	for _, action := range plan.Actions {
		switch action.Kind {
		case schemas.ActionNavigate:
			if err := browser.Navigate(ctx, action.Parameters["url"]); err != nil {
				return nil, 0, schemas.WrapStageError(schemas.CodeExtractionFailed, err, "navigation to the search page failed")
			}

		case schemas.ActionWait:
			if err := o.sleep(ctx, actionDuration(action, o.cfg.Browser.PostLoadWait)); err != nil {
				return nil, 0, err
			}

		case schemas.ActionExtract:
			var err error
			records, dropped, err = o.extractListing(ctx, browser, plan.Site, action.Target)
			if err != nil {
				return nil, 0, err
			}

		case schemas.ActionClick:
			err := o.tryStrategies(ctx, plan.Site, action.Target, func(strategy selectors.LocatorStrategy) error {
				return browser.Click(ctx, strategy.Query)
			})
			if err != nil {
				return nil, 0, schemas.WrapStageError(schemas.CodeExtractionFailed, err, "click on %q failed", action.Target)
			}

		default:
			// Search and fill do not occur in search-stage plans; the plan
			// validator has already rejected anything malformed.
			o.logger.Warn("Skipping unexpected action in search stage.", zap.String("kind", string(action.Kind)))
		}
	}
	return records, dropped, nil
}

// extractListing resolves the listing strategies and harvests fragments. A
// strategy whose container query matches nothing, or matches only fragments
// that all drop, counts as a layout mismatch and the next candidate is tried.
func (o *Orchestrator) extractListing(ctx context.Context, browser schemas.BrowserSession, site, target string) ([]schemas.ProductRecord, int, error) {
	var (
		records []schemas.ProductRecord
		dropped int
	)

	err := o.tryStrategies(ctx, site, target, func(strategy selectors.LocatorStrategy) error {
		fragments, err := browser.OuterHTML(ctx, strategy.Query)
		if err != nil {
			return err
		}
		base, err := browser.CurrentURL(ctx)
		if err != nil {
			return err
		}
		recs, drop, err := o.extractor.Listing(fragments, strategy, base)
		if err != nil {
			return err
		}
		if len(recs) == 0 && drop == 0 {
			return schemas.ErrNoMatch
		}
		records, dropped = recs, drop
		return nil
	})
	if err != nil {
		return nil, 0, schemas.WrapStageError(schemas.CodeExtractionFailed, err, "no listing strategy produced results on %q", site)
	}
	return records, dropped, nil
}

// Choose adds the product at the given index to the cart and advances the
// session to selected. An out-of-range or missing index mutates nothing.
func (o *Orchestrator) Choose(ctx context.Context, sessionID string, req schemas.ChooseRequest) (schemas.ChooseResponse, error) {
	s, release, err := o.store.Acquire(sessionID)
	if err != nil {
		return schemas.ChooseResponse{}, err
	}
	defer release()

	if s.Stage == schemas.StageCheckingOut {
		return schemas.ChooseResponse{}, schemas.NewStageError(schemas.CodeSelectionFailed, "session %q is already checking out; selection cannot move backwards", sessionID)
	}
	if req.ProductIndex == nil {
		return schemas.ChooseResponse{}, schemas.NewStageError(schemas.CodeInvalidIndex, "product_index is required")
	}
	idx := *req.ProductIndex
	if idx < 0 || idx >= len(s.LastResults) {
		return schemas.ChooseResponse{}, schemas.NewStageError(schemas.CodeInvalidIndex, "product_index %d out of range [0, %d)", idx, len(s.LastResults))
	}
	if !s.Browser.Alive() {
		return schemas.ChooseResponse{}, schemas.NewStageError(schemas.CodeSessionExpired, "browser for session %q is no longer alive", sessionID)
	}

	product := s.LastResults[idx]
	o.logger.Info("Selecting product.",
		zap.String("session_id", s.ID),
		zap.Int("index", idx),
		zap.String("title", product.Title),
	)

	if err := s.Browser.Navigate(ctx, product.Link); err != nil {
		return schemas.ChooseResponse{}, schemas.WrapStageError(schemas.CodeSelectionFailed, err, "could not open product page")
	}

	err = o.tryStrategies(ctx, s.Site, selectors.TargetAddToCart, func(strategy selectors.LocatorStrategy) error {
		return s.Browser.Click(ctx, strategy.Query)
	})
	if err != nil {
		return schemas.ChooseResponse{}, schemas.WrapStageError(schemas.CodeSelectionFailed, err, "add to cart failed")
	}
	if err := o.sleep(ctx, o.cfg.Browser.PostLoadWait); err != nil {
		return schemas.ChooseResponse{}, err
	}

	// Cart navigation failing after a successful add leaves the tab usable:
	// degrade instead of failing the stage.
	stage := schemas.StageSelected
	if err := o.goToCart(ctx, s); err != nil {
		o.logger.Warn("Cart verification failed; session degraded.", zap.String("session_id", s.ID), zap.Error(err))
		stage = schemas.StageDegraded
	}

	if err := ctx.Err(); err != nil {
		return schemas.ChooseResponse{}, err
	}
	s.Stage = stage
	s.Selected = &product

	pageURL, shot := o.snapshot(ctx, s.Browser)
	return schemas.ChooseResponse{
		Status:           "success",
		Stage:            stage,
		PageURL:          pageURL,
		ScreenshotBase64: shot,
	}, nil
}

// goToCart clicks through to the cart and verifies the landing URL.
func (o *Orchestrator) goToCart(ctx context.Context, s *session.Session) error {
	profile, err := o.registry.Site(s.Site)
	if err != nil {
		return err
	}

	err = o.tryStrategies(ctx, s.Site, selectors.TargetGoToCart, func(strategy selectors.LocatorStrategy) error {
		return s.Browser.Click(ctx, strategy.Query)
	})
	if err != nil {
		return err
	}
	if err := o.sleep(ctx, o.cfg.Browser.PostLoadWait); err != nil {
		return err
	}

	loc, err := s.Browser.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if profile.CartURLPattern != "" && !strings.Contains(loc, profile.CartURLPattern) {
		return schemas.NewStageError(schemas.CodeSelectionFailed, "landed on %q, expected a cart page matching %q", loc, profile.CartURLPattern)
	}
	return nil
}

// Checkout drives the session from the cart to the checkout page, optionally
// fills the shipping form and stops. Payment is never touched.
func (o *Orchestrator) Checkout(ctx context.Context, sessionID string, req schemas.CheckoutRequest) (schemas.CheckoutResponse, error) {
	s, release, err := o.store.Acquire(sessionID)
	if err != nil {
		return schemas.CheckoutResponse{}, err
	}
	defer release()

	if s.Stage != schemas.StageSelected && s.Stage != schemas.StageDegraded {
		return schemas.CheckoutResponse{}, schemas.NewStageError(schemas.CodeCheckoutFailed, "session is in stage %q; a product must be selected first", s.Stage)
	}
	if req.Shipping != nil {
		if err := req.Shipping.Validate(); err != nil {
			return schemas.CheckoutResponse{}, err
		}
	}
	if !s.Browser.Alive() {
		return schemas.CheckoutResponse{}, schemas.NewStageError(schemas.CodeSessionExpired, "browser for session %q is no longer alive", sessionID)
	}

	profile, err := o.registry.Site(s.Site)
	if err != nil {
		return schemas.CheckoutResponse{}, err
	}

	err = o.tryStrategies(ctx, s.Site, selectors.TargetProceedToCheckout, func(strategy selectors.LocatorStrategy) error {
		return s.Browser.Click(ctx, strategy.Query)
	})
	if err != nil {
		return schemas.CheckoutResponse{}, schemas.WrapStageError(schemas.CodeCheckoutFailed, err, "could not reach the checkout page")
	}
	if err := o.sleep(ctx, o.cfg.Browser.PostLoadWait); err != nil {
		return schemas.CheckoutResponse{}, err
	}

	loc, err := s.Browser.CurrentURL(ctx)
	if err != nil {
		return schemas.CheckoutResponse{}, schemas.WrapStageError(schemas.CodeCheckoutFailed, err, "could not read the checkout page URL")
	}

	var note string
	if profile.CheckoutURLPattern != "" && !strings.Contains(loc, profile.CheckoutURLPattern) {
		// Many sites interpose a sign-in wall here. The tab is on a real
		// page the caller can take over, so this degrades rather than fails.
		note = "landed on an intermediate page (likely sign-in); complete checkout manually in the browser"
	}

	filled := false
	if req.Shipping != nil && note == "" {
		filled = o.fillShipping(ctx, s, *req.Shipping)
	}

	if err := ctx.Err(); err != nil {
		return schemas.CheckoutResponse{}, err
	}
	s.Stage = schemas.StageCheckingOut

	_, shot := o.snapshot(ctx, s.Browser)
	if note == "" {
		note = "stopped before payment; complete the purchase manually"
	}
	o.logger.Info("Checkout stage complete.",
		zap.String("session_id", s.ID),
		zap.String("checkout_url", loc),
		zap.Bool("filled_shipping", filled),
	)
	return schemas.CheckoutResponse{
		CheckoutURL:      loc,
		ScreenshotBase64: shot,
		FilledShipping:   filled,
		Note:             note,
	}, nil
}

// fillShipping best-effort fills the shipping form. A form layout that matches
// no strategy is not fatal; the caller finishes by hand.
func (o *Orchestrator) fillShipping(ctx context.Context, s *session.Session, shipping schemas.ShippingInfo) bool {
	values := shipping.Fields()

	err := o.tryStrategies(ctx, s.Site, selectors.TargetShippingForm, func(strategy selectors.LocatorStrategy) error {
		filledAny := false
		for field, value := range values {
			query, ok := strategy.Fields[field]
			if !ok {
				continue
			}
			if err := s.Browser.Fill(ctx, query, value); err != nil {
				o.logger.Debug("Shipping field not fillable.",
					zap.String("field", field),
					zap.String("strategy", strategy.Name),
					zap.Error(err),
				)
				continue
			}
			filledAny = true
		}
		if !filledAny {
			return schemas.ErrNoMatch
		}
		return nil
	})
	if err != nil {
		o.logger.Warn("No shipping form strategy matched; leaving form to the caller.", zap.String("session_id", s.ID), zap.Error(err))
		return false
	}
	return true
}

// Sessions lists the live sessions for diagnostics.
func (o *Orchestrator) Sessions() []schemas.SessionInfo {
	return o.store.Snapshot()
}

// CloseSession tears down one session explicitly.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) error {
	s, release, err := o.store.Acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()
	o.store.Remove(ctx, s)
	return nil
}

// snapshot captures the current URL and a base64 screenshot, tolerating
// failure of either; diagnostics never fail a stage.
func (o *Orchestrator) snapshot(ctx context.Context, browser schemas.BrowserSession) (string, string) {
	pageURL, err := browser.CurrentURL(ctx)
	if err != nil {
		o.logger.Debug("Could not read page URL for response.", zap.Error(err))
	}
	var shot string
	if png, err := browser.Screenshot(ctx); err == nil {
		shot = base64.StdEncoding.EncodeToString(png)
	} else {
		o.logger.Debug("Could not capture screenshot for response.", zap.Error(err))
	}
	return pageURL, shot
}

func (o *Orchestrator) headless(override *bool) bool {
	if override != nil {
		return *override
	}
	return o.cfg.Browser.Headless
}

func (o *Orchestrator) closeBrowser(browser schemas.BrowserSession) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := browser.Close(closeCtx); err != nil {
		o.logger.Warn("Error closing browser session.", zap.Error(err))
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// actionDuration reads a wait action's duration_ms parameter.
func actionDuration(action schemas.Action, fallback time.Duration) time.Duration {
	raw := action.Parameters["duration_ms"]
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
