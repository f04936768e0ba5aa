// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

var _ schemas.BrowserSession = (*Session)(nil)

// Session is one isolated browser tab. Each driving method is a suspension
// point bounded by its own timeout from config. Methods run on the tab's own
// context rather than the caller's: an in-flight page interaction is allowed
// to finish even when the inbound request goes away, and the orchestrator
// decides afterwards whether to commit the result.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	tabCtx    context.Context
	tabCancel context.CancelFunc

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

// newSession opens a tab off the allocator context and verifies it is usable.
func newSession(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	id := uuid.NewString()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger.With(zap.String("session_id", id[:8])),
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
	}

	// Materialize the tab now so a dead browser surfaces here, not mid-stage.
	startCtx, cancel := context.WithTimeout(tabCtx, cfg.ActionTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	return s, nil
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// Alive reports whether the tab context is still usable.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.isClosed && s.tabCtx.Err() == nil
}

// actionCtx derives the bounded context every primitive runs under.
func (s *Session) actionCtx(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.tabCtx, timeout)
}

// Navigate loads a URL, waits for the document body and lets asynchronous
// content settle.
func (s *Session) Navigate(_ context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	runCtx, cancel := s.actionCtx(s.cfg.NavigationTimeout)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.PostLoadWait),
	)
}

// Click scrolls the first element matching selector into view and clicks it.
// Zero matches yields schemas.ErrNoMatch immediately rather than waiting out
// the timeout, so the retry policy can move to the next candidate strategy.
func (s *Session) Click(_ context.Context, selector string) error {
	runCtx, cancel := s.actionCtx(s.cfg.ActionTimeout)
	defer cancel()

	if err := s.requireMatch(runCtx, selector); err != nil {
		return err
	}
	return chromedp.Run(runCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// Fill sets the value of the first element matching selector.
func (s *Session) Fill(_ context.Context, selector, value string) error {
	runCtx, cancel := s.actionCtx(s.cfg.ActionTimeout)
	defer cancel()

	if err := s.requireMatch(runCtx, selector); err != nil {
		return err
	}
	return chromedp.Run(runCtx,
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

// OuterHTML returns the outer HTML of every element matching selector.
func (s *Session) OuterHTML(_ context.Context, selector string) ([]string, error) {
	runCtx, cancel := s.actionCtx(s.cfg.ActionTimeout)
	defer cancel()

	var nodes []*cdp.Node
	if err := chromedp.Run(runCtx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("selector %q: %w", selector, schemas.ErrNoMatch)
	}

	fragments := make([]string, 0, len(nodes))
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, node := range nodes {
			html, err := dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			if err != nil {
				// Stale node after a re-render; skip it, the extractor
				// counts what survives.
				s.logger.Debug("Skipping stale node during extraction", zap.Error(err))
				continue
			}
			fragments = append(fragments, html)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		return nil, fmt.Errorf("selector %q: %w", selector, schemas.ErrNoMatch)
	}
	return fragments, nil
}

// CurrentURL reports the page's current location.
func (s *Session) CurrentURL(_ context.Context) (string, error) {
	runCtx, cancel := s.actionCtx(s.cfg.ActionTimeout)
	defer cancel()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Screenshot captures the visible viewport as PNG bytes.
func (s *Session) Screenshot(_ context.Context) ([]byte, error) {
	runCtx, cancel := s.actionCtx(s.cfg.ActionTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// requireMatch distinguishes "element not on this layout" from transient
// timing: zero nodes right now is ErrNoMatch.
func (s *Session) requireMatch(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx,
		chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("selector %q: %w", selector, schemas.ErrNoMatch)
	}
	return nil
}

// Close terminates the tab and releases the manager slot exactly once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.tabCancel()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	select {
	case <-s.tabCtx.Done():
		s.logger.Debug("Browser session closed.")
	case <-waitCtx.Done():
		s.logger.Warn("Deadline exceeded waiting for browser session to close.", zap.Error(waitCtx.Err()))
	}

	if onClose != nil {
		onClose()
	}
	return nil
}
