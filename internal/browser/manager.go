// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
)

// Manager owns the headless Chrome processes and hands out isolated tab
// sessions. Allocators are created lazily per headless mode so a single
// process can serve both headless API traffic and headful debugging sessions.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.Mutex
	allocators map[bool]*allocator // keyed by headless flag

	// slots caps concurrently live sessions across both allocators.
	slots *semaphore.Weighted

	// wg tracks live sessions for graceful shutdown.
	wg sync.WaitGroup

	shutdown bool
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var _ schemas.BrowserManager = (*Manager)(nil)

// NewManager creates the manager. Browser processes launch on first use.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		logger:     logger.Named("browser_manager"),
		allocators: make(map[bool]*allocator),
		slots:      semaphore.NewWeighted(cfg.MaxSessions),
	}
}

// NewSession creates a new, isolated browser tab. The caller owns the session
// exclusively and must Close it to release its concurrency slot.
func (m *Manager) NewSession(ctx context.Context, headless bool) (schemas.BrowserSession, error) {
	if !m.slots.TryAcquire(1) {
		return nil, fmt.Errorf("browser session limit reached (%d)", m.cfg.MaxSessions)
	}

	alloc, err := m.allocatorFor(ctx, headless)
	if err != nil {
		m.slots.Release(1)
		return nil, err
	}

	s, err := newSession(alloc.ctx, m.cfg, m.logger)
	if err != nil {
		m.slots.Release(1)
		return nil, fmt.Errorf("failed to initialize browser session: %w", err)
	}

	m.wg.Add(1)
	s.onClose = func() {
		m.slots.Release(1)
		m.wg.Done()
	}

	m.logger.Info("New browser session created.", zap.String("session_id", s.ID()), zap.Bool("headless", headless))
	return s, nil
}

// allocatorFor returns the allocator for the requested mode, launching the
// browser process on first use and verifying it responds.
func (m *Manager) allocatorFor(ctx context.Context, headless bool) (*allocator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil, fmt.Errorf("browser manager is shut down")
	}
	if alloc, ok := m.allocators[headless]; ok {
		return alloc, nil
	}

	m.logger.Info("Launching browser process.", zap.Bool("headless", headless))
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), m.buildAllocatorOptions(headless)...)

	// Confirm the browser starts and responds before handing it out.
	testCtx, cancelTest := context.WithTimeout(ctx, m.cfg.NavigationTimeout)
	testCtx, cancelTab := chromedp.NewContext(testCtx)
	err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"))
	cancelTab()
	cancelTest()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	alloc := &allocator{ctx: allocCtx, cancel: cancel}
	m.allocators[headless] = alloc
	return alloc, nil
}

// buildAllocatorOptions assembles launch flags. Flags are keyed by name in
// chromedp's allocator, so a later Flag call overrides an earlier default;
// that is how the automation banner flag gets dropped.
func (m *Manager) buildAllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", headless),
		chromedp.UserAgent(m.cfg.UserAgent),
	)

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// Shutdown waits for live sessions to close, then terminates the browser
// processes. New sessions are refused once shutdown begins.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	allocs := make([]*allocator, 0, len(m.allocators))
	for _, a := range m.allocators {
		allocs = append(allocs, a)
	}
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All browser sessions have closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	for _, a := range allocs {
		a.cancel()
		<-a.ctx.Done()
	}
	return nil
}
