package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrDisabled is returned by Acquire when browser rendering is turned off.
var ErrDisabled = errors.New("browser rendering disabled")

// instance is one running browser process.
type instance struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	lastUsed   time.Time
	requests   int
}

func (i *instance) close() {
	if i != nil && i.cancel != nil {
		i.cancel()
	}
}

type (
	launchFunc  func(net Network) (*instance, error)
	openTabFunc func(inst *instance) (context.Context, context.CancelFunc, error)
)

// Session is one isolated browsing context handed out by Acquire. Its
// context carries the chromedp target and must be released with Release.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	shared bool
	// owned is the dedicated browser of an independent session.
	owned *instance
}

// Context returns the chromedp context bound to the session's tab.
func (s *Session) Context() context.Context { return s.ctx }

// Shared reports whether the session lives in the shared browser.
func (s *Session) Shared() bool { return s.shared }

// Manager hands out browser sessions. Shared sessions are incognito tabs of a
// single long-lived browser; independent sessions get their own process.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	launch  launchFunc
	openTab openTabFunc

	mu     sync.Mutex
	shared *instance
	closed bool
}

// NewManager builds a Manager. Browsers are launched lazily on first use.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger.Named("browser"),
		now:    time.Now,
	}
	m.launch = m.launchChrome
	m.openTab = openChromeTab
	return m
}

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// Acquire returns a ready session. The shared browser is used only when both
// the configuration and the caller allow it.
func (m *Manager) Acquire(ctx context.Context, prefersShared bool) (*Session, error) {
	return m.AcquireWith(ctx, prefersShared, Network{})
}

// AcquireWith is Acquire with a per-request network override. The shared
// browser was launched with the configured network, so a request whose
// effective network differs always gets its own browser.
func (m *Manager) AcquireWith(ctx context.Context, prefersShared bool, override Network) (*Session, error) {
	if !m.cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire browser: %w", err)
	}
	base := m.cfg.network(Network{})
	net := m.cfg.network(override)
	if m.cfg.Shared && prefersShared && net == base {
		return m.acquireShared(base)
	}
	return m.acquireIndependent(net)
}

func (m *Manager) acquireShared(net Network) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("browser manager closed")
	}

	m.recycleIfStaleLocked()
	var lastErr error
	// A dead browser fails to open a tab; relaunch once before giving up.
	for try := 0; try < 2; try++ {
		if m.shared == nil {
			inst, err := m.launch(net)
			if err != nil {
				return nil, fmt.Errorf("launch shared browser: %w", err)
			}
			m.shared = inst
			m.logger.Debug("shared browser launched")
		}
		tabCtx, cancel, err := m.openTab(m.shared)
		if err == nil {
			m.shared.requests++
			m.shared.lastUsed = m.now()
			return &Session{ctx: tabCtx, cancel: cancel, shared: true}, nil
		}
		lastErr = err
		m.logger.Warn("shared browser unusable, restarting", zap.Error(err))
		m.shared.close()
		m.shared = nil
	}
	return nil, fmt.Errorf("open shared tab: %w", lastErr)
}

func (m *Manager) recycleIfStaleLocked() {
	if m.shared == nil {
		return
	}
	idle := m.now().Sub(m.shared.lastUsed) >= m.cfg.IdleTimeout
	worn := m.shared.requests >= m.cfg.MaxRequests
	if !idle && !worn {
		return
	}
	m.logger.Debug("recycling shared browser",
		zap.Bool("idle", idle), zap.Int("requests", m.shared.requests))
	m.shared.close()
	m.shared = nil
}

func (m *Manager) acquireIndependent(net Network) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("browser manager closed")
	}
	// The shared browser is suspended while a dedicated one runs and is
	// relaunched on the next shared acquire.
	if m.shared != nil {
		m.logger.Debug("suspending shared browser for independent session")
		m.shared.close()
		m.shared = nil
	}
	m.mu.Unlock()

	inst, err := m.launch(net)
	if err != nil {
		return nil, fmt.Errorf("launch independent browser: %w", err)
	}
	tabCtx, cancel, err := m.openTab(inst)
	if err != nil {
		inst.close()
		return nil, fmt.Errorf("open independent tab: %w", err)
	}
	return &Session{ctx: tabCtx, cancel: cancel, owned: inst}, nil
}

// Release tears down the session's tab and, for independent sessions, its
// browser process. It is safe to call with nil.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.owned != nil {
		s.owned.close()
		return
	}
	m.mu.Lock()
	if m.shared != nil {
		m.shared.lastUsed = m.now()
	}
	m.mu.Unlock()
}

// Close shuts down the shared browser. Later Acquire calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.shared != nil {
		m.shared.close()
		m.shared = nil
	}
}

func (m *Manager) launchChrome(net Network) (*instance, error) {
	cfg := m.cfg
	cfg.Proxy, cfg.IgnoreSSL = net.Proxy, net.IgnoreSSL
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// Running with no actions starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &instance{
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		lastUsed: m.now(),
	}, nil
}

func openChromeTab(inst *instance) (context.Context, context.CancelFunc, error) {
	if err := inst.browserCtx.Err(); err != nil {
		return nil, nil, fmt.Errorf("browser gone: %w", err)
	}
	tabCtx, cancel := chromedp.NewContext(inst.browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("create tab: %w", err)
	}
	return tabCtx, cancel, nil
}
