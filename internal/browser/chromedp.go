// Package browser contains the headless Chrome driver used for captures.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/demoshot/internal/artifact"
	"github.com/JakeFAU/demoshot/internal/capture"
)

// Config controls the Chrome driver.
type Config struct {
	// ChromePath overrides executable discovery.
	ChromePath string
	UserAgent  string
	// ProfileRoot is the parent of per-attempt profile directories.
	ProfileRoot string
}

// Chromedp implements capture.Browser with one isolated Chrome per attempt.
type Chromedp struct {
	cfg    Config
	logger *zap.Logger
}

var _ capture.Browser = (*Chromedp)(nil)

// NewChromedp builds the driver.
func NewChromedp(cfg Config, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

// Capture launches Chrome in its own process group, renders the attempt and
// publishes the PNG atomically. The browser, its process group and its
// profile directory are gone when Capture returns.
func (c *Chromedp) Capture(ctx context.Context, attempt capture.Attempt) (artifact.Artifact, error) {
	name := attempt.Config.Name
	profile, err := os.MkdirTemp(c.cfg.ProfileRoot, "demoshot-profile-*")
	if err != nil {
		return artifact.Artifact{}, capture.NewError(capture.KindBrowserCrash, name, fmt.Errorf("create profile dir: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(profile); rmErr != nil {
			c.logger.Warn("remove browser profile", zap.String("path", profile), zap.Error(rmErr))
		}
	}()

	group := &processGroup{}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions(attempt, profile, group)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer func() {
		taskCancel()
		if killErr := group.kill(); killErr != nil {
			c.logger.Debug("kill browser process group", zap.Error(killErr))
		}
	}()

	blocklist := capture.NewDomainBlocklist(attempt.Config.BlockedDomains)
	nav := newNavState()
	chromedp.ListenTarget(taskCtx, func(ev any) {
		nav.observe(ev)
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go c.resolvePaused(taskCtx, paused, blocklist)
		}
	})

	var shot []byte
	err = chromedp.Run(taskCtx,
		c.setupAction(attempt, blocklist),
		navigateAction(attempt.Request.Target.URL, attempt.Config.WaitPolicy, nav),
		chromedp.Sleep(attempt.Config.PostLoadDelay),
		rerunScript(attempt.Payload.Script),
		screenshotAction(attempt.Request.FullPage, &shot),
	)
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("chromedp run: %w", err)
	}
	if len(shot) == 0 {
		return artifact.Artifact{}, capture.NewError(capture.KindBrowserCrash, name, errors.New("empty screenshot"))
	}

	if err := artifact.WriteFileAtomic(attempt.OutputPath, shot, 0o644); err != nil {
		return artifact.Artifact{}, capture.NewError(capture.KindWrite, name, err)
	}
	art, err := artifact.Inspect(attempt.OutputPath, artifact.FormatPNG)
	if err != nil {
		return artifact.Artifact{}, capture.NewError(capture.KindWrite, name, err)
	}
	return art, nil
}

func (c *Chromedp) allocatorOptions(attempt capture.Attempt, profile string, group *processGroup) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.UserDataDir(profile),
		chromedp.WindowSize(attempt.Request.ViewportWidth, attempt.Request.ViewportHeight),
		chromedp.ModifyCmdFunc(group.attach),
	)
	for _, raw := range attempt.Config.ChromiumFlags {
		if name, value, ok := parseFlag(raw); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	if c.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ChromePath))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	return opts
}

// setupAction prepares the fresh target before navigation: viewport,
// consent cookies, the injected script and request interception.
func (c *Chromedp) setupAction(attempt capture.Attempt, blocklist *capture.DomainBlocklist) chromedp.Action {
	req := attempt.Request
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := chromedp.EmulateViewport(int64(req.ViewportWidth), int64(req.ViewportHeight)).Do(ctx); err != nil {
			return fmt.Errorf("emulate viewport: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		for _, cookie := range attempt.Payload.Cookies {
			err := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", cookie.Name, err)
			}
		}
		if attempt.Payload.Script != "" {
			if _, err := page.AddScriptToEvaluateOnNewDocument(attempt.Payload.Script).Do(ctx); err != nil {
				return fmt.Errorf("inject consent script: %w", err)
			}
		}
		if blocklist != nil {
			if err := fetch.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable request interception: %w", err)
			}
		}
		return nil
	})
}

// resolvePaused fails blocked requests and lets the rest through. It runs
// off the event goroutine because commands cannot be issued from listeners.
func (c *Chromedp) resolvePaused(ctx context.Context, ev *fetch.EventRequestPaused, blocklist *capture.DomainBlocklist) {
	target := chromedp.FromContext(ctx)
	if target == nil || target.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, target.Target)
	var err error
	if ev.Request != nil && blocklist.BlocksURL(ev.Request.URL) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	if err != nil && ctx.Err() == nil {
		c.logger.Debug("resolve paused request", zap.Error(err))
	}
}

func navigateAction(url string, policy capture.WaitPolicy, nav *navState) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, loaderID, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate %s: %w", url, err)
		}
		if errorText != "" {
			return capture.NewError(capture.KindNavigation, "", fmt.Errorf("navigate %s: %s", url, errorText))
		}
		if err := nav.wait(ctx, string(loaderID), lifecycleEvent(policy)); err != nil {
			return err
		}
		if status := nav.status(string(loaderID)); status >= 400 {
			return capture.NewError(capture.KindNavigation, "", fmt.Errorf("navigate %s: http status %d", url, status))
		}
		return nil
	})
}

// rerunScript applies the consent script again after the page settled;
// it is idempotent.
func rerunScript(script string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if script == "" {
			return nil
		}
		if err := chromedp.Evaluate(script, nil).Do(ctx); err != nil {
			return fmt.Errorf("rerun consent script: %w", err)
		}
		return nil
	})
}

func screenshotAction(fullPage bool, buf *[]byte) chromedp.Action {
	if fullPage {
		return chromedp.FullScreenshot(buf, 100)
	}
	return chromedp.CaptureScreenshot(buf)
}

func lifecycleEvent(policy capture.WaitPolicy) string {
	if policy == capture.WaitNetworkIdle {
		return "networkIdle"
	}
	return "DOMContentLoaded"
}

// parseFlag turns "--name" or "--name=value" into a chromedp flag.
func parseFlag(raw string) (string, any, bool) {
	trimmed := strings.TrimLeft(strings.TrimSpace(raw), "-")
	if trimmed == "" {
		return "", nil, false
	}
	name, value, hasValue := strings.Cut(trimmed, "=")
	if !hasValue {
		return name, true, true
	}
	return name, value, true
}

// navState records lifecycle events and document statuses per loader.
type navState struct {
	mu       sync.Mutex
	events   map[string]map[string]bool
	statuses map[string]int
	changed  chan struct{}
}

func newNavState() *navState {
	return &navState{
		events:   make(map[string]map[string]bool),
		statuses: make(map[string]int),
		changed:  make(chan struct{}, 1),
	}
}

func (n *navState) observe(ev any) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		n.mu.Lock()
		loader := string(e.LoaderID)
		if n.events[loader] == nil {
			n.events[loader] = make(map[string]bool)
		}
		n.events[loader][e.Name] = true
		n.mu.Unlock()
		n.signal()
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		n.mu.Lock()
		n.statuses[string(e.LoaderID)] = int(e.Response.Status)
		n.mu.Unlock()
	}
}

func (n *navState) signal() {
	select {
	case n.changed <- struct{}{}:
	default:
	}
}

func (n *navState) seen(loader, name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[loader][name]
}

func (n *navState) status(loader string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.statuses[loader]
}

func (n *navState) wait(ctx context.Context, loader, name string) error {
	for !n.seen(loader, name) {
		select {
		case <-n.changed:
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", name, ctx.Err())
		}
	}
	return nil
}

// processGroup remembers the Chrome command so its whole group can be
// killed on teardown.
type processGroup struct {
	mu  sync.Mutex
	cmd *exec.Cmd
}

func (g *processGroup) attach(cmd *exec.Cmd) {
	configureProcessGroup(cmd)
	g.mu.Lock()
	g.cmd = cmd
	g.mu.Unlock()
}

func (g *processGroup) kill() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cmd == nil || g.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(g.cmd.Process.Pid)
}
