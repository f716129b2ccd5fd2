// Package waclient drives one remote messaging session through a dedicated
// browser-automation instance. It implements the session.Client capability
// consumed by the supervisor.
package waclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/internal/session"
)

// drainInterval paces the bridge event pump.
const drainInterval = 500 * time.Millisecond

// watchInterval paces the browser aliveness check behind OnTermination.
const watchInterval = 5 * time.Second

// Client is a go-rod backed external protocol client. One Client owns one
// Chromium instance whose profile directory is the session's persisted
// credential folder.
type Client struct {
	opts session.ClientOptions

	mu        sync.Mutex
	launch    *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	listeners map[session.EventCategory][]func(any)
	term      func(string)
	closed    bool

	termOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a client for the given options. It satisfies
// session.ClientFactory.
func New(opts session.ClientOptions) session.Client {
	return &Client{
		opts:      opts,
		listeners: make(map[session.EventCategory][]func(any)),
		stop:      make(chan struct{}),
	}
}

// On registers a listener for an event category. Listeners registered
// before Initialize observe handshake events.
func (c *Client) On(cat session.EventCategory, fn func(payload any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[cat] = append(c.listeners[cat], fn)
}

// OnTermination registers the abnormal-termination hook.
func (c *Client) OnTermination(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.term = fn
}

// Initialize launches the browser, opens the web client, installs the event
// bridge, and starts the event pump. On failure the browser process may
// outlive the call; the caller never registers the session in that case.
func (c *Client) Initialize(ctx context.Context) error {
	l := launcher.New().
		Headless(c.opts.Headless).
		UserDataDir(c.opts.DataDir)
	if c.opts.BrowserPath != "" {
		l = l.Bin(c.opts.BrowserPath)
	}
	for _, raw := range c.opts.BrowserArgs {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: webClientURL})
	if err != nil {
		return fmt.Errorf("open web client: %w", err)
	}

	if _, err := page.Evaluate(&rod.EvalOptions{
		JS:           hookScript,
		ByValue:      true,
		AwaitPromise: true,
	}); err != nil {
		return fmt.Errorf("install event bridge: %w", err)
	}

	c.mu.Lock()
	c.launch = l
	c.browser = browser
	c.page = page
	c.mu.Unlock()

	go c.pump()
	go c.watch()
	return nil
}

// ConnectionState reports the protocol-level state.
func (c *Client) ConnectionState(ctx context.Context) (session.ConnectionState, error) {
	page, err := c.currentPage()
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: stateScript, ByValue: true})
	if err != nil {
		return "", fmt.Errorf("read connection state: %w", err)
	}
	return session.ConnectionState(strings.ToUpper(res.Value.String())), nil
}

// FetchAttachment downloads and decrypts a message's media payload.
func (c *Client) FetchAttachment(ctx context.Context, ref string) (session.Attachment, error) {
	page, err := c.currentPage()
	if err != nil {
		return session.Attachment{}, err
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           fetchMediaScript,
		JSArgs:       []interface{}{ref},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return session.Attachment{}, fmt.Errorf("fetch attachment: %w", err)
	}
	if res.Value.Nil() {
		return session.Attachment{}, fmt.Errorf("attachment %s unavailable", ref)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return session.Attachment{}, err
	}
	var out struct {
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return session.Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return session.Attachment{}, fmt.Errorf("decode attachment payload: %w", err)
	}

	return session.Attachment{MessageRef: ref, MimeType: out.MimeType, Data: data}, nil
}

// MarkSeen acknowledges a chat's messages as read.
func (c *Client) MarkSeen(ctx context.Context, chat string) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	_, err = page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           markSeenScript,
		JSArgs:       []interface{}{chat},
		ByValue:      true,
		AwaitPromise: true,
	})
	return err
}

// Logout invalidates the remote credential state, then tears the browser
// down so the process does not outlive the session.
func (c *Client) Logout(ctx context.Context) error {
	page, err := c.currentPage()
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           logoutScript,
		ByValue:      true,
		AwaitPromise: true,
	}); err != nil {
		return fmt.Errorf("remote logout: %w", err)
	}
	return c.Destroy(ctx)
}

// Destroy closes the browser without invalidating stored credentials.
func (c *Client) Destroy(_ context.Context) error {
	c.stopPumps()

	c.mu.Lock()
	c.closed = true
	page, browser := c.page, c.browser
	c.page, c.browser = nil, nil
	c.mu.Unlock()

	if page != nil {
		_ = page.Close()
	}
	if browser != nil {
		if err := browser.Close(); err != nil {
			return fmt.Errorf("close browser: %w", err)
		}
	}
	return nil
}

// Surface exposes the browser surface for liveness probing and reload.
func (c *Client) Surface() session.Surface {
	return &surface{client: c}
}

func (c *Client) currentPage() (*rod.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.page == nil {
		return nil, fmt.Errorf("session %s: browser not running", c.opts.SessionID)
	}
	return c.page, nil
}

func (c *Client) stopPumps() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) emit(cat session.EventCategory, payload any) {
	c.mu.Lock()
	fns := append([]func(any){}, c.listeners[cat]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

type bridgeEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// pump drains the in-page event buffer and fans events out to listeners.
func (c *Client) pump() {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.drainOnce()
		}
	}
}

func (c *Client) drainOnce() {
	page, err := c.currentPage()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), drainInterval)
	defer cancel()

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: drainScript, ByValue: true})
	if err != nil || res == nil || res.Value.Nil() {
		return
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return
	}
	var events []bridgeEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return
	}

	for _, ev := range events {
		c.route(ev)
	}
}

func (c *Client) route(ev bridgeEvent) {
	switch ev.Type {
	case "qr":
		var code string
		if json.Unmarshal(ev.Payload, &code) == nil {
			c.emit(session.EventQR, code)
		}
	case "authenticated":
		c.emit(session.EventAuthenticated, nil)
	case "ready":
		c.emit(session.EventReady, nil)
	case "state":
		var state string
		if json.Unmarshal(ev.Payload, &state) != nil {
			return
		}
		switch session.ConnectionState(state) {
		case session.StateTimeout, session.StateConflict, session.StateUnpaired:
			c.emit(session.EventDisconnected, state)
		}
	case "message":
		var msg session.InboundMessage
		if json.Unmarshal(ev.Payload, &msg) == nil {
			c.emit(session.EventMessage, msg)
		}
	case "message_ack":
		var ack map[string]any
		if json.Unmarshal(ev.Payload, &ack) == nil {
			c.emit(session.EventMessageAck, ack)
		}
	default:
		logger.Tracef("session %s: unknown bridge event %q", c.opts.SessionID, ev.Type)
	}
}

// watch detects abnormal browser termination and fires the hook at most
// once. Graceful teardown paths set closed first and are never reported.
func (c *Client) watch() {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			browser, closed := c.browser, c.closed
			c.mu.Unlock()
			if closed || browser == nil {
				return
			}
			if _, err := browser.Version(); err != nil {
				c.fireTermination(fmt.Sprintf("browser unreachable: %v", err))
				return
			}
		}
	}
}

func (c *Client) fireTermination(reason string) {
	c.termOnce.Do(func() {
		c.stopPumps()
		c.mu.Lock()
		fn := c.term
		c.mu.Unlock()
		if fn != nil {
			fn(reason)
		}
	})
}

// surface adapts the client's browser internals to session.Surface.
type surface struct {
	client *Client
}

func (s *surface) IsClosed() bool {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.client.closed || s.client.page == nil
}

func (s *surface) Evaluate(ctx context.Context, probe string) (string, error) {
	page, err := s.client.currentPage()
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      fmt.Sprintf("() => String(%s)", probe),
		ByValue: true,
	})
	if err != nil {
		return "", err
	}
	return res.Value.String(), nil
}

func (s *surface) CloseGraceful(_ context.Context) error {
	s.client.stopPumps()

	s.client.mu.Lock()
	s.client.closed = true
	browser := s.client.browser
	s.client.page, s.client.browser = nil, nil
	s.client.mu.Unlock()

	if browser == nil {
		return nil
	}
	return browser.Close()
}

func (s *surface) Kill() error {
	s.client.stopPumps()

	s.client.mu.Lock()
	s.client.closed = true
	l := s.client.launch
	s.client.page, s.client.browser = nil, nil
	s.client.mu.Unlock()

	if l != nil {
		l.Kill()
	}
	return nil
}
