package session

import (
	"context"
	"errors"
	"sync"
)

type fakeSurface struct {
	mu             sync.Mutex
	closed         bool
	evalErr        error
	evalHang       bool
	closeErr       error
	gracefulCloses int
	kills          int
}

func (s *fakeSurface) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSurface) Evaluate(ctx context.Context, _ string) (string, error) {
	s.mu.Lock()
	hang, err := s.evalHang, s.evalErr
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return "2", nil
}

func (s *fakeSurface) CloseGraceful(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gracefulCloses++
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closed = true
	return nil
}

func (s *fakeSurface) Kill() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kills++
	s.closed = true
	return nil
}

type fakeClient struct {
	opts    ClientOptions
	surface *fakeSurface

	mu          sync.Mutex
	state       ConnectionState
	stateErr    error
	stateHang   bool
	initErr     error
	inits       int
	logouts     int
	destroys    int
	listeners   map[EventCategory][]func(any)
	term        func(string)
	attachment  Attachment
	fetchErr    error
	markedSeen  []string
	logoutErr   error
}

func newFakeClient(opts ClientOptions) *fakeClient {
	return &fakeClient{
		opts:      opts,
		surface:   &fakeSurface{},
		state:     StateConnected,
		listeners: make(map[EventCategory][]func(any)),
	}
}

func (c *fakeClient) Initialize(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	return c.initErr
}

func (c *fakeClient) ConnectionState(ctx context.Context) (ConnectionState, error) {
	c.mu.Lock()
	hang := c.stateHang
	state, err := c.state, c.stateErr
	c.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return state, err
}

func (c *fakeClient) setState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeClient) On(cat EventCategory, fn func(payload any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[cat] = append(c.listeners[cat], fn)
}

func (c *fakeClient) OnTermination(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.term = fn
}

func (c *fakeClient) FetchAttachment(_ context.Context, ref string) (Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return Attachment{}, c.fetchErr
	}
	att := c.attachment
	att.MessageRef = ref
	return att, nil
}

func (c *fakeClient) MarkSeen(_ context.Context, chat string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markedSeen = append(c.markedSeen, chat)
	return nil
}

func (c *fakeClient) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	if c.logoutErr != nil {
		return c.logoutErr
	}
	c.state = StateUnpaired
	return nil
}

func (c *fakeClient) Destroy(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroys++
	c.state = StateUnpaired
	return nil
}

func (c *fakeClient) Surface() Surface { return c.surface }

// fire invokes every listener bound to cat, mimicking the external client's
// synchronous event emission.
func (c *fakeClient) fire(cat EventCategory, payload any) {
	c.mu.Lock()
	fns := append([]func(any){}, c.listeners[cat]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

// crash triggers the abnormal-termination hook, if registered.
func (c *fakeClient) crash(reason string) {
	c.mu.Lock()
	fn := c.term
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (c *fakeClient) counts() (inits, logouts, destroys int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits, c.logouts, c.destroys
}

// fakeFactory records every client it builds, in creation order.
type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	// prepare customizes a client before it is returned.
	prepare func(*fakeClient)
}

func (f *fakeFactory) new(opts ClientOptions) Client {
	c := newFakeClient(opts)
	f.mu.Lock()
	if f.prepare != nil {
		f.prepare(c)
	}
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c
}

func (f *fakeFactory) created() []*fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeClient{}, f.clients...)
}

type webhookCall struct {
	URL       string
	SessionID string
	Category  EventCategory
	Payload   any
}

type recordingWebhook struct {
	mu    sync.Mutex
	calls []webhookCall
	err   error
}

func (w *recordingWebhook) Deliver(targetURL, sessionID string, category EventCategory, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, webhookCall{targetURL, sessionID, category, payload})
	return w.err
}

func (w *recordingWebhook) recorded() []webhookCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]webhookCall{}, w.calls...)
}

type realtimeCall struct {
	SessionID string
	Category  EventCategory
	Payload   any
}

type recordingRealtime struct {
	mu          sync.Mutex
	calls       []realtimeCall
	disconnects []string
}

func (r *recordingRealtime) Publish(sessionID string, category EventCategory, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, realtimeCall{sessionID, category, payload})
	return nil
}

func (r *recordingRealtime) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, sessionID)
}

func (r *recordingRealtime) recorded() []realtimeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtimeCall{}, r.calls...)
}

func (r *recordingRealtime) disconnected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.disconnects...)
}

var errBoom = errors.New("boom")
