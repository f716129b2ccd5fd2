package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wagate/server/internal/logger"
)

// markSeenDelay spaces the read acknowledgment away from the inbound
// processing path so the two never race.
const markSeenDelay = time.Second

// attachmentFetchTimeout bounds one asynchronous media download.
const attachmentFetchTimeout = 30 * time.Second

// RouterConfig parameterizes envelope routing.
type RouterConfig struct {
	// EnabledEvents is the category gate, resolved once at construction.
	// Later configuration changes never affect already-bound sessions.
	EnabledEvents []string
	Webhook       WebhookSink
	Realtime      RealtimeSink
	MarkSeen      bool
	// AttachmentMaxBytes caps inbound attachment fetches; zero disables them.
	AttachmentMaxBytes int64
	QueueSize          int
}

type sinkBinding struct {
	name string
	send func(env Envelope, webhookURL string) error
}

type task struct {
	sessionID string
	name      string
	run       func() error
}

// Router binds exactly one listener per supported event category and fans
// envelopes out to the configured sinks. Sinks are fire-and-forget: a sink
// failure is logged here exactly once and never propagates back into the
// external client's event emission.
type Router struct {
	enabled  map[EventCategory]bool
	sinks    []sinkBinding
	markSeen bool
	mediaCap int64

	queue chan task

	// closing signals shutdown to producers. The queue channel itself is
	// never closed: listeners, attachment fetches, and delayed mark-seen
	// timers can outlive Close, and a send on a closed channel panics even
	// under select.
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewRouter creates a router and starts its dispatch worker.
func NewRouter(cfg RouterConfig) *Router {
	enabled := make(map[EventCategory]bool, len(cfg.EnabledEvents))
	for _, c := range cfg.EnabledEvents {
		enabled[EventCategory(c)] = true
	}

	var sinks []sinkBinding
	if cfg.Webhook != nil {
		wh := cfg.Webhook
		sinks = append(sinks, sinkBinding{
			name: "webhook",
			send: func(env Envelope, webhookURL string) error {
				if webhookURL == "" {
					return nil
				}
				return wh.Deliver(webhookURL, env.SessionID, env.Type, env.Payload)
			},
		})
	}
	if cfg.Realtime != nil {
		rtc := cfg.Realtime
		sinks = append(sinks, sinkBinding{
			name: "realtime",
			send: func(env Envelope, _ string) error {
				return rtc.Publish(env.SessionID, env.Type, env.Payload)
			},
		})
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	rt := &Router{
		enabled:  enabled,
		sinks:    sinks,
		markSeen: cfg.MarkSeen,
		mediaCap: cfg.AttachmentMaxBytes,
		queue:    make(chan task, size),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go rt.loop()
	return rt
}

// Close stops the dispatch worker. Queued tasks are drained first; events
// emitted after Close are dropped, never a panic.
func (rt *Router) Close() {
	rt.closeOnce.Do(func() {
		close(rt.closing)
		<-rt.done
	})
}

func (rt *Router) loop() {
	defer close(rt.done)
	for {
		select {
		case t := <-rt.queue:
			rt.runTask(t)
		case <-rt.closing:
			for {
				select {
				case t := <-rt.queue:
					rt.runTask(t)
				default:
					return
				}
			}
		}
	}
}

func (rt *Router) runTask(t task) {
	if err := t.run(); err != nil {
		logger.Warnf("session %s: %s failed: %v", t.sessionID, t.name, err)
	}
}

// enqueue hands a task to the dispatch worker without blocking the caller.
func (rt *Router) enqueue(t task) {
	select {
	case <-rt.closing:
		logger.Debugf("session %s: router closed, dropping %s", t.sessionID, t.name)
		return
	default:
	}
	select {
	case rt.queue <- t:
	case <-rt.closing:
		logger.Debugf("session %s: router closed, dropping %s", t.sessionID, t.name)
	default:
		// Never block the client's event emission; drop under overload.
		logger.Warnf("session %s: dispatch queue full, dropping %s", t.sessionID, t.name)
	}
}

// Bind installs one listener per supported category on the client. The
// gate was resolved at router construction and is not re-evaluated per
// event. Call before Client.Initialize so handshake events are observed.
func (rt *Router) Bind(h *Handle, client Client) {
	for _, category := range BindableCategories {
		cat := category
		client.On(cat, func(payload any) {
			rt.handleEvent(h, client, cat, payload)
		})
	}
}

func (rt *Router) handleEvent(h *Handle, client Client, cat EventCategory, payload any) {
	rt.trackStatus(h, cat, payload)

	if cat == EventMessage {
		if msg, ok := payload.(InboundMessage); ok {
			rt.messageSideEffects(h, client, msg)
		}
	}

	if !rt.enabled[cat] {
		return
	}
	rt.dispatch(newEnvelope(h.ID, cat, payload), h.WebhookURL)
}

// trackStatus mirrors lifecycle events onto the handle.
func (rt *Router) trackStatus(h *Handle, cat EventCategory, payload any) {
	switch cat {
	case EventQR:
		if code, ok := payload.(string); ok {
			now := time.Now()
			h.SetQR(&QRChallenge{Code: code, IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
		}
		h.SetStatus(StatusQR)
	case EventAuthenticated:
		h.SetQR(nil)
	case EventReady:
		h.SetQR(nil)
		h.SetStatus(StatusConnected)
	case EventAuthFailure:
		h.SetStatus(StatusFailed)
	case EventDisconnected:
		h.SetStatus(StatusDisconnected)
	}
}

// messageSideEffects runs the two non-suppressible inbound-message effects.
// Both run regardless of the category gate.
func (rt *Router) messageSideEffects(h *Handle, client Client, msg InboundMessage) {
	if msg.HasMedia && rt.mediaCap > 0 && msg.MediaSize < rt.mediaCap {
		rt.enqueue(task{
			sessionID: h.ID,
			name:      "attachment fetch",
			run: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), attachmentFetchTimeout)
				defer cancel()
				att, err := client.FetchAttachment(ctx, msg.Ref)
				if err != nil {
					return err
				}
				rt.dispatch(newEnvelope(h.ID, EventMessageMedia, att), h.WebhookURL)
				return nil
			},
		})
	}

	if rt.markSeen {
		chat := msg.Chat
		time.AfterFunc(markSeenDelay, func() {
			rt.enqueue(task{
				sessionID: h.ID,
				name:      "mark seen",
				run: func() error {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return client.MarkSeen(ctx, chat)
				},
			})
		})
	}
}

// dispatch offers an envelope to every configured sink without waiting for
// completion.
func (rt *Router) dispatch(env Envelope, webhookURL string) {
	for _, sink := range rt.sinks {
		s := sink
		rt.enqueue(task{
			sessionID: env.SessionID,
			name:      s.name + " delivery",
			run:       func() error { return s.send(env, webhookURL) },
		})
	}
}

func newEnvelope(sessionID string, cat EventCategory, payload any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      cat,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
