package session

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a managed session.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusQR           Status = "qr"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// ConnectionState is the protocol-level state reported by the external
// client. StateConnected is the only terminal healthy state; a responsive
// browser can still be mid-handshake (pairing, QR pending).
type ConnectionState string

const (
	StateConnected ConnectionState = "CONNECTED"
	StateOpening   ConnectionState = "OPENING"
	StatePairing   ConnectionState = "PAIRING"
	StateUnpaired  ConnectionState = "UNPAIRED"
	StateTimeout   ConnectionState = "TIMEOUT"
	StateConflict  ConnectionState = "CONFLICT"
)

// EventCategory identifies one kind of lifecycle or message event surfaced
// by the external client.
type EventCategory string

const (
	EventQR            EventCategory = "qr"
	EventAuthenticated EventCategory = "authenticated"
	EventAuthFailure   EventCategory = "auth_failure"
	EventReady         EventCategory = "ready"
	EventDisconnected  EventCategory = "disconnected"
	EventMessage       EventCategory = "message"
	EventMessageAck    EventCategory = "message_ack"

	// EventMessageMedia is derived: emitted after an asynchronous attachment
	// fetch completes, out of order relative to other events.
	EventMessageMedia EventCategory = "message_media"
)

// BindableCategories are the categories the router subscribes to on the
// external client. Derived categories are excluded.
var BindableCategories = []EventCategory{
	EventQR,
	EventAuthenticated,
	EventAuthFailure,
	EventReady,
	EventDisconnected,
	EventMessage,
	EventMessageAck,
}

// Envelope is the immutable record built for every surfaced event.
type Envelope struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	Type      EventCategory `json:"type"`
	Payload   any           `json:"payload"`
	Timestamp time.Time     `json:"timestamp"`
}

// InboundMessage is the payload shape the router inspects for the
// message-category side effects.
type InboundMessage struct {
	Ref       string `json:"ref"`
	Chat      string `json:"chat"`
	From      string `json:"from"`
	Body      string `json:"body"`
	HasMedia  bool   `json:"hasMedia"`
	MediaSize int64  `json:"mediaSize"`
	MimeType  string `json:"mimeType,omitempty"`
}

// Attachment is the payload of a derived message_media envelope.
type Attachment struct {
	MessageRef string `json:"messageRef"`
	Chat       string `json:"chat"`
	MimeType   string `json:"mimeType"`
	Data       []byte `json:"data"`
}

// QRChallenge is a time-boxed pairing challenge.
type QRChallenge struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LivenessResult is the outcome of a Validator probe.
type LivenessResult struct {
	Success bool             `json:"success"`
	State   *ConnectionState `json:"state,omitempty"`
	Reason  string           `json:"reason"`
}

// Surface is the browser surface exposed by the external client.
type Surface interface {
	IsClosed() bool
	// Evaluate runs a probe expression in the browser and returns its
	// stringified result.
	Evaluate(ctx context.Context, probe string) (string, error)
	// CloseGraceful asks the browser to shut down cleanly.
	CloseGraceful(ctx context.Context) error
	// Kill force-terminates the underlying process.
	Kill() error
}

// Client is the external protocol client driving one remote connection.
type Client interface {
	// Initialize starts the browser-automation session. Listeners registered
	// via On before Initialize observe handshake events (QR, authenticated).
	Initialize(ctx context.Context) error
	ConnectionState(ctx context.Context) (ConnectionState, error)
	On(category EventCategory, fn func(payload any))
	// OnTermination registers a hook fired at most once when the browser
	// surface terminates abnormally.
	OnTermination(fn func(reason string))
	FetchAttachment(ctx context.Context, ref string) (Attachment, error)
	MarkSeen(ctx context.Context, chat string) error
	// Logout invalidates the remote credential state, then disconnects.
	Logout(ctx context.Context) error
	// Destroy tears the client down without invalidating stored credentials.
	Destroy(ctx context.Context) error
	Surface() Surface
}

// ClientOptions parameterizes client construction for one session.
type ClientOptions struct {
	SessionID   string
	DataDir     string
	BrowserPath string
	BrowserArgs []string
	Headless    bool
}

// ClientFactory builds a client for the given options.
type ClientFactory func(opts ClientOptions) Client

// Handle owns one external client instance.
type Handle struct {
	ID         string
	CreatedAt  time.Time
	WebhookURL string

	client Client

	mu     sync.Mutex
	status Status
	qr     *QRChallenge

	// recoveryOff detaches the crash-recovery hook; set by every teardown
	// path before touching the client to prevent double recovery.
	recoveryOff atomic.Bool
}

func newHandle(id string, client Client, webhookURL string) *Handle {
	return &Handle{
		ID:         id,
		CreatedAt:  time.Now(),
		WebhookURL: webhookURL,
		client:     client,
		status:     StatusStarting,
	}
}

// Client returns the owned external client.
func (h *Handle) Client() Client { return h.client }

// Status returns the current lifecycle status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// SetStatus updates the lifecycle status.
func (h *Handle) SetStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

// QR returns the current challenge, or nil when none is pending or the
// challenge expired.
func (h *Handle) QR() *QRChallenge {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.qr == nil || time.Now().After(h.qr.ExpiresAt) {
		return nil
	}
	qr := *h.qr
	return &qr
}

// SetQR replaces the pending challenge; nil clears it.
func (h *Handle) SetQR(qr *QRChallenge) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.qr = qr
}

// detachRecovery disables the crash-recovery hook for this handle.
func (h *Handle) detachRecovery() { h.recoveryOff.Store(true) }

// recoveryDetached reports whether recovery has been disabled.
func (h *Handle) recoveryDetached() bool { return h.recoveryOff.Load() }

// WebhookSink delivers envelopes to an HTTP target. Implementations own
// their retry and metrics; callers never wait on delivery.
type WebhookSink interface {
	Deliver(targetURL, sessionID string, category EventCategory, payload any) error
}

// RealtimeSink publishes envelopes to connected realtime clients.
type RealtimeSink interface {
	Publish(sessionID string, category EventCategory, payload any) error
	// Disconnect closes the realtime channel for a session during teardown.
	Disconnect(sessionID string)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id is safe to derive filesystem paths from.
func ValidID(id string) bool {
	return id != "" && idPattern.MatchString(id)
}
