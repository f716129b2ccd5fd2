package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wagate/server/internal/logger"
)

// gracefulCloseTimeout bounds the browser shutdown attempted by Reload
// before falling back to a process kill.
const gracefulCloseTimeout = 10 * time.Second

// disconnectWait bounds how long teardown paths wait for the protocol layer
// to report a non-connected state: ten one-second polls.
var disconnectWait = Policy{MaxAttempts: 10, Interval: time.Second}

// SetupResult is the structured outcome of Setup.
type SetupResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Handle  *Handle `json:"-"`
}

// SupervisorConfig wires the supervisor's collaborators.
type SupervisorConfig struct {
	Factory   ClientFactory
	Registry  *Registry
	Guard     *Guard
	Router    *Router
	Validator *Validator
	// Realtime is the channel stopped during destroy/delete; may be nil.
	Realtime RealtimeSink
	// ResolveWebhook maps a session id to its delivery target. Sessions
	// without a specific target get the resolver's default.
	ResolveWebhook func(id string) string

	BrowserPath      string
	BrowserArgs      []string
	Headless         bool
	ReleaseStaleLock bool
	RecoverOnCrash   bool
}

// Supervisor orchestrates session setup, restoration, liveness-driven
// teardown, and crash recovery.
type Supervisor struct {
	cfg SupervisorConfig
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Setup creates, initializes, and registers a session. It fails fast when
// the id is already loaded, without restarting the existing session. The
// handle is registered only after initialization succeeds; a failed
// initialization never leaves a registry entry, though it may leave an
// orphaned browser process (reaped by an operator-triggered Flush).
func (s *Supervisor) Setup(ctx context.Context, id string) (SetupResult, error) {
	if !ValidID(id) {
		return SetupResult{Success: false, Message: "invalid session id"}, ErrInvalidSessionID
	}

	if s.cfg.Registry.Get(id) != nil {
		return SetupResult{Success: false, Message: fmt.Sprintf("session %s already exists", id)}, nil
	}

	if err := s.cfg.Guard.EnsureRoot(); err != nil {
		return SetupResult{Success: false, Message: "storage unavailable"}, err
	}
	if s.cfg.ReleaseStaleLock {
		if err := s.cfg.Guard.CleanLock(id); err != nil {
			logger.Warnf("session %s: stale lock cleanup failed: %v", id, err)
		}
	}

	client := s.cfg.Factory(ClientOptions{
		SessionID:   id,
		DataDir:     s.cfg.Guard.Path(id),
		BrowserPath: s.cfg.BrowserPath,
		BrowserArgs: s.cfg.BrowserArgs,
		Headless:    s.cfg.Headless,
	})

	var webhookURL string
	if s.cfg.ResolveWebhook != nil {
		webhookURL = s.cfg.ResolveWebhook(id)
	}
	handle := newHandle(id, client, webhookURL)

	// Listeners attach before Initialize so handshake events (QR,
	// authenticated) reach the sinks.
	s.cfg.Router.Bind(handle, client)

	if s.cfg.RecoverOnCrash {
		client.OnTermination(func(reason string) {
			if handle.recoveryDetached() {
				return
			}
			handle.detachRecovery()
			logger.Warnf("session %s: browser terminated abnormally (%s), recovering", id, reason)
			go s.recover(handle)
		})
	}

	if err := client.Initialize(ctx); err != nil {
		handle.SetStatus(StatusFailed)
		return SetupResult{Success: false, Message: "initialization failed"},
			&InitError{ID: id, Err: err}
	}

	if !s.cfg.Registry.register(handle) {
		// Lost a setup race across the initialization await; keep the
		// registered handle and tear ours down.
		if err := client.Destroy(ctx); err != nil {
			logger.Warnf("session %s: discard after lost setup race: %v", id, err)
		}
		return SetupResult{Success: false, Message: fmt.Sprintf("session %s already exists", id)}, nil
	}

	logger.Infof("session %s: started (status %s)", id, handle.Status())
	return SetupResult{Success: true, Message: "session started", Handle: handle}, nil
}

// recover tears the crashed session down and re-runs Setup. The old handle
// leaves the registry strictly before the replacement registers.
func (s *Supervisor) recover(h *Handle) {
	s.cfg.Registry.remove(h.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.Client().Destroy(ctx); err != nil {
		logger.Debugf("session %s: destroy of crashed client: %v", h.ID, err)
	}

	if res, err := s.Setup(ctx, h.ID); err != nil {
		logger.Errorf("session %s: recovery setup failed: %v", h.ID, err)
	} else if !res.Success {
		logger.Warnf("session %s: recovery setup rejected: %s", h.ID, res.Message)
	}
}

// Restore scans the storage root for persisted session folders and sets
// each one up. A single session's failure does not abort the rest.
func (s *Supervisor) Restore(ctx context.Context) error {
	ids, err := s.cfg.Guard.List()
	if err != nil {
		return err
	}

	for _, id := range ids {
		res, err := s.Setup(ctx, id)
		switch {
		case err != nil:
			logger.Errorf("restore: session %s: %v", id, err)
		case !res.Success:
			logger.Warnf("restore: session %s: %s", id, res.Message)
		default:
			logger.Infof("restore: session %s restored", id)
		}
	}
	return nil
}

// Reload tears down the browser surface and re-runs Setup, preserving
// credentials. Used when the browser, not the account, is unhealthy.
func (s *Supervisor) Reload(ctx context.Context, id string) error {
	h := s.cfg.Registry.Get(id)
	if h == nil {
		res, err := s.Setup(ctx, id)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("reload %s: %s", id, res.Message)
		}
		return nil
	}

	h.detachRecovery()

	surface := h.Client().Surface()
	closeAttempt := Policy{MaxAttempts: 1, PerAttemptTimeout: gracefulCloseTimeout}
	if err := closeAttempt.Do(ctx, surface.CloseGraceful); err != nil {
		logger.Warnf("session %s: graceful close failed (%v), killing browser", id, err)
		if killErr := surface.Kill(); killErr != nil {
			logger.Errorf("session %s: browser kill failed: %v", id, killErr)
		}
	}

	s.cfg.Registry.remove(id)

	res, err := s.Setup(ctx, id)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("reload %s: %s", id, res.Message)
	}
	return nil
}

// Destroy tears the client down without invalidating stored credentials and
// leaves the folder untouched. Destroying an absent id is a no-op.
func (s *Supervisor) Destroy(ctx context.Context, id string) error {
	h := s.cfg.Registry.Get(id)
	if h == nil {
		return nil
	}

	h.detachRecovery()
	s.stopRealtime(id)

	err := h.Client().Destroy(ctx)
	s.awaitDisconnect(ctx, h)
	s.cfg.Registry.remove(id)
	return err
}

// Delete removes the session and its persisted credentials. When the
// liveness probe succeeded the remote credentials are invalidated via
// logout; a present-but-not-connected session gets a plain destroy instead,
// since logging out a never-connected session can error. Deleting an absent
// id only removes any leftover folder.
func (s *Supervisor) Delete(ctx context.Context, id string, liveness LivenessResult) error {
	var errs []error

	if h := s.cfg.Registry.Get(id); h != nil {
		h.detachRecovery()
		s.stopRealtime(id)

		if liveness.Success {
			if err := h.Client().Logout(ctx); err != nil {
				errs = append(errs, fmt.Errorf("logout: %w", err))
			}
		} else {
			if err := h.Client().Destroy(ctx); err != nil {
				errs = append(errs, fmt.Errorf("destroy: %w", err))
			}
		}

		// Folder removal stays behind this bounded wait so credentials are
		// never deleted for a session still mid-disconnect.
		s.awaitDisconnect(ctx, h)
		s.cfg.Registry.remove(id)
	}

	if err := s.cfg.Guard.Remove(id); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Flush enumerates all persisted folders — not just registry entries, to
// reap orphans from a prior crash — and deletes each unless onlyInactive is
// set and the session currently validates as live. Per-item failures are
// logged and do not abort the batch.
func (s *Supervisor) Flush(ctx context.Context, onlyInactive bool) error {
	ids, err := s.cfg.Guard.List()
	if err != nil {
		return err
	}

	for _, id := range ids {
		result := s.cfg.Validator.Check(ctx, id)
		if onlyInactive && result.Success {
			logger.Debugf("flush: session %s live, skipping", id)
			continue
		}
		if err := s.Delete(ctx, id, result); err != nil {
			logger.Errorf("flush: session %s: %v", id, err)
		} else {
			logger.Infof("flush: session %s removed (%s)", id, result.Reason)
		}
	}
	return nil
}

func (s *Supervisor) stopRealtime(id string) {
	if s.cfg.Realtime != nil {
		s.cfg.Realtime.Disconnect(id)
	}
}

// awaitDisconnect polls the protocol layer until it leaves the connected
// state. On timeout teardown proceeds regardless; the wait only delays it.
func (s *Supervisor) awaitDisconnect(ctx context.Context, h *Handle) {
	ok := disconnectWait.Poll(ctx, func(ctx context.Context) bool {
		stateCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		state, err := h.Client().ConnectionState(stateCtx)
		return err != nil || state != StateConnected
	})
	if !ok {
		logger.Warnf("session %s: disconnect wait exceeded, proceeding with teardown", h.ID)
	}
}
