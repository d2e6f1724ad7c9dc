package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultReinitDelay = 5 * time.Second

var ErrNotReady = errors.New("session not ready")

// Controller owns the lifecycle of exactly one transport session. Event
// handlers are the only writers of the session state; workers and the HTTP
// layer read it through IsReady, Status and QRCode.
type Controller struct {
	factory       Factory
	credentialDir string
	reinitDelay   time.Duration
	log           zerolog.Logger

	// generation invalidates events and scheduled rebuilds from clients
	// that have already been replaced.
	generation atomic.Uint64
	initMu     sync.Mutex

	reinitMu    sync.Mutex
	reinitTimer *time.Timer
	reinitGen   uint64

	mu           sync.RWMutex
	phase        Phase
	rawChallenge string
	encodedCache string
	client       Client

	afterFn func(d time.Duration, f func()) *time.Timer
}

func NewController(factory Factory, credentialDir string, reinitDelay time.Duration, log zerolog.Logger) *Controller {
	if reinitDelay <= 0 {
		reinitDelay = defaultReinitDelay
	}
	return &Controller{
		factory:       factory,
		credentialDir: credentialDir,
		reinitDelay:   reinitDelay,
		log:           log.With().Str("component", "session").Logger(),
		phase:         PhaseInitializing,
		afterFn:       time.AfterFunc,
	}
}

// Initialize tears down any existing client, clears the persisted credential
// store and builds a fresh client. Idempotent; safe to call from the HTTP
// layer and from scheduled rebuilds. Errors are logged and returned for the
// caller's benefit but never crash the process.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.initialize(ctx, c.generation.Add(1))
}

func (c *Controller) initialize(ctx context.Context, gen uint64) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	// A newer Initialize won the race while this one waited for the lock.
	if c.generation.Load() != gen {
		return nil
	}

	c.mu.Lock()
	old := c.client
	c.client = nil
	c.phase = PhaseInitializing
	c.rawChallenge = ""
	c.encodedCache = ""
	c.mu.Unlock()

	if old != nil {
		if err := old.Destroy(); err != nil {
			c.log.Warn().Err(err).Msg("teardown of previous client failed")
		}
	}

	// Stale credentials from a half-torn-down session can deadlock
	// authentication, so the store is always rebuilt from scratch.
	if err := os.RemoveAll(c.credentialDir); err != nil {
		c.log.Warn().Err(err).Str("dir", c.credentialDir).Msg("failed to clear credential store")
	}

	client, err := c.factory.New(ctx, c.hooksFor(gen))
	if err != nil {
		c.log.Error().Err(err).Msg("client construction failed")
		c.markDisconnected(gen)
		c.scheduleReinit(gen)
		return fmt.Errorf("construct client: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		c.log.Error().Err(err).Msg("client start failed")
		c.markDisconnected(gen)
		c.scheduleReinit(gen)
		return fmt.Errorf("start client: %w", err)
	}

	c.log.Info().Msg("client initialized, waiting for session events")
	return nil
}

func (c *Controller) hooksFor(gen uint64) Hooks {
	return Hooks{
		Challenge:    func(raw string) { c.onChallenge(gen, raw) },
		Ready:        func() { c.onReady(gen) },
		Disconnected: func(reason string) { c.onDisconnected(gen, reason) },
		AuthFailure:  func(reason string) { c.onAuthFailure(gen, reason) },
	}
}

func (c *Controller) onChallenge(gen uint64, raw string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	c.phase = Transition(c.phase, EventChallenge)
	c.rawChallenge = raw
	c.encodedCache = ""
	c.log.Info().Msg("authentication challenge issued")
}

func (c *Controller) onReady(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	c.phase = Transition(c.phase, EventReady)
	c.rawChallenge = ""
	c.encodedCache = ""
	c.log.Info().Msg("session ready")
}

func (c *Controller) onDisconnected(gen uint64, reason string) {
	c.mu.Lock()
	if c.generation.Load() != gen {
		c.mu.Unlock()
		return
	}
	c.phase = Transition(c.phase, EventDisconnected)
	c.rawChallenge = ""
	c.encodedCache = ""
	c.mu.Unlock()

	c.log.Warn().Str("reason", reason).Msg("session disconnected")
	c.scheduleReinit(gen)
}

func (c *Controller) onAuthFailure(gen uint64, reason string) {
	c.mu.Lock()
	if c.generation.Load() != gen {
		c.mu.Unlock()
		return
	}
	c.phase = Transition(c.phase, EventAuthFailure)
	c.rawChallenge = ""
	c.encodedCache = ""
	c.mu.Unlock()

	c.log.Warn().Str("reason", reason).Msg("session authentication failed")
	c.scheduleReinit(gen)
}

func (c *Controller) markDisconnected(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	c.phase = PhaseDisconnected
}

// scheduleReinit arms a delayed rebuild for the given session generation.
// Handlers must return immediately, so the rebuild itself runs from the
// timer goroutine. Repeated triggers from the same session collapse into one
// timer; a trigger from a newer session supersedes the armed one, so a
// rebuild requested after a manual restart is never lost.
func (c *Controller) scheduleReinit(gen uint64) {
	c.reinitMu.Lock()
	defer c.reinitMu.Unlock()
	if c.reinitGen >= gen {
		return
	}
	if c.reinitTimer != nil {
		c.reinitTimer.Stop()
	}
	c.reinitGen = gen
	c.reinitTimer = c.afterFn(c.reinitDelay, func() { c.runScheduledReinit(gen) })
}

func (c *Controller) runScheduledReinit(gen uint64) {
	c.reinitMu.Lock()
	if c.reinitGen == gen {
		c.reinitGen = 0
		c.reinitTimer = nil
	}
	c.reinitMu.Unlock()

	if c.generation.Load() != gen {
		return
	}
	if err := c.Initialize(context.Background()); err != nil {
		c.log.Error().Err(err).Msg("scheduled reinitialization failed")
	}
}

func (c *Controller) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase == PhaseReady
}

func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Send delivers body through the current client. Returns ErrNotReady when no
// authenticated session is available.
func (c *Controller) Send(ctx context.Context, address string, body string) (string, error) {
	c.mu.RLock()
	client := c.client
	ready := c.phase == PhaseReady
	c.mu.RUnlock()

	if !ready || client == nil {
		return "", ErrNotReady
	}
	return client.Send(ctx, address, body)
}

// Close invalidates scheduled rebuilds and tears down the active client.
// Best-effort; used on process shutdown.
func (c *Controller) Close() {
	c.generation.Add(1)

	c.reinitMu.Lock()
	if c.reinitTimer != nil {
		c.reinitTimer.Stop()
	}
	c.reinitTimer = nil
	c.reinitGen = 0
	c.reinitMu.Unlock()

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.phase = PhaseDisconnected
	c.rawChallenge = ""
	c.encodedCache = ""
	c.mu.Unlock()

	if client != nil {
		if err := client.Destroy(); err != nil {
			c.log.Warn().Err(err).Msg("teardown on shutdown failed")
		}
	}
}
