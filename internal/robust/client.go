// Package robust turns the synchronous DLMS session client into a
// self-healing component: connect retries with backoff, forced-RST socket
// teardown, buffer hygiene, and sequence reset after protocol errors.
package robust

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dlmsbridge/bridge/internal/dlms"
	"github.com/dlmsbridge/bridge/internal/logger"
	"github.com/dlmsbridge/bridge/internal/obis"
	"github.com/dlmsbridge/bridge/internal/register"
)

// State is the robust client's connection state machine position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the subset of *dlms.Client the robust wrapper drives directly,
// kept as an interface so tests can substitute a fake transport.
type Session interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ForceClose() error
	GetRegister(ctx context.Context, code obis.Code, attr byte) (dlms.Value, error)
}

// Config parameterizes the connect-retry policy.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	SettlePause   time.Duration // paused before the very first connect attempt
}

// ApplyDefaults fills zero-valued fields with spec.md §4.4's defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.SettlePause <= 0 {
		c.SettlePause = 500 * time.Millisecond
	}
}

// Client wraps a register.Reader (itself wrapping a dlms.Client) with
// reconnect and cache-invalidation behavior.
type Client struct {
	cfg     Config
	session Session
	reader  *register.Reader

	mu        sync.Mutex
	state     State
	firstConn bool
}

// New wraps session (and the register.Reader built on top of it) with the
// robust-client policy described by cfg.
func New(session Session, cfg Config) *Client {
	cfg.ApplyDefaults()
	return &Client{
		cfg:     cfg,
		session: session,
		reader:  register.New(session),
		state:   StateDisconnected,
	}
}

// Reader exposes the scaler-caching reader for the worker to poll through.
func (c *Client) Reader() *register.Reader { return c.reader }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect forces any prior socket closed with a TCP RST, then retries the
// session handshake up to cfg.MaxAttempts times with a light exponential
// backoff (BaseDelay, then 1.5x longer per attempt). On first-ever connect it
// waits SettlePause first so the peer can stabilize after power-up.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	_ = c.session.ForceClose()
	c.reader.ClearCache()

	if !c.firstConn {
		c.firstConn = true
		select {
		case <-time.After(c.cfg.SettlePause):
		case <-ctx.Done():
			c.setState(StateError)
			return ctx.Err()
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.BaseDelay
	eb.Multiplier = 1.5
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := c.session.Connect(ctx); err != nil {
			logger.Warn("dlms connect attempt failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, b)

	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("robust: connect exhausted %d attempts: %w", c.cfg.MaxAttempts, err)
	}

	c.setState(StateConnected)
	return nil
}

// Disconnect performs a clean DISC/UA teardown and returns to Disconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.session.Disconnect(ctx)
	c.setState(StateDisconnected)
	return err
}

// isTransient reports whether err is a read error that the recovery policy
// treats as reconnect-worthy rather than fatal-to-cycle.
func isTransient(err error) bool {
	return errors.Is(err, dlms.ErrSequenceMismatch) ||
		errors.Is(err, dlms.ErrInvokeIDMismatch) ||
		errors.Is(err, dlms.ErrTimeout) ||
		errors.Is(err, dlms.ErrConnectionClosed) ||
		dlms.IsHDLCClass(err)
}

// ReadRegister reads one OBIS code through the scaler cache, applying one
// level of forced-reconnect retry when the first attempt fails with a
// transient error (spec.md §4.4's read_register contract).
func (c *Client) ReadRegister(ctx context.Context, code obis.Code, retries int) (register.Reading, error) {
	reading, err := c.reader.ReadOptimized(ctx, code)
	if err == nil {
		return reading, nil
	}
	if retries <= 0 || !isTransient(err) {
		c.setState(StateError)
		return register.Reading{}, err
	}

	logger.Warn("transient read error, forcing reconnect", "obis", code.Short(), "error", err)
	if connErr := c.Connect(ctx); connErr != nil {
		return register.Reading{}, fmt.Errorf("robust: reconnect after %w: %v", err, connErr)
	}

	return c.reader.ReadOptimized(ctx, code)
}

// IsTransient reports whether err is the class of error ReadRegister would
// itself retry for, exposed so the worker's watchdog can classify failures
// consistently.
func IsTransient(err error) bool { return isTransient(err) }
