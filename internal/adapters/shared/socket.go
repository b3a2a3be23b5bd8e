// Package shared holds the connection machinery common to all venue adapters.
package shared

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/observability"
)

// FeedState tracks the connection lifecycle of a Socket.
type FeedState int32

const (
	StateIdle FeedState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateBackoff
	StateDegraded
	StateClosed
)

func (s FeedState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultMaxBackoff   = 30 * time.Second
	defaultReadLimit    = 2 * 1024 * 1024
	initialDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// SocketConfig describes one long-lived venue connection.
type SocketConfig struct {
	// Exchange tags log lines and metrics.
	Exchange string
	// URL is the websocket endpoint; for Binance the subscription is encoded
	// in the path and SubscribeFrames may be nil.
	URL string
	// SubscribeFrames returns the frames to write after each (re)connect.
	// Called fresh on every connect so topic sets stay current.
	SubscribeFrames func() [][]byte
	// Handler consumes each data frame. Errors carrying CodeMalformed are
	// counted and skipped; CodeSubscriptionRejected marks the feed degraded.
	Handler func([]byte) error
	// Heartbeat, when non-nil, inspects a frame and reports whether it was a
	// venue heartbeat to consume. The returned payload, when non-empty, is
	// written back as the reply.
	Heartbeat func([]byte) (reply []byte, isHeartbeat bool)
	// PingInterval, when positive, sends KeepaliveFrame at this cadence.
	// Defaults to 30s when KeepaliveFrame is set.
	PingInterval time.Duration
	// KeepaliveFrame, when non-nil, produces the client keepalive payload.
	// Nil falls back to a websocket protocol ping.
	KeepaliveFrame func() []byte
	// MaxBackoff caps the reconnect delay. Default 30s.
	MaxBackoff time.Duration
	// FramePacing spaces consecutive subscribe frames. Zero disables pacing.
	FramePacing time.Duration
	// ReadLimit bounds inbound frame size. Default 2 MiB.
	ReadLimit int64
}

// Socket maintains one websocket connection through disconnects.
//
// Lifecycle: idle -> connecting -> subscribing -> streaming, looping through
// backoff on any transport failure until Stop. Transient errors are retried
// silently; a venue subscription rejection parks the feed in the degraded
// state, where it keeps retrying at the maximum backoff cadence.
type Socket struct {
	cfg SocketConfig

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	state     atomic.Int32
	malformed atomic.Uint64

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	reconnectCounter metric.Int64Counter
	malformedCounter metric.Int64Counter
}

// NewSocket builds a Socket; Start establishes the connection.
func NewSocket(ctx context.Context, cfg SocketConfig) *Socket {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	sockCtx, cancel := context.WithCancel(ctx)
	s := &Socket{
		cfg:    cfg,
		ctx:    sockCtx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))

	meter := otel.Meter("feed")
	s.reconnectCounter, _ = meter.Int64Counter("feed.reconnects",
		metric.WithDescription("Number of upstream reconnect attempts"),
		metric.WithUnit("{attempt}"))
	s.malformedCounter, _ = meter.Int64Counter("feed.malformed_frames",
		metric.WithDescription("Number of malformed upstream frames skipped"),
		metric.WithUnit("{frame}"))

	return s
}

// Start launches the connection loop and waits for the first successful
// connect. Failing to connect within the initial window is not fatal; the
// loop keeps retrying in the background.
func (s *Socket) Start() error {
	go func() {
		defer close(s.done)
		s.run()
	}()

	select {
	case <-s.ready:
		return nil
	case <-time.After(initialDialTimeout):
		observability.Log().Warn("initial connect still pending, retrying in background",
			observability.F("exchange", s.cfg.Exchange),
			observability.F("url", s.cfg.URL))
		return nil
	case <-s.ctx.Done():
		return errs.New(s.cfg.Exchange, errs.CodeTransient,
			errs.WithMessage("socket closed before connect"), errs.WithCause(s.ctx.Err()))
	}
}

// Stop terminates the connection and waits for the loop to exit.
func (s *Socket) Stop() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
	<-s.done
	s.state.Store(int32(StateClosed))
}

// State reports the current lifecycle state.
func (s *Socket) State() FeedState {
	return FeedState(s.state.Load())
}

// Done is closed once the connection loop has fully exited.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// MalformedFrames reports how many inbound frames failed to parse.
func (s *Socket) MalformedFrames() uint64 {
	return s.malformed.Load()
}

// Degraded reports whether the venue rejected the subscription.
func (s *Socket) Degraded() bool {
	return s.State() == StateDegraded
}

// run is the reconnect state machine. It only returns when the socket
// context is cancelled.
func (s *Socket) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = s.cfg.MaxBackoff

	degraded := false

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.state.Store(int32(StateConnecting))
		conn, _, err := websocket.Dial(s.ctx, s.cfg.URL, nil)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			observability.Log().Debug("dial failed",
				observability.F("exchange", s.cfg.Exchange),
				observability.F("url", s.cfg.URL),
				observability.F("error", err))
			if !s.sleepBackoff(bo, degraded) {
				return
			}
			continue
		}
		conn.SetReadLimit(s.cfg.ReadLimit)

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		s.state.Store(int32(StateSubscribing))
		if err := s.sendSubscribeFrames(conn); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			s.clearConn()
			if s.ctx.Err() != nil {
				return
			}
			observability.Log().Warn("subscribe failed",
				observability.F("exchange", s.cfg.Exchange),
				observability.F("error", err))
			if !s.sleepBackoff(bo, degraded) {
				return
			}
			continue
		}

		s.state.Store(int32(StateStreaming))
		s.readyOnce.Do(func() { close(s.ready) })
		bo.Reset()
		degraded = false

		err = s.session(conn)
		s.clearConn()
		if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
			return
		}
		if errs.CodeOf(err) == errs.CodeSubscriptionRejected {
			degraded = true
			s.state.Store(int32(StateDegraded))
			observability.Log().Warn("subscription rejected, feed degraded",
				observability.F("exchange", s.cfg.Exchange),
				observability.F("error", err))
		} else if err != nil {
			observability.Log().Debug("session ended",
				observability.F("exchange", s.cfg.Exchange),
				observability.F("error", err))
		}

		if s.reconnectCounter != nil {
			s.reconnectCounter.Add(s.ctx, 1, metric.WithAttributes(
				attribute.String("exchange", s.cfg.Exchange)))
		}
		if !s.sleepBackoff(bo, degraded) {
			return
		}
	}
}

// sleepBackoff waits out the next backoff window. A degraded feed retries at
// the maximum cadence instead of restarting the exponential ramp.
func (s *Socket) sleepBackoff(bo *backoff.ExponentialBackOff, degraded bool) bool {
	if degraded {
		s.state.Store(int32(StateDegraded))
	} else {
		s.state.Store(int32(StateBackoff))
	}
	sleep := bo.NextBackOff()
	if degraded {
		sleep = s.cfg.MaxBackoff
	}
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(sleep):
		return true
	}
}

func (s *Socket) clearConn() {
	s.connMu.Lock()
	s.conn = nil
	s.connMu.Unlock()
}

// sendSubscribeFrames writes the venue subscribe frames, pacing between them
// when the venue limits control-message rates.
func (s *Socket) sendSubscribeFrames(conn *websocket.Conn) error {
	if s.cfg.SubscribeFrames == nil {
		return nil
	}
	frames := s.cfg.SubscribeFrames()
	for i, frame := range frames {
		if i > 0 && s.cfg.FramePacing > 0 {
			select {
			case <-s.ctx.Done():
				return context.Canceled
			case <-time.After(s.cfg.FramePacing):
			}
		}
		if err := s.write(conn, frame); err != nil {
			return fmt.Errorf("write subscribe frame: %w", err)
		}
	}
	return nil
}

func (s *Socket) write(conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(s.ctx, defaultWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

// session runs the read loop alongside the keepalive loop and returns the
// first failure.
func (s *Socket) session(conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.readLoop(sessionCtx, conn)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.pingLoop(sessionCtx, conn)
	}()

	err := <-errCh
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	wg.Wait()
	return err
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return context.Canceled
			}
			return errs.New(s.cfg.Exchange, errs.CodeTransient,
				errs.WithMessage("read"), errs.WithCause(err))
		}
		if msgType != websocket.MessageText {
			continue
		}

		if s.cfg.Heartbeat != nil {
			if reply, ok := s.cfg.Heartbeat(data); ok {
				if len(reply) > 0 {
					if err := s.write(conn, reply); err != nil {
						return errs.New(s.cfg.Exchange, errs.CodeTransient,
							errs.WithMessage("write heartbeat reply"), errs.WithCause(err))
					}
				}
				continue
			}
		}

		if s.cfg.Handler == nil {
			continue
		}
		if err := s.cfg.Handler(data); err != nil {
			switch errs.CodeOf(err) {
			case errs.CodeMalformed:
				s.malformed.Add(1)
				if s.malformedCounter != nil {
					s.malformedCounter.Add(ctx, 1, metric.WithAttributes(
						attribute.String("exchange", s.cfg.Exchange)))
				}
				observability.Log().Warn("malformed frame skipped",
					observability.F("exchange", s.cfg.Exchange),
					observability.F("error", err))
			case errs.CodeSubscriptionRejected:
				return err
			default:
				observability.Log().Warn("frame handler error",
					observability.F("exchange", s.cfg.Exchange),
					observability.F("error", err))
			}
		}
	}
}

// pingLoop keeps the connection alive. Venues that expect an application
// frame get KeepaliveFrame; the rest get a protocol ping.
func (s *Socket) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			if s.cfg.KeepaliveFrame != nil {
				if err := s.write(conn, s.cfg.KeepaliveFrame()); err != nil {
					return errs.New(s.cfg.Exchange, errs.CodeTransient,
						errs.WithMessage("write keepalive"), errs.WithCause(err))
				}
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return context.Canceled
				}
				return errs.New(s.cfg.Exchange, errs.CodeTransient,
					errs.WithMessage("ping"), errs.WithCause(err))
			}
		}
	}
}
