package labelsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/gorilla/websocket"

	"github.com/skywatch-bsky/skywatch-automod/dedupe"
	"github.com/skywatch-bsky/skywatch-automod/mirror"
)

var (
	// StatusStopped is the state before Start and after Stop or attempt exhaustion.
	StatusStopped = "stopped"
	// StatusConnecting is the state while a dial is in flight.
	StatusConnecting = "connecting"
	// StatusConnected is the state with an open subscription socket.
	StatusConnected = "connected"
	// StatusDisconnected is the state between a socket drop and the next dial.
	StatusDisconnected = "disconnected"
)

var (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 10
)

// LabelStore is the slice of the mirror store the sync client writes
// through. Satisfied by *mirror.Store.
type LabelStore interface {
	BatchAddLabels(ctx context.Context, labels []mirror.Label) error
	NegateLabel(ctx context.Context, did string, atUri, labelValue *string, source string) (int64, error)
}

// Status is a point-in-time snapshot of the client state.
type Status struct {
	IsRunning         bool
	LastSeq           int64
	ReconnectAttempts int
	Connected         bool
}

// Client maintains a label subscription websocket against a labeler host and
// keeps the local mirror consistent with what the remote service emits,
// independent of locally-issued actions.
type Client struct {
	Host string
	// Scheme defaults to wss; ws is only useful against local test servers.
	Scheme string
	Logger *slog.Logger

	Mirror LabelStore
	Dedupe dedupe.Store

	// OnLabel, when set, is invoked for every decoded label event after the
	// mirror write, on the read-loop goroutine. Keep it cheap; hand off to a
	// queue for anything that talks to the network.
	OnLabel func(ctx context.Context, did string, evt LabelEvent)

	// Limiters, when set, throttle inbound event processing.
	Limiters []*slidingwindow.Limiter

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	UserAgent   string

	mu       sync.Mutex
	state    string
	lastSeq  int64
	attempts int
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewClient(host string, store LabelStore, dd dedupe.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Host:        host,
		Logger:      logger.With("system", "labelsync", "host", host),
		Mirror:      store,
		Dedupe:      dd,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		state:       StatusStopped,
	}
}

// SetCursor seeds the resume cursor. Only meaningful before Start.
func (c *Client) SetCursor(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeq = seq
}

// Status returns a snapshot of the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IsRunning:         c.state != StatusStopped,
		LastSeq:           c.lastSeq,
		ReconnectAttempts: c.attempts,
		Connected:         c.state == StatusConnected,
	}
}

// Start launches the subscription loop. No-op when already running.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StatusStopped {
		c.mu.Unlock()
		c.Logger.Debug("label sync already running, ignoring start")
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StatusConnecting
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Stop tears down the connection and waits for the loop to exit. Safe to
// call from any state.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.state = StatusStopped
	c.mu.Unlock()
	c.Logger.Info("label sync stopped")
}

func (c *Client) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	connStateGauge.WithLabelValues(c.Host).Set(map[string]float64{
		StatusStopped:      0,
		StatusConnecting:   1,
		StatusConnected:    2,
		StatusDisconnected: 3,
	}[s])
}

func (c *Client) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.setState(StatusStopped)
			return
		default:
		}

		c.setState(StatusConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StatusStopped)
				return
			}
			if c.scheduleRetry(ctx, err) {
				continue
			}
			return
		}

		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		c.setState(StatusConnected)
		reconnectCount.WithLabelValues(c.Host).Inc()
		c.Logger.Info("label subscription socket connected", "cursor", c.Status().LastSeq)

		// ReadMessage doesn't watch the context; close the socket to
		// unblock it on shutdown.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-watchDone:
			}
		}()

		err = c.readLoop(ctx, conn)
		close(watchDone)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.setState(StatusStopped)
			return
		}
		c.setState(StatusDisconnected)
		if !c.scheduleRetry(ctx, err) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.Host, Path: "/xrpc/com.atproto.label.subscribeLabels"}
	c.mu.Lock()
	cursor := c.lastSeq
	c.mu.Unlock()
	if cursor > 0 {
		q := u.Query()
		q.Set("cursor", fmt.Sprintf("%d", cursor))
		u.RawQuery = q.Encode()
	}

	hdr := http.Header{}
	if c.UserAgent != "" {
		hdr.Set("User-Agent", c.UserAgent)
	}

	c.Logger.Info("dialing label subscription socket", "url", u.String(), "cursor", cursor)
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		status := -1
		if res != nil {
			status = res.StatusCode
		}
		return nil, fmt.Errorf("dialing label subscription (status %d): %w", status, err)
	}
	return conn, nil
}

// scheduleRetry sleeps out the backoff for the current attempt. Returns
// false when attempts are exhausted or the context ended; the loop must
// then exit.
func (c *Client) scheduleRetry(ctx context.Context, cause error) bool {
	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	if attempt > c.MaxAttempts {
		c.setState(StatusStopped)
		c.Logger.Error("label sync reconnect attempts exhausted, stopping permanently",
			"attempts", attempt, "err", cause)
		return false
	}

	delay := c.backoff(attempt)
	c.Logger.Warn("label subscription socket lost, reconnecting",
		"err", cause, "attempt", attempt, "delay", delay)

	select {
	case <-ctx.Done():
		c.setState(StatusStopped)
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.BaseDelay << uint(attempt-1)
	if d > c.MaxDelay || d <= 0 {
		d = c.MaxDelay
	}
	return d + time.Duration(rand.Intn(1000))*time.Millisecond
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(ctx, data)
	}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	seq, events, err := decodeMessage(data)
	if err != nil {
		var ef *ErrorFrame
		if errors.As(err, &ef) {
			c.Logger.Warn("label stream sent error frame", "error", ef.ErrStr, "message", ef.Message)
		} else {
			c.Logger.Warn("dropping undecodable label message", "err", err, "size", len(data))
		}
		decodeFailCount.WithLabelValues(c.Host).Inc()
		return
	}

	if seq > 0 {
		c.mu.Lock()
		if seq > c.lastSeq {
			c.lastSeq = seq
		}
		c.mu.Unlock()
		cursorGauge.WithLabelValues(c.Host).Set(float64(seq))
	}

	var batch []mirror.Label
	for i := range events {
		evt := events[i]
		if !c.waitForLimiters(ctx) {
			return
		}
		labelsReceivedCount.WithLabelValues(c.Host).Inc()

		did := extractDID(evt.Uri)
		if did == "" {
			c.Logger.Warn("label event yields no DID, dropping", "uri", evt.Uri, "val", evt.Val)
			eventDropCount.WithLabelValues(c.Host, "no_did").Inc()
			continue
		}

		if evt.Neg {
			c.applyNegation(ctx, did, evt)
		} else if evt.Val != "" {
			atUri := ""
			if isPostURI(evt.Uri) {
				atUri = evt.Uri
			}
			batch = append(batch, mirror.Label{
				Did:        did,
				AtUri:      atUri,
				LabelValue: evt.Val,
				Source:     mirror.SourceOzone,
			})
		}

		if c.OnLabel != nil {
			c.OnLabel(ctx, did, evt)
		}
	}

	if len(batch) > 0 {
		if err := c.Mirror.BatchAddLabels(ctx, batch); err != nil {
			c.Logger.Error("mirroring label batch failed", "err", err, "count", len(batch))
			mirrorFailCount.WithLabelValues(c.Host, "batch_add").Inc()
		}
	}
}

// applyNegation flips the mirrored row and releases the matching dedupe
// claim so an escalation action on the same (did, label) can be reissued.
func (c *Client) applyNegation(ctx context.Context, did string, evt LabelEvent) {
	var atUri *string
	if isPostURI(evt.Uri) {
		atUri = &evt.Uri
	}
	var val *string
	if evt.Val != "" {
		val = &evt.Val
	}

	if _, err := c.Mirror.NegateLabel(ctx, did, atUri, val, mirror.SourceOzone); err != nil {
		c.Logger.Error("mirroring label negation failed", "err", err, "did", did, "val", evt.Val)
		mirrorFailCount.WithLabelValues(c.Host, "negate").Inc()
		return
	}

	if c.Dedupe != nil && evt.Val != "" && atUri == nil {
		if err := c.Dedupe.Release(ctx, dedupe.NSAccountLabel, dedupe.AccountKey(did, evt.Val)); err != nil {
			c.Logger.Warn("releasing dedupe claim failed", "err", err, "did", did, "val", evt.Val)
		}
	}
}

// waitForLimiters blocks until every configured inbound limiter admits one
// event. Returns false only on context cancellation.
func (c *Client) waitForLimiters(ctx context.Context) bool {
	for _, lim := range c.Limiters {
		for !lim.Allow() {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	return true
}

// NewInboundLimiters builds the per-second/hour/day sliding-window set used
// to bound how fast a single labeler can push events at us.
func NewInboundLimiters(perSec, perHour, perDay int64) []*slidingwindow.Limiter {
	windowFunc := func() (slidingwindow.Window, slidingwindow.StopFunc) {
		return slidingwindow.NewLocalWindow()
	}
	s, _ := slidingwindow.NewLimiter(time.Second, perSec, windowFunc)
	h, _ := slidingwindow.NewLimiter(time.Hour, perHour, windowFunc)
	d, _ := slidingwindow.NewLimiter(24*time.Hour, perDay, windowFunc)
	return []*slidingwindow.Limiter{s, h, d}
}
