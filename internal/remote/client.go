package remote

import (
	"context"
	"errors"
	"sync"
	"time"

	"debugbridge/internal/apperr"
	"debugbridge/internal/logging"
	"debugbridge/internal/metrics"
	"debugbridge/internal/protocol"

	"github.com/cenkalti/backoff/v4"
	"nhooyr.io/websocket"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Stats struct {
	URL        string          `json:"url"`
	State      ConnectionState `json:"state"`
	Connected  bool            `json:"connected"`
	RetryCount int             `json:"retry_count"`
	QueueLen   int             `json:"queue_len"`
}

type Option func(*Client)

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithAdmission(a Admission) Option {
	return func(c *Client) {
		if a != nil {
			c.admission = a
		}
	}
}

// Client owns the single connection to the remote process. It is safe for
// concurrent use.
type Client struct {
	cfg       Config
	logger    logging.Logger
	admission Admission
	now       func() time.Time

	// lifecycle serializes Connect, ConnectWithRetry and Disconnect.
	lifecycle sync.Mutex
	// rtMu allows one write/read round trip on the socket at a time.
	rtMu sync.Mutex

	mu          sync.Mutex
	sess        *session
	state       ConnectionState
	retryCount  int
	queue       []*BatchedRequest
	batchCancel context.CancelFunc
	batchDone   chan struct{}
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:       cfg.withDefaults(),
		logger:    logging.Discard(),
		admission: AllowAll{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		URL:        c.cfg.URL,
		State:      c.state,
		Connected:  c.state == Connected,
		RetryCount: c.retryCount,
		QueueLen:   len(c.queue),
	}
}

// Connect makes a single connection attempt. An existing connection and its
// batch task are torn down first.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.connectLocked(ctx)
}

// ConnectWithRetry dials up to MaxConnectAttempts times, sleeping
// ConnectDelay(n) after the n-th failure. No sleep follows the last attempt.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		err := c.connectLocked(ctx)
		if err != nil {
			lastErr = err
			c.mu.Lock()
			c.retryCount++
			c.mu.Unlock()
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("connect to remote failed, retrying",
			"url", c.cfg.URL, "attempt", attempts, "max_attempts", c.cfg.MaxConnectAttempts,
			"retry_in", wait, "err", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.connectBackOff(), uint64(c.cfg.MaxConnectAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil && lastErr == nil {
			return apperr.Connection("connect to %s cancelled", c.cfg.URL).Wrap(ctx.Err())
		}
		if ctx.Err() != nil {
			return apperr.Connection("connect to %s cancelled after %d attempts", c.cfg.URL, attempts).Wrap(lastErr)
		}
		c.logger.Error("giving up on remote", "url", c.cfg.URL, "attempts", attempts, "err", err)
		return apperr.Connection("connect to %s failed after %d attempts", c.cfg.URL, attempts).Wrap(lastErr)
	}
	return nil
}

func (c *Client) connectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ConnectDelay(1)
	b.MaxInterval = c.cfg.ConnectDelay(c.cfg.ConnectBackoffCap)
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.teardown(apperr.Connection("connection replaced"))

	c.mu.Lock()
	c.state = Connecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	metrics.RecordConnectAttempt(err == nil)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return apperr.Connection("dial %s", c.cfg.URL).Wrap(err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	sess := newSession(conn)
	batchCtx, batchCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.sess = sess
	c.state = Connected
	c.retryCount = 0
	c.batchCancel = batchCancel
	c.batchDone = done
	c.mu.Unlock()

	go sess.readLoop(c.sessionFailed)
	go c.runBatches(batchCtx, done)

	c.logger.Info("connected to remote", "url", c.cfg.URL)
	return nil
}

// Disconnect stops the batch task, waits for it to exit, closes the socket and
// fails queued requests. Calling it while disconnected is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if err := c.teardown(apperr.Connection("client disconnected")); err != nil {
		logging.FromContext(ctx).Debug("close remote socket", "err", err)
	}
	return nil
}

func (c *Client) teardown(reason error) error {
	c.mu.Lock()
	sess, cancel, done := c.sess, c.batchCancel, c.batchDone
	if sess == nil && cancel == nil && len(c.queue) == 0 {
		c.state = Disconnected
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	c.batchCancel, c.batchDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var closeErr error
	if sess != nil {
		closeErr = sess.close()
	}

	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.sess = nil
	c.state = Disconnected
	c.mu.Unlock()

	for _, br := range pending {
		br.deliver(nil, reason)
	}
	metrics.SetQueueDepth(0)
	if sess != nil {
		c.logger.Info("disconnected from remote", "url", c.cfg.URL, "failed_pending", len(pending))
	}
	return closeErr
}

// sessionFailed runs on the reader goroutine when the socket drops without a
// local close.
func (c *Client) sessionFailed(s *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s || c.state != Connected {
		return
	}
	c.state = Disconnected
	c.logger.Warn("remote connection lost", "url", c.cfg.URL, "err", err)
}

func (c *Client) activeSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected {
		return nil
	}
	return c.sess
}

// SendRequest performs one write/read round trip on the simple path. It does
// not retry.
func (c *Client) SendRequest(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	if !c.IsConnected() {
		metrics.RecordRemoteRequest("simple", req.Method, "connection_error", 0)
		return nil, apperr.Connection("not connected to %s", c.cfg.URL)
	}
	start := c.now()
	resp, err := c.roundTrip(ctx, req)
	metrics.RecordRemoteRequest("simple", req.Method, outcome(err), c.now().Sub(start))
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (*protocol.Response, error) {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	c.rtMu.Lock()
	defer c.rtMu.Unlock()

	sess := c.activeSession()
	if sess == nil {
		return nil, apperr.Connection("not connected to %s", c.cfg.URL)
	}
	if n := sess.drainStale(); n > 0 {
		c.logger.Debug("dropped stale responses", "count", n)
	}

	rtCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := sess.conn.Write(rtCtx, websocket.MessageText, data); err != nil {
		if ctxErr := waitError(ctx, rtCtx, req.Method, c.cfg.RequestTimeout); ctxErr != nil {
			return nil, ctxErr
		}
		c.sessionFailed(sess, err)
		return nil, apperr.Connection("write %s", req.Method).Wrap(err)
	}

	// Replies to requests that already gave up can still arrive; they are
	// dropped until the matching id shows up or the budget runs out.
	for {
		select {
		case msg := <-sess.inbox:
			resp, err := protocol.DecodeResponse(msg)
			if err != nil {
				return nil, err
			}
			if resp.ID != req.ID {
				c.logger.Debug("dropped stale response", "id", resp.ID, "waiting_for", req.ID, "method", req.Method)
				continue
			}
			return resp, nil
		case <-sess.closed:
			return nil, apperr.Connection("connection closed while waiting for %s", req.Method).Wrap(sess.err)
		case <-rtCtx.Done():
			return nil, waitError(ctx, rtCtx, req.Method, c.cfg.RequestTimeout)
		}
	}
}

// waitError maps an expired round trip to a kinded error: a cancelled caller
// is a connection error, any deadline is a timeout.
func waitError(parent, rtCtx context.Context, method string, limit time.Duration) error {
	if rtCtx.Err() == nil {
		return nil
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return apperr.Connection("%s cancelled", method).Wrap(parent.Err())
	}
	return apperr.Timeout("no response to %s within %s", method, limit).Wrap(rtCtx.Err())
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperr.KindOf(err)
}
