package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-token-feed/internal/observability"
)

// Close codes some providers use to reject a key.
const (
	closeCodeUnauthorized = 4001
	closeCodeForbidden    = 4003
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts caps consecutive failed reconnects. 0 means unlimited.
	MaxReconnectAttempts int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. Pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription acknowledgement.
	SubscribeTimeout time.Duration
	// Header is sent with the handshake (e.g. API key headers).
	Header http.Header

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		SubscribeTimeout:     30 * time.Second,
	}
}

// WSClientImpl implements WSClient using gorilla/websocket.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	logger   *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// routes maps the subscription ID of the current connection to its
	// subscription. It is rebuilt from scratch on every reconnect.
	routes map[int64]*subscription
	// subs holds every acknowledged subscription across reconnects.
	subs   []*subscription
	subsMu sync.RWMutex

	// pendingSubs maps request ID to a subscribe call waiting for its ack
	pendingSubs   map[uint64]pendingSub
	pendingSubsMu sync.Mutex

	fatal     chan error
	fatalOnce sync.Once

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup
}

type subscribeResult struct {
	id  int64
	err error
}

type subscription struct {
	filter     LogsFilter
	ch         chan LogNotification
	registered bool
}

type pendingSub struct {
	res chan subscribeResult
	sub *subscription
}

var _ WSClient = (*WSClientImpl)(nil)

// NewWSClient creates a new WebSocket client and connects to the endpoint.
// A failed first dial is retried with the reconnect backoff. Only an
// authentication rejection, an exhausted attempt budget or ctx ending make
// it return an error.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger.Named("ws"),
		routes:      make(map[int64]*subscription),
		pendingSubs: make(map[uint64]pendingSub),
		fatal:       make(chan error, 1),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		if errors.Is(err, ErrAuthentication) {
			return nil, err
		}
		c.logger.Warn("websocket dial failed, retrying", zap.Error(err))
		if err := c.redial(ctx); err != nil {
			return nil, err
		}
	}
	c.config.Metrics.SetConnected(true)

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.endpoint, c.config.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake status %d", ErrAuthentication, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}
	if c.closed.Load() {
		conn.Close()
		return ErrClosed
	}

	readTimeout := c.config.ReadTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.conn = conn
	return nil
}

// Fatal delivers a terminal error once.
func (c *WSClientImpl) Fatal() <-chan error {
	return c.fatal
}

func (c *WSClientImpl) fail(err error) {
	c.fatalOnce.Do(func() {
		c.config.Metrics.SetConnected(false)
		c.logger.Error("websocket subscription terminated", zap.Error(err))
		c.fatal <- err
	})
}

// SubscribeLogs subscribes to program logs matching the filter.
func (c *WSClientImpl) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	// Blocking send ensures no event loss; buffer absorbs burst
	sub := &subscription{filter: filter, ch: make(chan LogNotification, 10000)}
	if _, err := c.subscribe(ctx, sub); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// subscribe sends logsSubscribe and waits for the acknowledgement. The route
// for sub is installed by the reader when the ack arrives, before any later
// message on the connection is dispatched.
func (c *WSClientImpl) subscribe(ctx context.Context, sub *subscription) (int64, error) {
	filter := sub.filter
	if c.closed.Load() {
		return 0, ErrClosed
	}

	reqID := c.requestID.Add(1)

	mentionsFilter := make(map[string]interface{})
	if len(filter.Mentions) > 0 {
		mentionsFilter["mentions"] = filter.Mentions
	} else {
		mentionsFilter["all"] = nil
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			mentionsFilter,
			map[string]string{"commitment": "confirmed"},
		},
	}

	confirmCh := make(chan subscribeResult, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = pendingSub{res: confirmCh, sub: sub}
	c.pendingSubsMu.Unlock()

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		c.dropPending(reqID)
		return 0, fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		c.dropPending(reqID)
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-confirmCh:
		if !ok {
			return 0, ErrClosed
		}
		return res.id, res.err
	case <-timer.C:
		c.dropPending(reqID)
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		c.dropPending(reqID)
		return 0, ctx.Err()
	}
}

func (c *WSClientImpl) dropPending(reqID uint64) {
	c.pendingSubsMu.Lock()
	delete(c.pendingSubs, reqID)
	c.pendingSubsMu.Unlock()
}

// Close closes the WebSocket connection.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	// Close all subscription channels
	c.subsMu.Lock()
	for _, sub := range c.subs {
		close(sub.ch)
	}
	c.subs = nil
	c.routes = make(map[int64]*subscription)
	c.subsMu.Unlock()

	// Close pending subscription channels
	c.pendingSubsMu.Lock()
	for id, p := range c.pendingSubs {
		close(p.res)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.config.Metrics.SetConnected(false)
	return nil
}

// readLoop reads messages from WebSocket and dispatches to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if isAuthClose(err) {
				c.fail(fmt.Errorf("%w: %v", ErrAuthentication, err))
				return
			}

			c.logger.Warn("websocket read failed, reconnecting", zap.Error(err))
			if !c.reconnect() {
				return
			}
			continue
		}

		if err := c.handleMessage(message); err != nil {
			c.fail(err)
			return
		}
	}
}

// reconnect redials with exponential backoff until it succeeds, the attempt
// budget runs out, or the endpoint rejects authentication. Subscriptions are
// re-issued from scratch on the new connection.
func (c *WSClientImpl) reconnect() bool {
	c.config.Metrics.SetConnected(false)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if err := c.redial(context.Background()); err != nil {
		if !errors.Is(err, ErrClosed) {
			c.fail(err)
		}
		return false
	}
	c.config.Metrics.SetConnected(true)

	// Old IDs mean nothing on the new connection; drop them before the
	// reader sees its first message.
	c.subsMu.Lock()
	subs := append([]*subscription(nil), c.subs...)
	c.routes = make(map[int64]*subscription, len(subs))
	c.subsMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.resubscribeAll(subs)
	}()
	return true
}

// redial waits ReconnectDelay, doubling up to MaxReconnectDelay, between
// dial attempts. It returns nil once connected.
func (c *WSClientImpl) redial(ctx context.Context) error {
	delay := c.config.ReconnectDelay
	for attempt := 0; ; attempt++ {
		if c.config.MaxReconnectAttempts > 0 && attempt >= c.config.MaxReconnectAttempts {
			return fmt.Errorf("%w: %d attempts", ErrMaxReconnectAttempts, attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return ErrClosed
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		c.config.Metrics.RecordReconnect()
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := c.connect(dialCtx)
		cancel()

		if err == nil {
			c.logger.Info("websocket connected", zap.Int("attempt", attempt+1))
			return nil
		}
		if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrClosed) {
			return err
		}

		c.logger.Warn("websocket dial failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		// Exponential backoff
		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// resubscribeAll re-issues subs on the current connection. A failed
// subscription stays registered and is retried on the next reconnect.
func (c *WSClientImpl) resubscribeAll(subs []*subscription) {
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		_, err := c.subscribe(ctx, sub)
		cancel()

		if err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("resubscribe failed",
				zap.Strings("mentions", sub.filter.Mentions),
				zap.Error(err))
		}
	}
}

// handleMessage processes incoming WebSocket message.
// A non-nil error is terminal.
func (c *WSClientImpl) handleMessage(message []byte) error {
	// Try to parse as subscription response first
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.deliverPending(resp.ID, subscribeResult{id: resp.Result})
		return nil
	}

	// Try to parse as notification
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "logsNotification" {
		c.handleLogsNotification(&notif)
		return nil
	}

	// Check for error response
	var errResp wsErrorResponse
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.logger.Warn("error response",
			zap.Uint64("id", errResp.ID),
			zap.Int("code", errResp.Error.Code),
			zap.String("message", errResp.Error.Message))

		if isAuthMessage(errResp.Error.Message) {
			authErr := fmt.Errorf("%w: %s", ErrAuthentication, errResp.Error.Message)
			c.deliverPending(errResp.ID, subscribeResult{err: authErr})
			return authErr
		}
		c.deliverPending(errResp.ID, subscribeResult{
			err: fmt.Errorf("subscribe rejected: code=%d msg=%s", errResp.Error.Code, errResp.Error.Message),
		})
	}
	return nil
}

func (c *WSClientImpl) deliverPending(reqID uint64, res subscribeResult) {
	c.pendingSubsMu.Lock()
	p, ok := c.pendingSubs[reqID]
	if ok {
		delete(c.pendingSubs, reqID)
	}
	c.pendingSubsMu.Unlock()

	if !ok {
		return
	}
	if res.err == nil && p.sub != nil {
		c.subsMu.Lock()
		c.routes[res.id] = p.sub
		if !p.sub.registered {
			p.sub.registered = true
			c.subs = append(c.subs, p.sub)
		}
		c.subsMu.Unlock()
	}
	select {
	case p.res <- res:
	default:
	}
}

// handleLogsNotification dispatches log notification to subscriber.
func (c *WSClientImpl) handleLogsNotification(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	subID := notif.Params.Subscription
	value := notif.Params.Result.Value

	logNotif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}

	// Get slot from context if available
	if notif.Params.Result.Context != nil {
		logNotif.Slot = notif.Params.Result.Context.Slot
	}

	c.subsMu.RLock()
	sub, ok := c.routes[subID]
	c.subsMu.RUnlock()

	if ok {
		// Block until we can send - never drop events
		select {
		case sub.ch <- logNotif:
		case <-c.done:
			return
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClientImpl) pingLoop() {
	defer c.wg.Done()

	if c.config.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				deadline := time.Now().Add(c.config.WriteTimeout)
				if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					// Reader notices the dead connection and reconnects
					c.logger.Debug("ping failed", zap.Error(err))
				}
			}
			c.connMu.Unlock()
		}
	}
}

func isAuthClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.ClosePolicyViolation, closeCodeUnauthorized, closeCodeForbidden:
		return true
	}
	return false
}

func isAuthMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "unauthorized") ||
		strings.Contains(m, "invalid api key") ||
		strings.Contains(m, "forbidden")
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsErrorResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      uint64   `json:"id"`
	Error   *wsError `json:"error"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string      `json:"signature"`
	Logs      []string    `json:"logs"`
	Err       interface{} `json:"err"`
}
