// Package signal implements the call-control signaling channel: JSON-RPC 2.0
// over a WebSocket connection to the softphone gateway.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"connectrtc/internal/core/ports"
	apperrors "connectrtc/pkg/errors"
	"connectrtc/pkg/retry"
	"connectrtc/pkg/tracing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errChannelClosed = errors.New("signaling channel closed")

type Config struct {
	PingInterval   time.Duration // Zero disables keepalive
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // Zero waits for responses forever
	Retry          retry.Config
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 15 * time.Second,
		Retry:          retry.DefaultConfig(),
	}
}

// Factory creates one Channel per call.
type Factory struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ ports.SignalingFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (f *Factory) NewSignalingChannel(sc ports.SignalingConfig, listener ports.SignalingListener) ports.SignalingChannel {
	return &Channel{
		cfg:      f.cfg,
		sc:       sc,
		dialer:   f.dialer,
		listener: listener,
		pending:  make(map[int64]pendingCall),
		logger:   f.logger.Sugar().With("call_id", sc.CallID),
	}
}

type pendingCall struct {
	method string
	span   trace.Span
	timer  *time.Timer
}

// stop releases the call's timer and span.
func (p pendingCall) stop(err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	if err != nil {
		tracing.RecordError(trace.ContextWithSpan(context.Background(), p.span), err)
	}
	p.span.End()
}

// awaitsOutcome reports whether the session is blocked on this call.
func (p pendingCall) awaitsOutcome() bool {
	return p.method == methodInvite || p.method == methodAccept
}

// Channel is a JSON-RPC client for a single call. Connect, Invite and Hangup
// never block on the server; outcomes are delivered to the listener.
type Channel struct {
	cfg      Config
	sc       ports.SignalingConfig
	dialer   *websocket.Dialer
	listener ports.SignalingListener
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	ctx     context.Context
	conn    *websocket.Conn
	cancel  context.CancelFunc
	pending map[int64]pendingCall
	nextID  int64
	closed  bool

	writeMu sync.Mutex
}

var _ ports.SignalingChannel = (*Channel)(nil)

func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.ctx = ctx
	c.cancel = cancel
	c.mu.Unlock()

	go c.connect(ctx)
}

func (c *Channel) connect(ctx context.Context) {
	if expired, err := tokenExpired(c.sc.AuthToken, time.Now()); err != nil {
		c.logger.Debugw("auth token is not a JWT, skipping expiry check", "error", err)
	} else if expired {
		c.listener.OnFailed(apperrors.NewUnauthorizedError("auth token expired"))
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.sc.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := retry.Do(dialCtx, c.cfg.Retry, c.dial)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warnw("signaling connect failed", "endpoint", c.sc.Endpoint, "error", err)
		c.listener.OnFailed(classifyDialError(dialCtx, err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Infow("signaling connected",
		"endpoint", c.sc.Endpoint,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if c.cfg.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
			return nil
		})
		go c.keepalive(ctx, conn)
	}
	go c.readLoop(conn)

	c.listener.OnConnected()
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.sc.AuthToken != "" {
		header.Set("Authorization", "Bearer "+c.sc.AuthToken)
	}
	header.Set("X-Call-Id", string(c.sc.CallID))

	conn, resp, err := c.dialer.DialContext(ctx, c.sc.Endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, retry.Permanent(apperrors.NewUnauthorizedError("signaling endpoint rejected auth token").
				WithContext("status", resp.StatusCode))
		}
		return nil, err
	}
	return conn, nil
}

func classifyDialError(ctx context.Context, err error) error {
	if apperrors.GetAppError(err) != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.WrapError(err, apperrors.ErrCodeTimeout, "signaling connect timed out")
	}
	return apperrors.NewConnectionError(err, "signaling dial failed")
}

// tokenExpired reports whether token is a JWT whose exp claim has passed.
// The signature is not verified; the gateway does that.
func tokenExpired(token string, now time.Time) (bool, error) {
	if token == "" {
		return false, nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false, err
	}
	if claims.ExpiresAt == nil {
		return false, nil
	}
	return !claims.ExpiresAt.After(now), nil
}

func (c *Channel) Invite(sdp string, candidates []webrtc.ICECandidateInit) {
	params := inviteParams{CallID: string(c.sc.CallID), SDP: sdp, Candidates: candidates}
	if err := c.call(methodInvite, params); err != nil {
		c.listener.OnFailed(apperrors.NewConnectionError(err, "failed to send invite"))
	}
}

// Hangup sends bye without waiting for its response.
func (c *Channel) Hangup() {
	if err := c.call(methodBye, callParams{CallID: string(c.sc.CallID)}); err != nil {
		c.logger.Warnw("failed to send bye", "error", err)
	}
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	pending := c.pending
	c.pending = make(map[int64]pendingCall)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, p := range pending {
		p.stop(nil)
	}
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()

	return conn.Close()
}

func (c *Channel) call(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return errChannelClosed
	}
	conn := c.conn
	c.nextID++
	id := c.nextID
	_, span := tracing.TraceSignaling(c.ctx, method, string(c.sc.CallID))
	pc := pendingCall{method: method, span: span}
	if c.cfg.RequestTimeout > 0 {
		pc.timer = time.AfterFunc(c.cfg.RequestTimeout, func() { c.expire(id) })
	}
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.write(conn, &rpcMessage{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: raw}); err != nil {
		if p, ok := c.takePending(id); ok {
			p.stop(err)
		}
		return err
	}

	c.logger.Debugw("signaling request sent", "method", method, "id", id)
	return nil
}

func (c *Channel) takePending(id int64) (pendingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	return p, ok
}

// expire fails a request the server never answered.
func (c *Channel) expire(id int64) {
	p, ok := c.takePending(id)
	if !ok {
		return
	}
	err := apperrors.NewTimeoutError("no response to " + p.method).
		WithContext("timeout", c.cfg.RequestTimeout.String())
	p.stop(err)
	c.logger.Warnw("signaling request timed out", "method", p.method, "id", id)
	if p.awaitsOutcome() {
		c.listener.OnFailed(err)
	}
}

// abandonPending fails every outstanding request after the connection is lost.
func (c *Channel) abandonPending(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]pendingCall)
	c.mu.Unlock()

	err := apperrors.NewConnectionError(cause, "signaling connection lost")
	blocked := false
	for _, p := range pending {
		p.stop(err)
		blocked = blocked || p.awaitsOutcome()
	}
	if blocked {
		c.listener.OnFailed(err)
	}
}

func (c *Channel) write(conn *websocket.Conn, msg *rpcMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(msg)
}

func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Infow("error sending ping", "error", err)
				return
			}
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var msg rpcMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warnw("error reading signaling message", "error", err)
			}
			c.abandonPending(err)
			c.listener.OnDisconnected()
			return
		}

		if msg.isResponse() {
			c.handleResponse(&msg)
			continue
		}
		c.handleRequest(conn, &msg)
	}
}

func (c *Channel) handleResponse(msg *rpcMessage) {
	call, ok := c.takePending(*msg.ID)
	if !ok {
		c.logger.Warnw("response to unknown request", "id", *msg.ID)
		return
	}

	var rpcErr error
	if msg.Error != nil {
		rpcErr = apperrors.FromRPC(msg.Error.Code, msg.Error.Message).WithContext("method", call.method)
	}
	call.stop(rpcErr)

	switch call.method {
	case methodInvite:
		if rpcErr != nil {
			c.listener.OnFailed(rpcErr)
			return
		}
		var result inviteResult
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			c.listener.OnFailed(apperrors.WrapError(err, apperrors.ErrCodeProtocol, "malformed invite result"))
			return
		}
		c.listener.OnAnswered(result.SDP, result.Candidates)
		if err := c.call(methodAccept, callParams{CallID: string(c.sc.CallID)}); err != nil {
			c.listener.OnFailed(apperrors.NewConnectionError(err, "failed to send accept"))
		}
	case methodAccept:
		if rpcErr != nil {
			c.listener.OnFailed(rpcErr)
			return
		}
		c.listener.OnHandshaked()
	case methodBye:
		if rpcErr != nil {
			c.logger.Infow("bye rejected", "error", rpcErr)
		}
	}
}

func (c *Channel) handleRequest(conn *websocket.Conn, msg *rpcMessage) {
	switch msg.Method {
	case methodBye:
		var params callParams
		if len(msg.Params) > 0 {
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				c.reply(conn, msg, nil, &rpcError{Code: rpcInvalidParams, Message: err.Error()})
				return
			}
		}
		if params.CallID != "" && params.CallID != string(c.sc.CallID) {
			c.logger.Warnw("bye for another call", "target", params.CallID)
			c.reply(conn, msg, nil, &rpcError{Code: apperrors.RPCCodeNotFound, Message: "unknown call"})
			return
		}
		c.reply(conn, msg, struct{}{}, nil)
		c.listener.OnRemoteHungup()
	default:
		c.logger.Warnw("unknown signaling method", "method", msg.Method)
		c.reply(conn, msg, nil, &rpcError{Code: rpcMethodNotFound, Message: "method not found"})
	}
}

// reply answers a request. Notifications get no response.
func (c *Channel) reply(conn *websocket.Conn, req *rpcMessage, result interface{}, rpcErr *rpcError) {
	if req.ID == nil {
		return
	}
	resp := &rpcMessage{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			c.logger.Errorw("failed to encode response", "error", err)
			return
		}
		resp.Result = raw
	}
	if err := c.write(conn, resp); err != nil {
		c.logger.Warnw("failed to send response", "method", req.Method, "error", err)
	}
}
