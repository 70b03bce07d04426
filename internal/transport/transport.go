package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
)

// Handler consumes the payload of one inbound event.
type Handler func(data json.RawMessage)

// Poller is the request/response fallback channel.
type Poller interface {
	Do(ctx context.Context, cmd Command) (PollResponse, error)
}

type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	// Dialer is nil when the push channel is disabled.
	Dialer  Dialer
	Poller  Poller
	Session *domain.Session
	Logger  *slog.Logger

	ReconnectDelay time.Duration
	InitRetry      time.Duration
	DialTimeout    time.Duration
	AfterFunc      AfterFunc
}

// Transport prefers the push channel and falls back to polling whenever it
// is not connected.
type Transport struct {
	dialer  Dialer
	poller  Poller
	session *domain.Session
	log     *slog.Logger

	reconnectDelay time.Duration
	initRetry      time.Duration
	dialTimeout    time.Duration
	afterFunc      AfterFunc

	mu             sync.Mutex
	state          domain.ConnectionState
	conn           Conn
	closed         bool
	reconnectTimer Timer
	attempting     bool
	handlers       map[string]Handler
	onConnected    []func()
}

func New(opts Options) *Transport {
	t := &Transport{
		dialer:         opts.Dialer,
		poller:         opts.Poller,
		session:        opts.Session,
		log:            opts.Logger,
		reconnectDelay: opts.ReconnectDelay,
		initRetry:      opts.InitRetry,
		dialTimeout:    opts.DialTimeout,
		afterFunc:      opts.AfterFunc,
		state:          domain.ConnectionDisconnected,
		handlers:       make(map[string]Handler),
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.session == nil {
		t.session = &domain.Session{}
	}
	if t.reconnectDelay <= 0 {
		t.reconnectDelay = 5 * time.Second
	}
	if t.initRetry <= 0 {
		t.initRetry = time.Second
	}
	if t.dialTimeout <= 0 {
		t.dialTimeout = 10 * time.Second
	}
	if t.afterFunc == nil {
		t.afterFunc = realAfterFunc
	}
	return t
}

func (t *Transport) State() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnUpdate registers the handler for event, replacing any previous one.
func (t *Transport) OnUpdate(event string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == nil {
		delete(t.handlers, event)
		return
	}
	t.handlers[event] = h
}

// OnConnected registers fn to run after every successful push connect.
func (t *Transport) OnConnected(fn func()) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnected = append(t.onConnected, fn)
}

// Run waits for a session, connects and keeps the channel alive until ctx
// is done.
func (t *Transport) Run(ctx context.Context) error {
	if t.dialer == nil {
		t.setState(domain.ConnectionConnectedPoll)
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(t.initRetry)
	defer ticker.Stop()
	for {
		if _, ok := t.session.UserID(); ok {
			break
		}
		select {
		case <-ctx.Done():
			t.Close()
			return nil
		case <-ticker.C:
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	err := t.Connect(dialCtx)
	cancel()
	if err != nil {
		t.log.Warn("push connect failed", "err", err)
		t.scheduleReconnect()
	}

	<-ctx.Done()
	t.Close()
	return nil
}

// Connect dials the push channel and sends the join handshake. It is a
// no-op while a connection is up or being established.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.dialer == nil {
		t.state = domain.ConnectionConnectedPoll
		t.mu.Unlock()
		return nil
	}
	if t.closed || t.state == domain.ConnectionConnecting || t.state == domain.ConnectionConnectedPush {
		t.mu.Unlock()
		return nil
	}
	userID, ok := t.session.UserID()
	if !ok {
		t.mu.Unlock()
		return domain.ErrNoSession
	}
	t.state = domain.ConnectionConnecting
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx)
	if err != nil {
		t.mu.Lock()
		if !t.closed {
			t.state = domain.ConnectionConnectedPoll
		}
		t.mu.Unlock()
		return fmt.Errorf("push connect: %w", err)
	}

	join, _ := json.Marshal(UserPayload{UserID: userID})
	if err := conn.WriteEnvelope(Envelope{Event: CmdJoin, Data: join}); err != nil {
		_ = conn.Close()
		t.mu.Lock()
		if !t.closed {
			t.state = domain.ConnectionConnectedPoll
		}
		t.mu.Unlock()
		return fmt.Errorf("push join: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.conn = conn
	t.state = domain.ConnectionConnectedPush
	hooks := append([]func(){}, t.onConnected...)
	t.mu.Unlock()

	t.log.Info("push connected", "user_id", userID)
	go t.readLoop(conn)
	for _, fn := range hooks {
		t.safely("connected hook", fn)
	}
	return nil
}

func (t *Transport) readLoop(conn Conn) {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			t.handleDisconnect(conn, err)
			return
		}
		t.dispatch(env)
	}
}

func (t *Transport) handleDisconnect(conn Conn, cause error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	intentional := t.closed
	if !intentional {
		t.state = domain.ConnectionConnectedPoll
	}
	t.mu.Unlock()
	_ = conn.Close()

	if intentional {
		return
	}
	t.log.Warn("push disconnected", "err", cause)
	t.scheduleReconnect()
}

// scheduleReconnect arms a single reconnect timer, replacing any pending one.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.dialer == nil {
		return
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
	}
	t.reconnectTimer = t.afterFunc(t.reconnectDelay, t.attemptReconnect)
}

func (t *Transport) attemptReconnect() {
	t.mu.Lock()
	t.reconnectTimer = nil
	if t.closed || t.attempting ||
		t.state == domain.ConnectionConnecting || t.state == domain.ConnectionConnectedPush {
		t.mu.Unlock()
		return
	}
	t.attempting = true
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.dialTimeout)
	err := t.Connect(ctx)
	cancel()

	t.mu.Lock()
	t.attempting = false
	t.mu.Unlock()

	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrNoSession) {
		return
	}
	t.log.Warn("push reconnect failed", "err", err)
	t.scheduleReconnect()
}

// SendCommand emits cmd over push when connected, otherwise over the poll
// channel. A collection response from the poll channel is handed to the
// handler of the matching update event.
func (t *Transport) SendCommand(ctx context.Context, cmd Command) (Result, error) {
	t.mu.Lock()
	conn := t.conn
	pushUp := conn != nil && t.state == domain.ConnectionConnectedPush
	t.mu.Unlock()

	if pushUp {
		data, err := json.Marshal(cmd.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("encode %s: %w", cmd.Name, err)
		}
		err = conn.WriteEnvelope(Envelope{Event: cmd.Name, Data: data})
		if err == nil {
			return Result{Via: ViaPush, Success: true}, nil
		}
		t.log.Warn("push emit failed, falling back to poll", "command", cmd.Name, "err", err)
		_ = conn.Close()
	}

	if t.poller == nil {
		return Result{Via: ViaPoll}, domain.ErrUnavailable
	}
	resp, err := t.poller.Do(ctx, cmd)
	if err != nil {
		return Result{Via: ViaPoll}, err
	}
	if resp.Event != "" {
		t.dispatch(Envelope{Event: resp.Event, Data: resp.Body})
		return Result{Via: ViaPoll, Success: true}, nil
	}
	return Result{Via: ViaPoll, Success: resp.Success, Message: resp.Message}, nil
}

func (t *Transport) dispatch(env Envelope) {
	t.mu.Lock()
	h := t.handlers[env.Event]
	t.mu.Unlock()
	if h == nil {
		t.log.Debug("unhandled event", "event", env.Event)
		return
	}
	t.safely(env.Event, func() { h(env.Data) })
}

func (t *Transport) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			t.log.Error("handler panic", "event", what, "panic", rec)
		}
	}()
	fn()
}

// Close tears the push channel down intentionally; no reconnect follows.
func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	t.state = domain.ConnectionDisconnected
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (t *Transport) setState(s domain.ConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.state = s
	}
}
