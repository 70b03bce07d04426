package hostbridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	IdentityRetry = 2 * time.Second
	writeWait     = 5 * time.Second
)

type Options struct {
	Session   *domain.Session
	Logger    *slog.Logger
	AfterFunc func(time.Duration, func())
}

// Bridge serves the host WebSocket and fans decoded messages out to the
// registered handlers.
type Bridge struct {
	session   *domain.Session
	log       *slog.Logger
	afterFunc func(time.Duration, func())
	upgrader  websocket.Upgrader

	mu           sync.RWMutex
	hosts        map[*hostConn]struct{}
	closed       bool
	onVisibility func(Visibility)
	onIdentity   func(string)
	onPosition   func(Position)
	onWallet     func(Wallet)
}

type hostConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *hostConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func New(opts Options) *Bridge {
	b := &Bridge{
		session:   opts.Session,
		log:       opts.Logger,
		afterFunc: opts.AfterFunc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hosts: make(map[*hostConn]struct{}),
	}
	if b.session == nil {
		b.session = &domain.Session{}
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	if b.afterFunc == nil {
		b.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return b
}

func (b *Bridge) OnVisibility(fn func(Visibility)) { b.set(func() { b.onVisibility = fn }) }

// OnIdentity runs once, when the first identity is accepted.
func (b *Bridge) OnIdentity(fn func(userID string)) { b.set(func() { b.onIdentity = fn }) }
func (b *Bridge) OnPosition(fn func(Position))      { b.set(func() { b.onPosition = fn }) }
func (b *Bridge) OnWallet(fn func(Wallet))          { b.set(func() { b.onWallet = fn }) }

func (b *Bridge) set(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		http.Error(w, "host bridge closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("host upgrade failed", "err", err)
		return
	}
	hc := &hostConn{ws: ws}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ws.Close()
		return
	}
	b.hosts[hc] = struct{}{}
	b.mu.Unlock()
	b.log.Info("host connected", "remote", r.RemoteAddr)

	b.requestIdentity()
	_ = b.Send(GetData())
	b.afterFunc(IdentityRetry, func() {
		if _, ok := b.session.UserID(); !ok {
			b.requestIdentity()
		}
	})

	defer func() {
		b.mu.Lock()
		delete(b.hosts, hc)
		b.mu.Unlock()
		_ = ws.Close()
		b.log.Info("host disconnected", "remote", r.RemoteAddr)
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		b.Dispatch(data)
	}
}

func (b *Bridge) requestIdentity() {
	if _, ok := b.session.UserID(); ok {
		return
	}
	_ = b.Send(GetNamedData("user_id"))
}

// Dispatch decodes one raw host message and delivers it.
func (b *Bridge) Dispatch(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("host handler panic", "panic", rec)
		}
	}()

	b.mu.RLock()
	onVisibility, onIdentity, onPosition, onWallet := b.onVisibility, b.onIdentity, b.onPosition, b.onWallet
	b.mu.RUnlock()

	for _, msg := range Decode(raw) {
		switch m := msg.(type) {
		case Visibility:
			if onVisibility != nil {
				onVisibility(m)
			}
		case Identity:
			if b.session.SetUserID(m.UserID) {
				b.log.Info("identity received", "user_id", m.UserID)
				if onIdentity != nil {
					onIdentity(m.UserID)
				}
			}
		case Position:
			if onPosition != nil {
				onPosition(m)
			}
		case Wallet:
			if onWallet != nil {
				onWallet(m)
			}
		case Unrecognized:
			b.log.Debug("unrecognized host message", "bytes", len(m.Raw))
		}
	}
}

// Send writes msg to every connected host. It fails only when no host is
// connected or the message cannot be encoded.
func (b *Bridge) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode host message: %w", err)
	}
	b.mu.RLock()
	hosts := make([]*hostConn, 0, len(b.hosts))
	for hc := range b.hosts {
		hosts = append(hosts, hc)
	}
	b.mu.RUnlock()
	if len(hosts) == 0 {
		return domain.ErrUnavailable
	}
	for _, hc := range hosts {
		if err := hc.write(data); err != nil {
			b.log.Warn("host write failed", "err", err)
			_ = hc.ws.Close()
		}
	}
	return nil
}

func (b *Bridge) Connected() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.hosts)
}

// Close disconnects every host and refuses new ones. Hijacked connections
// survive http.Server.Shutdown, so the bridge must drop them itself.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	hosts := make([]*hostConn, 0, len(b.hosts))
	for hc := range b.hosts {
		hosts = append(hosts, hc)
	}
	b.hosts = make(map[*hostConn]struct{})
	b.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "reloading")
	for _, hc := range hosts {
		hc.mu.Lock()
		_ = hc.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		hc.mu.Unlock()
		_ = hc.ws.Close()
	}
}
