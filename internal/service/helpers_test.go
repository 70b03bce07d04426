package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/reconcile"
	"OverlayCompanion/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	t *testing.T

	sendFunc func(ctx context.Context, cmd transport.Command) (transport.Result, error)
	state    domain.ConnectionState

	mu   sync.Mutex
	sent []transport.Command
}

func (s *stubSender) SendCommand(ctx context.Context, cmd transport.Command) (transport.Result, error) {
	s.mu.Lock()
	s.sent = append(s.sent, cmd)
	s.mu.Unlock()
	if s.sendFunc == nil {
		s.t.Fatalf("unexpected SendCommand(%s)", cmd.Name)
	}
	return s.sendFunc(ctx, cmd)
}

func (s *stubSender) OnUpdate(string, transport.Handler) {}

func (s *stubSender) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return domain.ConnectionConnectedPoll
	}
	return s.state
}

func (s *stubSender) setState(state domain.ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *stubSender) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, c := range s.sent {
		out = append(out, c.Name)
	}
	return out
}

func (s *stubSender) first() transport.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		s.t.Fatalf("no command sent")
	}
	return s.sent[0]
}

func pollOK(context.Context, transport.Command) (transport.Result, error) {
	return transport.Result{Via: transport.ViaPoll, Success: true}, nil
}

func pushOK(context.Context, transport.Command) (transport.Result, error) {
	return transport.Result{Via: transport.ViaPush, Success: true}, nil
}

type note struct {
	message  string
	severity domain.Severity
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Notify(message string, severity domain.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{message, severity})
}

func (n *recordingNotifier) all() []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]note(nil), n.notes...)
}

func (n *recordingNotifier) has(message string, severity domain.Severity) bool {
	for _, got := range n.all() {
		if got.message == message && got.severity == severity {
			return true
		}
	}
	return false
}

type published struct {
	topic   string
	payload any
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, payload})
}

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.topic)
	}
	return out
}

type fakeEvents struct {
	handlers  map[string]transport.Handler
	connected []func()
}

func (f *fakeEvents) OnUpdate(event string, h transport.Handler) {
	if f.handlers == nil {
		f.handlers = make(map[string]transport.Handler)
	}
	f.handlers[event] = h
}

func (f *fakeEvents) OnConnected(fn func()) { f.connected = append(f.connected, fn) }

func (f *fakeEvents) fire(t *testing.T, event, data string) {
	t.Helper()
	h, ok := f.handlers[event]
	if !ok {
		t.Fatalf("no handler bound for %s", event)
	}
	h([]byte(data))
}

type stubHost struct {
	mu   sync.Mutex
	sent []any
	err  error
}

func (h *stubHost) Send(msg any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.sent = append(h.sent, msg)
	return nil
}

func (h *stubHost) messages() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.sent...)
}

// memPrefs is an in-memory PrefsStore.
type memPrefs struct {
	mu     sync.Mutex
	values map[string]domain.Preference
	setErr error
}

func (m *memPrefs) Get(_ context.Context, key string) (domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.values[key]
	if !ok {
		return domain.Preference{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPrefs) Set(_ context.Context, key, value string, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = make(map[string]domain.Preference)
	}
	m.values[key] = domain.Preference{Key: key, Value: value, UpdatedAt: when}
	return nil
}

func (m *memPrefs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *memPrefs) List(context.Context) ([]domain.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Preference, 0, len(m.values))
	for _, p := range m.values {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSessionFor(userID string) *domain.Session {
	s := &domain.Session{}
	if userID != "" {
		s.SetUserID(userID)
	}
	return s
}

func newTestReconciler(n reconcile.Notifier, clock *fakeClock) *reconcile.Reconciler {
	return reconcile.New(reconcile.Options{Notifier: n, Now: clock.Now, Logger: quietLogger()})
}

func sortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func expectValidation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
