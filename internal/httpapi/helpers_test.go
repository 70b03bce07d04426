package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/reconcile"
	"OverlayCompanion/internal/service"
	"OverlayCompanion/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSender struct {
	t *testing.T

	sendFunc func(ctx context.Context, cmd transport.Command) (transport.Result, error)

	mu   sync.Mutex
	sent []transport.Command
}

func (s *stubSender) SendCommand(ctx context.Context, cmd transport.Command) (transport.Result, error) {
	s.mu.Lock()
	s.sent = append(s.sent, cmd)
	s.mu.Unlock()
	if s.sendFunc == nil {
		s.t.Fatalf("SendCommand(%s) called unexpectedly", cmd.Name)
		return transport.Result{}, context.Canceled
	}
	return s.sendFunc(ctx, cmd)
}

func (s *stubSender) OnUpdate(string, transport.Handler) {}

func (s *stubSender) State() domain.ConnectionState { return domain.ConnectionConnectedPush }

func (s *stubSender) commands() []transport.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Command(nil), s.sent...)
}

func pushOK(context.Context, transport.Command) (transport.Result, error) {
	return transport.Result{Via: transport.ViaPush, Success: true}, nil
}

type memPrefs struct {
	mu     sync.Mutex
	values map[string]domain.Preference
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
	return out, nil
}

type testApp struct {
	session  *domain.Session
	sender   *stubSender
	rec      *reconcile.Reconciler
	prefs    *service.PreferencesService
	panel    *service.PanelService
	handler  http.Handler
	friends  *service.FriendsService
	location *service.LocationService
}

func newTestApp(t *testing.T, userID string, send func(context.Context, transport.Command) (transport.Result, error)) *testApp {
	t.Helper()
	session := &domain.Session{}
	if userID != "" {
		session.SetUserID(userID)
	}
	sender := &stubSender{t: t, sendFunc: send}
	rec := reconcile.New(reconcile.Options{Logger: quietLogger()})
	prefs := &service.PreferencesService{Store: &memPrefs{}}
	if err := prefs.Load(context.Background()); err != nil {
		t.Fatalf("load prefs: %v", err)
	}
	friends := &service.FriendsService{Session: session, Transport: sender, Reconciler: rec, Logger: quietLogger()}
	location := &service.LocationService{Session: session, Transport: sender, Reconciler: rec, Logger: quietLogger()}
	panel := &service.PanelService{Session: session, Reconciler: rec, Prefs: prefs, Connection: sender}
	earnings := &service.EarningsService{Prefs: prefs}

	h := NewRouter(RouterOpts{
		Logger:     quietLogger(),
		Session:    &service.SessionService{Session: session, Prefs: prefs, Logger: quietLogger()},
		Friends:    friends,
		Location:   location,
		Panel:      panel,
		Earnings:   earnings,
		Prefs:      prefs,
		Connection: sender,
		Hub:        NewHub(quietLogger()),
	})
	return &testApp{
		session:  session,
		sender:   sender,
		rec:      rec,
		prefs:    prefs,
		panel:    panel,
		handler:  h,
		friends:  friends,
		location: location,
	}
}

func (a *testApp) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}
