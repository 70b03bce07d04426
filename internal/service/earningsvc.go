package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/hostbridge"
)

const (
	maxEarningsLog = 20
	// walletEpsilon ignores float noise between wallet readings.
	walletEpsilon = 0.01
)

type EntryKind string

const (
	EntryInfo     EntryKind = "info"
	EntryEarnings EntryKind = "earnings"
	EntryLoss     EntryKind = "loss"
)

type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Kind    EntryKind `json:"kind"`
}

type JSONPrefs interface {
	LoadJSON(key string, dst any) (bool, error)
	SaveJSON(ctx context.Context, key string, v any) error
}

// earningsTotals is the persisted part of the tracker. A running session is
// never restored after a restart.
type earningsTotals struct {
	MoneyMade     float64 `json:"total_money_made"`
	TrackedMs     int64   `json:"total_time_tracked_ms"`
	CurrentWallet float64 `json:"current_wallet"`
}

type EarningsSummary struct {
	Connected   bool       `json:"connected"`
	Tracking    bool       `json:"tracking"`
	Wallet      float64    `json:"wallet"`
	MoneyMade   float64    `json:"money_made"`
	TrackedMs   int64      `json:"tracked_ms"`
	TimeTracked string     `json:"time_tracked"`
	PerHour     float64    `json:"per_hour"`
	PerMinute   float64    `json:"per_minute"`
	WalletText  string     `json:"wallet_text"`
	MadeText    string     `json:"made_text"`
	HourlyText  string     `json:"hourly_text"`
	MinuteText  string     `json:"minute_text"`
	Log         []LogEntry `json:"log"`
}

// EarningsService tracks wallet changes reported by the host and the money
// made while a tracking session runs.
type EarningsService struct {
	Prefs     JSONPrefs
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time

	mu            sync.Mutex
	totals        earningsTotals
	connected     bool
	tracking      bool
	sessionStart  time.Time
	sessionWallet float64
	log           []LogEntry
}

func (s *EarningsService) Load() error {
	if s.Prefs == nil {
		return nil
	}
	var t earningsTotals
	ok, err := s.Prefs.LoadJSON(domain.PrefEarnings, &t)
	if err != nil {
		return err
	}
	if ok {
		s.mu.Lock()
		s.totals = t
		s.mu.Unlock()
	}
	return nil
}

func (s *EarningsService) HandleWallet(ctx context.Context, w hostbridge.Wallet) {
	s.mu.Lock()
	if !s.connected {
		s.connected = true
		s.appendLocked("Connected to game data stream", EntryInfo)
	}
	change := w.Amount - s.totals.CurrentWallet
	switch {
	case s.totals.CurrentWallet == 0:
		s.appendLocked("Initial wallet detected: $"+FormatMoney(w.Amount), EntryInfo)
	case change > walletEpsilon:
		s.appendLocked("Wallet increased by $"+FormatMoney(change), EntryEarnings)
	case change < -walletEpsilon:
		s.appendLocked("Wallet decreased by $"+FormatMoney(-change), EntryLoss)
	}
	s.totals.CurrentWallet = w.Amount
	s.mu.Unlock()

	s.persist(ctx)
}

// Start begins a tracking session from the current wallet balance. It
// needs at least one positive wallet reading.
func (s *EarningsService) Start(ctx context.Context) (EarningsSummary, error) {
	s.mu.Lock()
	if s.totals.CurrentWallet <= 0 {
		s.appendLocked("Cannot start tracking - no wallet data received", EntryInfo)
		s.mu.Unlock()
		s.publish()
		return s.Summary(), domain.NewValidationError(map[string]string{"wallet": "no wallet data received"})
	}
	if !s.tracking {
		s.tracking = true
		s.sessionStart = s.now()
		s.sessionWallet = s.totals.CurrentWallet
		s.appendLocked("Started tracking with wallet balance: "+FormatMoney(s.sessionWallet), EntryInfo)
	}
	s.mu.Unlock()

	s.persist(ctx)
	return s.Summary(), nil
}

// Stop folds the running session into the totals. Stopping while idle is a
// no-op.
func (s *EarningsService) Stop(ctx context.Context) (EarningsSummary, error) {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return s.Summary(), nil
	}
	made := s.totals.CurrentWallet - s.sessionWallet
	elapsed := s.now().Sub(s.sessionStart).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	s.totals.MoneyMade += made
	s.totals.TrackedMs += elapsed
	s.tracking = false
	s.sessionStart = time.Time{}
	s.sessionWallet = 0
	s.appendLocked(fmt.Sprintf("Stopped tracking. Made %s in %s", FormatMoney(made), FormatClock(elapsed)), EntryInfo)
	s.mu.Unlock()

	s.persist(ctx)
	return s.Summary(), nil
}

// Reset clears the totals and any running session. The wallet reading
// survives because it still reflects the game.
func (s *EarningsService) Reset(ctx context.Context) (EarningsSummary, error) {
	s.mu.Lock()
	s.tracking = false
	s.sessionStart = time.Time{}
	s.sessionWallet = 0
	s.totals.MoneyMade = 0
	s.totals.TrackedMs = 0
	s.appendLocked("Tracker reset", EntryInfo)
	s.mu.Unlock()

	s.persist(ctx)
	return s.Summary(), nil
}

func (s *EarningsService) Summary() EarningsSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	made := s.totals.MoneyMade
	ms := s.totals.TrackedMs
	if s.tracking {
		if d := s.now().Sub(s.sessionStart).Milliseconds(); d > 0 {
			ms += d
		}
		made += s.totals.CurrentWallet - s.sessionWallet
	}

	sum := EarningsSummary{
		Connected:   s.connected,
		Tracking:    s.tracking,
		Wallet:      s.totals.CurrentWallet,
		MoneyMade:   made,
		TrackedMs:   ms,
		TimeTracked: FormatClock(ms),
		WalletText:  FormatMoney(s.totals.CurrentWallet),
		MadeText:    FormatMoney(made),
		HourlyText:  "$0/hr",
		MinuteText:  "$0/min",
		Log:         append([]LogEntry{}, s.log...),
	}
	if minutes := float64(ms) / float64(time.Minute/time.Millisecond); minutes > 0 {
		sum.PerMinute = made / minutes
		sum.PerHour = made / (minutes / 60)
		sum.HourlyText = FormatMoney(sum.PerHour) + "/hr"
		sum.MinuteText = FormatMoney(sum.PerMinute) + "/min"
	}
	return sum
}

// appendLocked keeps the newest entries first, capped at maxEarningsLog.
func (s *EarningsService) appendLocked(msg string, kind EntryKind) {
	entry := LogEntry{At: s.now(), Message: msg, Kind: kind}
	s.log = append([]LogEntry{entry}, s.log...)
	if len(s.log) > maxEarningsLog {
		s.log = s.log[:maxEarningsLog]
	}
}

func (s *EarningsService) persist(ctx context.Context) {
	if s.Prefs != nil {
		s.mu.Lock()
		t := s.totals
		s.mu.Unlock()
		if err := s.Prefs.SaveJSON(ctx, domain.PrefEarnings, t); err != nil {
			loggerOrDefault(s.Logger).Warn("save earnings failed", "err", err)
		}
	}
	s.publish()
}

func (s *EarningsService) publish() {
	publisherOrNoop(s.Publisher).Publish(TopicEarnings, s.Summary())
}

func (s *EarningsService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// FormatMoney rounds to whole units and groups thousands with commas.
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	n := int64(math.Round(v))
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	out := make([]byte, 0, len(digits)+len(digits)/3+1)
	if neg {
		out = append(out, '-')
	}
	for i := 0; i < len(digits); i++ {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, digits[i])
	}
	return string(out)
}

// FormatClock renders milliseconds as HH:MM:SS.
func FormatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
