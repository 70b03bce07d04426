package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/hostbridge"
)

func newEarningsService(t *testing.T) (*EarningsService, *PreferencesService, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	prefs := newPrefsService(t, &memPrefs{})
	svc := &EarningsService{Prefs: prefs, Now: clock.Now, Logger: quietLogger()}
	return svc, prefs, clock
}

func TestFormatMoney(t *testing.T) {
	cases := map[float64]string{
		0:         "0",
		999.5:     "1,000",
		1234567:   "1,234,567",
		-4500.2:   "-4,500",
		123:       "123",
		100000000: "100,000,000",
	}
	for in, want := range cases {
		if got := FormatMoney(in); got != want {
			t.Fatalf("FormatMoney(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock((3*3600 + 4*60 + 5) * 1000); got != "03:04:05" {
		t.Fatalf("FormatClock = %q", got)
	}
	if got := FormatClock(-1); got != "00:00:00" {
		t.Fatalf("FormatClock(-1) = %q", got)
	}
}

func TestEarningsStartNeedsWallet(t *testing.T) {
	svc, _, _ := newEarningsService(t)

	_, err := svc.Start(context.Background())
	expectValidation(t, err)
	sum := svc.Summary()
	if sum.Tracking {
		t.Fatalf("tracking should not start")
	}
	if len(sum.Log) != 1 || sum.Log[0].Message != "Cannot start tracking - no wallet data received" {
		t.Fatalf("unexpected log %+v", sum.Log)
	}
}

func TestEarningsWalletLog(t *testing.T) {
	svc, _, _ := newEarningsService(t)
	ctx := context.Background()

	svc.HandleWallet(ctx, hostbridge.Wallet{Amount: 1000})
	svc.HandleWallet(ctx, hostbridge.Wallet{Amount: 1500})
	svc.HandleWallet(ctx, hostbridge.Wallet{Amount: 1500.001})
	svc.HandleWallet(ctx, hostbridge.Wallet{Amount: 1200})

	want := []struct {
		msg  string
		kind EntryKind
	}{
		{"Wallet decreased by $300", EntryLoss},
		{"Wallet increased by $500", EntryEarnings},
		{"Initial wallet detected: $1,000", EntryInfo},
		{"Connected to game data stream", EntryInfo},
	}
	log := svc.Summary().Log
	if len(log) != len(want) {
		t.Fatalf("log = %+v", log)
	}
	for i, w := range want {
		if log[i].Message != w.msg || log[i].Kind != w.kind {
			t.Fatalf("log[%d] = %+v, want %+v", i, log[i], w)
		}
	}
}

func TestEarningsSessionTotalsAndRates(t *testing.T) {
	svc, prefs, clock := newEarningsService(t)
	ctx := context.Background()

	svc.HandleWallet(ctx, hostbridge.Wallet{Amount: 10000})
	if _, err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(30 * time.Minute)
	svc.HandleWallet(ctx, hostbridge.Wallet{Amount: 13000})

	live := svc.Summary()
	if !live.Tracking || live.MoneyMade != 3000 || live.TimeTracked != "00:30:00" {
		t.Fatalf("unexpected live summary %+v", live)
	}
	if live.HourlyText != "6,000/hr" || live.MinuteText != "100/min" {
		t.Fatalf("unexpected rates %q %q", live.HourlyText, live.MinuteText)
	}

	sum, err := svc.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Tracking || sum.MoneyMade != 3000 || sum.TrackedMs != int64(30*time.Minute/time.Millisecond) {
		t.Fatalf("unexpected totals %+v", sum)
	}
	if sum.Log[0].Message != "Stopped tracking. Made 3,000 in 00:30:00" {
		t.Fatalf("unexpected stop entry %q", sum.Log[0].Message)
	}

	restored := &EarningsService{Prefs: prefs, Now: clock.Now}
	if err := restored.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := restored.Summary()
	if got.MoneyMade != 3000 || got.Wallet != 13000 || got.Tracking {
		t.Fatalf("restored summary %+v", got)
	}
}

func TestEarningsResetAndLogCap(t *testing.T) {
	svc, _, _ := newEarningsService(t)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		svc.HandleWallet(ctx, hostbridge.Wallet{Amount: float64(i * 100)})
	}
	if got := len(svc.Summary().Log); got != maxEarningsLog {
		t.Fatalf("log length = %d", got)
	}

	if _, err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum, err := svc.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sum.Tracking || sum.MoneyMade != 0 || sum.TrackedMs != 0 || sum.Wallet != 3000 {
		t.Fatalf("unexpected reset summary %+v", sum)
	}
	if sum.Log[0].Message != "Tracker reset" {
		t.Fatalf("unexpected entry %q", sum.Log[0].Message)
	}
	if sum.Log[1].Message != fmt.Sprintf("Started tracking with wallet balance: %s", FormatMoney(3000)) {
		t.Fatalf("unexpected entry %q", sum.Log[1].Message)
	}
}

func TestEarningsStopWhileIdle(t *testing.T) {
	svc, _, _ := newEarningsService(t)
	sum, err := svc.Stop(context.Background())
	if err != nil || sum.Tracking || len(sum.Log) != 0 {
		t.Fatalf("Stop = %+v, %v", sum, err)
	}
	if _, ok := svc.Prefs.(*PreferencesService).Get(domain.PrefEarnings); ok {
		t.Fatalf("idle stop should not persist")
	}
}
