package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/transport"

	"golang.org/x/sync/errgroup"
)

// Topics published to the overlay renderer.
const (
	TopicStateChanged = "state.changed"
	TopicPanelRender  = "panel.render"
	TopicVisibility   = "panel.visibility"
	TopicEarnings     = "earnings.updated"
	TopicPreferences  = "preferences.updated"
	TopicReload       = "session.reload"
)

const msgNoSession = "Set your user ID first"

type CommandSender interface {
	SendCommand(ctx context.Context, cmd transport.Command) (transport.Result, error)
	OnUpdate(event string, h transport.Handler)
	State() domain.ConnectionState
}

// EventSource is the inbound half of the transport.
type EventSource interface {
	OnUpdate(event string, h transport.Handler)
	OnConnected(fn func())
}

type Notifier interface {
	Notify(message string, severity domain.Severity)
}

type HostSender interface {
	Send(msg any) error
}

type Publisher interface {
	Publish(topic string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

type noopNotifier struct{}

func (noopNotifier) Notify(string, domain.Severity) {}

func publisherOrNoop(p Publisher) Publisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

func notifierOrNoop(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// requireUser gates user-initiated actions on a known identity.
func requireUser(session *domain.Session, n Notifier) (string, error) {
	if session != nil {
		if id, ok := session.UserID(); ok {
			return id, nil
		}
	}
	notifierOrNoop(n).Notify(msgNoSession, domain.SeverityError)
	return "", domain.ErrNoSession
}

// runAction sends a user-initiated command. Failures become both an error
// notification and a returned error; push deliveries count as success
// because their outcome arrives later as an event.
func runAction(ctx context.Context, sender CommandSender, n Notifier, cmd transport.Command) (transport.Result, error) {
	n = notifierOrNoop(n)
	res, err := sender.SendCommand(ctx, cmd)
	if err != nil {
		var se *transport.StatusError
		switch {
		case errors.As(err, &se):
			n.Notify(fmt.Sprintf("Server error: %d", se.Code), domain.SeverityError)
		default:
			n.Notify("Connection error", domain.SeverityError)
		}
		return res, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	if res.Via == transport.ViaPoll && !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "Request failed"
		}
		n.Notify(msg, domain.SeverityError)
		return res, &domain.RejectedError{Message: msg}
	}
	return res, nil
}

// refreshNow issues read commands concurrently and waits for them. Poll
// responses are applied by the transport before this returns.
func refreshNow(ctx context.Context, sender CommandSender, userID string, names ...string) error {
	var g errgroup.Group
	for _, name := range names {
		cmd := transport.NewCommand(name, transport.UserPayload{UserID: userID})
		g.Go(func() error {
			if _, err := sender.SendCommand(ctx, cmd); err != nil {
				return fmt.Errorf("%s: %w", cmd.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// afterAction refreshes the collections an action touched. Over push the
// server sends the new state itself.
func afterAction(ctx context.Context, sender CommandSender, log *slog.Logger, res transport.Result, userID string, names ...string) {
	if res.Via != transport.ViaPoll {
		return
	}
	if err := refreshNow(ctx, sender, userID, names...); err != nil {
		log.Warn("refresh after action failed", "err", err)
	}
}
