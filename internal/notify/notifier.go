// Package notify sends operator alerts to Telegram and Discord. Alerts are
// filtered by event name so operators receive only the ones they enable.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Event names accepted in the notify.events config list.
const (
	EventSnapshotLocked = "snapshot_locked"
	EventExitClose      = "exit_close"
	EventEvolutionCycle = "evolution_cycle"
	EventError          = "error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every sender. A nil *Notifier drops
// everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered.
func (n *Notifier) Enabled(event string) bool {
	if n == nil || len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message to every sender if event is enabled.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// SnapshotLocked alerts that new risk has been locked for an account.
func (n *Notifier) SnapshotLocked(ctx context.Context, accountID string, snap domain.PermissionSnapshot) error {
	return n.Notify(ctx, EventSnapshotLocked,
		"Risk locked: "+accountID,
		fmt.Sprintf("Mode %s. Reasons: %s", snap.RiskMode, strings.Join(snap.Reasons, ", ")),
	)
}

// ExitClose alerts that a position should be closed.
func (n *Notifier) ExitClose(ctx context.Context, pos domain.Position, v domain.ExitVerdict, mark, unrealizedR float64) error {
	return n.Notify(ctx, EventExitClose,
		fmt.Sprintf("CLOSE %s %s", pos.Direction, pos.Symbol),
		fmt.Sprintf("%s: %s\nmark %.4f, %.2fR, exit score %.2f", v.Reason, v.Detail, mark, unrealizedR, v.Score),
	)
}

// EvolutionCycle summarises a finished calibration cycle.
func (n *Notifier) EvolutionCycle(ctx context.Context, out domain.EvolutionCycleOutput) error {
	var msg string
	switch {
	case out.Skipped:
		msg = "skipped: " + out.SkipReason
	default:
		msg = fmt.Sprintf("%d samples, confidence %.2f, %d changes, applied=%t, version %d",
			out.SampleCount, out.Confidence, len(out.Changes), out.Applied, out.Parameters.Version)
		for _, c := range out.Changes {
			msg += fmt.Sprintf("\n%s %.4f -> %.4f", c.Name, c.Old, c.New)
		}
	}
	return n.Notify(ctx, EventEvolutionCycle,
		fmt.Sprintf("Evolution %s %s", out.Cadence, out.SymbolGroup), msg)
}

// Error alerts an operational failure.
func (n *Notifier) Error(ctx context.Context, op string, err error) error {
	return n.Notify(ctx, EventError, "Error: "+op, err.Error())
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
