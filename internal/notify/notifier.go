// Package notify delivers execution alerts to Telegram and Discord, filtered
// by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Event types produced from execution outcomes.
const (
	EventFill         = "fill"
	EventPartial      = "partial"
	EventAbort        = "abort"
	EventExhausted    = "exhausted"
	EventRiskRejected = "risk_rejected"
	EventSkipped      = "skipped"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans notifications out to every Sender whose event passes the
// filter. An empty filter allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
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
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyOutcome formats and sends an execution outcome.
func (n *Notifier) NotifyOutcome(ctx context.Context, out domain.ExecutionOutcome) error {
	event := OutcomeEvent(out)
	if !n.Enabled(event) {
		return nil
	}
	title, msg := formatOutcome(out)
	return n.dispatch(ctx, title, msg)
}

// OutcomeEvent maps an outcome to its notification event type.
func OutcomeEvent(out domain.ExecutionOutcome) string {
	switch out.Status {
	case domain.StatusFilled:
		return EventFill
	case domain.StatusPartial:
		return EventPartial
	case domain.StatusExhausted:
		return EventExhausted
	case domain.StatusRiskRejected:
		return EventRiskRejected
	case domain.StatusSkipped, domain.StatusBelowMinimum:
		return EventSkipped
	default:
		return EventAbort
	}
}

func formatOutcome(out domain.ExecutionOutcome) (string, string) {
	market := out.MarketSlug
	if market == "" {
		market = out.ConditionID
	}
	title := fmt.Sprintf("%s %s: %s", out.Kind, market, out.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "filled %.4f tokens for $%.4f", out.FilledQuantity, out.FilledCost)
	if out.FilledQuantity > 0 {
		fmt.Fprintf(&b, " (avg %.4f)", out.FilledCost/out.FilledQuantity)
	}
	if out.Retries > 0 {
		fmt.Fprintf(&b, "\nretries: %d", out.Retries)
	}
	if out.ErrorKind != domain.ErrorKindNone {
		fmt.Fprintf(&b, "\nerror: %s", out.ErrorKind)
	}
	if out.Reason != "" {
		fmt.Fprintf(&b, "\nreason: %s", out.Reason)
	}
	fmt.Fprintf(&b, "\nbalance: $%.2f -> $%.2f", out.BalanceBefore, out.BalanceAfter)
	return title, b.String()
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
