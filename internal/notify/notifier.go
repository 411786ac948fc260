// Package notify delivers operator alerts to chat channels. The Notifier
// fans each alert out to every configured sender, optionally filtered by
// alert kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/macrobet/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier implements domain.Alerter.
type Notifier struct {
	senders []Sender
	kinds   map[domain.AlertKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. When kinds is empty every alert passes.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.AlertKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.AlertKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Alert sends a to every sender. One failing sender does not stop the rest;
// their errors are joined.
func (n *Notifier) Alert(ctx context.Context, a domain.Alert) error {
	if len(n.kinds) > 0 && !n.kinds[a.Kind] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("kind", string(a.Kind)))
		return nil
	}
	// Alerts also land in the log so they survive when no sender is set.
	n.logger.WarnContext(ctx, "operator alert",
		slog.String("kind", string(a.Kind)),
		slog.String("event_id", a.EventID),
		slog.String("title", a.Title),
		slog.String("message", a.Message),
	)

	message := a.Message
	if a.EventID != "" {
		message = fmt.Sprintf("%s\nevent: %s", a.Message, a.EventID)
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a.Title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

var _ domain.Alerter = (*Notifier)(nil)
