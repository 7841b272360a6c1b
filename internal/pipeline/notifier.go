package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/rewired-gh/scanalert/internal/logger"
	"github.com/rewired-gh/scanalert/internal/models"
)

// Notifier delivers alert groups. A failed Send leaves the alerts pending for the next
// dispatch.
type Notifier interface {
	Send(groups []models.AlertGroup) error
}

// ErrorReporter is implemented by notifiers that can also report scan failures.
type ErrorReporter interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// LogNotifier writes alerts to the log. It is used when no delivery channel is configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.With("notifier")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(groups []models.AlertGroup) error {
	for _, g := range groups {
		for _, m := range g.Messages {
			n.log.Info().
				Str("source", g.Source).
				Str("symbol", m.Symbol).
				Str("origin", string(m.Origin)).
				Str("owner", m.Owner).
				Msg(m.Text)
		}
	}
	return nil
}
