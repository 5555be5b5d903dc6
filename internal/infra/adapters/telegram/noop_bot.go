package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"render-credit-platform/internal/domain/ports/adapter"
)

var _ adapter.OperatorNotifier = (*LogNotifier)(nil)

// LogNotifier writes alerts to the log. Used in dev and when no bot is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	l := logger.With().Str("component", "LogNotifier").Logger()
	return &LogNotifier{log: &l}
}

func (n *LogNotifier) Notify(ctx context.Context, a adapter.Alert) error {
	n.log.Warn().
		Str("kind", string(a.Kind)).
		Str("job_id", a.JobID).
		Str("user_id", a.UserID).
		Msg(a.Text)
	return nil
}
