package notify

import (
	"context"
	"log/slog"

	"github.com/EternisAI/silo-stations/internal/domain"
)

type LogSink struct{}

func (LogSink) NotifyStateChange(_ context.Context, change domain.StateChange) error {
	slog.Info("Station state changed",
		"station_id", change.StationID,
		"old_state", change.OldState,
		"new_state", change.NewState,
		"actor", change.Actor,
		"at", change.At)
	return nil
}
