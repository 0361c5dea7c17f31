// Package notify fans station state changes out to external sinks after the
// change has been committed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-stations/internal/domain"
)

// Sink delivers one state change. Implementations must be safe for
// concurrent use.
type Sink interface {
	NotifyStateChange(ctx context.Context, change domain.StateChange) error
}

// Publisher accepts state changes for delivery. Publish never blocks the
// caller on a sink.
type Publisher interface {
	Publish(change domain.StateChange)
}

type SinkFunc func(ctx context.Context, change domain.StateChange) error

func (f SinkFunc) NotifyStateChange(ctx context.Context, change domain.StateChange) error {
	return f(ctx, change)
}

type Nop struct{}

func (Nop) NotifyStateChange(context.Context, domain.StateChange) error { return nil }

func (Nop) Publish(domain.StateChange) {}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

func (m Multi) NotifyStateChange(ctx context.Context, change domain.StateChange) error {
	var errs []error
	for _, s := range m {
		if err := s.NotifyStateChange(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// markdownEscaper escapes the characters that open an entity in Telegram's
// Markdown parse mode.
var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// Message renders a state change as the human readable notification text.
func Message(change domain.StateChange) string {
	actor := change.Actor
	if actor == "" {
		actor = "system"
	}
	actor = markdownEscaper.Replace(actor)
	return fmt.Sprintf("*Station state changed*\n\n*VM ID:* %d\n*Old state:* %s\n*New state:* %s\n*Changed by:* %s\n*Time:* %s",
		change.StationID, change.OldState, change.NewState, actor, change.At.Format(time.DateTime))
}
