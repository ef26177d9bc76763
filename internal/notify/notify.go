// Package notify delivers operator-facing alerts for system events. The
// default sink is the structured log; richer sinks implement Notifier and
// attach the same way. A failing sink is logged and forgotten, it never
// reaches back into trading control flow.
package notify

import (
	"github.com/rs/zerolog"

	"solana-mirror-engine/internal/events"
)

// Notifier delivers one event to an external channel.
type Notifier interface {
	Notify(event events.Event) error
}

// severity maps event types to alert levels. Anything unlisted logs at info.
var severity = map[events.Type]zerolog.Level{
	events.TypeBreakerTripped:  zerolog.ErrorLevel,
	events.TypeBreakerCooldown: zerolog.WarnLevel,
	events.TypeRpcModeChanged:  zerolog.WarnLevel,
	events.TypeTradeDeadLetter: zerolog.WarnLevel,
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log zerolog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notify").Logger()}
}

// Notify writes the event at its mapped severity.
func (n *LogNotifier) Notify(event events.Event) error {
	level, ok := severity[event.Type]
	if !ok {
		level = zerolog.InfoLevel
	}
	n.log.WithLevel(level).
		Str("event", string(event.Type)).
		Fields(event.Data).
		Time("at", event.Timestamp).
		Msg("system event")
	return nil
}

// Attach subscribes every notifier to all bus events. Delivery errors are
// logged; the bus already isolates subscriber execution.
func Attach(bus *events.Bus, logger zerolog.Logger, notifiers ...Notifier) {
	log := logger.With().Str("component", "notify").Logger()
	for _, n := range notifiers {
		n := n
		bus.SubscribeAll(func(event events.Event) {
			if err := n.Notify(event); err != nil {
				log.Error().Err(err).Str("event", string(event.Type)).Msg("notification delivery failed")
			}
		})
	}
}
