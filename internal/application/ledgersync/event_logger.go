package ledgersync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/buildops/backend/internal/domain/ledgersync"
	"github.com/buildops/backend/internal/domain/shared"
)

// EventLogger writes the sync engine's domain events to the audit log.
// Conflicts and expired connections need a person to act, so they are
// logged at warn level.
type EventLogger struct {
	logger *zap.Logger
}

// NewEventLogger creates an EventLogger
func NewEventLogger(logger *zap.Logger) *EventLogger {
	return &EventLogger{logger: logger.Named("ledgersync.events")}
}

// EventTypes returns the event types this handler is interested in
func (h *EventLogger) EventTypes() []string {
	return []string{
		ledgersync.EventTypeConflictDetected,
		ledgersync.EventTypeConflictResolved,
		ledgersync.EventTypeConnectionEstablished,
		ledgersync.EventTypeConnectionExpired,
	}
}

// Handle logs one event
func (h *EventLogger) Handle(_ context.Context, event shared.DomainEvent) error {
	base := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("tenant_id", event.TenantID().String()),
	}
	switch ev := event.(type) {
	case *ledgersync.ConflictDetectedEvent:
		h.logger.Warn("conflict detected", append(base,
			zap.String("conflict_id", ev.AggregateID().String()),
			zap.String("entity_type", string(ev.EntityType)),
			zap.String("entity_id", ev.EntityID.String()),
			zap.String("field", ev.Field))...)
	case *ledgersync.ConflictResolvedEvent:
		h.logger.Info("conflict settled", append(base,
			zap.String("conflict_id", ev.AggregateID().String()),
			zap.String("entity_type", string(ev.EntityType)),
			zap.String("field", ev.Field),
			zap.String("status", string(ev.Status)),
			zap.String("resolution", string(ev.Resolution)))...)
	case *ledgersync.ConnectionEvent:
		fields := append(base,
			zap.String("ledger_tenant_id", ev.LedgerTenantID),
			zap.String("ledger_tenant_name", ev.LedgerTenantName))
		if ev.EventType() == ledgersync.EventTypeConnectionExpired {
			h.logger.Warn("ledger connection expired", append(fields, zap.String("reason", ev.Reason))...)
		} else {
			h.logger.Info("ledger connection established", fields...)
		}
	default:
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}
	return nil
}
