package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vashsender/internal/events"
	"vashsender/internal/models"
)

// ImportQueue hands new imports to the workers.
type ImportQueue interface {
	EnqueueContactImport(ctx context.Context, importID string) error
}

// RegisterEventHandlers wires domain events to background work.
func RegisterEventHandlers(bus *events.Bus, queue ImportQueue) {
	l := log.Zap().Named("events")

	bus.On(events.ContactImportCreated, func(data interface{}) {
		imp, ok := data.(*models.ContactImport)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.EnqueueContactImport(ctx, imp.ID); err != nil {
			l.Error("failed to enqueue contact import", zap.String("import_id", imp.ID), zap.Error(err))
		}
	})

	bus.On(events.CampaignCompleted, func(data interface{}) {
		if c, ok := data.(*models.Campaign); ok {
			l.Info("campaign completed", zap.String("campaign_id", c.ID), zap.String("status", string(c.Status)))
		}
	})

	bus.On(events.DomainVerified, func(data interface{}) {
		if d, ok := data.(*models.Domain); ok {
			l.Info("domain verified", zap.String("domain", d.Name), zap.String("team_id", d.TeamID))
		}
	})
}
