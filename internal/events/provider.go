package events

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
)

// Provide selects the event bus backend: NATS when a URL is configured,
// otherwise the in-memory bus. The returned cleanup drains and closes the
// backend; it is safe to call once at shutdown.
func Provide(cfg *config.Config, log *logger.Logger) (bus.EventBus, func(), error) {
	if url := strings.TrimSpace(cfg.NATS.URL); url != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		log.Info("Connected to NATS event bus", zap.String("url", url))
		return natsBus, natsBus.Close, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	log.Info("Using in-memory event bus")
	return memBus, memBus.Close, nil
}
