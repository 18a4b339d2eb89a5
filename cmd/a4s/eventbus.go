package main

import (
	"github.com/lunarr-ai/a4s/internal/common/config"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/events"
	"github.com/lunarr-ai/a4s/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	provider, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return provider.Bus, cleanup, nil
}
