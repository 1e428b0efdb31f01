package main

import (
	"context"
	"time"

	"github.com/fleetwire/relayhub/pkg/config"
	"github.com/fleetwire/relayhub/pkg/hub"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/os"
)

var Version = "?"

func main() {
	conf, err := config.Load()
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config load failed")
	}

	log := logger.NewConsole(conf.DebugMode, "relay", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	h, err := hub.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("hub init failed")
	}

	go func() {
		if err := h.Run(); err != nil {
			log.Error().Err(err).Msg("hub run errors")
		}
	}()

	<-os.ExpectTermination()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown errors")
	}
}
