//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/handler"
	"github.com/Youssef-Hatem/policylens/internal/server"
	"github.com/Youssef-Hatem/policylens/internal/service"
)

func initApplication(cfg *config.Config) (*Application, func(), error) {
	panic(wire.Build(
		provideRedis,
		provideJobStore,
		provideProviders,
		provideRegistry,
		provideQuotaTracker,
		provideManager,
		service.NewAnalyzer,
		provideDegradationCache,
		providePipeline,
		provideAnalysisService,
		provideStreamService,
		provideHealthService,
		provideWorker,
		provideCleanup,
		handler.NewAnalyzeHandler,
		handler.NewHealthHandler,
		server.NewRouter,
		server.NewServer,
		newApplication,
	))
}
