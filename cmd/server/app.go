package main

import (
	"github.com/redis/go-redis/v9"

	"github.com/Youssef-Hatem/policylens/internal/config"
	"github.com/Youssef-Hatem/policylens/internal/pkg/llm"
	"github.com/Youssef-Hatem/policylens/internal/repository"
	"github.com/Youssef-Hatem/policylens/internal/server"
	"github.com/Youssef-Hatem/policylens/internal/service"
	"github.com/Youssef-Hatem/policylens/internal/worker"
)

// Application bundles the long-running components of one process.
type Application struct {
	Server  *server.Server
	Worker  *worker.Worker
	Cleanup *service.CleanupService
}

func newApplication(srv *server.Server, w *worker.Worker, cleanup *service.CleanupService) *Application {
	return &Application{Server: srv, Worker: w, Cleanup: cleanup}
}

func provideRedis(cfg *config.Config) (*redis.Client, func(), error) {
	return repository.NewRedisClient(cfg.Redis)
}

func provideJobStore(rdb *redis.Client, cfg *config.Config) service.JobStore {
	// Snapshots live as long as cached results do; a finished job stays
	// queryable for the idempotency window.
	return repository.NewJobStore(rdb, cfg.Idempotency.TTL)
}

func provideProviders(cfg *config.Config) []service.Provider {
	var providers []service.Provider
	if cfg.Providers.OpenAI.Enabled {
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
			Model:   cfg.Providers.OpenAI.Model,
			Timeout: cfg.Providers.CallTimeout,
		})
		providers = append(providers, service.Provider{Name: client.Name(), Client: client})
	}
	if cfg.Providers.Gemini.Enabled {
		client := llm.NewGeminiClient(llm.GeminiConfig{
			APIKey:  cfg.Providers.Gemini.APIKey,
			BaseURL: cfg.Providers.Gemini.BaseURL,
			Model:   cfg.Providers.Gemini.Model,
			Timeout: cfg.Providers.CallTimeout,
		})
		providers = append(providers, service.Provider{Name: client.Name(), Client: client})
	}
	return providers
}

func provideRegistry(cfg *config.Config, providers []service.Provider) *service.ProviderRegistry {
	return service.NewProviderRegistry(cfg.Providers, providers)
}

func provideQuotaTracker(rdb *redis.Client, cfg *config.Config) *service.QuotaTracker {
	return service.NewQuotaTracker(repository.NewQuotaCache(rdb), cfg.Quota)
}

func provideManager(registry *service.ProviderRegistry, quota *service.QuotaTracker, cfg *config.Config) *service.ProviderManager {
	return service.NewProviderManager(registry, quota, cfg.Providers)
}

func provideDegradationCache(rdb *redis.Client) service.DegradationCache {
	return repository.NewDegradationCache(rdb)
}

func providePipeline(analyzer *service.Analyzer, degraded service.DegradationCache, cfg *config.Config) *service.Pipeline {
	return service.NewPipeline(
		service.NewRuleMatcher(),
		analyzer,
		degraded,
		cfg.Pipeline,
		cfg.Degradation.TTL,
	)
}

func provideAnalysisService(rdb *redis.Client, jobs service.JobStore, cfg *config.Config) *service.AnalysisService {
	return service.NewAnalysisService(
		repository.NewIdempotencyCache(rdb),
		jobs,
		repository.NewTaskQueue(rdb),
		repository.NewForceLimiter(rdb, cfg.ForceAnalyze),
		cfg.Idempotency.TTL,
	)
}

func provideHealthService(rdb *redis.Client, registry *service.ProviderRegistry, quota *service.QuotaTracker) *service.HealthService {
	return service.NewHealthService(
		repository.NewRedisPinger(rdb),
		registry,
		repository.NewTaskQueue(rdb),
		repository.NewIdempotencyCache(rdb),
		quota,
	)
}

func provideWorker(rdb *redis.Client, jobs service.JobStore, pipeline *service.Pipeline, cfg *config.Config) *worker.Worker {
	return worker.New(
		repository.NewTaskQueue(rdb),
		jobs,
		repository.NewIdempotencyCache(rdb),
		repository.NewEventHub(rdb),
		service.NewValidator(),
		pipeline,
		cfg.Worker,
		cfg.Idempotency.TTL,
	)
}

func provideCleanup(rdb *redis.Client, cfg *config.Config) *service.CleanupService {
	return service.NewCleanupService(repository.NewTaskQueue(rdb), cfg.Worker)
}

func provideStreamService(rdb *redis.Client, jobs service.JobStore) *service.StreamService {
	return service.NewStreamService(jobs, repository.NewEventHub(rdb))
}
