package app

import (
	"context"

	"github.com/doeshing/psenv/internal/infrastructure/cache"
	"github.com/doeshing/psenv/internal/infrastructure/config"
	"github.com/doeshing/psenv/internal/infrastructure/guard"
	"github.com/doeshing/psenv/internal/infrastructure/history"
	"github.com/doeshing/psenv/internal/infrastructure/hooks"
	"github.com/doeshing/psenv/internal/infrastructure/loader"
	"github.com/doeshing/psenv/internal/infrastructure/registry"
	"github.com/doeshing/psenv/internal/infrastructure/repository"
	"github.com/doeshing/psenv/internal/infrastructure/resolver"
	"github.com/doeshing/psenv/internal/infrastructure/runtime"
	"github.com/doeshing/psenv/internal/infrastructure/searchpath"
	"github.com/doeshing/psenv/internal/infrastructure/shell"
	"github.com/doeshing/psenv/internal/infrastructure/watcher"
	"github.com/doeshing/psenv/internal/pkg/logger"
	"github.com/doeshing/psenv/internal/ports"
	"github.com/doeshing/psenv/internal/services"
)

// Container wires up application services with infrastructure adapters.
type Container struct {
	Environments  *services.EnvironmentService
	Controller    *services.Controller
	Modules       *services.ModulesService
	DoctorService *services.DoctorService

	ConfigProvider ports.ConfigProvider
	ConfigLoader   *config.FileLoader
	Registry       ports.EnvironmentRegistry
	Runtime        ports.HostRuntime
	Paths          ports.SearchPathManager
	Profile        ports.ProfileIntegrator
	HistoryStore   ports.HistoryRepository
	CacheStore     ports.CacheRepository
	Cache          *cache.FileCache
	Logger         ports.Logger
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, verbose bool) (*Container, error) {
	cfgLoader := config.NewFileLoader("")
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.NewStd(verbose)
	runner := runtime.NewLocalRunner()
	host := runtime.NewPwshRuntime(cfg, runner, log)
	store := registry.NewStore(log)
	paths := searchpath.NewManager(host, log)
	pathGuard := guard.NewPathGuard(cfg.GetGuardInterval(), host, log)

	var fileCache *cache.FileCache
	var cacheStore ports.CacheRepository
	if cfg.Cache.Enabled {
		fileCache = cache.NewFileCache(cfg.GetCacheTTL(), cfg.GetCacheMaxEntries())
		cacheStore = fileCache
	}

	var repo ports.ModuleRepository
	if cfg.Repository.LocalPath != "" {
		repo = repository.NewDirRepository(cfg.Repository.LocalPath, cfg.GetDefaultRepository())
	} else {
		repo = repository.NewGalleryClient(host, cacheStore, log, cfg.GetDefaultRepository())
	}

	isolated := loader.NewLoader(paths, host, runner, repo, log)
	isolated.Executable = cfg.GetRuntimeExecutable()
	isolated.Strategy = cfg.GetImportStrategy()
	isolated.SoftTimeout = cfg.GetIsolationTimeout()
	isolated.WorkerTimeout = cfg.GetWorkerTimeout()

	interceptor := hooks.NewInterceptor(pathGuard, isolated, log)
	deps := resolver.NewResolver(cfg.GetMaxResolveDepth(), host, interceptor, log)
	moduleWatcher := watcher.NewModuleWatcher(log)
	profile := shell.NewInstaller(host, log)

	var historyStore ports.HistoryRepository
	if cfg.History.Enabled {
		historyStore = history.Open(cfg.GetHistoryRetentionDays(), log)
	}

	controller := &services.Controller{
		ConfigProvider: cfgLoader,
		Registry:       store,
		Runtime:        host,
		Paths:          paths,
		Guard:          pathGuard,
		Interceptor:    interceptor,
		Watcher:        moduleWatcher,
		Profile:        profile,
		History:        historyStore,
		Logger:         log,
	}

	environments := &services.EnvironmentService{
		ConfigProvider: cfgLoader,
		Registry:       store,
		Runtime:        host,
		Sessions:       controller,
		History:        historyStore,
		Logger:         log,
	}

	modules := &services.ModulesService{
		Registry:    store,
		Repository:  repo,
		Interceptor: interceptor,
		Resolver:    deps,
		Sessions:    controller,
		History:     historyStore,
		Logger:      log,
	}

	doctorService := &services.DoctorService{
		ConfigProvider: cfgLoader,
		Registry:       store,
		Runtime:        host,
		Guard:          pathGuard,
		Profile:        profile,
		History:        historyStore,
		Sessions:       controller,
	}

	return &Container{
		Environments:   environments,
		Controller:     controller,
		Modules:        modules,
		DoctorService:  doctorService,
		ConfigProvider: cfgLoader,
		ConfigLoader:   cfgLoader,
		Registry:       store,
		Runtime:        host,
		Paths:          paths,
		Profile:        profile,
		HistoryStore:   historyStore,
		CacheStore:     cacheStore,
		Cache:          fileCache,
		Logger:         log,
	}, nil
}
